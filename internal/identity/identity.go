// Package identity resolves a connection's credential to a user
// identity. Two backends exist: stateless JWT verification and a
// Redis session store shared with the REST API; a chain tries them in
// order.
package identity

import (
	"context"
	"errors"

	"github.com/luminodash/collab/internal/domain"
)

// ErrAuthentication rejects a connection. Terminal for that connection;
// no further session state is created.
var ErrAuthentication = errors.New("authentication failed")

// Identity is the resolved stable identity of a connection.
type Identity struct {
	UserID      domain.UserID
	DisplayName string
	Avatar      string
}

type Resolver interface {
	Resolve(ctx context.Context, credential string) (Identity, error)
}

// Chain tries each resolver in order and returns the first success.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, credential string) (Identity, error) {
	for _, r := range c {
		id, err := r.Resolve(ctx, credential)
		if err == nil {
			return id, nil
		}
	}
	return Identity{}, ErrAuthentication
}
