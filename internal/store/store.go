// Package store persists dashboard documents. The collaboration layer
// reads a dashboard once at join time and writes converged layout state
// back, either from the debounced CRDT flush or an explicit save.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/luminodash/collab/internal/domain"
)

// ErrNotFound reports an unknown dashboard id.
var ErrNotFound = errors.New("dashboard not found")

// VersionConflictError reports an optimistic-concurrency failure on an
// explicit save: the client's known version lags the stored one.
type VersionConflictError struct {
	Current  int64
	Provided int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: stored %d, provided %d", e.Current, e.Provided)
}

type Collaborator struct {
	UserID domain.UserID `json:"userId"`
	Role   domain.Role   `json:"role"`
}

// Dashboard is the persisted document plus its access-control fields.
type Dashboard struct {
	ID            domain.RoomID
	OwnerID       domain.UserID
	Collaborators []Collaborator
	IsPublic      bool
	Layout        domain.LayoutSchema
	Version       int64
}

// RoleFor computes the role a user gets for this dashboard: owner match
// wins, then the collaborator entry, then viewer if public. ok=false
// means access denied.
func (d *Dashboard) RoleFor(userID domain.UserID) (domain.Role, bool) {
	if d.OwnerID == userID {
		return domain.RoleOwner, true
	}
	for _, c := range d.Collaborators {
		if c.UserID == userID {
			return c.Role, true
		}
	}
	if d.IsPublic {
		return domain.RoleViewer, true
	}
	return "", false
}

// CanWrite is the advisory check the sync auth message answers.
func (d *Dashboard) CanWrite(userID domain.UserID) bool {
	role, ok := d.RoleFor(userID)
	return ok && role.CanEdit()
}

// Store is the document persistence boundary.
//
// Save's expectedVersion implements the explicit-save conflict check: a
// non-nil value below the stored version fails with
// *VersionConflictError and writes nothing. nil skips the check (the
// debounced CRDT flush path). Every successful save increments the
// version by one and returns the new value.
type Store interface {
	Load(ctx context.Context, id domain.RoomID) (*Dashboard, error)
	Save(ctx context.Context, id domain.RoomID, layout domain.LayoutSchema, expectedVersion *int64) (int64, error)
}
