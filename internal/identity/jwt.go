package identity

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/luminodash/collab/internal/domain"
)

// JWTResolver verifies HMAC-signed tokens minted by the REST API at
// login. Claims: sub (user id), name, avatar.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

type sessionClaims struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

func (r *JWTResolver) Resolve(_ context.Context, credential string) (Identity, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(credential, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrAuthentication)
	}
	return Identity{
		UserID:      domain.UserID(claims.Subject),
		DisplayName: claims.Name,
		Avatar:      claims.Avatar,
	}, nil
}
