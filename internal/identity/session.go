package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luminodash/collab/internal/domain"
)

const sessionPrefix = "session:"

// SessionResolver looks a credential up in the Redis session store the
// REST API writes at login. Entries are JSON under session:<token> with
// a TTL owned by the API.
type SessionResolver struct {
	client *redis.Client
}

func NewSessionResolver(redisURL string) (*SessionResolver, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &SessionResolver{client: client}, nil
}

// NewSessionResolverWithClient wraps an existing client; used by tests.
func NewSessionResolverWithClient(client *redis.Client) *SessionResolver {
	return &SessionResolver{client: client}
}

type sessionData struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
}

func (r *SessionResolver) Resolve(ctx context.Context, credential string) (Identity, error) {
	raw, err := r.client.Get(ctx, sessionPrefix+credential).Result()
	if errors.Is(err, redis.Nil) {
		return Identity{}, fmt.Errorf("%w: session not found or expired", ErrAuthentication)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("%w: session lookup: %v", ErrAuthentication, err)
	}
	var data sessionData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return Identity{}, fmt.Errorf("%w: decode session: %v", ErrAuthentication, err)
	}
	if data.UserID == "" {
		return Identity{}, fmt.Errorf("%w: session has no user id", ErrAuthentication)
	}
	return Identity{
		UserID:      domain.UserID(data.UserID),
		DisplayName: data.DisplayName,
		Avatar:      data.Avatar,
	}, nil
}

func (r *SessionResolver) Close() error { return r.client.Close() }
