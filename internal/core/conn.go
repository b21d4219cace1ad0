package core

import (
	"errors"

	"github.com/luminodash/collab/internal/domain"
)

// Frame is a raw outbound payload.
type Frame []byte

// ErrBackpressure is returned by TrySend when a member's send buffer is
// full. The frame is dropped; the backpressure policy decides what
// happens to the member.
var ErrBackpressure = errors.New("send buffer full")

// Conn abstracts a member's messaging transport.
// Owned by the adapter; the adapter must Close() it.
type Conn interface {
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats and slow members to the caller.
type PublishResult struct {
	SentTo  int
	Dropped []domain.UserID
}
