package crdt

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire framing for room sync traffic. Every message starts with a one
// byte tag; sync messages carry a second byte for the handshake step.
// The payload is the JSON encoding of a Delta (component props are JSON
// already, so a binary body would just re-wrap JSON).
const (
	MessageSync      byte = 0
	MessageAwareness byte = 1
	MessageAuth      byte = 2
)

const (
	// SyncSnapshot carries the sender's full state ("client has
	// nothing, here is everything" is a snapshot of the server doc).
	SyncSnapshot byte = 0
	// SyncUpdate carries an incremental delta.
	SyncUpdate byte = 1
)

const (
	AuthAuthorized   = "authorized"
	AuthUnauthorized = "unauthorized"
)

// ErrProtocol marks malformed sync traffic. Callers log and drop; a bad
// message is never fatal to the connection.
var ErrProtocol = errors.New("malformed sync message")

// Split peels the tag byte off an incoming message.
func Split(msg []byte) (tag byte, rest []byte, err error) {
	if len(msg) == 0 {
		return 0, nil, fmt.Errorf("%w: empty message", ErrProtocol)
	}
	return msg[0], msg[1:], nil
}

// EncodeSync frames a delta as a sync message.
func EncodeSync(step byte, delta Delta) ([]byte, error) {
	body, err := json.Marshal(delta)
	if err != nil {
		return nil, fmt.Errorf("encode sync delta: %w", err)
	}
	out := make([]byte, 0, len(body)+2)
	out = append(out, MessageSync, step)
	return append(out, body...), nil
}

// DecodeSync parses the payload of a sync-tagged message.
func DecodeSync(payload []byte) (step byte, delta Delta, err error) {
	if len(payload) < 1 {
		return 0, Delta{}, fmt.Errorf("%w: missing sync step", ErrProtocol)
	}
	step = payload[0]
	if step != SyncSnapshot && step != SyncUpdate {
		return 0, Delta{}, fmt.Errorf("%w: unknown sync step %d", ErrProtocol, step)
	}
	if err := json.Unmarshal(payload[1:], &delta); err != nil {
		return 0, Delta{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return step, delta, nil
}

// EncodeAuth frames the advisory write-permission marker.
func EncodeAuth(status string) []byte {
	out := make([]byte, 0, len(status)+1)
	out = append(out, MessageAuth)
	return append(out, status...)
}

// DecodeAuth parses the payload of an auth-tagged message.
func DecodeAuth(payload []byte) string {
	return string(payload)
}
