package crdt

import (
	"encoding/json"
	"fmt"
)

// Awareness holds the ephemeral per-member presence payloads of one
// room. Unlike the document it is never merged durably or persisted;
// it expires with the connections that feed it. Not goroutine-safe;
// the owning room serializes access.
type Awareness struct {
	states map[string]json.RawMessage
}

func NewAwareness() *Awareness {
	return &Awareness{states: make(map[string]json.RawMessage)}
}

// Apply merges an awareness update: a JSON object of client id to
// payload, where null clears the client's entry.
func (a *Awareness) Apply(update []byte) error {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(update, &entries); err != nil {
		return fmt.Errorf("%w: awareness: %v", ErrProtocol, err)
	}
	for id, state := range entries {
		if state == nil || string(state) == "null" {
			delete(a.states, id)
			continue
		}
		a.states[id] = state
	}
	return nil
}

// Remove drops one client's state, used when its connection goes away.
func (a *Awareness) Remove(id string) {
	delete(a.states, id)
}

// States returns a copy of the current map.
func (a *Awareness) States() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(a.states))
	for id, state := range a.states {
		out[id] = state
	}
	return out
}

// Encode serializes the full awareness map as a relayable update.
func (a *Awareness) Encode() ([]byte, error) {
	return json.Marshal(a.states)
}
