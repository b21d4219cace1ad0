package domain

import "time"

// OperationKind discriminates discrete edit intents from the canvas UI.
type OperationKind string

const (
	OpMove   OperationKind = "move"
	OpResize OperationKind = "resize"
	OpUpdate OperationKind = "update"
	OpAdd    OperationKind = "add"
	OpDelete OperationKind = "delete"
)

// Operation is a discrete, timestamped edit intent. Immutable once
// enqueued; consumed exactly once by the conflict resolver.
type Operation struct {
	ID          string         `json:"id"`
	Kind        OperationKind  `json:"kind"`
	ComponentID string         `json:"componentId"`
	Properties  map[string]any `json:"properties,omitempty"`
	Origin      UserID         `json:"origin"`
	OriginName  string         `json:"originName,omitempty"`
	// Timestamp is assigned by the server at enqueue time; Seq breaks
	// timestamp ties by arrival order.
	Timestamp time.Time `json:"timestamp"`
	Seq       int       `json:"-"`
}
