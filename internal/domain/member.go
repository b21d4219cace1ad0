package domain

import (
	"encoding/json"
	"time"
)

type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Member represents a user's participation meta within one room.
// No transport or lifecycle logic here.
type Member struct {
	User      *User
	Role      Role
	Cursor    Cursor
	Selection json.RawMessage
	JoinedAt  time.Time
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user *User, role Role, joinedAt time.Time) *Member {
	return &Member{User: user, Role: role, JoinedAt: joinedAt}
}
