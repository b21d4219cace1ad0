package core

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/luminodash/collab/internal/domain"
)

// Wire event payloads. The Type field doubles as the event name on the
// wire; adapters relay these frames to clients verbatim.

// UserRef carries only stable identity fields, never connection
// internals.
type UserRef struct {
	ID   domain.UserID `json:"id"`
	Name string        `json:"name"`
}

type UserInfo struct {
	ID     domain.UserID `json:"id"`
	Name   string        `json:"name"`
	Avatar string        `json:"avatar,omitempty"`
	Role   domain.Role   `json:"role"`
}

type MemberInfo struct {
	UserInfo
	Cursor    domain.Cursor   `json:"cursor"`
	Selection json.RawMessage `json:"selection,omitempty"`
	JoinedAt  time.Time       `json:"joinedAt"`
}

type MemberJoined struct {
	Type string   `json:"type"`
	User UserInfo `json:"user"`
}

type MemberLeft struct {
	Type     string        `json:"type"`
	UserID   domain.UserID `json:"userId"`
	UserName string        `json:"userName"`
}

type ActiveMembers struct {
	Type    string       `json:"type"`
	Members []MemberInfo `json:"members"`
}

type CursorUpdated struct {
	Type      string          `json:"type"`
	UserID    domain.UserID   `json:"userId"`
	UserName  string          `json:"userName"`
	Cursor    domain.Cursor   `json:"cursor"`
	Selection json.RawMessage `json:"selection,omitempty"`
}

type ComponentLocked struct {
	Type        string    `json:"type"`
	ComponentID string    `json:"componentId"`
	LockedBy    UserRef   `json:"lockedBy"`
	Timestamp   time.Time `json:"timestamp"`
}

type ComponentUnlocked struct {
	Type        string    `json:"type"`
	ComponentID string    `json:"componentId"`
	Timestamp   time.Time `json:"timestamp"`
}

type ComponentsUnlocked struct {
	Type         string   `json:"type"`
	ComponentIDs []string `json:"componentIds"`
	Reason       string   `json:"reason"`
}

type CanvasUpdated struct {
	Type        string         `json:"type"`
	Operation   string         `json:"operation"`
	ComponentID string         `json:"componentId"`
	Changes     map[string]any `json:"changes,omitempty"`
	UserID      domain.UserID  `json:"userId"`
	UserName    string         `json:"userName"`
	Timestamp   time.Time      `json:"timestamp"`
}

type OperationApplied struct {
	Type      string           `json:"type"`
	Operation domain.Operation `json:"operation"`
}

type DashboardSaved struct {
	Type      string    `json:"type"`
	Version   int64     `json:"version"`
	SavedBy   string    `json:"savedBy"`
	Timestamp time.Time `json:"timestamp"`
}

type SaveConflict struct {
	Type           string `json:"type"`
	CurrentVersion int64  `json:"currentVersion"`
	YourVersion    int64  `json:"yourVersion"`
	Message        string `json:"message"`
}

type SyncMessage struct {
	Type    string `json:"type"`
	Message []byte `json:"message"`
}

type AwarenessUpdate struct {
	Type   string `json:"type"`
	Update []byte `json:"update"`
}

type UserTyping struct {
	Type     string        `json:"type"`
	UserID   domain.UserID `json:"userId"`
	UserName string        `json:"userName"`
	IsTyping bool          `json:"isTyping"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	EvMemberJoined       = "member-joined"
	EvMemberLeft         = "member-left"
	EvActiveMembers      = "active-members"
	EvCursorUpdated      = "cursor-updated"
	EvComponentLocked    = "component-locked"
	EvComponentUnlocked  = "component-unlocked"
	EvComponentsUnlocked = "components-unlocked"
	EvCanvasUpdated      = "canvas-updated"
	EvOperationApplied   = "operation-applied"
	EvDashboardSaved     = "dashboard-saved"
	EvSaveConflict       = "save-conflict"
	EvSyncMessage        = "sync-message"
	EvAwarenessUpdate    = "awareness-update"
	EvUserTyping         = "user-typing"
	EvError              = "error"
)

// MarshalEvent encodes an event for the wire. Payloads are our own
// structs, so a marshal failure is a programming error worth a log but
// never a crash.
func MarshalEvent(v any) Frame {
	buf, err := json.Marshal(v)
	if err != nil {
		log.Error().Str("module", "core.events").Err(err).Msg("marshal event")
		return nil
	}
	return buf
}
