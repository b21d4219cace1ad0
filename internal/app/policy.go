package app

import "github.com/luminodash/collab/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a member whose send buffer keeps
// overflowing during broadcasts.
type Policy interface {
	OnBackpressure(roomID domain.RoomID, member domain.UserID) BackpressureAction
}

// DropPolicy sheds the frame and keeps the member; cursor and awareness
// traffic are lossy by nature and CRDT state self-heals on the next
// sync exchange.
type DropPolicy struct{}

func (DropPolicy) OnBackpressure(domain.RoomID, domain.UserID) BackpressureAction {
	return DropFrame
}

// KickPolicy disconnects slow members.
type KickPolicy struct{}

func (KickPolicy) OnBackpressure(domain.RoomID, domain.UserID) BackpressureAction {
	return KickMember
}
