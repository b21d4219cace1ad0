package app

import (
	"sync"

	"github.com/luminodash/collab/internal/core"
	"github.com/luminodash/collab/internal/domain"
)

// RoomInfo is a read-only view for the ops API.
type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"memberCount"`
	LockCount   int           `json:"lockCount"`
}

// Rooms is the concurrent-safe registry handing out per-room state
// bundles. Rooms are created on first join and stopped when the last
// member leaves.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*core.Room
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[domain.RoomID]*core.Room)}
}

func (rs *Rooms) GetOrCreate(id domain.RoomID) *core.Room {
	rs.mu.RLock()
	room, ok := rs.rooms[id]
	rs.mu.RUnlock()
	if ok {
		return room
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if room, ok = rs.rooms[id]; ok {
		return room
	}
	room = core.NewRoom(id)
	rs.rooms[id] = room
	return room
}

func (rs *Rooms) Get(id domain.RoomID) (*core.Room, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	room, ok := rs.rooms[id]
	return room, ok
}

// Evict removes a specific room instance. The instance comparison
// keeps a replacement registered since (a fresh room for the same id)
// untouched.
func (rs *Rooms) Evict(id domain.RoomID, room *core.Room) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.rooms[id] == room {
		delete(rs.rooms, id)
	}
}

func (rs *Rooms) List() []RoomInfo {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]RoomInfo, 0, len(rs.rooms))
	for id, room := range rs.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: room.MemberCount(), LockCount: room.LockCount()})
	}
	return out
}
