package core

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/luminodash/collab/internal/domain"
)

// ErrAlreadyJoined is returned when the same user id joins a room it is
// already present in. A rejoin is a caller error, not a silent merge.
var ErrAlreadyJoined = errors.New("member already joined")

type presenceEntry struct {
	meta *domain.Member
	conn Conn
}

// presence is the membership half of a room: who is here and how to
// reach them. Not goroutine-safe on its own; the owning Room serializes
// access. Broadcast composition lives on Room.
type presence struct {
	members map[domain.UserID]*presenceEntry
}

func newPresence() *presence {
	return &presence{members: make(map[domain.UserID]*presenceEntry)}
}

func (p *presence) add(meta *domain.Member, conn Conn) error {
	if _, ok := p.members[meta.User.ID]; ok {
		return ErrAlreadyJoined
	}
	p.members[meta.User.ID] = &presenceEntry{meta: meta, conn: conn}
	return nil
}

func (p *presence) remove(id domain.UserID) *domain.Member {
	entry, ok := p.members[id]
	if !ok {
		return nil
	}
	delete(p.members, id)
	return entry.meta
}

func (p *presence) get(id domain.UserID) (*domain.Member, bool) {
	entry, ok := p.members[id]
	if !ok {
		return nil, false
	}
	return entry.meta, true
}

func (p *presence) count() int { return len(p.members) }

func (p *presence) setCursor(id domain.UserID, cursor domain.Cursor, selection json.RawMessage) *domain.Member {
	entry, ok := p.members[id]
	if !ok {
		return nil
	}
	entry.meta.Cursor = cursor
	entry.meta.Selection = selection
	return entry.meta
}

// snapshot lists current members excluding one user id, sorted by join
// time so the active-members reply is stable.
func (p *presence) snapshot(exclude domain.UserID) []MemberInfo {
	out := make([]MemberInfo, 0, len(p.members))
	for id, entry := range p.members {
		if id == exclude {
			continue
		}
		m := entry.meta
		out = append(out, MemberInfo{
			UserInfo:  UserInfo{ID: m.User.ID, Name: m.User.Name, Avatar: m.User.Avatar, Role: m.Role},
			Cursor:    m.Cursor,
			Selection: m.Selection,
			JoinedAt:  m.JoinedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
