package core

import (
	"sort"
	"time"

	"github.com/luminodash/collab/internal/domain"
)

// Lock binds one component to one holder. At most one lock exists per
// component id; only the holder (or the coordinator on the holder's
// disconnect) may release it.
type Lock struct {
	ComponentID string
	Holder      domain.UserID
	AcquiredAt  time.Time
}

// AcquireOutcome distinguishes a fresh grant from an idempotent
// re-acquire, because only the former is broadcast.
type AcquireOutcome int

const (
	AcquireDenied AcquireOutcome = iota
	AcquireGranted
	AcquireAlreadyHeld
)

// lockTable is the mutual-exclusion half of a room. Not goroutine-safe
// on its own; the owning Room serializes access. Role checks are the
// coordinator's responsibility, not re-enforced here.
type lockTable struct {
	locks map[string]Lock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]Lock)}
}

func (t *lockTable) acquire(componentID string, holder domain.UserID, at time.Time) AcquireOutcome {
	cur, ok := t.locks[componentID]
	if ok {
		if cur.Holder == holder {
			return AcquireAlreadyHeld
		}
		return AcquireDenied
	}
	t.locks[componentID] = Lock{ComponentID: componentID, Holder: holder, AcquiredAt: at}
	return AcquireGranted
}

func (t *lockTable) release(componentID string, holder domain.UserID) bool {
	cur, ok := t.locks[componentID]
	if !ok || cur.Holder != holder {
		return false
	}
	delete(t.locks, componentID)
	return true
}

// releaseAll drops every lock held by the given member and returns the
// released component ids, sorted, for one batched broadcast.
func (t *lockTable) releaseAll(holder domain.UserID) []string {
	var ids []string
	for id, l := range t.locks {
		if l.Holder == holder {
			delete(t.locks, id)
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (t *lockTable) holder(componentID string) (domain.UserID, bool) {
	l, ok := t.locks[componentID]
	if !ok {
		return "", false
	}
	return l.Holder, true
}

func (t *lockTable) count() int { return len(t.locks) }
