package core

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/luminodash/collab/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
	full   bool
}

func (c *fakeConn) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// eventsOf decodes every captured frame whose type matches.
func (c *fakeConn) eventsOf(t *testing.T, typ string) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("bad frame %q: %v", f, err)
		}
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) count(t *testing.T, typ string) int {
	return len(c.eventsOf(t, typ))
}

func member(id domain.UserID, name string, role domain.Role) *domain.Member {
	return domain.NewMember(&domain.User{ID: id, Name: name}, role, time.Now())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRoomJoinBroadcastsAndLists(t *testing.T) {
	room := NewRoom("r1")
	alice, bob := &fakeConn{}, &fakeConn{}

	if err := room.Join(member("u1", "alice", domain.RoleOwner), alice); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := room.Join(member("u2", "bob", domain.RoleEditor), bob); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	// Alice sees bob join; bob does not see his own join event.
	joined := alice.eventsOf(t, EvMemberJoined)
	if len(joined) != 1 {
		t.Fatalf("alice got %d member-joined, want 1", len(joined))
	}
	user := joined[0]["user"].(map[string]any)
	if user["id"] != "u2" || user["role"] != "editor" {
		t.Fatalf("member-joined user = %+v", user)
	}
	if bob.count(t, EvMemberJoined) != 0 {
		t.Fatal("joiner must not receive its own member-joined")
	}

	// Bob gets the member list excluding himself.
	active := bob.eventsOf(t, EvActiveMembers)
	if len(active) != 1 {
		t.Fatalf("bob got %d active-members, want 1", len(active))
	}
	members := active[0]["members"].([]any)
	if len(members) != 1 {
		t.Fatalf("active members = %d, want 1 (excluding self)", len(members))
	}

	// Duplicate join by the same user id is a caller error.
	if err := room.Join(member("u2", "bob", domain.RoleEditor), &fakeConn{}); err != ErrAlreadyJoined {
		t.Fatalf("rejoin err = %v, want ErrAlreadyJoined", err)
	}
}

func TestRoomCursorUpdates(t *testing.T) {
	room := NewRoom("r1")
	alice, bob := &fakeConn{}, &fakeConn{}
	room.Join(member("u1", "alice", domain.RoleOwner), alice)
	room.Join(member("u2", "bob", domain.RoleEditor), bob)

	room.UpdateCursor("u1", domain.Cursor{X: 4, Y: 2}, nil)

	got := bob.eventsOf(t, EvCursorUpdated)
	if len(got) != 1 {
		t.Fatalf("bob got %d cursor-updated, want 1", len(got))
	}
	if alice.count(t, EvCursorUpdated) != 0 {
		t.Fatal("cursor updates must not echo to the mover")
	}

	// Unknown member is a silent no-op.
	room.UpdateCursor("ghost", domain.Cursor{}, nil)
	if bob.count(t, EvCursorUpdated) != 1 {
		t.Fatal("unknown member cursor must not broadcast")
	}
}

func TestRoomLockLifecycle(t *testing.T) {
	room := NewRoom("r1")
	alice, bob := &fakeConn{}, &fakeConn{}
	room.Join(member("u1", "alice", domain.RoleEditor), alice)
	room.Join(member("u2", "bob", domain.RoleEditor), bob)

	if !room.AcquireLock("c1", "u1") {
		t.Fatal("first acquire should succeed")
	}
	if bob.count(t, EvComponentLocked) != 1 {
		t.Fatal("grant must broadcast component-locked")
	}

	// Bob's competing acquire fails with no side effect.
	if room.AcquireLock("c1", "u2") {
		t.Fatal("competing acquire should fail")
	}
	if bob.count(t, EvComponentLocked) != 1 || alice.count(t, EvComponentLocked) != 1 {
		t.Fatal("denied acquire must not broadcast")
	}

	// Idempotent re-acquire succeeds without a re-broadcast.
	if !room.AcquireLock("c1", "u1") {
		t.Fatal("re-acquire by holder should succeed")
	}
	if bob.count(t, EvComponentLocked) != 1 {
		t.Fatal("re-acquire must not re-broadcast")
	}

	// Release by a non-holder is a no-op.
	room.ReleaseLock("c1", "u2")
	if holder, _ := room.LockHolder("c1"); holder != "u1" {
		t.Fatal("non-holder release must not free the lock")
	}

	room.ReleaseLock("c1", "u1")
	if bob.count(t, EvComponentUnlocked) != 1 {
		t.Fatal("release must broadcast component-unlocked")
	}
	if !room.AcquireLock("c1", "u2") {
		t.Fatal("acquire after release should succeed")
	}
}

func TestRoomDisconnectReleasesOnlyHoldersLocks(t *testing.T) {
	room := NewRoom("r1")
	alice, bob := &fakeConn{}, &fakeConn{}
	room.Join(member("u1", "alice", domain.RoleEditor), alice)
	room.Join(member("u2", "bob", domain.RoleEditor), bob)

	room.AcquireLock("c1", "u1")
	room.AcquireLock("c2", "u1")
	room.AcquireLock("c3", "u2")

	released := room.ReleaseAllLocks("u1", "disconnected")
	if len(released) != 2 {
		t.Fatalf("released = %v, want exactly alice's two locks", released)
	}

	// One batched event, not one per lock.
	batches := bob.eventsOf(t, EvComponentsUnlocked)
	if len(batches) != 1 {
		t.Fatalf("bob got %d components-unlocked events, want 1", len(batches))
	}
	ids := batches[0]["componentIds"].([]any)
	if len(ids) != 2 || batches[0]["reason"] != "disconnected" {
		t.Fatalf("batch = %+v", batches[0])
	}
	if holder, _ := room.LockHolder("c3"); holder != "u2" {
		t.Fatal("bob's lock must survive")
	}
}

func TestRoomLockHandoffScenario(t *testing.T) {
	// Two members join; A locks c1; B is denied and told nothing;
	// A disconnects; B then succeeds.
	room := NewRoom("r1")
	a, b := &fakeConn{}, &fakeConn{}
	room.Join(member("uA", "a", domain.RoleEditor), a)
	room.Join(member("uB", "b", domain.RoleEditor), b)

	if !room.AcquireLock("c1", "uA") {
		t.Fatal("A's acquire should succeed")
	}
	if room.AcquireLock("c1", "uB") {
		t.Fatal("B's acquire should fail while A holds the lock")
	}

	room.ReleaseAllLocks("uA", "disconnected")
	room.Leave("uA")

	if !room.AcquireLock("c1", "uB") {
		t.Fatal("B's acquire should succeed after A disconnects")
	}
}

func TestRoomCloseIfEmpty(t *testing.T) {
	room := NewRoom("r1")
	room.Join(member("u1", "alice", domain.RoleEditor), &fakeConn{})

	if room.CloseIfEmpty() {
		t.Fatal("occupied room must not close")
	}
	room.Leave("u1")
	if !room.CloseIfEmpty() {
		t.Fatal("empty room should close")
	}
	if room.CloseIfEmpty() {
		t.Fatal("only one caller may win the close")
	}
	if err := room.Join(member("u2", "bob", domain.RoleEditor), &fakeConn{}); err != ErrRoomClosed {
		t.Fatalf("join on closed room err = %v, want ErrRoomClosed", err)
	}
}

func TestRoomClaimDocSingleWinner(t *testing.T) {
	room := NewRoom("r1")
	if !room.ClaimDoc() {
		t.Fatal("first claim should win")
	}
	if room.ClaimDoc() {
		t.Fatal("second claim must lose")
	}
	if room.SyncStatus() != SyncSyncing {
		t.Fatalf("sync state = %v, want syncing until the document attaches", room.SyncStatus())
	}
}

func TestRoomOperationBroadcast(t *testing.T) {
	room := NewRoom("r1")
	ts := time.Unix(0, 0)
	room.SetClock(func() time.Time {
		ts = ts.Add(time.Millisecond)
		return ts
	})
	alice, bob := &fakeConn{}, &fakeConn{}
	room.Join(member("u1", "alice", domain.RoleEditor), alice)
	room.Join(member("u2", "bob", domain.RoleEditor), bob)

	room.EnqueueOperation(domain.Operation{Kind: domain.OpMove, ComponentID: "x", Origin: "u1", Properties: map[string]any{"x": 1}})
	room.EnqueueOperation(domain.Operation{Kind: domain.OpUpdate, ComponentID: "y", Origin: "u2", Properties: map[string]any{"color": "red"}})

	waitFor(t, func() bool {
		return alice.count(t, EvOperationApplied) >= 2 && bob.count(t, EvOperationApplied) >= 2
	})

	// operation-applied goes to the whole room, both members included.
	if alice.count(t, EvOperationApplied) != 2 || bob.count(t, EvOperationApplied) != 2 {
		t.Fatalf("alice=%d bob=%d operation-applied events, want 2 each",
			alice.count(t, EvOperationApplied), bob.count(t, EvOperationApplied))
	}
}

func TestRoomBackpressureReportsSlowMember(t *testing.T) {
	room := NewRoom("r1")
	var slow []domain.UserID
	var mu sync.Mutex
	room.OnSlow = func(id domain.UserID) {
		mu.Lock()
		slow = append(slow, id)
		mu.Unlock()
	}

	alice, bob := &fakeConn{}, &fakeConn{full: true}
	room.Join(member("u1", "alice", domain.RoleEditor), alice)
	room.Join(member("u2", "bob", domain.RoleEditor), bob)

	room.UpdateCursor("u1", domain.Cursor{X: 1, Y: 1}, nil)

	mu.Lock()
	defer mu.Unlock()
	if len(slow) != 1 || slow[0] != "u2" {
		t.Fatalf("slow = %v, want [u2]", slow)
	}
}
