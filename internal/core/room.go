package core

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/luminodash/collab/internal/crdt"
	"github.com/luminodash/collab/internal/domain"
)

// SyncState is the CRDT relay lifecycle of a room.
type SyncState int

const (
	SyncUninitialized SyncState = iota
	SyncSyncing
	SyncLive
	SyncDestroyed
)

// Room owns all mutable collaboration state for one dashboard:
// membership, locks, the pending operation batch, the CRDT document and
// its awareness map, and the debounced flush timer. Everything behind
// mu belongs exclusively to this room; concurrent rooms never contend.
type Room struct {
	ID domain.RoomID

	mu       sync.Mutex
	presence *presence
	locks    *lockTable
	pending  []domain.Operation
	opSeq    int
	draining bool
	closed   bool

	doc       *crdt.Doc
	awareness *crdt.Awareness
	syncState SyncState

	// flush debounce; separate mutex so document callbacks (which run
	// under mu) may reschedule without re-locking.
	flushMu    sync.Mutex
	flushTimer *time.Timer
	lastFlush  time.Time

	// now is swappable in tests.
	now func() time.Time

	// OnSlow is invoked (outside mu) for members whose send buffer
	// overflowed during a broadcast.
	OnSlow func(domain.UserID)

	// onOperation routes resolved queue operations into the document
	// when the deployment reconciles both write paths there.
	onOperation func(domain.Operation)
}

func NewRoom(id domain.RoomID) *Room {
	return &Room{
		ID:       id,
		presence: newPresence(),
		locks:    newLockTable(),
		now:      time.Now,
	}
}

// SetClock replaces the room's time source. Test hook.
func (r *Room) SetClock(now func() time.Time) { r.now = now }

// --- broadcast plumbing -------------------------------------------------

// broadcastLocked fans a frame out to every member except from, without
// blocking: slow members get the frame dropped and are reported.
// Callers hold mu.
func (r *Room) broadcastLocked(from domain.UserID, event any) PublishResult {
	frame := MarshalEvent(event)
	if frame == nil {
		return PublishResult{}
	}
	res := PublishResult{}
	for id, entry := range r.presence.members {
		if id == from {
			continue
		}
		if err := entry.conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SentTo++
	}
	if len(res.Dropped) > 0 {
		log.Warn().Str("module", "core.room").Str("room", string(r.ID)).
			Int("dropped", len(res.Dropped)).Msg("broadcast dropped frames")
	}
	return res
}

func (r *Room) unicastLocked(to domain.UserID, event any) {
	entry, ok := r.presence.members[to]
	if !ok {
		return
	}
	if frame := MarshalEvent(event); frame != nil {
		_ = entry.conn.TrySend(frame)
	}
}

// reportSlow runs the backpressure hook outside mu.
func (r *Room) reportSlow(res PublishResult) {
	if r.OnSlow == nil || len(res.Dropped) == 0 {
		return
	}
	for _, id := range res.Dropped {
		r.OnSlow(id)
	}
}

// --- presence registry --------------------------------------------------

// ErrRoomClosed reports a join against a room already torn down; the
// caller should fetch a fresh instance from the registry and retry.
var ErrRoomClosed = errors.New("room closed")

// Join registers a member, tells everyone else, and hands the joiner
// the current member list (excluding itself).
func (r *Room) Join(meta *domain.Member, conn Conn) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	if err := r.presence.add(meta, conn); err != nil {
		r.mu.Unlock()
		return err
	}
	res := r.broadcastLocked(meta.User.ID, MemberJoined{
		Type: EvMemberJoined,
		User: UserInfo{ID: meta.User.ID, Name: meta.User.Name, Avatar: meta.User.Avatar, Role: meta.Role},
	})
	r.unicastLocked(meta.User.ID, ActiveMembers{
		Type:    EvActiveMembers,
		Members: r.presence.snapshot(meta.User.ID),
	})
	r.mu.Unlock()
	r.reportSlow(res)
	log.Info().Str("module", "core.room").Str("room", string(r.ID)).
		Str("user", string(meta.User.ID)).Str("role", string(meta.Role)).Msg("member joined")
	return nil
}

// UpdateCursor mutates the member's ephemeral cursor/selection and
// relays it. No-op for unknown members; never persisted.
func (r *Room) UpdateCursor(id domain.UserID, cursor domain.Cursor, selection json.RawMessage) {
	r.mu.Lock()
	meta := r.presence.setCursor(id, cursor, selection)
	if meta == nil {
		r.mu.Unlock()
		return
	}
	res := r.broadcastLocked(id, CursorUpdated{
		Type:      EvCursorUpdated,
		UserID:    id,
		UserName:  meta.User.Name,
		Cursor:    cursor,
		Selection: selection,
	})
	r.mu.Unlock()
	r.reportSlow(res)
}

// Leave removes a member and reports the remaining count so the caller
// can tear the room down at zero.
func (r *Room) Leave(id domain.UserID) (remaining int) {
	r.mu.Lock()
	meta := r.presence.remove(id)
	if meta == nil {
		remaining = r.presence.count()
		r.mu.Unlock()
		return remaining
	}
	if r.awareness != nil {
		r.awareness.Remove(string(id))
	}
	res := r.broadcastLocked(id, MemberLeft{Type: EvMemberLeft, UserID: id, UserName: meta.User.Name})
	remaining = r.presence.count()
	r.mu.Unlock()
	r.reportSlow(res)
	log.Info().Str("module", "core.room").Str("room", string(r.ID)).
		Str("user", string(id)).Int("remaining", remaining).Msg("member left")
	return remaining
}

// CloseIfEmpty marks the room terminal when no members remain, making
// the empty-check and the close one atomic step. Returns false if a
// member joined since the caller observed the room empty, or if
// another caller already closed it; only the true return runs
// teardown.
func (r *Room) CloseIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.presence.count() > 0 {
		return false
	}
	r.closed = true
	return true
}

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence.count()
}

func (r *Room) Member(id domain.UserID) (*domain.Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence.get(id)
}

// Typing relays a typing indicator to other members.
func (r *Room) Typing(id domain.UserID, isTyping bool) {
	r.mu.Lock()
	meta, ok := r.presence.get(id)
	if !ok {
		r.mu.Unlock()
		return
	}
	res := r.broadcastLocked(id, UserTyping{Type: EvUserTyping, UserID: id, UserName: meta.User.Name, IsTyping: isTyping})
	r.mu.Unlock()
	r.reportSlow(res)
}

// --- lock table ---------------------------------------------------------

// AcquireLock grants single-writer access to a component. A fresh grant
// is broadcast; an idempotent re-acquire by the holder succeeds
// silently; a lock held by someone else fails with no side effect.
func (r *Room) AcquireLock(componentID string, holder domain.UserID) bool {
	r.mu.Lock()
	meta, ok := r.presence.get(holder)
	if !ok {
		r.mu.Unlock()
		return false
	}
	at := r.now()
	outcome := r.locks.acquire(componentID, holder, at)
	var res PublishResult
	if outcome == AcquireGranted {
		res = r.broadcastLocked("", ComponentLocked{
			Type:        EvComponentLocked,
			ComponentID: componentID,
			LockedBy:    UserRef{ID: holder, Name: meta.User.Name},
			Timestamp:   at,
		})
	}
	r.mu.Unlock()
	r.reportSlow(res)
	return outcome != AcquireDenied
}

// ReleaseLock is a no-op unless holder currently holds the lock.
func (r *Room) ReleaseLock(componentID string, holder domain.UserID) {
	r.mu.Lock()
	if !r.locks.release(componentID, holder) {
		r.mu.Unlock()
		return
	}
	res := r.broadcastLocked("", ComponentUnlocked{
		Type:        EvComponentUnlocked,
		ComponentID: componentID,
		Timestamp:   r.now(),
	})
	r.mu.Unlock()
	r.reportSlow(res)
}

// ReleaseAllLocks drops every lock held by the member and announces the
// freed set as one batched event, bounding broadcast storms on mass
// disconnect.
func (r *Room) ReleaseAllLocks(holder domain.UserID, reason string) []string {
	r.mu.Lock()
	ids := r.locks.releaseAll(holder)
	var res PublishResult
	if len(ids) > 0 {
		res = r.broadcastLocked("", ComponentsUnlocked{
			Type:         EvComponentsUnlocked,
			ComponentIDs: ids,
			Reason:       reason,
		})
	}
	r.mu.Unlock()
	r.reportSlow(res)
	return ids
}

func (r *Room) LockHolder(componentID string) (domain.UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locks.holder(componentID)
}

func (r *Room) LockCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locks.count()
}

// --- operation queue ----------------------------------------------------

// EnqueueOperation stamps the operation with the server clock and
// triggers batch processing without blocking the caller on resolution.
// Operations enqueued while a batch is draining start the next batch.
func (r *Room) EnqueueOperation(op domain.Operation) {
	r.mu.Lock()
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	op.Timestamp = r.now()
	op.Seq = r.opSeq
	r.opSeq++
	r.pending = append(r.pending, op)
	if r.draining {
		r.mu.Unlock()
		return
	}
	r.draining = true
	r.mu.Unlock()
	go r.drainOperations()
}

func (r *Room) drainOperations() {
	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.draining = false
			r.mu.Unlock()
			return
		}
		batch := r.pending
		r.pending = nil
		accepted := ResolveBatch(batch)
		var results []PublishResult
		for _, op := range accepted {
			if r.onOperation != nil {
				r.onOperation(op)
			}
			results = append(results, r.broadcastLocked("", OperationApplied{Type: EvOperationApplied, Operation: op}))
		}
		r.mu.Unlock()
		for _, res := range results {
			r.reportSlow(res)
		}
		log.Debug().Str("module", "core.room").Str("room", string(r.ID)).
			Int("batch", len(batch)).Int("accepted", len(accepted)).Msg("operation batch resolved")
	}
}

// RelayCanvasUpdate broadcasts a granular canvas change to the other
// members, mirroring the raw edit before queue resolution lands.
func (r *Room) RelayCanvasUpdate(from domain.UserID, ev CanvasUpdated) {
	r.mu.Lock()
	res := r.broadcastLocked(from, ev)
	r.mu.Unlock()
	r.reportSlow(res)
}

// --- CRDT document ------------------------------------------------------

// ClaimDoc transitions the room to SYNCING so that exactly one joiner
// seeds the document. Returns false when another joiner already holds
// the claim or the room is past its first life.
func (r *Room) ClaimDoc() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.syncState != SyncUninitialized {
		return false
	}
	r.syncState = SyncSyncing
	return true
}

// AttachDoc installs the seeded CRDT document and awareness state,
// wires the document's changed callback and brings the room LIVE, all
// under one lock acquisition. Only the ClaimDoc winner calls this. The
// callback runs under mu (merges are serialized by the room), so
// fan-out must not re-lock.
func (r *Room) AttachDoc(doc *crdt.Doc, aw *crdt.Awareness, schedule func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc = doc
	r.awareness = aw
	r.syncState = SyncLive
	doc.OnUpdate(func(delta crdt.Delta) {
		msg, err := crdt.EncodeSync(crdt.SyncUpdate, delta)
		if err != nil {
			log.Error().Str("module", "core.room").Err(err).Msg("encode doc update")
			return
		}
		r.broadcastLocked("", SyncMessage{Type: EvSyncMessage, Message: msg})
		if schedule != nil {
			schedule()
		}
	})
}

func (r *Room) SyncStatus() SyncState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncState
}

// MergeSync merges a remote delta into the document under the room
// lock. Returns the applied sub-delta, nil if stale.
func (r *Room) MergeSync(delta crdt.Delta) *crdt.Delta {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil || r.syncState != SyncLive {
		return nil
	}
	return r.doc.Merge(delta)
}

// DocDiff returns what the remote replica is missing.
func (r *Room) DocDiff(remote crdt.Delta) *crdt.Delta {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return nil
	}
	return r.doc.Diff(remote)
}

// DocState returns the full document delta for sync step one.
func (r *Room) DocState() crdt.Delta {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return crdt.Delta{}
	}
	return r.doc.State()
}

// DocSnapshot translates the document to its persisted shape.
func (r *Room) DocSnapshot() (domain.LayoutSchema, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return domain.LayoutSchema{}, false
	}
	return r.doc.Snapshot(), true
}

// ApplyAwareness folds an awareness update into the room's ephemeral
// state and relays the raw update to the other members verbatim.
func (r *Room) ApplyAwareness(from domain.UserID, update []byte) error {
	r.mu.Lock()
	if r.awareness == nil {
		r.mu.Unlock()
		return nil
	}
	if err := r.awareness.Apply(update); err != nil {
		r.mu.Unlock()
		return err
	}
	res := r.broadcastLocked(from, AwarenessUpdate{Type: EvAwarenessUpdate, Update: update})
	r.mu.Unlock()
	r.reportSlow(res)
	return nil
}

// SetOperationHook routes resolved queue operations into the document
// (the single-mutation-path reconciliation). The hook runs under mu.
func (r *Room) SetOperationHook(fn func(domain.Operation)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOperation = fn
}

// ApplyOperationLocked translates a resolved operation into document
// mutations. Only valid from the operation hook (mu already held).
func (r *Room) ApplyOperationLocked(op domain.Operation) {
	if r.doc == nil {
		return
	}
	switch op.Kind {
	case domain.OpDelete:
		r.doc.RemoveComponent(op.ComponentID)
	default:
		if len(op.Properties) > 0 {
			r.doc.SetComponentFields(op.ComponentID, op.Properties)
		}
	}
}

// DetachDoc releases the document and awareness state. The CRDT
// instance is destroyed, not merely emptied, so idle rooms do not pin
// memory.
func (r *Room) DetachDoc() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc = nil
	r.awareness = nil
	r.syncState = SyncDestroyed
}

// --- flush debounce -----------------------------------------------------

// ScheduleFlush debounces persistence: each call cancels the pending
// timer and starts a new one, so only the last schedule in a quiet
// window fires. Safe to call from document callbacks.
func (r *Room) ScheduleFlush(after time.Duration, fn func()) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()
	if r.flushTimer != nil {
		r.flushTimer.Stop()
	}
	r.flushTimer = time.AfterFunc(after, fn)
}

// CancelFlush stops any pending flush timer; called on room teardown so
// a flush never fires after destroy.
func (r *Room) CancelFlush() {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()
	if r.flushTimer != nil {
		r.flushTimer.Stop()
		r.flushTimer = nil
	}
}

// MarkFlushed records a successful persistence pass.
func (r *Room) MarkFlushed(at time.Time) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()
	r.lastFlush = at
}

func (r *Room) LastFlush() time.Time {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()
	return r.lastFlush
}

// Unicast sends one event to a single member.
func (r *Room) Unicast(to domain.UserID, event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unicastLocked(to, event)
}

// CloseMember closes a member's transport. The adapter's read loop
// notices and runs the normal disconnect teardown.
func (r *Room) CloseMember(id domain.UserID) {
	r.mu.Lock()
	entry, ok := r.presence.members[id]
	r.mu.Unlock()
	if ok {
		entry.conn.Close()
	}
}

// BroadcastExcept sends one event to every member but one.
func (r *Room) BroadcastExcept(except domain.UserID, event any) {
	r.mu.Lock()
	res := r.broadcastLocked(except, event)
	r.mu.Unlock()
	r.reportSlow(res)
}

// AwarenessStates returns the room's current awareness map, nil when no
// document is attached.
func (r *Room) AwarenessStates() map[string]json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.awareness == nil {
		return nil
	}
	return r.awareness.States()
}
