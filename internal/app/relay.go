package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/luminodash/collab/internal/core"
	"github.com/luminodash/collab/internal/crdt"
	"github.com/luminodash/collab/internal/domain"
	"github.com/luminodash/collab/internal/store"
)

// MutationPath selects which write path owns structural canvas edits in
// this deployment. Running both against the same document risks
// divergent merges.
const (
	MutationPathCRDT  = "crdt"
	MutationPathQueue = "queue"
)

// Relay maintains the CRDT document lifecycle per room: seed from the
// store on first join, merge and fan out deltas while live, debounce
// persistence, destroy on empty.
type Relay struct {
	store        store.Store
	debounce     time.Duration
	storeTimeout time.Duration
	mutationPath string
}

func NewRelay(st store.Store, debounce, storeTimeout time.Duration, mutationPath string) *Relay {
	if mutationPath == "" {
		mutationPath = MutationPathCRDT
	}
	return &Relay{store: st, debounce: debounce, storeTimeout: storeTimeout, mutationPath: mutationPath}
}

// Init constructs the room's document on first join: the claim moves
// the room to SYNCING so concurrent first joiners cannot each attach a
// document, the persisted layout is translated in, then AttachDoc
// brings the room LIVE. Later joins find the claim taken and reuse the
// live document.
func (r *Relay) Init(room *core.Room, dash *store.Dashboard) {
	if !room.ClaimDoc() {
		return
	}
	doc := crdt.NewDoc("server:" + string(room.ID))
	doc.Load(dash.Layout)
	aw := crdt.NewAwareness()
	if r.mutationPath == MutationPathCRDT {
		room.SetOperationHook(room.ApplyOperationLocked)
	}
	room.AttachDoc(doc, aw, func() { r.Schedule(room) })
	log.Info().Str("module", "app.relay").Str("room", string(room.ID)).
		Int("components", len(dash.Layout.Components)).Msg("document initialized")
}

// SyncInit sends the joining member sync step one: the full server
// state, "client has nothing, here is everything".
func (r *Relay) SyncInit(room *core.Room, to domain.UserID) {
	msg, err := crdt.EncodeSync(crdt.SyncSnapshot, room.DocState())
	if err != nil {
		log.Error().Str("module", "app.relay").Err(err).Msg("encode sync init")
		return
	}
	room.Unicast(to, core.SyncMessage{Type: core.EvSyncMessage, Message: msg})

	if update, err := awarenessSnapshot(room); err == nil && update != nil {
		room.Unicast(to, core.AwarenessUpdate{Type: core.EvAwarenessUpdate, Update: update})
	}
}

func awarenessSnapshot(room *core.Room) ([]byte, error) {
	states := room.AwarenessStates()
	if len(states) == 0 {
		return nil, nil
	}
	return core.MarshalEvent(states), nil
}

// HandleSync processes one tagged message from a member. Only accepted
// while the room is LIVE.
func (r *Relay) HandleSync(ctx context.Context, room *core.Room, from *domain.Member, msg []byte) {
	if room.SyncStatus() != core.SyncLive {
		return
	}
	tag, rest, err := crdt.Split(msg)
	if err != nil {
		log.Warn().Str("module", "app.relay").Str("room", string(room.ID)).Err(err).Msg("dropping sync message")
		return
	}
	switch tag {
	case crdt.MessageSync:
		// Structural writes from viewers are rejected here, not just
		// advised against via the auth marker.
		if !from.Role.CanEdit() {
			log.Warn().Str("module", "app.relay").Str("room", string(room.ID)).
				Str("user", string(from.User.ID)).Msg("viewer sync delta rejected")
			return
		}
		r.handleSyncStep(room, from.User.ID, rest)
	case crdt.MessageAuth:
		r.handleAuth(ctx, room, from.User.ID)
	default:
		log.Warn().Str("module", "app.relay").Str("room", string(room.ID)).
			Int("tag", int(tag)).Msg("unknown sync message tag")
	}
}

func (r *Relay) handleSyncStep(room *core.Room, from domain.UserID, payload []byte) {
	step, delta, err := crdt.DecodeSync(payload)
	if err != nil {
		log.Warn().Str("module", "app.relay").Str("room", string(room.ID)).Err(err).Msg("dropping sync payload")
		return
	}
	// Merging fans out the applied sub-delta room-wide through the
	// document's changed callback and reschedules persistence.
	room.MergeSync(delta)

	if step != crdt.SyncSnapshot {
		return
	}
	// Snapshot exchange: answer with whatever the sender's replica is
	// missing. Per protocol the response goes to the other members,
	// never echoed to the sender.
	resp := room.DocDiff(delta)
	if resp.Empty() {
		return
	}
	out, err := crdt.EncodeSync(crdt.SyncUpdate, *resp)
	if err != nil {
		log.Error().Str("module", "app.relay").Err(err).Msg("encode sync response")
		return
	}
	room.BroadcastExcept(from, core.SyncMessage{Type: core.EvSyncMessage, Message: out})
}

// handleAuth re-derives the member's write permission from the current
// owner/collaborator list and replies with the advisory marker. The
// marker gates client-side editing only; server-side rejection happens
// in HandleSync.
func (r *Relay) handleAuth(ctx context.Context, room *core.Room, from domain.UserID) {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	dash, err := r.store.Load(ctx, room.ID)
	if err != nil {
		log.Warn().Str("module", "app.relay").Str("room", string(room.ID)).Err(err).Msg("auth check load failed")
		return
	}
	status := crdt.AuthUnauthorized
	if dash.CanWrite(from) {
		status = crdt.AuthAuthorized
	}
	room.Unicast(from, core.SyncMessage{Type: core.EvSyncMessage, Message: crdt.EncodeAuth(status)})
}

// HandleAwareness applies an ephemeral presence update and relays it
// verbatim. Never touches the document, never schedules persistence.
func (r *Relay) HandleAwareness(room *core.Room, from domain.UserID, update []byte) {
	if err := room.ApplyAwareness(from, update); err != nil {
		log.Warn().Str("module", "app.relay").Str("room", string(room.ID)).Err(err).Msg("dropping awareness update")
	}
}

// Schedule debounces persistence: deltas arrive at drag frequency, so
// only the most recent schedule in a quiet window reaches the store.
func (r *Relay) Schedule(room *core.Room) {
	room.ScheduleFlush(r.debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
		defer cancel()
		if err := r.Flush(ctx, room); err != nil {
			// The live document stays authoritative; the write is
			// retried on the next scheduled flush.
			log.Error().Str("module", "app.relay").Str("room", string(room.ID)).Err(err).Msg("flush failed")
		}
	})
}

// Flush writes the converged document state back to the store,
// incrementing the version counter.
func (r *Relay) Flush(ctx context.Context, room *core.Room) error {
	layout, ok := room.DocSnapshot()
	if !ok {
		return nil
	}
	version, err := r.store.Save(ctx, room.ID, layout, nil)
	if err != nil {
		return err
	}
	room.MarkFlushed(time.Now())
	log.Debug().Str("module", "app.relay").Str("room", string(room.ID)).
		Int64("version", version).Msg("document flushed")
	return nil
}

// Destroy tears down the room's document after the last member leaves:
// one final synchronous flush attempt, then cancel the timer and
// release the document and awareness state.
func (r *Relay) Destroy(room *core.Room) {
	if room.SyncStatus() == core.SyncDestroyed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
	defer cancel()
	if err := r.Flush(ctx, room); err != nil {
		log.Error().Str("module", "app.relay").Str("room", string(room.ID)).Err(err).Msg("final flush failed")
	}
	room.CancelFlush()
	room.DetachDoc()
	log.Info().Str("module", "app.relay").Str("room", string(room.ID)).Msg("document destroyed")
}
