package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/luminodash/collab/internal/core"
	"github.com/luminodash/collab/internal/domain"
	"github.com/luminodash/collab/internal/identity"
	"github.com/luminodash/collab/internal/store"
)

// Error codes carried on error events. Per-event errors never terminate
// a connection; only failed initial authentication does.
const (
	CodeAuthentication  = "authentication-error"
	CodeAuthorization   = "authorization-error"
	CodeNotFound        = "not-found"
	CodeVersionConflict = "version-conflict"
	CodeInternal        = "internal-error"
)

// Session is one authenticated connection. Its fields are mutated only
// by the connection's read loop, so no lock is needed.
type Session struct {
	Identity identity.Identity
	conn     core.Conn
	roomID   domain.RoomID
	role     domain.Role
	room     *core.Room
}

func (s *Session) User() *domain.User {
	return &domain.User{ID: s.Identity.UserID, Name: s.Identity.DisplayName, Avatar: s.Identity.Avatar}
}

func (s *Session) Role() domain.Role { return s.role }

func (s *Session) RoomID() domain.RoomID { return s.roomID }

// inRoom gates every room-scoped event: the declared room id must match
// the joined room. Mismatches are dropped silently so nothing leaks
// across rooms.
func (s *Session) inRoom(roomID domain.RoomID) bool {
	return s.room != nil && s.roomID == roomID
}

func (s *Session) emit(event any) {
	if frame := core.MarshalEvent(event); frame != nil {
		_ = s.conn.TrySend(frame)
	}
}

func (s *Session) emitError(code, message string) {
	s.emit(core.ErrorEvent{Type: core.EvError, Code: code, Message: message})
}

// Coordinator wires connection lifecycle to presence, locks, the
// operation queue and the sync relay. It is the only component that
// talks to the transport layer.
type Coordinator struct {
	Rooms *Rooms

	store        store.Store
	resolver     identity.Resolver
	relay        *Relay
	policy       Policy
	storeTimeout time.Duration
}

func NewCoordinator(st store.Store, resolver identity.Resolver, relay *Relay, policy Policy, storeTimeout time.Duration) *Coordinator {
	return &Coordinator{
		Rooms:        NewRooms(),
		store:        st,
		resolver:     resolver,
		relay:        relay,
		policy:       policy,
		storeTimeout: storeTimeout,
	}
}

// Connect resolves the connection's credential. Failure rejects the
// connection; no session state is created.
func (c *Coordinator) Connect(ctx context.Context, credential string, conn core.Conn) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	id, err := c.resolver.Resolve(ctx, credential)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.coordinator").Str("user", string(id.UserID)).Msg("connection authenticated")
	return &Session{Identity: id, conn: conn}, nil
}

// JoinRoom loads the dashboard, computes the member's role, registers
// presence and brings the sync relay live for this member.
func (c *Coordinator) JoinRoom(ctx context.Context, s *Session, roomID domain.RoomID) {
	loadCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	dash, err := c.store.Load(loadCtx, roomID)
	cancel()
	if errors.Is(err, store.ErrNotFound) {
		s.emitError(CodeNotFound, "dashboard not found")
		return
	}
	if err != nil {
		log.Error().Str("module", "app.coordinator").Str("room", string(roomID)).Err(err).Msg("join load failed")
		s.emitError(CodeInternal, "error joining dashboard")
		return
	}

	role, ok := dash.RoleFor(s.Identity.UserID)
	if !ok {
		s.emitError(CodeAuthorization, "access denied")
		return
	}

	var room *core.Room
	for {
		room = c.Rooms.GetOrCreate(roomID)
		if room.OnSlow == nil {
			rm := room
			room.OnSlow = func(member domain.UserID) { c.onSlow(rm, member) }
		}
		meta := domain.NewMember(s.User(), role, time.Now())
		err := room.Join(meta, s.conn)
		if errors.Is(err, core.ErrRoomClosed) {
			// Lost a race with the last member's teardown. Drop the
			// closed instance so the registry hands out a fresh one.
			c.Rooms.Evict(roomID, room)
			continue
		}
		if err != nil {
			s.emitError(CodeInternal, "already joined")
			return
		}
		break
	}

	c.relay.Init(room, dash)
	s.roomID = roomID
	s.role = role
	s.room = room
	c.relay.SyncInit(room, s.Identity.UserID)
}

// CursorMove updates the member's ephemeral cursor/selection state.
func (c *Coordinator) CursorMove(s *Session, roomID domain.RoomID, cursor domain.Cursor, selection json.RawMessage) {
	if !s.inRoom(roomID) {
		return
	}
	s.room.UpdateCursor(s.Identity.UserID, cursor, selection)
}

// LockComponent requests single-writer access. Viewers are rejected
// before the lock table is consulted.
func (c *Coordinator) LockComponent(s *Session, roomID domain.RoomID, componentID string) {
	if !s.inRoom(roomID) {
		return
	}
	if !s.role.CanEdit() {
		s.emitError(CodeAuthorization, "insufficient permissions to edit")
		return
	}
	s.room.AcquireLock(componentID, s.Identity.UserID)
}

func (c *Coordinator) UnlockComponent(s *Session, roomID domain.RoomID, componentID string) {
	if !s.inRoom(roomID) {
		return
	}
	s.room.ReleaseLock(componentID, s.Identity.UserID)
}

// UpdateCanvas relays a granular canvas edit and enqueues it for
// deterministic conflict resolution.
func (c *Coordinator) UpdateCanvas(s *Session, roomID domain.RoomID, kind domain.OperationKind, componentID string, changes map[string]any) {
	if !s.inRoom(roomID) {
		return
	}
	if !s.role.CanEdit() {
		s.emitError(CodeAuthorization, "insufficient permissions to edit")
		return
	}
	s.room.RelayCanvasUpdate(s.Identity.UserID, core.CanvasUpdated{
		Type:        core.EvCanvasUpdated,
		Operation:   string(kind),
		ComponentID: componentID,
		Changes:     changes,
		UserID:      s.Identity.UserID,
		UserName:    s.Identity.DisplayName,
		Timestamp:   time.Now(),
	})
	s.room.EnqueueOperation(domain.Operation{
		Kind:        kind,
		ComponentID: componentID,
		Properties:  changes,
		Origin:      s.Identity.UserID,
		OriginName:  s.Identity.DisplayName,
	})
}

// SaveDashboard is the explicit save action. A client version behind
// the stored one yields save-conflict and writes nothing; success is
// announced room-wide.
func (c *Coordinator) SaveDashboard(ctx context.Context, s *Session, roomID domain.RoomID, layout domain.LayoutSchema, clientVersion *int64) {
	if !s.inRoom(roomID) {
		return
	}
	if !s.role.CanEdit() {
		s.emitError(CodeAuthorization, "insufficient permissions to save")
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	version, err := c.store.Save(saveCtx, roomID, layout, clientVersion)
	var conflict *store.VersionConflictError
	if errors.As(err, &conflict) {
		s.emit(core.SaveConflict{
			Type:           core.EvSaveConflict,
			CurrentVersion: conflict.Current,
			YourVersion:    conflict.Provided,
			Message:        "dashboard was modified by another user",
		})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		s.emitError(CodeNotFound, "dashboard not found")
		return
	}
	if err != nil {
		log.Error().Str("module", "app.coordinator").Str("room", string(roomID)).Err(err).Msg("save failed")
		s.emitError(CodeInternal, "error saving dashboard")
		return
	}
	ev := core.DashboardSaved{
		Type:      core.EvDashboardSaved,
		Version:   version,
		SavedBy:   s.Identity.DisplayName,
		Timestamp: time.Now(),
	}
	s.room.BroadcastExcept("", ev)
}

// Sync routes a tagged CRDT message to the relay.
func (c *Coordinator) Sync(ctx context.Context, s *Session, roomID domain.RoomID, msg []byte) {
	if !s.inRoom(roomID) {
		return
	}
	member, ok := s.room.Member(s.Identity.UserID)
	if !ok {
		return
	}
	c.relay.HandleSync(ctx, s.room, member, msg)
}

// Awareness routes an ephemeral presence update to the relay.
func (c *Coordinator) Awareness(s *Session, roomID domain.RoomID, update []byte) {
	if !s.inRoom(roomID) {
		return
	}
	c.relay.HandleAwareness(s.room, s.Identity.UserID, update)
}

// Typing relays a typing indicator.
func (c *Coordinator) Typing(s *Session, roomID domain.RoomID, isTyping bool) {
	if !s.inRoom(roomID) {
		return
	}
	s.room.Typing(s.Identity.UserID, isTyping)
}

// Disconnect tears the session down: locks first so none survives its
// holder, then presence, then the room itself once empty. CloseIfEmpty
// re-checks emptiness atomically, so a join racing this teardown either
// lands before the close or gets ErrRoomClosed and retries on a fresh
// instance.
func (c *Coordinator) Disconnect(s *Session) {
	if s == nil || s.room == nil {
		return
	}
	room := s.room
	room.ReleaseAllLocks(s.Identity.UserID, "disconnected")
	remaining := room.Leave(s.Identity.UserID)
	s.room = nil
	s.roomID = ""
	if remaining == 0 && room.CloseIfEmpty() {
		c.relay.Destroy(room)
		c.Rooms.Evict(room.ID, room)
		log.Info().Str("module", "app.coordinator").Str("room", string(room.ID)).Msg("room torn down")
	}
}

// onSlow applies the backpressure policy to a member that keeps
// overflowing its send buffer.
func (c *Coordinator) onSlow(room *core.Room, member domain.UserID) {
	if c.policy == nil {
		return
	}
	if c.policy.OnBackpressure(room.ID, member) != KickMember {
		return
	}
	log.Warn().Str("module", "app.coordinator").Str("room", string(room.ID)).
		Str("user", string(member)).Msg("kicking slow member")
	// Closing the transport makes the member's read loop exit, which
	// funnels the teardown through the ordinary disconnect path.
	room.CloseMember(member)
}
