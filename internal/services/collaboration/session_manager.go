package collaboration

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"review-collab/internal/auth"
	"review-collab/internal/logger"
	"review-collab/internal/middleware"
	"review-collab/internal/models"
	"review-collab/internal/services"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

/*
SESSION COORDINATOR

One goroutine (run) owns every session. Connections talk to it only through
channels, so mutations are applied one at a time, in arrival order, and the
order in which they are rebroadcast is the canonical order every client
converges to:

  ReadPump --Dispatch--> inbound --> run: apply to room --> broadcast --> send --> WritePump

Comment and annotation mutations are echoed to every member including the
sender; cursor, typing and playback events go to the other members only.

With a Snapshotter, a new room is hydrated off the loop. Until its snapshot
arrives the room accepts joins, and every other event of its members waits
in the room's pending queue:

  join --> openRoom --> go Load --> calls: restore, replay pending

Snapshot versions only grow per session, across room close and reopen, and a
closed room's state is kept for a while so a quick reopen does not read a
snapshot the workers have not written yet.
*/

const (
	snapshotLoadTimeout = 5 * time.Second
	retiredRoomTTL      = 2 * time.Minute
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotInSession     = errors.New("not in a session")
	ErrAuthDisabled     = errors.New("authentication is not configured")
	ErrIdentityMismatch = errors.New("join does not match authenticated identity")
)

// Snapshotter persists and restores session state.
// services.SnapshotServiceImpl implements it.
type Snapshotter interface {
	Submit(job services.SnapshotJob) error
	Load(ctx context.Context, sessionID string) (models.CollaborationState, uint64, bool, error)
}

// Options configures a SessionManager.
type Options struct {
	RequireAuth     bool
	Signer          *auth.Signer // nil disables the authenticate handshake
	Snapshots       Snapshotter  // nil keeps sessions in memory only
	SendBuffer      int
	MaxMessageBytes int64
	PingInterval    time.Duration
	PingTimeout     time.Duration
	SweepInterval   time.Duration
}

// DefaultOptions mirrors the reference connection policy.
func DefaultOptions() Options {
	return Options{
		SendBuffer:      256,
		MaxMessageBytes: 1_000_000,
		PingInterval:    25 * time.Second,
		PingTimeout:     20 * time.Second,
		SweepInterval:   30 * time.Second,
	}
}

// SessionManager is the single relay point of all collaboration sessions.
type SessionManager struct {
	opts Options
	log  *slog.Logger

	// owned by run
	rooms    map[string]*room
	clients  map[*Client]bool
	versions map[string]uint64      // highest snapshot version issued per session
	retired  map[string]retiredRoom // recently closed rooms, persistence only

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent
	calls      chan func()

	done     chan struct{}
	stopped  chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

type retiredRoom struct {
	state    models.CollaborationState
	version  uint64
	closedAt time.Time
}

type inboundEvent struct {
	client *Client
	event  models.Event
	ack    uint64
}

// NewSessionManager creates a manager; call Start before use.
func NewSessionManager(log *slog.Logger, opts Options) *SessionManager {
	def := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = def.MaxMessageBytes
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = def.PingTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = def.SweepInterval
	}

	return &SessionManager{
		opts:       opts,
		log:        log.With(slog.String("component", "coordinator")),
		rooms:      make(map[string]*room),
		clients:    make(map[*Client]bool),
		versions:   make(map[string]uint64),
		retired:    make(map[string]retiredRoom),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent),
		calls:      make(chan func()),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start runs the coordinator loop.
func (sm *SessionManager) Start() {
	if !sm.started.CompareAndSwap(false, true) {
		return
	}
	go sm.run()
	sm.log.Info("session manager started")
}

func (sm *SessionManager) run() {
	defer close(sm.stopped)

	ticker := time.NewTicker(sm.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.done:
			sm.closeAll()
			return

		case c := <-sm.register:
			sm.clients[c] = true
			c.log.Debug("connection registered", slog.Int("connections", len(sm.clients)))

		case c := <-sm.unregister:
			sm.removeClient(c, "connection closed")

		case in := <-sm.inbound:
			sm.handle(in)

		case fn := <-sm.calls:
			fn()

		case <-ticker.C:
			sm.sweep()
		}
	}
}

// Shutdown closes every connection and stops the loop.
func (sm *SessionManager) Shutdown() {
	sm.stopOnce.Do(func() {
		close(sm.done)
		if sm.started.Load() {
			<-sm.stopped
		}
		sm.log.Info("session manager shutdown complete")
	})
}

// NewClient wraps an upgraded connection. Register it before starting its pumps.
func (sm *SessionManager) NewClient(ctx context.Context, conn *websocket.Conn) *Client {
	return newClient(ctx, sm, conn)
}

// Register adds c to the loop. It returns false once the manager is stopped.
func (sm *SessionManager) Register(c *Client) bool {
	select {
	case sm.register <- c:
		return true
	case <-sm.done:
		return false
	}
}

// Unregister removes c and leaves its session.
func (sm *SessionManager) Unregister(c *Client) {
	select {
	case sm.unregister <- c:
	case <-sm.done:
	}
}

// Dispatch queues an inbound event of c. It returns false once the manager is stopped.
func (sm *SessionManager) Dispatch(c *Client, ev models.Event, ack uint64) bool {
	select {
	case sm.inbound <- inboundEvent{client: c, event: ev, ack: ack}:
		return true
	case <-sm.done:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (sm *SessionManager) call(fn func()) bool {
	finished := make(chan struct{})
	select {
	case sm.calls <- func() { fn(); close(finished) }:
	case <-sm.done:
		return false
	}
	<-finished
	return true
}

func (sm *SessionManager) sendDirect(c *Client, data []byte) {
	sm.call(func() { sm.sendTo(c, data) })
}

// Sessions lists the active sessions ordered by id.
func (sm *SessionManager) Sessions() []models.SessionSummary {
	var out []models.SessionSummary
	sm.call(func() {
		out = make([]models.SessionSummary, 0, len(sm.rooms))
		for _, r := range sm.rooms {
			out = append(out, r.summary())
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns the current state of an active session.
func (sm *SessionManager) Snapshot(sessionID string) (models.CollaborationState, bool) {
	var (
		state models.CollaborationState
		found bool
	)
	sm.call(func() {
		if r, ok := sm.rooms[sessionID]; ok {
			state, found = r.snapshot(), true
		}
	})
	return state, found
}

// Presence returns cursor and typing status of an active session's members.
func (sm *SessionManager) Presence(sessionID string) []models.PresenceState {
	var out []models.PresenceState
	sm.call(func() {
		if r, ok := sm.rooms[sessionID]; ok {
			out = r.presence.States()
		}
	})
	return out
}

func (sm *SessionManager) handle(in inboundEvent) {
	c := in.client
	if !sm.clients[c] {
		return
	}

	ctx, span := middleware.StartSpan(c.ctx, "Collab."+string(in.event.EventType()),
		attribute.String("conn.id", c.ID),
		attribute.String("session.id", c.SessionID),
	)
	defer span.End()

	switch ev := in.event.(type) {
	case models.Ping:
		sm.reply(c, models.Ack{
			Success:    true,
			Timestamp:  ev.Timestamp,
			ServerTime: time.Now().UnixMilli(),
		}, in.ack)
		return
	case models.Authenticate:
		sm.authenticate(ctx, c, ev, in.ack)
		return
	}

	if sm.opts.RequireAuth && !c.Authenticated {
		c.log.Warn("rejected unauthenticated event", slog.String("event", string(in.event.EventType())))
		middleware.AddSpanError(ctx, ErrNotAuthenticated)
		sm.reject(c, in.ack, ErrNotAuthenticated)
		return
	}

	if r := sm.roomOf(c); r != nil && r.loading {
		r.pending = append(r.pending, in)
		return
	}

	if join, ok := in.event.(models.JoinSession); ok {
		if err := sm.join(c, join); err != nil {
			middleware.AddSpanError(ctx, err)
			sm.reject(c, in.ack, err)
			return
		}
		sm.ackOK(c, in.ack)
		return
	}

	r := sm.roomOf(c)
	if r == nil {
		c.log.Debug("ignoring event outside a session", slog.String("event", string(in.event.EventType())))
		if in.ack != 0 {
			sm.reject(c, in.ack, ErrNotInSession)
		}
		return
	}
	userID := c.user.ID

	switch ev := in.event.(type) {
	case models.LeaveSession:
		sm.leave(c)

	case models.MoveCursor:
		if r.presence.MoveCursor(userID, ev.Position) {
			sm.broadcast(r, models.UserCursorMoved{UserID: userID, Position: ev.Position}, c)
		}

	case models.SetTyping:
		if r.presence.SetTyping(userID, ev.IsTyping) {
			sm.broadcast(r, models.UserIsTyping{UserID: userID, IsTyping: ev.IsTyping}, c)
		}

	case models.AddComment:
		r.addComment(ev.Comment)
		sm.mutated(r)
		sm.broadcast(r, models.CommentAdded{Comment: ev.Comment}, nil)

	case models.UpdateComment:
		if updated, ok := r.updateComment(ev.Comment); ok {
			sm.mutated(r)
			sm.broadcast(r, models.CommentUpdated{Comment: updated}, nil)
		}

	case models.DeleteComment:
		if r.deleteComment(ev.CommentID) {
			sm.mutated(r)
		}
		sm.broadcast(r, models.CommentDeleted{CommentID: ev.CommentID}, nil)

	case models.StartAnnotation:
		if a, ok := r.startAnnotation(ev.Annotation); ok {
			sm.mutated(r)
			sm.broadcast(r, models.AnnotationStarted{UserID: userID, Annotation: a}, nil)
		}

	case models.UpdateAnnotation:
		if a, ok := r.updateAnnotation(ev.Annotation); ok {
			sm.mutated(r)
			sm.broadcast(r, models.AnnotationUpdated{UserID: userID, Annotation: a}, nil)
		}

	case models.CompleteAnnotation:
		if a, ok := r.completeAnnotation(ev.Annotation); ok {
			sm.mutated(r)
			sm.broadcast(r, models.AnnotationCompleted{Annotation: a}, nil)
		}

	case models.DeleteAnnotation:
		if r.deleteAnnotation(ev.AnnotationID) {
			sm.mutated(r)
		}
		sm.broadcast(r, models.AnnotationDeleted{AnnotationID: ev.AnnotationID}, nil)

	case models.SeekVideo:
		r.seek(ev.Time)
		sm.mutated(r)
		sm.broadcast(r, models.VideoSeeked{UserID: userID, Time: ev.Time}, c)

	case models.PlayPauseVideo:
		r.setPlaying(ev.IsPlaying)
		sm.mutated(r)
		sm.broadcast(r, models.VideoPlayPause{UserID: userID, IsPlaying: ev.IsPlaying}, c)

	case models.RequestInitialState:
		sm.reply(c, models.InitialState{State: r.snapshot()}, in.ack)
		return

	default:
		c.log.Debug("ignoring server-side event from client", slog.String("event", string(in.event.EventType())))
		return
	}

	sm.ackOK(c, in.ack)
}

func (sm *SessionManager) authenticate(ctx context.Context, c *Client, ev models.Authenticate, ack uint64) {
	if sm.opts.Signer == nil {
		sm.reply(c, models.Ack{Success: false, Error: ErrAuthDisabled.Error()}, ack)
		return
	}

	if err := sm.opts.Signer.Verify(ev.Token, ev.SessionID, ev.UserID); err != nil {
		c.log.Warn("invalid authentication attempt", slog.String("user_id", ev.UserID))
		middleware.AddSpanError(ctx, err)
		sm.reply(c, models.Ack{Success: false, Error: err.Error()}, ack)
		return
	}

	c.Authenticated = true
	c.UserID = ev.UserID
	c.authSessionID = ev.SessionID
	c.log.Info("connection authenticated", slog.String("user_id", ev.UserID), slog.String("session_id", ev.SessionID))
	sm.reply(c, models.Ack{Success: true}, ack)
}

func (sm *SessionManager) join(c *Client, ev models.JoinSession) error {
	if sm.opts.RequireAuth && (ev.SessionID != c.authSessionID || ev.User.ID != c.UserID) {
		return ErrIdentityMismatch
	}

	rejoin := c.user != nil && c.SessionID == ev.SessionID && c.user.ID == ev.User.ID
	if c.user != nil && !rejoin {
		sm.leave(c)
	}

	r, ok := sm.rooms[ev.SessionID]
	if !ok {
		r = sm.openRoom(ev.SessionID)
	}

	user := ev.User
	c.user = &user
	c.SessionID = r.id
	c.UserID = user.ID
	r.members[c] = true
	if rejoin {
		r.presence.Refresh(user)
	} else if r.presence.Join(user) {
		c.log.Info("user joined session",
			slog.String("session_id", r.id),
			slog.String("user_id", user.ID),
			slog.Int("members", r.presence.Len()),
		)
	}

	sm.broadcast(r, models.UserJoined{User: user}, nil)
	return nil
}

func (sm *SessionManager) leave(c *Client) {
	r := sm.roomOf(c)
	if r == nil {
		return
	}

	userID := c.user.ID
	delete(r.members, c)
	c.user = nil
	c.SessionID = ""

	if r.presence.Leave(userID) {
		c.log.Info("user left session",
			slog.String("session_id", r.id),
			slog.String("user_id", userID),
			slog.Int("members", r.presence.Len()),
		)
		sm.broadcast(r, models.UserLeft{UserID: userID}, nil)
	}

	if len(r.members) == 0 {
		sm.closeRoom(r)
	}
}

func (sm *SessionManager) openRoom(id string) *room {
	r := newRoom(id)
	r.version = sm.versions[id]
	sm.rooms[id] = r
	sm.log.Info("session opened", slog.String("session_id", id))

	if sm.opts.Snapshots == nil {
		return r
	}

	if ret, ok := sm.retired[id]; ok {
		delete(sm.retired, id)
		r.restore(ret.state, ret.version)
		sm.log.Info("session reopened from memory",
			slog.String("session_id", id),
			slog.Uint64("version", ret.version),
		)
		return r
	}

	r.loading = true
	go sm.loadSnapshot(r)
	return r
}

func (sm *SessionManager) loadSnapshot(r *room) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotLoadTimeout)
	defer cancel()

	state, version, found, err := sm.opts.Snapshots.Load(ctx, r.id)
	sm.call(func() { sm.hydrate(r, state, version, found, err) })
}

// hydrate finishes loading r and replays the events that waited for it.
func (sm *SessionManager) hydrate(r *room, state models.CollaborationState, version uint64, found bool, err error) {
	if sm.rooms[r.id] != r {
		return
	}

	switch {
	case err != nil:
		sm.log.Warn("failed to load session snapshot", slog.String("session_id", r.id), logger.Err(err))
	case found:
		r.restore(state, max(version, r.version))
		sm.log.Info("session restored from snapshot",
			slog.String("session_id", r.id),
			slog.Uint64("version", version),
		)
	}

	pending := r.pending
	r.loading = false
	r.pending = nil
	for _, in := range pending {
		sm.handle(in)
	}
}

func (sm *SessionManager) closeRoom(r *room) {
	delete(sm.rooms, r.id)
	if sm.opts.Snapshots != nil && !r.loading {
		sm.retired[r.id] = retiredRoom{
			state:    r.state.Clone(),
			version:  r.version,
			closedAt: time.Now(),
		}
	}
	sm.log.Info("session closed", slog.String("session_id", r.id))
}

func (sm *SessionManager) roomOf(c *Client) *room {
	if c.user == nil {
		return nil
	}
	return sm.rooms[c.SessionID]
}

// mutated bumps the room version and hands a snapshot to the persistence pool.
func (sm *SessionManager) mutated(r *room) {
	r.version++
	if sm.opts.Snapshots == nil {
		return
	}
	sm.versions[r.id] = r.version
	err := sm.opts.Snapshots.Submit(services.SnapshotJob{
		SessionID: r.id,
		Version:   r.version,
		State:     r.snapshot(),
	})
	if err != nil {
		sm.log.Warn("snapshot not queued",
			slog.String("session_id", r.id),
			slog.Uint64("version", r.version),
			logger.Err(err),
		)
	}
}

// broadcast sends ev to every member of r except the given client.
func (sm *SessionManager) broadcast(r *room, ev models.Event, except *Client) {
	data, err := models.Encode(ev, 0)
	if err != nil {
		sm.log.Error("failed to encode broadcast", logger.Err(err))
		return
	}

	var slow []*Client
	for c := range r.members {
		if c == except {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}

	for _, c := range slow {
		sm.removeClient(c, "send buffer full")
	}
}

func (sm *SessionManager) reply(c *Client, ev models.Event, ack uint64) {
	data, err := models.Encode(ev, ack)
	if err != nil {
		sm.log.Error("failed to encode reply", logger.Err(err))
		return
	}
	sm.sendTo(c, data)
}

func (sm *SessionManager) ackOK(c *Client, ack uint64) {
	if ack != 0 {
		sm.reply(c, models.Ack{Success: true}, ack)
	}
}

func (sm *SessionManager) reject(c *Client, ack uint64, err error) {
	if ack != 0 {
		sm.reply(c, models.Ack{Success: false, Error: err.Error()}, ack)
		return
	}
	sm.reply(c, models.ErrorEvent{Message: err.Error()}, 0)
}

func (sm *SessionManager) sendTo(c *Client, data []byte) {
	if !sm.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		sm.removeClient(c, "send buffer full")
	}
}

// removeClient drops c from the manager and its session. Closing send makes
// the write pump close the socket.
func (sm *SessionManager) removeClient(c *Client, reason string) {
	if !sm.clients[c] {
		return
	}
	delete(sm.clients, c)
	close(c.send)
	c.log.Debug("connection removed", slog.String("reason", reason))
	sm.leave(c)
}

// sweep drops connections that have been silent longer than the keepalive allows.
func (sm *SessionManager) sweep() {
	limit := sm.opts.PingInterval + sm.opts.PingTimeout
	now := time.Now()
	for c := range sm.clients {
		if c.idleFor(now) > limit {
			sm.removeClient(c, "idle timeout")
		}
	}

	for id, ret := range sm.retired {
		if now.Sub(ret.closedAt) > retiredRoomTTL {
			delete(sm.retired, id)
		}
	}
}

func (sm *SessionManager) closeAll() {
	for c := range sm.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	}
	sm.clients = make(map[*Client]bool)
	sm.rooms = make(map[string]*room)
}
