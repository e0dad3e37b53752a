package client

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"review-collab/internal/models"
	"review-collab/internal/transport"

	"github.com/google/uuid"
)

var ErrCommentNotFound = errors.New("comment not found")

// Conn is what the Collaborator needs from a connection to the server.
// *transport.Client implements it.
type Conn interface {
	Emit(ev models.Event)
	On(t models.EventType, h transport.Handler)
	OnStatus(fn func(connected bool))
}

// broadcasts are the server events mirrored into the Store.
var broadcasts = []models.EventType{
	models.EventUserJoined,
	models.EventUserLeft,
	models.EventUserCursorMoved,
	models.EventUserIsTyping,
	models.EventCommentAdded,
	models.EventCommentUpdated,
	models.EventCommentDeleted,
	models.EventAnnotationStarted,
	models.EventAnnotationUpdated,
	models.EventAnnotationCompleted,
	models.EventAnnotationDeleted,
	models.EventVideoSeeked,
	models.EventVideoPlayPause,
	models.EventInitialState,
}

// Collaborator routes a reviewer's edits either to the local Store only
// (not joined) or to the Store and the server (joined).
//
// While joined every comment and annotation edit is applied locally first
// and then sent; the server echoes it to all members including this one and
// the echo is upserted by id, so whatever the server relayed last wins.
type Collaborator struct {
	store     *Store
	lifecycle *Lifecycle
	conn      Conn
	log       *slog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	joined    bool
	sessionID string
	user      models.CollaborationUser
}

// NewCollaborator creates an offline collaborator for user. conn may be nil
// for a purely local editor.
func NewCollaborator(conn Conn, user models.CollaborationUser, log *slog.Logger) *Collaborator {
	c := &Collaborator{
		store:     NewStore(),
		lifecycle: NewLifecycle(),
		conn:      conn,
		log:       log.With(slog.String("component", "collaborator")),
		now:       time.Now,
		user:      user,
	}

	if conn != nil {
		for _, t := range broadcasts {
			conn.On(t, c.onBroadcast)
		}
		conn.OnStatus(c.onStatus)
	}
	return c
}

func (c *Collaborator) Store() *Store { return c.store }

func (c *Collaborator) Lifecycle() *Lifecycle { return c.lifecycle }

func (c *Collaborator) IsJoined() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.joined
}

func (c *Collaborator) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Join enters sessionID as user and asks for the full state, which replaces
// anything edited while offline.
func (c *Collaborator) Join(sessionID string, user models.CollaborationUser) {
	const op = "client.Join"

	c.mu.Lock()
	c.joined = true
	c.sessionID = sessionID
	c.user = user
	c.mu.Unlock()

	c.log.Info("joining session", slog.String("op", op), slog.String("session_id", sessionID))
	c.emitJoin(sessionID, user)
}

// Leave exits the session. The Store keeps the last received state and
// further edits stay local.
func (c *Collaborator) Leave() {
	c.mu.Lock()
	was := c.joined
	c.joined = false
	c.sessionID = ""
	c.mu.Unlock()

	if was {
		c.emit(models.LeaveSession{})
	}
}

func (c *Collaborator) AddComment(t float64, text string) models.Comment {
	if t < 0 {
		t = 0
	}
	comment := models.Comment{
		ID:        uuid.NewString(),
		Time:      t,
		Text:      text,
		Author:    c.author(),
		CreatedAt: c.now().UTC(),
	}
	c.store.UpsertComment(comment)
	c.forward(models.AddComment{Comment: comment})
	return comment
}

func (c *Collaborator) EditComment(id, text string) error {
	return c.updateComment(id, func(cm *models.Comment) { cm.Text = text })
}

func (c *Collaborator) ResolveComment(id string) error {
	return c.updateComment(id, func(cm *models.Comment) { cm.IsResolved = true })
}

func (c *Collaborator) ReopenComment(id string) error {
	return c.updateComment(id, func(cm *models.Comment) { cm.IsResolved = false })
}

// DeleteComment removes id. Deleting an unknown id is not an error.
func (c *Collaborator) DeleteComment(id string) {
	c.store.RemoveComment(id)
	c.forward(models.DeleteComment{CommentID: id})
}

func (c *Collaborator) updateComment(id string, mutate func(*models.Comment)) error {
	comment, ok := c.store.UpdateComment(id, mutate)
	if !ok {
		return ErrCommentNotFound
	}
	c.forward(models.UpdateComment{Comment: comment})
	return nil
}

// StartAnnotation opens a draft; an empty id gets a fresh one.
func (c *Collaborator) StartAnnotation(a models.Annotation) (models.Annotation, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a, err := c.lifecycle.Start(a)
	if err != nil {
		return a, err
	}
	c.store.UpsertAnnotation(a)
	c.forward(models.StartAnnotation{Annotation: a})
	return a, nil
}

// UpdateAnnotation extends a draft. Updates of completed or deleted
// annotations are refused and not sent.
func (c *Collaborator) UpdateAnnotation(a models.Annotation) error {
	a, err := c.lifecycle.Update(a)
	if err != nil {
		return err
	}
	c.store.UpsertAnnotation(a)
	c.forward(models.UpdateAnnotation{Annotation: a})
	return nil
}

func (c *Collaborator) CompleteAnnotation(a models.Annotation) (models.Annotation, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a, err := c.lifecycle.Complete(a)
	if err != nil {
		return a, err
	}
	c.store.UpsertAnnotation(a)
	c.forward(models.CompleteAnnotation{Annotation: a})
	return a, nil
}

func (c *Collaborator) DeleteAnnotation(id string) {
	c.lifecycle.Delete(id)
	c.store.RemoveAnnotation(id)
	c.forward(models.DeleteAnnotation{AnnotationID: id})
}

func (c *Collaborator) Seek(t float64) {
	if t < 0 {
		t = 0
	}
	c.store.SetCurrentTime(t)
	c.forward(models.SeekVideo{Time: t})
}

func (c *Collaborator) SetPlaying(playing bool) {
	c.store.SetPlaying(playing)
	c.forward(models.PlayPauseVideo{IsPlaying: playing})
}

// SetTyping and MoveCursor are ephemeral and only mean something to others.
func (c *Collaborator) SetTyping(typing bool) {
	c.forward(models.SetTyping{IsTyping: typing})
}

func (c *Collaborator) MoveCursor(pos models.CursorPosition) {
	c.forward(models.MoveCursor{Position: pos})
}

// SetDraftText reports typing while the comment box is not empty.
func (c *Collaborator) SetDraftText(text string) {
	c.SetTyping(len(text) > 0)
}

// VisibleAnnotations returns the annotations on screen at playback time t.
func (c *Collaborator) VisibleAnnotations(t float64) []models.Annotation {
	return VisibleAt(c.store.Snapshot().Annotations, t)
}

func (c *Collaborator) onBroadcast(ev models.Event) {
	if !c.IsJoined() {
		return
	}
	c.lifecycle.Observe(ev)
	c.store.Apply(ev)
}

// onStatus rejoins after a reconnect; events sent while offline were dropped,
// so the full state is requested again.
func (c *Collaborator) onStatus(connected bool) {
	c.mu.RLock()
	joined, sessionID, user := c.joined, c.sessionID, c.user
	c.mu.RUnlock()

	if !connected || !joined {
		return
	}
	c.log.Info("reconnected, resynchronising", slog.String("session_id", sessionID))
	c.emitJoin(sessionID, user)
}

func (c *Collaborator) emitJoin(sessionID string, user models.CollaborationUser) {
	c.emit(models.JoinSession{SessionID: sessionID, User: user})
	c.emit(models.RequestInitialState{})
}

func (c *Collaborator) forward(ev models.Event) {
	if c.IsJoined() {
		c.emit(ev)
	}
}

func (c *Collaborator) emit(ev models.Event) {
	if c.conn == nil {
		c.log.Debug("no connection, event kept local", slog.String("event", string(ev.EventType())))
		return
	}
	c.conn.Emit(ev)
}

func (c *Collaborator) author() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user.Name != "" {
		return c.user.Name
	}
	return c.user.ID
}
