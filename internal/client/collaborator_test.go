package client

import (
	"sync"
	"testing"

	"review-collab/internal/logger"
	"review-collab/internal/models"
	"review-collab/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	sent     []models.Event
	handlers map[models.EventType][]transport.Handler
	status   []func(bool)
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[models.EventType][]transport.Handler)}
}

func (f *fakeConn) Emit(ev models.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, ev)
}

func (f *fakeConn) On(t models.EventType, h transport.Handler) {
	f.handlers[t] = append(f.handlers[t], h)
}

func (f *fakeConn) OnStatus(fn func(bool)) {
	f.status = append(f.status, fn)
}

func (f *fakeConn) deliver(ev models.Event) {
	for _, h := range f.handlers[ev.EventType()] {
		h(ev)
	}
}

func (f *fakeConn) setConnected(v bool) {
	for _, fn := range f.status {
		fn(v)
	}
}

func (f *fakeConn) drain() []models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

var ana = models.CollaborationUser{ID: "u1", Name: "Ana", Color: "#f00", Role: "editor"}

func newTestCollaborator() (*Collaborator, *fakeConn) {
	conn := newFakeConn()
	return NewCollaborator(conn, ana, logger.Discard()), conn
}

func TestCollaborator_OfflineEditsStayLocal(t *testing.T) {
	c, conn := newTestCollaborator()

	cm := c.AddComment(15.5, "fix brightness")
	require.NoError(t, c.ResolveComment(cm.ID))
	_, err := c.StartAnnotation(models.Annotation{TimeStart: 1})
	require.NoError(t, err)
	c.Seek(3)
	c.SetDraftText("typing")

	assert.False(t, c.IsJoined())
	assert.Empty(t, conn.drain())

	snap := c.Store().Snapshot()
	require.Len(t, snap.Comments, 1)
	assert.Equal(t, "Ana", snap.Comments[0].Author)
	assert.True(t, snap.Comments[0].IsResolved)
	assert.Len(t, snap.Annotations, 1)
}

func TestCollaborator_JoinRequestsInitialState(t *testing.T) {
	c, conn := newTestCollaborator()

	c.Join("s1", ana)

	assert.True(t, c.IsJoined())
	assert.Equal(t, "s1", c.SessionID())
	assert.Equal(t, []models.Event{
		models.JoinSession{SessionID: "s1", User: ana},
		models.RequestInitialState{},
	}, conn.drain())
}

func TestCollaborator_FullResyncDiscardsOfflineEdits(t *testing.T) {
	c, conn := newTestCollaborator()
	c.AddComment(1, "offline note")
	c.StartAnnotation(models.Annotation{ID: "offline-a"})
	c.Seek(50)

	c.Join("s1", ana)
	conn.drain()

	server := models.CollaborationState{
		Users:       []models.CollaborationUser{ana},
		Comments:    []models.Comment{{ID: "c9", Time: 2, Text: "from server"}},
		Annotations: []models.Annotation{{ID: "a9", TimeStart: 1, TimeEnd: 2, Completed: true}},
	}
	conn.deliver(models.InitialState{State: server})

	assert.True(t, server.Equal(c.Store().Snapshot()))
	assert.Equal(t, PhaseCompleted, c.Lifecycle().State("a9"))
	assert.Equal(t, PhaseUnknown, c.Lifecycle().State("offline-a"))
}

func TestCollaborator_JoinedEditsApplyLocallyAndForward(t *testing.T) {
	c, conn := newTestCollaborator()
	c.Join("s1", ana)
	conn.drain()

	cm := c.AddComment(15.5, "fix brightness")
	_, ok := c.Store().Comment(cm.ID)
	assert.True(t, ok, "applied before the echo")

	sent := conn.drain()
	require.Len(t, sent, 1)
	assert.Equal(t, models.AddComment{Comment: cm}, sent[0])

	// The echo reconciles by id without duplicating.
	conn.deliver(models.CommentAdded{Comment: cm})
	assert.Len(t, c.Store().Snapshot().Comments, 1)

	// A later relay write wins.
	remote := cm
	remote.Text = "fix brightness and contrast"
	conn.deliver(models.CommentUpdated{Comment: remote})
	got, _ := c.Store().Comment(cm.ID)
	assert.Equal(t, remote.Text, got.Text)
}

func TestCollaborator_ResolveReopenRoundTrip(t *testing.T) {
	c, conn := newTestCollaborator()
	c.Join("s1", ana)
	cm := c.AddComment(8, "too dark")
	conn.drain()

	require.NoError(t, c.ResolveComment(cm.ID))
	require.NoError(t, c.ReopenComment(cm.ID))

	got, _ := c.Store().Comment(cm.ID)
	assert.Equal(t, cm, got)

	sent := conn.drain()
	require.Len(t, sent, 2)
	assert.True(t, sent[0].(models.UpdateComment).Comment.IsResolved)
	assert.False(t, sent[1].(models.UpdateComment).Comment.IsResolved)
}

func TestCollaborator_MissingCommentIsNotForwarded(t *testing.T) {
	c, conn := newTestCollaborator()
	c.Join("s1", ana)
	conn.drain()

	assert.ErrorIs(t, c.EditComment("ghost", "x"), ErrCommentNotFound)
	assert.ErrorIs(t, c.ResolveComment("ghost"), ErrCommentNotFound)
	assert.ErrorIs(t, c.ReopenComment("ghost"), ErrCommentNotFound)
	assert.Empty(t, conn.drain())

	c.DeleteComment("ghost")
	c.DeleteComment("ghost")
	assert.Equal(t, []models.Event{
		models.DeleteComment{CommentID: "ghost"},
		models.DeleteComment{CommentID: "ghost"},
	}, conn.drain())
}

func TestCollaborator_CompletedAnnotationRejectsUpdates(t *testing.T) {
	c, conn := newTestCollaborator()
	c.Join("s1", ana)
	conn.drain()

	a, err := c.StartAnnotation(models.Annotation{TimeStart: 10, TimeEnd: 12, Tool: models.ToolFreehand,
		Points: []models.Point{{X: 0, Y: 0}}})
	require.NoError(t, err)
	a.Points = append(a.Points, models.Point{X: 1, Y: 1})
	require.NoError(t, c.UpdateAnnotation(a))
	_, err = c.CompleteAnnotation(a)
	require.NoError(t, err)
	conn.drain()

	late := a
	late.Points = append(late.Points, models.Point{X: 9, Y: 9})
	late.TimeEnd = 40
	assert.ErrorIs(t, c.UpdateAnnotation(late), ErrAnnotationCompleted)
	assert.Empty(t, conn.drain(), "rejected update is not forwarded")

	// A stray remote update is ignored as well.
	conn.deliver(models.AnnotationUpdated{UserID: "u2", Annotation: late})

	got, ok := c.Store().Annotation(a.ID)
	require.True(t, ok)
	assert.True(t, got.Completed)
	assert.Len(t, got.Points, 2)
	assert.Equal(t, 12.0, got.TimeEnd)
}

func TestCollaborator_RemoteCompletionLocksLocalDraft(t *testing.T) {
	c, conn := newTestCollaborator()
	c.Join("s1", ana)
	a, _ := c.StartAnnotation(models.Annotation{TimeStart: 1})
	conn.drain()

	done := a
	done.Completed = true
	conn.deliver(models.AnnotationCompleted{Annotation: done})

	assert.ErrorIs(t, c.UpdateAnnotation(a), ErrAnnotationCompleted)
}

func TestCollaborator_VisibleAnnotations(t *testing.T) {
	c, _ := newTestCollaborator()
	_, err := c.CompleteAnnotation(models.Annotation{ID: "a1", TimeStart: 10, TimeEnd: 30})
	require.NoError(t, err)

	assert.Len(t, c.VisibleAnnotations(14.9), 1)
	assert.Empty(t, c.VisibleAnnotations(15.1))
}

func TestCollaborator_LeaveFreezesStore(t *testing.T) {
	c, conn := newTestCollaborator()
	c.Join("s1", ana)
	conn.deliver(models.CommentAdded{Comment: models.Comment{ID: "c1", Text: "kept"}})
	conn.drain()

	c.Leave()
	assert.Equal(t, []models.Event{models.LeaveSession{}}, conn.drain())

	conn.deliver(models.CommentDeleted{CommentID: "c1"})
	_, ok := c.Store().Comment("c1")
	assert.True(t, ok, "broadcasts after leaving are ignored")

	c.AddComment(2, "local again")
	assert.Len(t, c.Store().Snapshot().Comments, 2)
	assert.Empty(t, conn.drain())

	c.Leave()
	assert.Empty(t, conn.drain())
}

func TestCollaborator_ReconnectRejoins(t *testing.T) {
	c, conn := newTestCollaborator()

	conn.setConnected(true)
	assert.Empty(t, conn.drain(), "not joined yet")

	c.Join("s1", ana)
	conn.drain()

	conn.setConnected(false)
	conn.setConnected(true)
	assert.Equal(t, []models.Event{
		models.JoinSession{SessionID: "s1", User: ana},
		models.RequestInitialState{},
	}, conn.drain())
}

func TestCollaborator_PresenceAndPlaybackForwarding(t *testing.T) {
	c, conn := newTestCollaborator()
	c.Join("s1", ana)
	conn.drain()

	c.SetDraftText("h")
	c.SetDraftText("")
	c.MoveCursor(models.CursorPosition{X: 0.1, Y: 0.2})
	c.Seek(-4)
	c.SetPlaying(true)

	assert.Equal(t, []models.Event{
		models.SetTyping{IsTyping: true},
		models.SetTyping{IsTyping: false},
		models.MoveCursor{Position: models.CursorPosition{X: 0.1, Y: 0.2}},
		models.SeekVideo{Time: 0},
		models.PlayPauseVideo{IsPlaying: true},
	}, conn.drain())
}

func TestCollaborator_WithoutConnection(t *testing.T) {
	c := NewCollaborator(nil, ana, logger.Discard())
	c.Join("s1", ana)
	cm := c.AddComment(1, "still works")

	_, ok := c.Store().Comment(cm.ID)
	assert.True(t, ok)
}
