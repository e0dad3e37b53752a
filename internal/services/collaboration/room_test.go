package collaboration

import (
	"testing"
	"time"

	"review-collab/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoom_CommentUpsertAndDelete(t *testing.T) {
	r := newRoom("s1")

	r.addComment(models.Comment{ID: "c1", Text: "first"})
	r.addComment(models.Comment{ID: "c1", Text: "again"})
	require.Len(t, r.state.Comments, 1)
	assert.Equal(t, "again", r.state.Comments[0].Text)

	_, ok := r.updateComment(models.Comment{ID: "nope"})
	assert.False(t, ok)
	_, ok = r.updateComment(models.Comment{ID: "c1", Text: "edited", IsResolved: true})
	assert.True(t, ok)
	assert.True(t, r.state.Comments[0].IsResolved)

	assert.True(t, r.deleteComment("c1"))
	assert.False(t, r.deleteComment("c1"))
	assert.Empty(t, r.state.Comments)
}

func TestRoom_UpdateCommentKeepsImmutableFields(t *testing.T) {
	r := newRoom("s1")
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.addComment(models.Comment{ID: "c1", Time: 15.5, Text: "too dark", Author: "alice", CreatedAt: created})

	updated, ok := r.updateComment(models.Comment{ID: "c1", Time: 99, Text: "fixed", Author: "mallory", IsResolved: true})
	require.True(t, ok)

	want := models.Comment{ID: "c1", Time: 15.5, Text: "fixed", Author: "alice", CreatedAt: created, IsResolved: true}
	assert.Equal(t, want, updated)
	assert.Equal(t, want, r.snapshot().Comments[0])
}

func TestRoom_AnnotationLifecycle(t *testing.T) {
	r := newRoom("s1")
	draft := models.Annotation{ID: "a1", TimeStart: 10, TimeEnd: 5, Tool: models.ToolArrow}

	got, ok := r.startAnnotation(draft)
	require.True(t, ok)
	assert.Equal(t, 10.0, got.TimeEnd, "end is clamped to start")

	_, ok = r.updateAnnotation(models.Annotation{ID: "ghost"})
	assert.False(t, ok)

	draft.Points = []models.Point{{X: 1, Y: 1}}
	got, ok = r.updateAnnotation(draft)
	require.True(t, ok)
	assert.Len(t, got.Points, 1)

	got, ok = r.completeAnnotation(draft)
	require.True(t, ok)
	assert.True(t, got.Completed)

	t.Run("completed annotation rejects further changes", func(t *testing.T) {
		_, ok := r.updateAnnotation(draft)
		assert.False(t, ok)
		_, ok = r.startAnnotation(draft)
		assert.False(t, ok)
		_, ok = r.completeAnnotation(models.Annotation{ID: "a1", Color: "red"})
		assert.False(t, ok)
		assert.True(t, r.state.Annotations[0].Completed)
		assert.Empty(t, r.state.Annotations[0].Color)
	})

	assert.True(t, r.deleteAnnotation("a1"))
	assert.False(t, r.deleteAnnotation("a1"))
}

func TestRoom_SnapshotIsIndependent(t *testing.T) {
	r := newRoom("s1")
	r.presence.Join(models.CollaborationUser{ID: "u1"})
	r.startAnnotation(models.Annotation{ID: "a1", Points: []models.Point{{X: 1}}})
	r.seek(12.5)
	r.setPlaying(true)

	snap := r.snapshot()
	require.Len(t, snap.Users, 1)
	require.NotNil(t, snap.CurrentTime)
	assert.Equal(t, 12.5, *snap.CurrentTime)
	assert.True(t, *snap.IsPlaying)

	snap.Annotations[0].Points[0].X = 42
	assert.Equal(t, 1.0, r.state.Annotations[0].Points[0].X)
}

func TestRoom_RestoreDropsPersistedUsers(t *testing.T) {
	r := newRoom("s1")
	state := models.CollaborationState{
		Users:    []models.CollaborationUser{{ID: "stale"}},
		Comments: []models.Comment{{ID: "c1"}},
	}
	r.restore(state, 7)

	assert.Equal(t, uint64(7), r.version)
	assert.Empty(t, r.snapshot().Users)
	assert.NotNil(t, r.state.Annotations)
	assert.Len(t, r.state.Comments, 1)
}
