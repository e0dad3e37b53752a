package collaboration

import (
	"time"

	"review-collab/internal/models"
)

// room is the authoritative state of one session. It is owned by the
// SessionManager loop and never touched from another goroutine.
type room struct {
	id        string
	presence  *Presence
	members   map[*Client]bool
	state     models.CollaborationState // Users is filled in by snapshot
	version   uint64
	createdAt time.Time

	// loading is set while the persisted snapshot is being fetched; member
	// events wait in pending until it arrives.
	loading bool
	pending []inboundEvent
}

func newRoom(id string) *room {
	return &room{
		id:        id,
		presence:  NewPresence(),
		members:   make(map[*Client]bool),
		state:     models.NewCollaborationState(),
		createdAt: time.Now(),
	}
}

// restore replaces the entity state with a persisted snapshot.
func (r *room) restore(state models.CollaborationState, version uint64) {
	state.Users = []models.CollaborationUser{}
	if state.Comments == nil {
		state.Comments = []models.Comment{}
	}
	if state.Annotations == nil {
		state.Annotations = []models.Annotation{}
	}
	r.state = state
	r.version = version
}

func (r *room) snapshot() models.CollaborationState {
	s := r.state.Clone()
	s.Users = r.presence.Users()
	return s
}

func (r *room) commentIndex(id string) int {
	for i := range r.state.Comments {
		if r.state.Comments[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *room) annotationIndex(id string) int {
	for i := range r.state.Annotations {
		if r.state.Annotations[i].ID == id {
			return i
		}
	}
	return -1
}

// addComment appends c, or replaces the comment with the same id.
func (r *room) addComment(c models.Comment) {
	if i := r.commentIndex(c.ID); i >= 0 {
		r.state.Comments[i] = c
		return
	}
	r.state.Comments = append(r.state.Comments, c)
}

// updateComment applies the text and resolved flag of c to the stored
// comment and returns the result. Unknown ids are ignored.
func (r *room) updateComment(c models.Comment) (models.Comment, bool) {
	i := r.commentIndex(c.ID)
	if i < 0 {
		return models.Comment{}, false
	}
	r.state.Comments[i] = r.state.Comments[i].Edited(c)
	return r.state.Comments[i], true
}

func (r *room) deleteComment(id string) bool {
	i := r.commentIndex(id)
	if i < 0 {
		return false
	}
	r.state.Comments = append(r.state.Comments[:i], r.state.Comments[i+1:]...)
	return true
}

// startAnnotation records a new draft. A completed annotation with the same
// id is left untouched.
func (r *room) startAnnotation(a models.Annotation) (models.Annotation, bool) {
	a = a.Normalize().Clone()
	a.Completed = false
	if i := r.annotationIndex(a.ID); i >= 0 {
		if r.state.Annotations[i].Completed {
			return r.state.Annotations[i], false
		}
		r.state.Annotations[i] = a
		return a, true
	}
	r.state.Annotations = append(r.state.Annotations, a)
	return a, true
}

// updateAnnotation replaces an in-progress annotation. Completed and unknown
// annotations are rejected.
func (r *room) updateAnnotation(a models.Annotation) (models.Annotation, bool) {
	i := r.annotationIndex(a.ID)
	if i < 0 || r.state.Annotations[i].Completed {
		return models.Annotation{}, false
	}
	a = a.Normalize().Clone()
	a.Completed = false
	r.state.Annotations[i] = a
	return a, true
}

// completeAnnotation stores a as finished. The first completion wins; later
// completions of the same id are rejected.
func (r *room) completeAnnotation(a models.Annotation) (models.Annotation, bool) {
	a = a.Normalize().Clone()
	a.Completed = true
	if i := r.annotationIndex(a.ID); i >= 0 {
		if r.state.Annotations[i].Completed {
			return r.state.Annotations[i], false
		}
		r.state.Annotations[i] = a
		return a, true
	}
	r.state.Annotations = append(r.state.Annotations, a)
	return a, true
}

func (r *room) deleteAnnotation(id string) bool {
	i := r.annotationIndex(id)
	if i < 0 {
		return false
	}
	r.state.Annotations = append(r.state.Annotations[:i], r.state.Annotations[i+1:]...)
	return true
}

func (r *room) seek(t float64) {
	r.state.CurrentTime = &t
}

func (r *room) setPlaying(playing bool) {
	r.state.IsPlaying = &playing
}

func (r *room) summary() models.SessionSummary {
	return models.SessionSummary{
		ID:          r.id,
		Members:     r.presence.Len(),
		Comments:    len(r.state.Comments),
		Annotations: len(r.state.Annotations),
		CreatedAt:   r.createdAt,
	}
}
