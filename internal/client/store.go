// Package client is the reviewer side of a collaboration session: the local
// mirror of the session state, the annotation lifecycle rules and the switch
// between offline and collaborative editing.
package client

import (
	"sync"
	"time"

	"review-collab/internal/models"
)

// Store is the merged view of one session that a UI renders from.
//
// Every apply is an upsert or remove keyed by entity id, so duplicate
// delivery is harmless and two stores fed the same events end up equal.
// Subscribers are called after the lock is released.
type Store struct {
	mu       sync.RWMutex
	state    models.CollaborationState
	presence map[string]*models.PresenceState

	subsMu  sync.Mutex
	subs    map[int]func(models.CollaborationState)
	nextSub int
}

func NewStore() *Store {
	return &Store{
		state:    models.NewCollaborationState(),
		presence: make(map[string]*models.PresenceState),
		subs:     make(map[int]func(models.CollaborationState)),
	}
}

// Apply merges one server broadcast. It reports whether the state changed.
// Events the store does not track are ignored.
func (s *Store) Apply(ev models.Event) bool {
	switch e := ev.(type) {
	case models.CommentAdded:
		return s.UpsertComment(e.Comment)
	case models.CommentUpdated:
		return s.mergeComment(e.Comment)
	case models.CommentDeleted:
		return s.RemoveComment(e.CommentID)
	case models.AnnotationStarted:
		return s.upsertDraft(e.Annotation)
	case models.AnnotationUpdated:
		return s.upsertDraft(e.Annotation)
	case models.AnnotationCompleted:
		a := e.Annotation
		a.Completed = true
		return s.UpsertAnnotation(a)
	case models.AnnotationDeleted:
		return s.RemoveAnnotation(e.AnnotationID)
	case models.InitialState:
		s.Replace(e.State)
		return true
	case models.UserJoined:
		return s.addUser(e.User)
	case models.UserLeft:
		return s.removeUser(e.UserID)
	case models.UserCursorMoved:
		return s.touchPresence(e.UserID, func(p *models.PresenceState) {
			pos := e.Position
			p.Cursor = &pos
		})
	case models.UserIsTyping:
		return s.touchPresence(e.UserID, func(p *models.PresenceState) {
			p.IsTyping = e.IsTyping
		})
	case models.VideoSeeked:
		s.SetCurrentTime(e.Time)
		return true
	case models.VideoPlayPause:
		s.SetPlaying(e.IsPlaying)
		return true
	}
	return false
}

// UpsertComment appends c or replaces the comment with the same id.
func (s *Store) UpsertComment(c models.Comment) bool {
	s.mu.Lock()
	if i := s.commentIndex(c.ID); i >= 0 {
		s.state.Comments[i] = c
	} else {
		s.state.Comments = append(s.state.Comments, c)
	}
	s.mu.Unlock()

	s.notify()
	return true
}

// UpdateComment runs mutate on a copy of comment id and stores the text and
// resolved flag it produces, in one step. It returns the stored comment, or
// false when id is unknown.
func (s *Store) UpdateComment(id string, mutate func(*models.Comment)) (models.Comment, bool) {
	s.mu.Lock()
	i := s.commentIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return models.Comment{}, false
	}
	edit := s.state.Comments[i]
	mutate(&edit)
	updated := s.state.Comments[i].Edited(edit)
	s.state.Comments[i] = updated
	s.mu.Unlock()

	s.notify()
	return updated, true
}

// mergeComment applies an update broadcast. A known comment keeps its time,
// author and creation time; an unknown one is added as received.
func (s *Store) mergeComment(c models.Comment) bool {
	s.mu.Lock()
	if i := s.commentIndex(c.ID); i >= 0 {
		s.state.Comments[i] = s.state.Comments[i].Edited(c)
	} else {
		s.state.Comments = append(s.state.Comments, c)
	}
	s.mu.Unlock()

	s.notify()
	return true
}

// RemoveComment deletes the comment with id; an unknown id is a no-op.
func (s *Store) RemoveComment(id string) bool {
	s.mu.Lock()
	i := s.commentIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.state.Comments = append(s.state.Comments[:i], s.state.Comments[i+1:]...)
	s.mu.Unlock()

	s.notify()
	return true
}

// UpsertAnnotation appends a or replaces the annotation with the same id.
func (s *Store) UpsertAnnotation(a models.Annotation) bool {
	return s.upsertAnnotation(a, false)
}

// upsertDraft is UpsertAnnotation for in-progress drawings: it never
// overwrites a completed annotation.
func (s *Store) upsertDraft(a models.Annotation) bool {
	a.Completed = false
	return s.upsertAnnotation(a, true)
}

func (s *Store) upsertAnnotation(a models.Annotation, keepCompleted bool) bool {
	a = a.Normalize().Clone()

	s.mu.Lock()
	if i := s.annotationIndex(a.ID); i >= 0 {
		if keepCompleted && s.state.Annotations[i].Completed {
			s.mu.Unlock()
			return false
		}
		s.state.Annotations[i] = a
	} else {
		s.state.Annotations = append(s.state.Annotations, a)
	}
	s.mu.Unlock()

	s.notify()
	return true
}

// RemoveAnnotation deletes the annotation with id; an unknown id is a no-op.
func (s *Store) RemoveAnnotation(id string) bool {
	s.mu.Lock()
	i := s.annotationIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.state.Annotations = append(s.state.Annotations[:i], s.state.Annotations[i+1:]...)
	s.mu.Unlock()

	s.notify()
	return true
}

func (s *Store) SetCurrentTime(t float64) {
	s.mu.Lock()
	s.state.CurrentTime = &t
	s.mu.Unlock()
	s.notify()
}

func (s *Store) SetPlaying(playing bool) {
	s.mu.Lock()
	s.state.IsPlaying = &playing
	s.mu.Unlock()
	s.notify()
}

// Replace swaps the whole state for state in one step. Presence is rebuilt
// from its user list.
func (s *Store) Replace(state models.CollaborationState) {
	next := state.Clone()
	if next.Users == nil {
		next.Users = []models.CollaborationUser{}
	}
	if next.Comments == nil {
		next.Comments = []models.Comment{}
	}
	if next.Annotations == nil {
		next.Annotations = []models.Annotation{}
	}

	presence := make(map[string]*models.PresenceState, len(next.Users))
	for _, u := range next.Users {
		presence[u.ID] = &models.PresenceState{User: u, LastSeen: time.Now()}
	}

	s.mu.Lock()
	s.state = next
	s.presence = presence
	s.mu.Unlock()

	s.notify()
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() models.CollaborationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

func (s *Store) Comment(id string) (models.Comment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.commentIndex(id); i >= 0 {
		return s.state.Comments[i], true
	}
	return models.Comment{}, false
}

func (s *Store) Annotation(id string) (models.Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.annotationIndex(id); i >= 0 {
		return s.state.Annotations[i].Clone(), true
	}
	return models.Annotation{}, false
}

// Presence returns cursor and typing status of the session users, in the
// order of the user list.
func (s *Store) Presence() []models.PresenceState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.PresenceState, 0, len(s.state.Users))
	for _, u := range s.state.Users {
		p, ok := s.presence[u.ID]
		if !ok {
			continue
		}
		st := *p
		if st.Cursor != nil {
			c := *st.Cursor
			st.Cursor = &c
		}
		out = append(out, st)
	}
	return out
}

// Subscribe registers fn to receive a snapshot after every change.
// The returned func removes it.
func (s *Store) Subscribe(fn func(models.CollaborationState)) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subsMu.Lock()
	fns := make([]func(models.CollaborationState), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	if len(fns) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Store) addUser(u models.CollaborationUser) bool {
	s.mu.Lock()
	replaced := false
	for i := range s.state.Users {
		if s.state.Users[i].ID == u.ID {
			s.state.Users[i] = u
			replaced = true
			break
		}
	}
	if !replaced {
		s.state.Users = append(s.state.Users, u)
	}
	if p, ok := s.presence[u.ID]; ok {
		p.User = u
	} else {
		s.presence[u.ID] = &models.PresenceState{User: u, LastSeen: time.Now()}
	}
	s.mu.Unlock()

	s.notify()
	return true
}

func (s *Store) removeUser(id string) bool {
	s.mu.Lock()
	found := false
	for i := range s.state.Users {
		if s.state.Users[i].ID == id {
			s.state.Users = append(s.state.Users[:i], s.state.Users[i+1:]...)
			found = true
			break
		}
	}
	delete(s.presence, id)
	s.mu.Unlock()

	if found {
		s.notify()
	}
	return found
}

// touchPresence updates ephemeral status. It does not notify subscribers:
// presence is not part of the rendered state snapshot.
func (s *Store) touchPresence(userID string, fn func(*models.PresenceState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presence[userID]
	if !ok {
		return false
	}
	fn(p)
	p.LastSeen = time.Now()
	return true
}

func (s *Store) commentIndex(id string) int {
	for i := range s.state.Comments {
		if s.state.Comments[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) annotationIndex(id string) int {
	for i := range s.state.Annotations {
		if s.state.Annotations[i].ID == id {
			return i
		}
	}
	return -1
}
