package client

import (
	"errors"
	"sync"

	"review-collab/internal/models"
)

// VisibilityWindow is how long, in seconds of playback from TimeStart, an
// annotation stays on screen. TimeEnd does not extend it.
const VisibilityWindow = 5.0

var (
	ErrAnnotationCompleted = errors.New("annotation is completed")
	ErrAnnotationDeleted   = errors.New("annotation is deleted")
	ErrUnknownAnnotation   = errors.New("unknown annotation")
)

// Phase is the lifecycle state of one annotation.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseDrafting
	PhaseActive
	PhaseCompleted
	PhaseDeleted
)

func (p Phase) String() string {
	switch p {
	case PhaseDrafting:
		return "drafting"
	case PhaseActive:
		return "active"
	case PhaseCompleted:
		return "completed"
	case PhaseDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Lifecycle enforces Drafting -> Active -> Completed, with Deleted reachable
// from anywhere and terminal. It tracks both local and remote transitions.
type Lifecycle struct {
	mu     sync.Mutex
	phases map[string]Phase
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{phases: make(map[string]Phase)}
}

// Start opens a draft. It returns the annotation as it must be stored.
func (l *Lifecycle) Start(a models.Annotation) (models.Annotation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.phases[a.ID] {
	case PhaseCompleted:
		return a, ErrAnnotationCompleted
	case PhaseDeleted:
		return a, ErrAnnotationDeleted
	}

	a = a.Normalize()
	a.Completed = false
	l.phases[a.ID] = PhaseDrafting
	return a, nil
}

// Update extends a draft. Completed annotations are never reopened.
func (l *Lifecycle) Update(a models.Annotation) (models.Annotation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.phases[a.ID] {
	case PhaseUnknown:
		return a, ErrUnknownAnnotation
	case PhaseCompleted:
		return a, ErrAnnotationCompleted
	case PhaseDeleted:
		return a, ErrAnnotationDeleted
	}

	a = a.Normalize()
	a.Completed = false
	l.phases[a.ID] = PhaseActive
	return a, nil
}

// Complete finishes a. An annotation may be completed without a draft.
func (l *Lifecycle) Complete(a models.Annotation) (models.Annotation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.phases[a.ID] {
	case PhaseCompleted:
		return a, ErrAnnotationCompleted
	case PhaseDeleted:
		return a, ErrAnnotationDeleted
	}

	a = a.Normalize()
	a.Completed = true
	l.phases[a.ID] = PhaseCompleted
	return a, nil
}

// Delete is valid from every phase and idempotent.
func (l *Lifecycle) Delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phases[id] = PhaseDeleted
}

func (l *Lifecycle) State(id string) Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phases[id]
}

// Observe applies the transition carried by a server broadcast, so that
// local edits of an annotation someone else completed are refused.
func (l *Lifecycle) Observe(ev models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch e := ev.(type) {
	case models.AnnotationStarted:
		l.advance(e.Annotation.ID, PhaseDrafting)
	case models.AnnotationUpdated:
		l.advance(e.Annotation.ID, PhaseActive)
	case models.AnnotationCompleted:
		l.advance(e.Annotation.ID, PhaseCompleted)
	case models.AnnotationDeleted:
		l.phases[e.AnnotationID] = PhaseDeleted
	case models.InitialState:
		l.reset(e.State.Annotations)
	}
}

// Reset rebuilds every phase from a full annotation list.
func (l *Lifecycle) Reset(annotations []models.Annotation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reset(annotations)
}

func (l *Lifecycle) reset(annotations []models.Annotation) {
	l.phases = make(map[string]Phase, len(annotations))
	for _, a := range annotations {
		if a.Completed {
			l.phases[a.ID] = PhaseCompleted
		} else {
			l.phases[a.ID] = PhaseActive
		}
	}
}

// advance moves id forward only; phases never go back.
func (l *Lifecycle) advance(id string, to Phase) {
	if l.phases[id] < to {
		l.phases[id] = to
	}
}

// Visible reports whether a is on screen at playback time t.
func Visible(a models.Annotation, t float64) bool {
	return t >= a.TimeStart && t <= a.TimeStart+VisibilityWindow
}

// VisibleAt filters annotations to those on screen at t, keeping their order.
func VisibleAt(annotations []models.Annotation, t float64) []models.Annotation {
	out := make([]models.Annotation, 0, len(annotations))
	for _, a := range annotations {
		if Visible(a, t) {
			out = append(out, a)
		}
	}
	return out
}
