package models

import (
	"slices"
	"sort"
	"time"
)

// CollaborationUser is a reviewer connected to a session.
// It is fixed for the lifetime of the session membership.
type CollaborationUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Color  string `json:"color"`
	Role   string `json:"role"`
}

// Comment is a review note pinned to a moment of the video.
// ID is generated by the client that created it.
type Comment struct {
	ID         string    `json:"id"`
	Time       float64   `json:"time"` // seconds into the video
	Text       string    `json:"text"`
	IsResolved bool      `json:"isResolved"`
	Author     string    `json:"author"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Edited returns c with the editable fields of edit applied. Time, author and
// creation time never change after a comment is added.
func (c Comment) Edited(edit Comment) Comment {
	c.Text = edit.Text
	c.IsResolved = edit.IsResolved
	return c
}

func (c Comment) equal(o Comment) bool {
	return c.ID == o.ID &&
		c.Time == o.Time &&
		c.Text == o.Text &&
		c.IsResolved == o.IsResolved &&
		c.Author == o.Author &&
		c.CreatedAt.Equal(o.CreatedAt)
}

// Point is a 2-D coordinate on the player surface.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CursorPosition is where a reviewer's pointer sits on the player surface.
type CursorPosition = Point

// AnnotationTool is the shape kind drawn by the annotation tool.
type AnnotationTool string

const (
	ToolFreehand  AnnotationTool = "freehand"
	ToolRectangle AnnotationTool = "rectangle"
	ToolCircle    AnnotationTool = "circle"
	ToolArrow     AnnotationTool = "arrow"
	ToolText      AnnotationTool = "text"
)

// Annotation is a drawing anchored to [TimeStart, TimeEnd] of the video.
type Annotation struct {
	ID        string         `json:"id"`
	TimeStart float64        `json:"timeStart"`
	TimeEnd   float64        `json:"timeEnd"`
	Tool      AnnotationTool `json:"tool"`
	Color     string         `json:"color"`
	Thickness float64        `json:"thickness"`
	Points    []Point        `json:"points"`
	Text      string         `json:"text,omitempty"`
	Completed bool           `json:"completed"`
}

// Normalize enforces TimeEnd >= TimeStart and negative start times at zero.
func (a Annotation) Normalize() Annotation {
	if a.TimeStart < 0 {
		a.TimeStart = 0
	}
	if a.TimeEnd < a.TimeStart {
		a.TimeEnd = a.TimeStart
	}
	return a
}

// Clone returns a copy that shares no memory with a.
func (a Annotation) Clone() Annotation {
	a.Points = slices.Clone(a.Points)
	return a
}

func (a Annotation) equal(o Annotation) bool {
	return a.ID == o.ID &&
		a.TimeStart == o.TimeStart &&
		a.TimeEnd == o.TimeEnd &&
		a.Tool == o.Tool &&
		a.Color == o.Color &&
		a.Thickness == o.Thickness &&
		a.Text == o.Text &&
		a.Completed == o.Completed &&
		slices.Equal(a.Points, o.Points)
}

// CollaborationState is the full snapshot of a session: the payload a client
// receives on initialState and replaces its local store with.
type CollaborationState struct {
	Users       []CollaborationUser `json:"users"`
	Comments    []Comment           `json:"comments"`
	Annotations []Annotation        `json:"annotations"`
	CurrentTime *float64            `json:"currentTime,omitempty"`
	IsPlaying   *bool               `json:"isPlaying,omitempty"`
}

// NewCollaborationState returns an empty state with non-nil collections.
func NewCollaborationState() CollaborationState {
	return CollaborationState{
		Users:       []CollaborationUser{},
		Comments:    []Comment{},
		Annotations: []Annotation{},
	}
}

// Clone returns a deep copy of s.
func (s CollaborationState) Clone() CollaborationState {
	out := CollaborationState{
		Users:       append([]CollaborationUser{}, s.Users...),
		Comments:    append([]Comment{}, s.Comments...),
		Annotations: make([]Annotation, len(s.Annotations)),
	}
	for i, a := range s.Annotations {
		out.Annotations[i] = a.Clone()
	}
	if s.CurrentTime != nil {
		t := *s.CurrentTime
		out.CurrentTime = &t
	}
	if s.IsPlaying != nil {
		p := *s.IsPlaying
		out.IsPlaying = &p
	}
	return out
}

// Equal reports whether two snapshots hold the same data. Users are compared
// as a set; comments and annotations keep their insertion order.
func (s CollaborationState) Equal(o CollaborationState) bool {
	if len(s.Users) != len(o.Users) ||
		len(s.Comments) != len(o.Comments) ||
		len(s.Annotations) != len(o.Annotations) {
		return false
	}

	a, b := sortedUsers(s.Users), sortedUsers(o.Users)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	for i := range s.Comments {
		if !s.Comments[i].equal(o.Comments[i]) {
			return false
		}
	}
	for i := range s.Annotations {
		if !s.Annotations[i].equal(o.Annotations[i]) {
			return false
		}
	}

	if (s.CurrentTime == nil) != (o.CurrentTime == nil) ||
		(s.CurrentTime != nil && *s.CurrentTime != *o.CurrentTime) {
		return false
	}
	if (s.IsPlaying == nil) != (o.IsPlaying == nil) ||
		(s.IsPlaying != nil && *s.IsPlaying != *o.IsPlaying) {
		return false
	}
	return true
}

func sortedUsers(users []CollaborationUser) []CollaborationUser {
	out := append([]CollaborationUser{}, users...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
