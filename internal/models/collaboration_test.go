package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnnotation_Normalize(t *testing.T) {
	tests := []struct {
		name      string
		in        Annotation
		wantStart float64
		wantEnd   float64
	}{
		{name: "valid interval", in: Annotation{TimeStart: 10, TimeEnd: 30}, wantStart: 10, wantEnd: 30},
		{name: "end before start", in: Annotation{TimeStart: 10, TimeEnd: 4}, wantStart: 10, wantEnd: 10},
		{name: "negative start", in: Annotation{TimeStart: -3, TimeEnd: -1}, wantStart: 0, wantEnd: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			assert.Equal(t, tt.wantStart, got.TimeStart)
			assert.Equal(t, tt.wantEnd, got.TimeEnd)
		})
	}
}

func TestCollaborationState_CloneIsDeep(t *testing.T) {
	playing := true
	s := NewCollaborationState()
	s.Annotations = append(s.Annotations, Annotation{ID: "a1", Points: []Point{{X: 1, Y: 1}}})
	s.IsPlaying = &playing

	c := s.Clone()
	c.Annotations[0].Points[0].X = 99
	*c.IsPlaying = false

	assert.Equal(t, 1.0, s.Annotations[0].Points[0].X)
	assert.True(t, *s.IsPlaying)
}

func TestCollaborationState_EqualIgnoresUserOrder(t *testing.T) {
	a := NewCollaborationState()
	a.Users = []CollaborationUser{{ID: "u1"}, {ID: "u2"}}
	b := NewCollaborationState()
	b.Users = []CollaborationUser{{ID: "u2"}, {ID: "u1"}}

	assert.True(t, a.Equal(b))
}

func TestCollaborationState_EqualRespectsCommentOrder(t *testing.T) {
	a := NewCollaborationState()
	a.Comments = []Comment{{ID: "c1"}, {ID: "c2"}}
	b := NewCollaborationState()
	b.Comments = []Comment{{ID: "c2"}, {ID: "c1"}}

	assert.False(t, a.Equal(b))
}

func TestCollaborationState_EqualPlayback(t *testing.T) {
	t1, t2 := 3.0, 4.0
	a := NewCollaborationState()
	a.CurrentTime = &t1
	b := NewCollaborationState()
	b.CurrentTime = &t2
	c := NewCollaborationState()

	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, c.Equal(NewCollaborationState()))
}
