package collaboration

import (
	"time"

	"review-collab/internal/models"
)

// Presence tracks who is connected to one session, with their ephemeral
// cursor and typing status. A user id counts once no matter how many
// connections it holds; it leaves when its last connection does.
type Presence struct {
	order  []string
	states map[string]*models.PresenceState
	refs   map[string]int
}

func NewPresence() *Presence {
	return &Presence{
		states: make(map[string]*models.PresenceState),
		refs:   make(map[string]int),
	}
}

// Join adds user. It reports whether the user id was not present before.
func (p *Presence) Join(user models.CollaborationUser) bool {
	p.refs[user.ID]++
	if st, ok := p.states[user.ID]; ok {
		st.User = user
		st.LastSeen = time.Now()
		return false
	}
	p.order = append(p.order, user.ID)
	p.states[user.ID] = &models.PresenceState{User: user, LastSeen: time.Now()}
	return true
}

// Refresh replaces the profile of a present user without adding a connection.
func (p *Presence) Refresh(user models.CollaborationUser) {
	if st, ok := p.states[user.ID]; ok {
		st.User = user
		st.LastSeen = time.Now()
	}
}

// Leave drops one connection of userID. It reports whether the user is gone.
func (p *Presence) Leave(userID string) bool {
	if _, ok := p.states[userID]; !ok {
		return false
	}
	p.refs[userID]--
	if p.refs[userID] > 0 {
		return false
	}

	delete(p.refs, userID)
	delete(p.states, userID)
	for i, id := range p.order {
		if id == userID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

func (p *Presence) MoveCursor(userID string, pos models.CursorPosition) bool {
	st, ok := p.states[userID]
	if !ok {
		return false
	}
	st.Cursor = &pos
	st.LastSeen = time.Now()
	return true
}

func (p *Presence) SetTyping(userID string, typing bool) bool {
	st, ok := p.states[userID]
	if !ok {
		return false
	}
	st.IsTyping = typing
	st.LastSeen = time.Now()
	return true
}

func (p *Presence) Contains(userID string) bool {
	_, ok := p.states[userID]
	return ok
}

// Users returns the members in join order.
func (p *Presence) Users() []models.CollaborationUser {
	users := make([]models.CollaborationUser, 0, len(p.order))
	for _, id := range p.order {
		users = append(users, p.states[id].User)
	}
	return users
}

// States returns a copy of every member's presence in join order.
func (p *Presence) States() []models.PresenceState {
	out := make([]models.PresenceState, 0, len(p.order))
	for _, id := range p.order {
		st := *p.states[id]
		if st.Cursor != nil {
			c := *st.Cursor
			st.Cursor = &c
		}
		out = append(out, st)
	}
	return out
}

func (p *Presence) Len() int {
	return len(p.order)
}
