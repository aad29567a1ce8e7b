package bot

import "sync"

// State is the position of a user in the private-chat conversation.
type State int

const (
	StateIdle State = iota
	StateAwaitingContact
)

func (s State) String() string {
	switch s {
	case StateAwaitingContact:
		return "awaiting_contact"
	default:
		return "idle"
	}
}

type conversations struct {
	mu     sync.Mutex
	states map[int64]State
}

func newConversations() *conversations {
	return &conversations{states: map[int64]State{}}
}

func (c *conversations) get(userID int64) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[userID]
}

func (c *conversations) set(userID int64, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state == StateIdle {
		delete(c.states, userID)
		return
	}
	c.states[userID] = state
}
