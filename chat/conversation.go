// Package chat holds the conversation store, the per-session state and the turn processor
// shared by every front-end.
package chat

import (
	"sync"

	"github.com/requiem-ai/gochat/llm"
)

type Role = llm.Role

const (
	RoleUser      = llm.RoleUser
	RoleAssistant = llm.RoleAssistant
)

// Turn is one role-tagged message of a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Line is the text block shown for a turn: the role, a blank line, then the content verbatim.
func (t Turn) Line() string {
	return string(t.Role) + ":\n\n" + t.Content
}

// Conversation is the ordered, bounded turn list of one session.
type Conversation struct {
	mu       sync.RWMutex
	turns    []Turn
	maxTurns int
	pinFirst bool
}

// NewConversation caps the conversation at maxTurns. With pinFirst the first turn is never
// evicted and the second-oldest goes instead.
func NewConversation(maxTurns int, pinFirst bool) *Conversation {
	return &Conversation{
		maxTurns: maxTurns,
		pinFirst: pinFirst,
	}
}

// Append adds the turn to the end without any validation.
func (c *Conversation) Append(t Turn) {
	c.mu.Lock()
	c.turns = append(c.turns, t)
	c.mu.Unlock()
}

// EvictIfOverCapacity drops the oldest evictable turns until the cap holds.
// It returns how many turns were removed.
func (c *Conversation) EvictIfOverCapacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := 0
	if c.pinFirst {
		idx = 1
	}

	evicted := 0
	for c.maxTurns > 0 && len(c.turns) > c.maxTurns && len(c.turns) > idx {
		c.turns = append(c.turns[:idx], c.turns[idx+1:]...)
		evicted++
	}
	return evicted
}

// RenderAll writes every turn, in order, to the display. It does not mutate the conversation.
func (c *Conversation) RenderAll(d Display) {
	for _, t := range c.Turns() {
		d.ShowTurn(t)
	}
}

// Turns returns a copy of the turns.
func (c *Conversation) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Messages is the provider view of the conversation, in order.
func (c *Conversation) Messages() []llm.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]llm.Message, 0, len(c.turns))
	for _, t := range c.turns {
		out = append(out, llm.Message{Role: t.Role, Content: t.Content})
	}
	return out
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

func (c *Conversation) Reset() {
	c.mu.Lock()
	c.turns = nil
	c.mu.Unlock()
}
