package chat

import "sync"

// CredentialNotice is shown instead of the chat when a session has no API key.
const CredentialNotice = "Enter your OpenAI API key to start chatting."

// Display is where a front-end draws a session.
// ShowPartial replaces the live block of the reply being streamed; it never adds a new block.
type Display interface {
	ShowTurn(t Turn)
	ShowPartial(text string)
	ShowNotice(msg string)
}

// Transcript is a Display that records what was drawn. Front-ends use it to build a page,
// tests use it to observe the processor.
type Transcript struct {
	mu       sync.Mutex
	Blocks   []Turn
	Partial  string
	Partials int
	Notices  []string
}

func (t *Transcript) ShowTurn(turn Turn) {
	t.mu.Lock()
	t.Blocks = append(t.Blocks, turn)
	t.mu.Unlock()
}

func (t *Transcript) ShowPartial(text string) {
	t.mu.Lock()
	t.Partial = text
	t.Partials++
	t.mu.Unlock()
}

func (t *Transcript) ShowNotice(msg string) {
	t.mu.Lock()
	t.Notices = append(t.Notices, msg)
	t.mu.Unlock()
}

// Lines returns the text block of every recorded turn.
func (t *Transcript) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.Blocks))
	for _, b := range t.Blocks {
		out = append(out, b.Line())
	}
	return out
}
