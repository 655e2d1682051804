package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/requiem-ai/gochat/llm"
)

// chatCompletionsServer answers every request with the chunks as an OpenAI SSE stream.
func chatCompletionsServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", chunk)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHandleUserInputWithOpenAIClient(t *testing.T) {
	server := chatCompletionsServer(t, "Hel", "lo")
	proc := NewProcessor(llm.NewOpenAIClient(server.URL, nil), "gpt-4")
	sess := newTestSession("sk-live")
	var display Transcript

	res := proc.HandleUserInput(context.Background(), sess, "Say hello", &display)

	require.Equal(t, OutcomeCompleted, res.Outcome, "err: %v", res.Err)
	assert.NoError(t, res.Err)
	assert.Equal(t, "Hello", res.Reply)
	assert.Equal(t, 2, display.Partials)
	assert.Equal(t, []Turn{
		{Role: RoleUser, Content: "Say hello"},
		{Role: RoleAssistant, Content: "Hello"},
	}, sess.Conversation().Turns())
}

func TestConversationStaysCappedAcrossExchanges(t *testing.T) {
	server := chatCompletionsServer(t, "ok")
	proc := NewProcessor(llm.NewOpenAIClient(server.URL, nil), "gpt-4")
	sess := newTestSession("sk")

	for i := 0; i < 8; i++ {
		res := proc.HandleUserInput(context.Background(), sess, fmt.Sprintf("q%d", i), &Transcript{})
		require.Equal(t, OutcomeCompleted, res.Outcome, "exchange %d: %v", i, res.Err)
		require.LessOrEqual(t, sess.Conversation().Len(), 10, "exchange %d", i)
	}

	turns := sess.Conversation().Turns()
	assert.Len(t, turns, 10)
	assert.Equal(t, "q0", turns[0].Content, "first turn is kept")
	assert.Equal(t, Turn{Role: RoleAssistant, Content: "ok"}, turns[9])
}
