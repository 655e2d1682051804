package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

const OpenAIID = "openai"

// OpenAIClient streams chat completions from an OpenAI-compatible endpoint.
type OpenAIClient struct {
	baseURL string
	client  *http.Client
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// content returns the first choice's delta text, empty when the chunk carries none.
func (c *chatStreamChunk) content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// NewOpenAIClient uses baseURL as the prefix of /chat/completions, e.g. https://api.openai.com/v1.
// A nil httpClient gets a client without timeout; streams end through their context.
func NewOpenAIClient(baseURL string, httpClient *http.Client) *OpenAIClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

func (c *OpenAIClient) ID() string {
	return OpenAIID
}

// Stream sends the conversation and returns once the response headers arrived.
// HTTP errors are returned here; failures while reading the body surface through Stream.Err.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (*Stream, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	body, err := json.Marshal(chatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(sctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	log.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("openai stream request")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to %s: %w", c.ID(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer cancel()
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, ErrorFromHTTPStatus(c.ID(), resp.StatusCode, errorMessage(raw))
	}

	return NewStream(ctx, func(ctx context.Context, emit EmitFunc) error {
		// Close on the stream aborts the request, even mid-read.
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		defer cancel()
		defer resp.Body.Close()

		return readChatStream(ctx, resp.Body, emit)
	}), nil
}

// readChatStream parses SSE data lines until [DONE] or EOF.
func readChatStream(ctx context.Context, body io.Reader, emit EmitFunc) error {
	reader := bufio.NewReader(body)
	received := 0

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			data, ok := sseData(line)
			if ok {
				if bytes.Equal(data, []byte("[DONE]")) {
					return nil
				}

				var chunk chatStreamChunk
				if jerr := json.Unmarshal(data, &chunk); jerr != nil {
					return &StreamError{PartialLen: received, Err: fmt.Errorf("failed to parse streaming chunk: %w", jerr)}
				}
				if chunk.Error != nil {
					return &StreamError{PartialLen: received, Err: errors.New(chunk.Error.Message)}
				}

				delta := chunk.content()
				received += len(delta)
				if !emit(delta) {
					return ctx.Err()
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &StreamError{PartialLen: received, Transport: true, Err: err}
		}
	}
}

// sseData returns the payload of a "data:" line. Other fields and comments are ignored.
func sseData(line []byte) ([]byte, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	return bytes.TrimSpace(line[len("data:"):]), true
}

func errorMessage(raw []byte) string {
	var payload struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
