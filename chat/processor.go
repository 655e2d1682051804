package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/requiem-ai/gochat/llm"
)

type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeNeedsCredential
	OutcomeBusy
	OutcomeCompleted
	OutcomeFailed
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeNeedsCredential:
		return "needs_credential"
	case OutcomeBusy:
		return "busy"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is what one submitted prompt came to. Err is set for failed and canceled turns.
type Result struct {
	Outcome Outcome
	Reply   string
	Err     error
}

// Retryable tells the front-end whether a retry button makes sense. Nothing retries by itself.
func (r Result) Retryable() bool {
	return r.Outcome == OutcomeFailed && llm.IsRetryable(r.Err)
}

// Processor runs user turns against a completion provider.
type Processor struct {
	provider llm.Provider
	model    string
}

func NewProcessor(provider llm.Provider, model string) *Processor {
	return &Processor{
		provider: provider,
		model:    model,
	}
}

// HandleUserInput appends the prompt, streams the reply to the display and appends it.
// Without a credential it only shows CredentialNotice. Blank prompts do nothing.
// A failed or canceled call leaves the user turn in place and appends no reply.
func (p *Processor) HandleUserInput(ctx context.Context, sess *Session, prompt string, display Display) Result {
	if !sess.HasCredential() {
		display.ShowNotice(CredentialNotice)
		return Result{Outcome: OutcomeNeedsCredential}
	}
	if strings.TrimSpace(prompt) == "" {
		return Result{Outcome: OutcomeIgnored}
	}

	turnCtx, finish, err := sess.beginTurn(ctx)
	if errors.Is(err, ErrSessionEnded) {
		return Result{Outcome: OutcomeCanceled, Err: err}
	}
	if err != nil {
		return Result{Outcome: OutcomeBusy, Err: err}
	}
	defer finish()

	logger := log.With().Str("session", shortID(sess.ID)).Str("provider", p.provider.ID()).Logger()
	started := time.Now()

	conv := sess.Conversation()
	user := Turn{Role: RoleUser, Content: prompt}
	display.ShowTurn(user)
	conv.Append(user)
	conv.EvictIfOverCapacity()

	stream, err := p.provider.Stream(turnCtx, llm.Request{
		Model:    p.model,
		APIKey:   sess.Credential(),
		Messages: conv.Messages(),
	})
	if err != nil {
		return p.failure(turnCtx, logger, err)
	}
	defer stream.Close()

	var acc strings.Builder
	for delta := range stream.Deltas() {
		if delta == "" {
			continue
		}
		acc.WriteString(delta)
		text := acc.String()
		sess.setPartial(text)
		display.ShowPartial(text)
	}
	if err := stream.Err(); err != nil {
		return p.failure(turnCtx, logger, err)
	}

	reply := acc.String()
	conv.Append(Turn{Role: RoleAssistant, Content: reply})
	// Evicting only after the user turn would let the list grow by one per exchange.
	conv.EvictIfOverCapacity()

	logger.Debug().
		Int("reply_len", len(reply)).
		Int("turns", conv.Len()).
		Dur("took", time.Since(started)).
		Msg("turn completed")

	return Result{Outcome: OutcomeCompleted, Reply: reply}
}

func (p *Processor) failure(ctx context.Context, logger zerolog.Logger, err error) Result {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		logger.Info().Msg("turn canceled")
		return Result{Outcome: OutcomeCanceled, Err: context.Canceled}
	}
	logger.Warn().Err(err).Bool("retryable", llm.IsRetryable(err)).Msg("completion failed")
	return Result{Outcome: OutcomeFailed, Err: err}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
