package services

import (
	context2 "context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/requiem-ai/gochat/chat"
	"github.com/requiem-ai/gochat/config"
	"github.com/requiem-ai/gochat/context"
	"github.com/requiem-ai/gochat/llm"
)

// ChatService owns the sessions and the turn processor shared by the front-ends.
type ChatService struct {
	context.DefaultService

	Config *config.Config
	// Provider overrides the OpenAI client, for tests.
	Provider llm.Provider

	sessions  *chat.Registry
	processor *chat.Processor

	stopSweep context2.CancelFunc
	sweepDone chan struct{}
}

const CHAT_SVC = "chat_svc"

func (svc ChatService) Id() string {
	return CHAT_SVC
}

func (svc *ChatService) Configure(ctx *context.Context) error {
	if err := svc.DefaultService.Configure(ctx); err != nil {
		return err
	}

	if svc.Provider == nil {
		svc.Provider = llm.NewOpenAIClient(svc.Config.LLM.BaseURL, nil)
	}
	svc.sessions = chat.NewRegistry(svc.Config.Chat.MaxTurns, svc.Config.Chat.PinFirstTurn)
	svc.processor = chat.NewProcessor(svc.Provider, svc.Config.LLM.Model)

	return nil
}

func (svc *ChatService) Start() error {
	sweepCtx, cancel := context2.WithCancel(context2.Background())
	svc.stopSweep = cancel
	svc.sweepDone = make(chan struct{})

	go svc.sweepLoop(sweepCtx, svc.Config.Session.SweepInterval, svc.Config.Session.IdleTimeout)

	log.Info().
		Str("provider", svc.Provider.ID()).
		Str("model", svc.Config.LLM.Model).
		Int("max_turns", svc.Config.Chat.MaxTurns).
		Msg("chat service ready")

	return nil
}

func (svc *ChatService) Shutdown() {
	if svc.stopSweep != nil {
		svc.stopSweep()
		<-svc.sweepDone
	}
	if svc.sessions != nil {
		svc.sessions.EndAll()
	}
}

func (svc *ChatService) sweepLoop(ctx context2.Context, every, idle time.Duration) {
	defer close(svc.sweepDone)

	if every <= 0 || idle <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range svc.sessions.Sweep(idle) {
				log.Info().Str("session", id).Dur("idle", idle).Msg("session expired")
			}
		}
	}
}

// Session returns the session with the given id, creating it on first access.
func (svc *ChatService) Session(id string) *chat.Session {
	sess, created := svc.sessions.GetOrCreate(id)
	if created {
		log.Info().Str("session", id).Msg("session started")
	}
	return sess
}

// Lookup returns an existing session.
func (svc *ChatService) Lookup(id string) (*chat.Session, bool) {
	return svc.sessions.Get(id)
}

// NewSession starts a session with a random id.
func (svc *ChatService) NewSession() *chat.Session {
	sess := svc.sessions.Create()
	log.Info().Str("session", sess.ID).Msg("session started")
	return sess
}

// EndSession tears the session down.
func (svc *ChatService) EndSession(id string) {
	if svc.sessions.End(id) {
		log.Info().Str("session", id).Msg("session ended")
	}
}

// Run handles one submitted prompt for the session.
func (svc *ChatService) Run(ctx context2.Context, sess *chat.Session, prompt string, display chat.Display) chat.Result {
	return svc.processor.HandleUserInput(ctx, sess, prompt, display)
}
