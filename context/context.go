package context

import (
	context2 "context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// Context is a small service wrapper that handles the startup/shutdown of the services.
// Start order is the registration order, shutdown runs in reverse.
// Provides cross-service access while still maintaining separation of concerns
type Context struct {
	startOrder []string
	serviceMap map[string]Service
	started    []string
}

// NewCtx Create a new context containing the given services.
func NewCtx(svcs ...Service) (*Context, error) {
	ctx := Context{
		startOrder: make([]string, 0, len(svcs)),
		serviceMap: make(map[string]Service, len(svcs)),
	}

	for _, s := range svcs {
		if err := ctx.Register(s); err != nil {
			return nil, err
		}
	}

	return &ctx, nil
}

// Register a new service into the context and preserve the order passed
func (ctx *Context) Register(service Service) error {
	if _, ok := ctx.serviceMap[service.Id()]; ok {
		return fmt.Errorf("service %s already registered", service.Id())
	}

	ctx.startOrder = append(ctx.startOrder, service.Id())
	ctx.serviceMap[service.Id()] = service

	return nil
}

// Service Returns the given service, or nil when it is not registered.
// Note: once returned the service must be cast to the correct service
func (ctx *Context) Service(id string) Service {
	return ctx.serviceMap[id]
}

// Run starts the context and blocks until SIGINT or SIGTERM.
func (ctx *Context) Run() error {
	sigCtx, stop := signal.NotifyContext(context2.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return ctx.RunUntil(sigCtx)
}

// RunUntil configures every service, then starts every service, then blocks until done is
// canceled. Services that were started are shut down in reverse order, also when a later
// service fails to configure or start.
func (ctx *Context) RunUntil(done context2.Context) error {
	defer ctx.shutdown()

	for _, svcId := range ctx.startOrder {
		if err := ctx.Configure(ctx.serviceMap[svcId]); err != nil {
			log.Error().Err(err).Str("service", svcId).Msg("Context Configure Error")
			return fmt.Errorf("configure %s: %w", svcId, err)
		}
	}

	for _, svcId := range ctx.startOrder {
		if err := ctx.Start(ctx.serviceMap[svcId]); err != nil {
			log.Error().Err(err).Str("service", svcId).Msg("Context Start Error")
			return fmt.Errorf("start %s: %w", svcId, err)
		}
		ctx.started = append(ctx.started, svcId)
	}

	<-done.Done()
	log.Info().Msg("Received signal. Shutting down")

	return nil
}

// Configure the given service
func (ctx *Context) Configure(svc Service) error {
	log.Info().Str("service", svc.Id()).Msg("Context Configure")

	return svc.Configure(ctx)
}

// Start the given service
func (ctx *Context) Start(svc Service) error {
	log.Info().Str("service", svc.Id()).Msg("Context Start")

	return svc.Start()
}

func (ctx *Context) shutdown() {
	for i := len(ctx.started) - 1; i >= 0; i-- {
		svcId := ctx.started[i]
		log.Info().Str("service", svcId).Msg("Shutting down")
		ctx.serviceMap[svcId].Shutdown()
	}
	ctx.started = nil
}

func (ctx *Context) Services() []string {
	keys := make([]string, len(ctx.startOrder))
	copy(keys, ctx.startOrder)

	return keys
}
