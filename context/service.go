package context

// Service is a unit managed by a Context.
// Configure runs for every service before any Start, so services may look each other up in Start.
// Start must not block; long running work belongs in a goroutine owned by the service.
type Service interface {
	Id() string
	Configure(ctx *Context) error
	Start() error
	Shutdown()
}

// DefaultService gives embedding services access to the Context and no-op lifecycle hooks.
type DefaultService struct {
	ctx *Context
}

func (d *DefaultService) Configure(ctx *Context) error {
	d.ctx = ctx
	return nil
}

func (d *DefaultService) Start() error {
	return nil
}

func (d *DefaultService) Shutdown() {}

// Service returns the registered service with the given id, or nil.
// Example: svc.Service(CHAT_SVC).(*ChatService)
func (d *DefaultService) Service(id string) Service {
	if d.ctx == nil {
		return nil
	}
	return d.ctx.Service(id)
}
