package context

import (
	context2 "context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingService struct {
	DefaultService

	id         string
	log        *[]string
	startErr   error
	configured bool
}

func (s *recordingService) Id() string { return s.id }

func (s *recordingService) Configure(ctx *Context) error {
	s.configured = true
	*s.log = append(*s.log, "configure:"+s.id)
	return s.DefaultService.Configure(ctx)
}

func (s *recordingService) Start() error {
	*s.log = append(*s.log, "start:"+s.id)
	return s.startErr
}

func (s *recordingService) Shutdown() {
	*s.log = append(*s.log, "shutdown:"+s.id)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	var calls []string
	_, err := NewCtx(
		&recordingService{id: "a", log: &calls},
		&recordingService{id: "a", log: &calls},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRunUntilOrdersLifecycle(t *testing.T) {
	var calls []string
	ctx, err := NewCtx(
		&recordingService{id: "a", log: &calls},
		&recordingService{id: "b", log: &calls},
	)
	require.NoError(t, err)

	done, cancel := context2.WithCancel(context2.Background())
	cancel()
	require.NoError(t, ctx.RunUntil(done))

	assert.Equal(t, []string{
		"configure:a", "configure:b",
		"start:a", "start:b",
		"shutdown:b", "shutdown:a",
	}, calls)
	assert.Equal(t, []string{"a", "b"}, ctx.Services())
}

func TestRunUntilShutsDownStartedOnFailure(t *testing.T) {
	var calls []string
	ctx, err := NewCtx(
		&recordingService{id: "a", log: &calls},
		&recordingService{id: "b", log: &calls, startErr: errors.New("boom")},
		&recordingService{id: "c", log: &calls},
	)
	require.NoError(t, err)

	err = ctx.RunUntil(context2.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b")
	assert.Equal(t, []string{
		"configure:a", "configure:b", "configure:c",
		"start:a", "start:b",
		"shutdown:a",
	}, calls)
}

func TestDefaultServiceLookup(t *testing.T) {
	var calls []string
	a := &recordingService{id: "a", log: &calls}
	b := &recordingService{id: "b", log: &calls}
	ctx, err := NewCtx(a, b)
	require.NoError(t, err)

	assert.Nil(t, a.Service("b"), "lookup before Configure has no context")
	require.NoError(t, ctx.Configure(a))
	assert.Same(t, b, a.Service("b"))
	assert.Nil(t, a.Service("missing"))
}
