package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClockedRegistry() (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	reg := NewRegistry(10, true)
	reg.now = clock.Now
	return reg, clock
}

func TestRegistryCreateAndGet(t *testing.T) {
	reg, _ := newClockedRegistry()

	sess := reg.Create()
	_, err := uuid.Parse(sess.ID)
	require.NoError(t, err)

	got, ok := reg.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistrySessionsAreIsolated(t *testing.T) {
	reg, _ := newClockedRegistry()

	a, created := reg.GetOrCreate("tg:1:0")
	require.True(t, created)
	b, created := reg.GetOrCreate("tg:2:0")
	require.True(t, created)

	a.Conversation().Append(Turn{Role: RoleUser, Content: "only in a"})
	a.SetCredential("key-a")

	assert.Zero(t, b.Conversation().Len())
	assert.False(t, b.HasCredential())

	again, created := reg.GetOrCreate("tg:1:0")
	assert.False(t, created)
	assert.Same(t, a, again)
}

func TestRegistryEndCancelsInFlightTurn(t *testing.T) {
	reg, _ := newClockedRegistry()
	sess := reg.Create()

	ctx, finish, err := sess.beginTurn(context.Background())
	require.NoError(t, err)
	defer finish()

	assert.True(t, reg.End(sess.ID))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, reg.End(sess.ID))
	assert.Zero(t, reg.Len())

	_, _, err = sess.beginTurn(context.Background())
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestRegistrySweep(t *testing.T) {
	reg, clock := newClockedRegistry()

	idle := reg.Create()
	active := reg.Create()
	busy := reg.Create()
	_, finish, err := busy.beginTurn(context.Background())
	require.NoError(t, err)
	defer finish()

	clock.Advance(20 * time.Minute)
	_, ok := reg.Get(active.ID)
	require.True(t, ok)
	clock.Advance(15 * time.Minute)

	ended := reg.Sweep(30 * time.Minute)
	assert.Equal(t, []string{idle.ID}, ended)
	assert.Equal(t, 2, reg.Len())

	assert.Nil(t, reg.Sweep(0), "zero idle timeout disables sweeping")
}

func TestRegistryEndAll(t *testing.T) {
	reg, _ := newClockedRegistry()
	reg.Create()
	reg.Create()

	reg.EndAll()
	assert.Zero(t, reg.Len())
}

func TestSessionCredentialTrimmed(t *testing.T) {
	reg, _ := newClockedRegistry()
	sess := reg.Create()

	sess.SetCredential("  sk-abc \n")
	assert.Equal(t, "sk-abc", sess.Credential())

	sess.SetCredential("   ")
	assert.False(t, sess.HasCredential())
}
