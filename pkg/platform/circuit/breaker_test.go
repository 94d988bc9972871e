package circuit

import (
	"sync"
	"testing"
	"time"

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

func newTestBreaker(failures, successes int) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := New("ledger",
		WithFailureThreshold(failures),
		WithSuccessThreshold(successes),
		WithCooldown(5*time.Second),
		WithClock(clock.Now),
	)
	return b, clock
}

func TestBreakerDefaults(t *testing.T) {
	b := New("ledger", WithFailureThreshold(0), WithSuccessThreshold(-1))
	assert.Equal(t, "ledger", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, defaultFailureThreshold, b.failureThreshold)
	assert.Equal(t, defaultSuccessThreshold, b.successThreshold)
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
}

func TestBreakerOutageAndRecovery(t *testing.T) {
	b, clock := newTestBreaker(3, 2)

	for i := 0; i < 2; i++ {
		open, change := b.RecordFailure()
		require.False(t, open)
		require.False(t, change.Opened)
	}
	open, change := b.RecordFailure()
	require.True(t, open)
	require.True(t, change.Opened, "third consecutive failure opens")
	assert.False(t, b.Allow(), "no calls during cooldown")

	open, change = b.RecordFailure()
	assert.True(t, open)
	assert.False(t, change.Opened, "already open")

	clock.Advance(5 * time.Second)
	require.True(t, b.Allow(), "probe admitted after cooldown")

	closed, change := b.RecordSuccess()
	assert.False(t, closed)
	assert.False(t, change.Closed)
	assert.True(t, b.IsOpen(), "one probe is not enough")

	closed, change = b.RecordSuccess()
	assert.True(t, closed)
	assert.True(t, change.Closed)
	assert.True(t, b.Allow())
}

func TestBreakerFailedProbeRestartsCooldown(t *testing.T) {
	b, clock := newTestBreaker(1, 2)
	b.RecordFailure()

	clock.Advance(5 * time.Second)
	require.True(t, b.Allow())
	b.RecordSuccess()
	b.RecordFailure()

	assert.False(t, b.Allow())
	clock.Advance(5 * time.Second)
	assert.True(t, b.Allow())

	// The earlier probe success was discarded by the failure.
	closed, _ := b.RecordSuccess()
	assert.False(t, closed)
}

func TestBreakerSuccessClearsFailureStreak(t *testing.T) {
	b, _ := newTestBreaker(2, 1)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.False(t, b.IsOpen(), "failures must be consecutive")
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(1, 5)
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerConcurrentFailuresOpenOnce(t *testing.T) {
	b, _ := newTestBreaker(10, 1)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := b.RecordFailure(); change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, opened)
	assert.True(t, b.IsOpen())
}
