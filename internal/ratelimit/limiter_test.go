package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xgaming627/chatter-nexus/internal/clock"
)

func TestDebounceRejectsInsideThreshold(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	d := NewDebounce(clk, 2*time.Second)

	assert.True(t, d.TrySend("u1"))
	clk.Advance(1900 * time.Millisecond)
	assert.False(t, d.TrySend("u1"), "send at t=1.9s must be rejected")
	assert.True(t, d.InCooldown("u1"))
}

func TestDebounceAcceptsAfterThreshold(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	d := NewDebounce(clk, 2*time.Second)

	assert.True(t, d.TrySend("u1"))
	clk.Advance(2100 * time.Millisecond)
	assert.True(t, d.TrySend("u1"), "send at t=2.1s must be accepted")
	assert.False(t, d.InCooldown("u1"))
}

func TestDebounceCooldownAutoClears(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	d := NewDebounce(clk, 2*time.Second)

	d.TrySend("u1")
	clk.Advance(time.Second)
	assert.False(t, d.TrySend("u1"))
	assert.True(t, d.InCooldown("u1"))

	// Cooldown runs from the rejected attempt, not the accepted send.
	clk.Advance(1900 * time.Millisecond)
	assert.True(t, d.InCooldown("u1"))
	clk.Advance(200 * time.Millisecond)
	assert.False(t, d.InCooldown("u1"))
}

func TestDebounceKeysAreIndependent(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	d := NewDebounce(clk, 2*time.Second)

	assert.True(t, d.TrySend("u1"))
	assert.True(t, d.TrySend("u2"))
	assert.False(t, d.TrySend("u1"))
}

func TestWindowExhaustionAndRecovery(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	w := NewWindow(clk, 3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, w.Allow("s1"))
		clk.Advance(time.Second)
	}
	assert.False(t, w.Allow("s1"), "fourth send inside the window must be blocked")

	retry := w.RetryAfter("s1")
	assert.Greater(t, retry, time.Duration(0))

	// Oldest counted send was at t=0; it ages out 60s later.
	clk.Advance(retry)
	assert.True(t, w.Allow("s1"))
}

func TestWindowRetryAfterZeroWhenOpen(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	w := NewWindow(clk, 5, time.Minute)

	assert.Equal(t, time.Duration(0), w.RetryAfter("s1"))
	w.Allow("s1")
	assert.Equal(t, time.Duration(0), w.RetryAfter("s1"))
}
