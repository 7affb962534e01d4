package http

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterPool_EvictsIdle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p := newLimiterPool(1, 1)
	p.now = func() time.Time { return now }

	for i := 0; i < 1000; i++ {
		p.Allow(fmt.Sprintf("198.51.100.%d", i))
	}
	assert.Equal(t, 1000, p.size())

	now = now.Add(limiterTTL + limiterSweep)
	assert.True(t, p.Allow("203.0.113.9"))
	assert.Equal(t, 1, p.size(), "idle limiters are swept")
}

func TestLimiterPool_KeepsActive(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p := newLimiterPool(0.001, 1)
	p.now = func() time.Time { return now }

	assert.True(t, p.Allow("a"))
	now = now.Add(limiterTTL / 2)
	assert.False(t, p.Allow("a"))
	now = now.Add(limiterTTL/2 + limiterSweep)
	assert.False(t, p.Allow("a"), "an active client keeps its exhausted bucket")
}
