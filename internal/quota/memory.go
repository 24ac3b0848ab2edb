package quota

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process Ledger. Within one process the mutex makes the
// check-and-increment atomic, so it is correct for a single instance; across
// instances it is a best-effort degradation only, because every replica
// counts independently. Production deployments use the Redis ledger.
type Memory struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

// counter is the per-key dual-window record: one row per key, rolled over
// lazily when the observed window id differs from the stored one.
type counter struct {
	minuteWindow int64
	minuteCount  int
	dayWindow    string
	dayCount     int
}

var _ Ledger = (*Memory)(nil)

// MemoryOption configures Memory.
type MemoryOption func(*Memory)

// WithMemoryClock overrides the clock, for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) CheckAndIncrement(_ context.Context, keyID string, minuteLimit, dayLimit int) (Decision, error) {
	now := m.now()
	minWin := minuteWindow(now)
	dayWin := dayWindow(now)

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[keyID]
	if !ok {
		c = &counter{minuteWindow: minWin, dayWindow: dayWin}
		m.counters[keyID] = c
	}

	// Independent rollover per window.
	if c.minuteWindow != minWin {
		c.minuteWindow = minWin
		c.minuteCount = 0
	}
	if c.dayWindow != dayWin {
		c.dayWindow = dayWin
		c.dayCount = 0
	}

	if c.minuteCount+1 > minuteLimit || c.dayCount+1 > dayLimit {
		return Decision{
			Allowed:         false,
			MinuteRemaining: clampRemaining(minuteLimit - c.minuteCount),
			DayRemaining:    clampRemaining(dayLimit - c.dayCount),
		}, nil
	}

	c.minuteCount++
	c.dayCount++
	return Decision{
		Allowed:         true,
		MinuteRemaining: clampRemaining(minuteLimit - c.minuteCount),
		DayRemaining:    clampRemaining(dayLimit - c.dayCount),
	}, nil
}
