package minithread

import (
	"sync"
	"time"
)

// DefaultTickPeriod is the tick interval of the default clock.
const DefaultTickPeriod = time.Millisecond

// Clock is a source of periodic clock interrupts.
type Clock interface {
	// Start begins calling tick once per period, from any goroutine, until
	// the returned stop function is called.
	Start(tick func()) (stop func())

	// Period is the nominal interval between ticks.
	Period() time.Duration
}

// TickerClock is a Clock driven by a time.Ticker.
type TickerClock struct {
	period time.Duration
}

// NewTickerClock returns a TickerClock. Non-positive periods use
// DefaultTickPeriod.
func NewTickerClock(period time.Duration) *TickerClock {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	return &TickerClock{period: period}
}

func (c *TickerClock) Period() time.Duration { return c.period }

func (c *TickerClock) Start(tick func()) (stop func()) {
	ticker := time.NewTicker(c.period)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
			wg.Wait()
		})
	}
}

// ManualClock is a Clock that only ticks when told to, for deterministic
// tests. Ticks requested before Start are delivered on Start.
type ManualClock struct {
	mu      sync.Mutex
	period  time.Duration
	tick    func()
	pending int
}

// NewManualClock returns a ManualClock reporting the given nominal period.
func NewManualClock(period time.Duration) *ManualClock {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	return &ManualClock{period: period}
}

func (c *ManualClock) Period() time.Duration { return c.period }

func (c *ManualClock) Start(tick func()) (stop func()) {
	c.mu.Lock()
	c.tick = tick
	pending := c.pending
	c.pending = 0
	c.mu.Unlock()
	for i := 0; i < pending; i++ {
		tick()
	}
	return func() {
		c.mu.Lock()
		c.tick = nil
		c.mu.Unlock()
	}
}

// Tick posts n clock interrupts. Safe to call from any goroutine.
func (c *ManualClock) Tick(n int) {
	c.mu.Lock()
	tick := c.tick
	if tick == nil {
		c.pending += n
	}
	c.mu.Unlock()
	if tick == nil {
		return
	}
	for i := 0; i < n; i++ {
		tick()
	}
}
