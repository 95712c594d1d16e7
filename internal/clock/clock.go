// Package clock provides the time sources the engine runs on.
package clock

import (
	"sync"
	"time"

	"github.com/aoikurokawa/zone/internal/domain"
)

// System reads the wall clock.
type System struct{}

// Now returns the current unix time in seconds.
func (System) Now() int64 {
	return time.Now().Unix()
}

// Manual is a settable clock for tests and replays.
type Manual struct {
	mu  sync.Mutex
	now int64
}

// NewManual returns a Manual clock set to now.
func NewManual(now int64) *Manual {
	return &Manual{now: now}
}

// Now returns the current manual time.
func (m *Manual) Now() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to now.
func (m *Manual) Set(now int64) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Advance moves the clock forward by d, truncated to whole seconds.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += int64(d / time.Second)
	m.mu.Unlock()
}

var (
	_ domain.Clock = System{}
	_ domain.Clock = (*Manual)(nil)
)
