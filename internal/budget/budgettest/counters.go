// Package budgettest provides an in-process Counters double for tests of
// packages that depend on budget.Controller.
package budgettest

import (
	"context"
	"sync"
	"time"

	"github.com/cookcard/ingest/internal/budget"
)

// Counters is a mutex-guarded map implementing budget.Counters. Set Err to
// make every call fail.
type Counters struct {
	mu     sync.Mutex
	values map[budget.Key]int64
	Err    error
}

var _ budget.Counters = (*Counters)(nil)

// New returns an empty Counters.
func New() *Counters {
	return &Counters{values: make(map[budget.Key]int64)}
}

// Set seeds a counter value.
func (c *Counters) Set(key budget.Key, v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = v
}

// Value returns a counter value without going through the interface.
func (c *Counters) Value(key budget.Key) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key]
}

// IncrementIfWithin implements budget.Counters.
func (c *Counters) IncrementIfWithin(_ context.Context, key budget.Key, delta, limit int64, _ time.Duration) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, false, c.Err
	}
	cur := c.values[key]
	if cur+delta > limit {
		return cur, false, nil
	}
	c.values[key] = cur + delta
	return cur + delta, true, nil
}

// Increment implements budget.Counters.
func (c *Counters) Increment(_ context.Context, key budget.Key, delta int64, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	n := c.values[key] + delta
	if n < 0 {
		n = 0
	}
	c.values[key] = n
	return n, nil
}

// Get implements budget.Counters.
func (c *Counters) Get(_ context.Context, key budget.Key) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	return c.values[key], nil
}
