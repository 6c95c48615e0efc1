package engine

import (
	"context"
	"sync"
	"time"

	"github.com/yndnr/rivulet-go/internal/telemetry/metric"
)

// Outcome is the result of waiting on a blocking condition.
type Outcome int

const (
	// Satisfied means a relevant mutation occurred; the caller should
	// re-evaluate its condition.
	Satisfied Outcome = iota
	// TimedOut means the deadline expired first.
	TimedOut
	// Closed means the waiting connection went away.
	Closed
)

// Waiter is one parked blocking request. It is signalled at most once
// per relevant mutation; the parked command re-checks its condition on
// each wake.
type Waiter struct {
	ch    chan struct{}
	keys  []string
	onAck bool
	coord *Coordinator
}

// signal wakes the waiter if it is not already pending a wake.
func (w *Waiter) signal() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// Wait parks until a wake, the deadline, or connection close. A nil
// deadline channel means wait without a time limit.
func (w *Waiter) Wait(ctx context.Context, deadline <-chan time.Time) Outcome {
	select {
	case <-w.ch:
		return Satisfied
	case <-deadline:
		return TimedOut
	case <-ctx.Done():
		return Closed
	}
}

// Coordinator is the waiter registry shared by all connections: blocked
// stream/list reads keyed by watched key, and WAIT re-evaluation keyed
// by acknowledgement arrival. Wake-up is targeted per mutated key, never
// a broadcast over unrelated waiters.
type Coordinator struct {
	mu         sync.Mutex
	keyWaiters map[string][]*Waiter
	ackWaiters map[*Waiter]struct{}
	metrics    *metric.Registry
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(metrics *metric.Registry) *Coordinator {
	return &Coordinator{
		keyWaiters: make(map[string][]*Waiter),
		ackWaiters: make(map[*Waiter]struct{}),
		metrics:    metrics,
	}
}

// RegisterKeys parks a waiter on every given key. Registration must
// happen under the engine's execution lock so a concurrent mutation
// cannot slip between the failed immediate attempt and the parking.
func (c *Coordinator) RegisterKeys(keys []string) *Waiter {
	w := &Waiter{ch: make(chan struct{}, 1), keys: keys, coord: c}
	c.mu.Lock()
	for _, k := range keys {
		c.keyWaiters[k] = append(c.keyWaiters[k], w)
	}
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.BlockedClients.Inc()
	}
	return w
}

// RegisterAck parks a waiter woken by replica acknowledgements.
func (c *Coordinator) RegisterAck() *Waiter {
	w := &Waiter{ch: make(chan struct{}, 1), onAck: true, coord: c}
	c.mu.Lock()
	c.ackWaiters[w] = struct{}{}
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.BlockedClients.Inc()
	}
	return w
}

// Remove discards a waiter, regardless of how its wait ended.
func (c *Coordinator) Remove(w *Waiter) {
	c.mu.Lock()
	if w.onAck {
		delete(c.ackWaiters, w)
	}
	for _, k := range w.keys {
		list := c.keyWaiters[k]
		for i, cand := range list {
			if cand == w {
				c.keyWaiters[k] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(c.keyWaiters[k]) == 0 {
			delete(c.keyWaiters, k)
		}
	}
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.BlockedClients.Dec()
	}
}

// NotifyKey wakes waiters parked on key. n limits how many are woken
// (first-come-first-served, registration order); n <= 0 wakes all.
// List pushes wake one waiter per pushed element so a single element is
// not contended by the whole herd; stream appends wake everyone.
func (c *Coordinator) NotifyKey(key string, n int) {
	c.mu.Lock()
	list := c.keyWaiters[key]
	if n <= 0 || n > len(list) {
		n = len(list)
	}
	woken := make([]*Waiter, n)
	copy(woken, list[:n])
	c.mu.Unlock()

	for _, w := range woken {
		w.signal()
	}
}

// NotifyAck wakes every parked WAIT so it can recount acknowledgements.
func (c *Coordinator) NotifyAck() {
	c.mu.Lock()
	woken := make([]*Waiter, 0, len(c.ackWaiters))
	for w := range c.ackWaiters {
		woken = append(woken, w)
	}
	c.mu.Unlock()

	for _, w := range woken {
		w.signal()
	}
}
