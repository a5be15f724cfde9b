// Package guard implements last-request-wins sequencing for fetch pipelines.
// Each acquired ticket carries a monotonically increasing id and a derived
// context; acquiring a new ticket cancels the previous in-flight operation
// before the replacement is issued, and a continuation may only commit state
// while its ticket is still the latest. Results arriving out of order are
// therefore discarded instead of clobbering newer state.
package guard

import (
	"context"
	"errors"
	"sync"
)

// Controller issues tickets for a single logical fetch slot (one wallet,
// one market, ...). Safe for concurrent use.
type Controller struct {
	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// Ticket identifies one issued request. It stays valid until a newer ticket
// is acquired from the same Controller.
type Ticket struct {
	c  *Controller
	id uint64
}

// Acquire cancels the context of any previous in-flight operation, bumps the
// sequence, and returns a fresh ticket together with a context derived from
// parent that will be cancelled when the ticket is superseded.
func (c *Controller) Acquire(parent context.Context) (context.Context, *Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.seq++

	return ctx, &Ticket{c: c, id: c.seq}
}

// Close cancels whatever operation is currently in flight. Further Acquire
// calls remain valid.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Latest reports whether no newer ticket has been acquired since this one.
// A continuation must check this immediately before committing state.
func (t *Ticket) Latest() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	return t.id == t.c.seq
}

// IsCancel reports whether err is cooperative cancellation rather than a
// real failure. Superseded requests surface as context.Canceled and are
// swallowed silently by callers.
func IsCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
