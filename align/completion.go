package align

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrStalled is returned when the device does not settle within the settle timeout
var ErrStalled = errors.New("device did not settle before the timeout")

// Completion is the result of a move, resolved once the device stops moving
type Completion struct {
	done   chan struct{}
	once   sync.Once
	err    error
	cancel context.CancelFunc
}

func newCompletion(cancel context.CancelFunc) *Completion {
	return &Completion{done: make(chan struct{}), cancel: cancel}
}

// Complete resolves the completion.  Only the first call has an effect.
func (c *Completion) Complete(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
		if c.cancel != nil {
			c.cancel()
		}
	})
}

// Done is closed when the completion resolves
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Test returns true if the completion has resolved
func (c *Completion) Test() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the completion resolves or timeout elapses.  On timeout
// the watcher behind the completion is cancelled and ErrStalled returned.
func (c *Completion) Wait(timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.done:
		return c.err
	case <-t.C:
		c.Complete(ErrStalled)
		<-c.done
		return c.err
	}
}

// watchSettle polls the device status every interval until nothing is
// moving, and resolves the returned Completion.  The first poll is
// immediate.
func watchSettle(ctx context.Context, dev Device, interval time.Duration) *Completion {
	ctx, cancel := context.WithCancel(ctx)
	c := newCompletion(cancel)
	go func() {
		lim := rate.NewLimiter(rate.Every(interval), 1)
		for {
			if err := lim.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				c.Complete(err)
				return
			}
			st, err := dev.Status()
			if err != nil {
				c.Complete(err)
				return
			}
			moving := false
			for _, m := range st {
				moving = moving || m
			}
			if !moving {
				c.Complete(nil)
				return
			}
		}
	}()
	return c
}
