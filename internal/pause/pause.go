// Package pause implements the process-wide pause/resume coordinator used
// to cooperatively suspend every in-flight and future provider call until
// resumed.
package pause

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAborted is raised by WaitWhilePaused when the supplied context is
// cancelled while the controller is paused.
var ErrAborted = errors.New("pause: aborted while waiting")

// DefaultPollInterval is used by WaitWhilePaused when callers pass 0.
const DefaultPollInterval = 100 * time.Millisecond

// Subscriber receives pause/resume notifications.
type Subscriber func(paused bool)

// Controller is a process-wide binary pause flag with a cooperative wait
// primitive. The zero value is not usable; use New or Default.
type Controller struct {
	mu          sync.Mutex
	paused      bool
	wake        chan struct{} // closed and replaced on every transition
	subscribers []Subscriber
}

// New creates an unpaused controller.
func New() *Controller {
	return &Controller{wake: make(chan struct{})}
}

var (
	defaultOnce sync.Once
	defaultCtrl *Controller
)

// Default returns the process-wide singleton controller, initializing it
// lazily on first access.
func Default() *Controller {
	defaultOnce.Do(func() { defaultCtrl = New() })
	return defaultCtrl
}

// ResetDefault replaces the process-wide singleton with a fresh, unpaused
// controller. Exists for tests.
func ResetDefault() {
	defaultOnce = sync.Once{}
	defaultCtrl = nil
	Default()
}

// IsPaused reports the current pause state.
func (c *Controller) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Pause sets the pause flag. A call while already paused is a no-op and
// fires no notification.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.paused {
		c.mu.Unlock()
		return
	}
	c.paused = true
	c.mu.Unlock()
	c.notify(true)
}

// Resume clears the pause flag, waking every waiter. A call while already
// running is a no-op and fires no notification.
func (c *Controller) Resume() {
	c.mu.Lock()
	if !c.paused {
		c.mu.Unlock()
		return
	}
	c.paused = false
	old := c.wake
	c.wake = make(chan struct{})
	c.mu.Unlock()
	close(old)
	c.notify(false)
}

// Subscribe registers fn to be called on every paused/resumed transition.
// Returns an unsubscribe function.
func (c *Controller) Subscribe(fn Subscriber) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
	idx := len(c.subscribers) - 1
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if idx < len(c.subscribers) {
			c.subscribers[idx] = nil
		}
	}
}

func (c *Controller) notify(paused bool) {
	c.mu.Lock()
	subs := append([]Subscriber(nil), c.subscribers...)
	c.mu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(paused)
		}
	}
}

// WaitWhilePaused blocks until the controller is unpaused or ctx is done.
// It polls at pollInterval (DefaultPollInterval when <= 0), which bounds
// how quickly a resume becomes visible, though resumes also wake waiters
// immediately via the internal broadcast channel. Returns ErrAborted,
// wrapping ctx.Err(), when ctx ends while paused.
func (c *Controller) WaitWhilePaused(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	for {
		c.mu.Lock()
		paused := c.paused
		wake := c.wake
		c.mu.Unlock()
		if !paused {
			return nil
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ErrAborted, ctx.Err())
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}
