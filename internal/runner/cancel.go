package runner

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/lavakit/lavarun/pkg/joberrors"
)

// cancelState tracks the two-stage escalation explicitly instead of
// leaving it implicit in handler re-registration.
type cancelState int

const (
	cancelArmed cancelState = iota
	cancelEscalated
)

// cancelSignals is the fixed set of termination signals converted
// into catchable cancellation errors. Signals outside the set keep
// their OS default disposition.
var cancelSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGHUP,
	syscall.SIGQUIT,
	syscall.SIGUSR1,
}

// CancelController converts asynchronous termination signals into
// synchronous, classified errors inside the lifecycle flow.
//
// The first signal cancels the run context and records a first-stage
// JobCanceled; any further signal ratchets the recorded error to the
// escalated form. Escalation is one-way and terminal.
type CancelController struct {
	mu     sync.Mutex
	state  cancelState
	err    error
	cancel context.CancelFunc

	sigs chan os.Signal
	done chan struct{}
	once sync.Once
}

// NewCancelController returns an unarmed controller.
func NewCancelController() *CancelController {
	return &CancelController{
		sigs: make(chan os.Signal, 2),
		done: make(chan struct{}),
	}
}

// Arm installs the signal handlers and returns a context derived from
// parent that is canceled on the first signal. Arm must be called
// before any long-running phase begins.
func (c *CancelController) Arm(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	signal.Notify(c.sigs, cancelSignals...)
	go c.watch()
	return ctx
}

func (c *CancelController) watch() {
	for {
		select {
		case <-c.done:
			return
		case <-c.sigs:
			c.trip()
		}
	}
}

// trip advances the escalation state machine by one signal. The state
// transition completes under the lock before the run context is
// canceled, so a racing second signal always observes the escalated
// state.
func (c *CancelController) trip() {
	c.mu.Lock()
	switch c.state {
	case cancelArmed:
		c.state = cancelEscalated
		c.err = &joberrors.JobCanceled{}
	case cancelEscalated:
		c.err = &joberrors.JobCanceled{Escalated: true}
	}
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Err reports the cancellation error raised so far, nil if no signal
// has arrived.
func (c *CancelController) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Disarm releases the signal handlers. Safe to call more than once.
func (c *CancelController) Disarm() {
	c.once.Do(func() {
		signal.Stop(c.sigs)
		close(c.done)
	})
}
