// Package memory provides a simulated, fair-loss in-memory transport and
// a timer-backed alarm clock for driving pkg/twopc.Engine end to end
// without real networking — the embedder collaborators spec.md leaves
// external to the core.
package memory

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/eapache/channels"

	"github.com/oasisprotocol/twopc/internal/logging"
	"github.com/oasisprotocol/twopc/pkg/twopc"
)

var logger = logging.GetLogger("twopctransport/memory")

const infiniteTimeout = time.Duration(math.MaxInt64)

// Envelope is a Message in transit, tagged with its sender so the
// receiving process can build an EventDeliver.
type Envelope[P comparable] struct {
	From    P
	Message twopc.Message
}

// Transport is a fair-loss in-memory network: one unbounded inbox per
// registered process. Sends may be dropped or duplicated according to
// Options (a dropped send is redelivered from its own goroutine, so it
// can arrive after later sends), modeling the "fair-loss link" the embedder must
// tolerate per spec.md's termination-subprotocol rationale. A dropped
// send is retried on a cenkalti/backoff/v4 schedule rather than vanishing
// outright, since "eventually delivered" (not "delivered once") is the
// actual contract a fair-loss link promises.
type Transport[P comparable] struct {
	mu      sync.RWMutex
	inboxes map[P]*channels.InfiniteChannel
	opts    Options
	rng     *rand.Rand
}

// Options configures the Transport's fault injection. Zero value is a
// perfectly reliable transport (no loss, no duplication).
type Options struct {
	// DropProbability is the chance, in [0,1], that a single Send is
	// dropped on its first attempt (and retried per RetryBackoff).
	DropProbability float64
	// DuplicateProbability is the chance, in [0,1], that a delivered
	// message is enqueued a second time.
	DuplicateProbability float64
	// RetryBackoff governs redelivery attempts for a dropped Send. A nil
	// RetryBackoff falls back to backoff.NewExponentialBackOff() defaults.
	RetryBackoff backoff.BackOff
}

// NewTransport constructs an empty Transport. Call Register for every
// simulated process before routing messages to it.
func NewTransport[P comparable](opts Options) *Transport[P] {
	return &Transport[P]{
		inboxes: make(map[P]*channels.InfiniteChannel),
		opts:    opts,
		rng:     rand.New(rand.NewSource(1)), //nolint:gosec // simulation only
	}
}

// Register creates process's inbox and returns the channel its event
// loop should range over.
func (t *Transport[P]) Register(process P) <-chan Envelope[P] {
	t.mu.Lock()
	defer t.mu.Unlock()

	ic := channels.NewInfiniteChannel()
	t.inboxes[process] = ic

	out := make(chan Envelope[P])
	go func() {
		for raw := range ic.Out() {
			out <- raw.(Envelope[P])
		}
		close(out)
	}()
	return out
}

// Unregister closes process's inbox; its event-loop channel is closed
// once any buffered envelopes have drained.
func (t *Transport[P]) Unregister(process P) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ic, ok := t.inboxes[process]; ok {
		ic.Close()
		delete(t.inboxes, process)
	}
}

// Send delivers msg from sender to recipient, subject to DropProbability
// and DuplicateProbability. Send returns immediately; redelivery of a
// dropped message happens on a background goroutine so the caller (the
// process event loop driving Engine.Event) is never blocked by another
// process's fault-injection delay.
func (t *Transport[P]) Send(sender, recipient P, msg twopc.Message) {
	env := Envelope[P]{From: sender, Message: msg}

	if t.opts.DropProbability > 0 && t.rng.Float64() < t.opts.DropProbability {
		logger.Debug("dropping message, scheduling redelivery", "to", recipient)
		go t.redeliver(recipient, env)
		return
	}

	t.deliver(recipient, env)
}

func (t *Transport[P]) redeliver(recipient P, env Envelope[P]) {
	b := t.opts.RetryBackoff
	if b == nil {
		b = backoff.NewExponentialBackOff()
	}
	_ = backoff.Retry(func() error {
		if !t.deliver(recipient, env) {
			return backoff.Permanent(errNoSuchRecipient)
		}
		return nil
	}, b)
}

func (t *Transport[P]) deliver(recipient P, env Envelope[P]) bool {
	t.mu.RLock()
	ic, ok := t.inboxes[recipient]
	t.mu.RUnlock()
	if !ok {
		return false
	}

	ic.In() <- env
	if t.opts.DuplicateProbability > 0 && t.rng.Float64() < t.opts.DuplicateProbability {
		ic.In() <- env
	}
	return true
}

var errNoSuchRecipient = &transportError{"twopctransport/memory: no such recipient"}

type transportError struct{ msg string }

func (e *transportError) Error() string { return e.msg }

// AlarmClock is a single time.Timer-backed alarm for one simulated
// process, following the rearm-on-progress/disarm-when-idle discipline:
// Arm schedules exactly one future Alarm delivery, replacing any pending
// one; Disarm cancels it entirely. It is built on twopc.WallClock rather
// than an arbitrary twopc.Time[T], because turning a deadline into a
// concrete time.Duration to hand to time.Timer needs subtraction, which
// the minimal Time[T] constraint (Add/Before/After only) deliberately
// doesn't provide — WallClock's underlying time.Time does.
//
// This is the embedder half of the "embedder honors an Update's
// Alarm field... and injects an Alarm event at expiry" contract; the
// engine itself never touches a clock.
type AlarmClock struct {
	mu    sync.Mutex
	timer *time.Timer
	now   twopc.TimeSource[twopc.WallClock]
	fired chan struct{}
}

// NewAlarmClock constructs a disarmed AlarmClock reading the clock from
// now (ordinarily twopc.SystemTimeSource{}).
func NewAlarmClock(now twopc.TimeSource[twopc.WallClock]) *AlarmClock {
	a := &AlarmClock{
		timer: time.NewTimer(infiniteTimeout),
		now:   now,
		fired: make(chan struct{}, 1),
	}
	go a.pump()
	return a
}

func (a *AlarmClock) pump() {
	for range a.timer.C {
		select {
		case a.fired <- struct{}{}:
		default:
		}
	}
}

// Fired delivers a value each time the armed deadline elapses.
func (a *AlarmClock) Fired() <-chan struct{} {
	return a.fired
}

// Arm schedules a single alarm at deadline, replacing any previously
// armed deadline.
func (a *AlarmClock) Arm(deadline twopc.WallClock) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLocked()

	wait := deadline.Time.Sub(a.now.Now().Time)
	if wait < 0 {
		wait = 0
	}
	a.timer.Reset(wait)
}

// Disarm cancels any pending alarm.
func (a *AlarmClock) Disarm() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLocked()
	a.timer.Reset(infiniteTimeout)
}

func (a *AlarmClock) stopLocked() {
	if !a.timer.Stop() {
		select {
		case <-a.timer.C:
		default:
		}
	}
}
