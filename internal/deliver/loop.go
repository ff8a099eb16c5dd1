// Package deliver drains the queue towards the collector, one call at a time.
package deliver

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kon-rad/webtrack/internal/call"
	"github.com/kon-rad/webtrack/internal/queue"
)

// ErrStopped is returned by Unload once Run has returned.
var ErrStopped = errors.New("drain loop stopped")

type State int32

const (
	Idle State = iota
	Sending
)

func (s State) String() string {
	if s == Sending {
		return "sending"
	}
	return "idle"
}

// Sender performs one delivery attempt.
type Sender interface {
	Send(ctx context.Context, c call.Call) bool
}

// Observer is told about every queue and delivery outcome.
type Observer interface {
	Enqueued()
	Dropped()
	Delivered()
	Failed()
	Discarded()
}

type nopObserver struct{}

func (nopObserver) Enqueued()  {}
func (nopObserver) Dropped()   {}
func (nopObserver) Delivered() {}
func (nopObserver) Failed()    {}
func (nopObserver) Discarded() {}

type submission struct {
	call  call.Call
	reply chan bool
}

type attempt struct {
	call call.Call
	ok   bool
}

// Loop is the single-flight sender. Run owns the queue; other goroutines talk
// to it through Submit, Trigger and Unload.
type Loop struct {
	log       *slog.Logger
	queue     *queue.Queue
	sender    Sender
	committer call.Committer
	observer  Observer

	submitCh  chan submission
	triggerCh chan struct{}
	unloadCh  chan chan struct{}
	done      chan struct{}

	state        atomic.Int32
	lastDelivery atomic.Int64
	lastStatus   atomic.Value
}

func New(log *slog.Logger, q *queue.Queue, sender Sender, committer call.Committer, observer Observer) *Loop {
	if observer == nil {
		observer = nopObserver{}
	}
	l := &Loop{
		log:       log,
		queue:     q,
		sender:    sender,
		committer: committer,
		observer:  observer,
		submitCh:  make(chan submission),
		triggerCh: make(chan struct{}, 1),
		unloadCh:  make(chan chan struct{}),
		done:      make(chan struct{}),
	}
	l.lastStatus.Store("none")
	return l
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) Depth() int {
	return l.queue.Len()
}

// LastDelivery returns the unix millis of the last attempt and its outcome.
func (l *Loop) LastDelivery() (int64, string) {
	status, _ := l.lastStatus.Load().(string)
	return l.lastDelivery.Load(), status
}

// Submit enqueues c and starts draining when the loop is idle. It reports
// whether the queue accepted the call.
func (l *Loop) Submit(ctx context.Context, c call.Call) bool {
	reply := make(chan bool, 1)
	select {
	case l.submitCh <- submission{call: c, reply: reply}:
	case <-ctx.Done():
		return false
	case <-l.done:
		return false
	}
	return <-reply
}

// Trigger wakes an idle loop so it retries the head. It never blocks.
func (l *Loop) Trigger() {
	select {
	case l.triggerCh <- struct{}{}:
	default:
	}
}

// Unload switches the loop to skip-failed mode and waits until the queue is
// empty. Calls that fail while the unload drains are discarded; once the queue
// is empty the loop goes back to keeping failed calls for a later retry.
func (l *Loop) Unload(ctx context.Context) error {
	drained := make(chan struct{})
	select {
	case l.unloadCh <- drained:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

// Run drains until ctx is cancelled. An attempt in flight at cancellation is
// awaited and its outcome applied before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	var (
		skipFailed bool
		inflight   bool
		waiters    []chan struct{}
	)
	results := make(chan attempt, 1)
	// Queue and identity writes must land even while shutting down.
	qctx := context.WithoutCancel(ctx)

	start := func() {
		head := l.queue.Peek(qctx)
		if head == nil {
			l.state.Store(int32(Idle))
			for _, w := range waiters {
				close(w)
			}
			waiters = nil
			skipFailed = false
			return
		}
		l.state.Store(int32(Sending))
		inflight = true
		go func() {
			results <- attempt{call: head, ok: l.sender.Send(ctx, head)}
		}()
	}

	// finish applies an attempt's outcome and reports whether to continue.
	finish := func(res attempt) bool {
		inflight = false
		l.lastDelivery.Store(time.Now().UnixMilli())
		if res.ok {
			l.lastStatus.Store("ok")
			if ack, ok := res.call.(call.Acknowledger); ok {
				ack.Acknowledge(qctx, l.committer)
			}
			l.queue.Dequeue(qctx)
			l.observer.Delivered()
			return true
		}
		l.lastStatus.Store("failed")
		l.observer.Failed()
		if skipFailed {
			l.log.Debug("discarding failed call", "id", res.call.Base().ID, "tag", string(res.call.Tag()))
			l.queue.Dequeue(qctx)
			l.observer.Discarded()
			return true
		}
		l.state.Store(int32(Idle))
		return false
	}

	// Calls left over from a previous process go out first.
	start()

	for {
		select {
		case <-ctx.Done():
			if inflight {
				finish(<-results)
			}
			l.state.Store(int32(Idle))
			return nil

		case sub := <-l.submitCh:
			accepted := l.queue.Enqueue(qctx, sub.call)
			if accepted {
				l.observer.Enqueued()
			} else {
				l.observer.Dropped()
			}
			if !inflight {
				start()
			}
			sub.reply <- accepted

		case <-l.triggerCh:
			if !inflight {
				start()
			}

		case drained := <-l.unloadCh:
			skipFailed = true
			waiters = append(waiters, drained)
			if !inflight {
				start()
			}

		case res := <-results:
			if finish(res) {
				start()
			}
		}
	}
}
