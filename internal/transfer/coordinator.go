// Package transfer implements single-flight deduplication for concurrent
// transfers of the same content-addressed descriptor, so that two callers
// asking to pull or push the same digest at the same time share one
// producer instead of racing two redundant network operations.
package transfer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/meigma/ocidist/core"
)

// Event reports incremental progress or the terminal outcome of a transfer.
// Done is true exactly once, on the final event delivered to a subscriber;
// Err is non-nil only alongside Done when the transfer failed.
type Event struct {
	Transferred int64
	Total       int64
	Done        bool
	Err         error
}

// Producer performs the actual transfer for a descriptor. It must report
// progress through report as bytes move, and return the error (if any) that
// becomes every current subscriber's terminal event. It must observe ctx
// cancellation promptly: ctx is canceled as soon as the last subscriber
// unsubscribes.
type Producer func(ctx context.Context, report func(transferred, total int64)) error

// Coordinator deduplicates concurrent transfers keyed by digest. Only one
// Producer ever runs per digest at a time; every caller requesting that
// digest while a transfer is in flight subscribes to the same run and
// receives the same progress and terminal outcome.
type Coordinator struct {
	logger *slog.Logger

	mu        sync.Mutex
	transfers map[core.Digest]*transfer
}

// New constructs a Coordinator. A nil logger discards diagnostics.
func New(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{
		logger:    logger,
		transfers: make(map[core.Digest]*transfer),
	}
}

type transfer struct {
	desc   core.Descriptor
	cancel context.CancelFunc
	origin *Subscription // the subscriber whose call started this transfer

	mu          sync.Mutex
	subscribers map[*Subscription]chan Event
	transferred int64
	done        bool
	err         error
}

// Subscription is a caller's handle onto an in-flight or completed transfer.
// Events arrives in order and is closed after the final event; Close
// detaches the caller without affecting other subscribers.
type Subscription struct {
	Events <-chan Event

	coord  *Coordinator
	desc   core.Descriptor
	ch     chan Event
	closed chan struct{}
}

// Close detaches this subscription from its transfer. If it was the last
// subscriber, the underlying Producer's context is canceled.
func (s *Subscription) Close() {
	s.coord.unsubscribe(s.desc.Digest, s)
}

// Transfer joins or starts a transfer for desc. If a transfer for desc.Digest
// is already running, the returned Subscription observes it; otherwise
// produce is started in a new goroutine and this call becomes its origin
// subscriber. Only the origin ever sees produce's raw error: every other
// subscriber, having started no transfer of its own, gets back a
// core.TransferFailedError instead, since the raw error may describe a
// condition (a bad range request, a stale lock) specific to work it never
// asked for.
func (c *Coordinator) Transfer(ctx context.Context, desc core.Descriptor, produce Producer) *Subscription {
	c.mu.Lock()
	t, ok := c.transfers[desc.Digest]
	var sub *Subscription
	if !ok {
		tctx, cancel := context.WithCancel(context.Background())
		t = &transfer{
			desc:        desc,
			cancel:      cancel,
			subscribers: make(map[*Subscription]chan Event),
		}
		c.transfers[desc.Digest] = t
		sub = c.subscribe(t)
		t.origin = sub
		c.logger.Debug("transfer started", "digest", desc.Digest)
		go c.run(tctx, t, produce)
	}
	c.mu.Unlock()

	if sub == nil {
		sub = c.subscribe(t)
	}

	// A subscriber watches its own caller context independently of the
	// shared producer context: canceling one caller's ctx must not abort
	// the transfer for other subscribers still waiting on it. closed is a
	// distinct channel from Events, so this goroutine never competes with
	// the caller for the actual progress/terminal events.
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Close()
			case <-sub.closed:
			}
		}()
	}

	return sub
}

func (c *Coordinator) subscribe(t *transfer) *Subscription {
	ch := make(chan Event, 8)
	sub := &Subscription{Events: ch, coord: c, desc: t.desc, ch: ch, closed: make(chan struct{})}

	t.mu.Lock()
	if t.done {
		ch <- Event{Transferred: t.transferred, Total: t.desc.Size, Done: true, Err: terminalErr(t, sub)}
		close(ch)
		close(sub.closed)
		t.mu.Unlock()
		return sub
	}
	t.subscribers[sub] = ch
	if t.transferred > 0 {
		ch <- Event{Transferred: t.transferred, Total: t.desc.Size}
	}
	t.mu.Unlock()

	return sub
}

// terminalErr returns the error a subscriber's terminal event should carry:
// the origin gets produce's raw error, everyone else gets it wrapped in a
// TransferFailedError. Caller must hold t.mu.
func terminalErr(t *transfer, sub *Subscription) error {
	if t.err == nil || sub == t.origin {
		return t.err
	}
	return &core.TransferFailedError{Descriptor: t.desc}
}

func (c *Coordinator) unsubscribe(digest core.Digest, sub *Subscription) {
	c.mu.Lock()
	t, ok := c.transfers[digest]
	c.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	if _, present := t.subscribers[sub]; present {
		delete(t.subscribers, sub)
		close(sub.ch)
		close(sub.closed)
	}
	remaining := len(t.subscribers)
	finished := t.done
	t.mu.Unlock()

	if remaining == 0 && !finished {
		t.cancel()
	}
}

func (c *Coordinator) run(ctx context.Context, t *transfer, produce Producer) {
	err := produce(ctx, func(transferred, total int64) {
		t.mu.Lock()
		t.transferred = transferred
		for _, ch := range t.subscribers {
			select {
			case ch <- Event{Transferred: transferred, Total: total}:
			default:
				// subscriber's buffer is full and hasn't kept up; drop the
				// intermediate update, the terminal event still arrives.
			}
		}
		t.mu.Unlock()
	})

	t.mu.Lock()
	t.done = true
	t.err = err
	for sub, ch := range t.subscribers {
		sendTerminal(ch, Event{Transferred: t.transferred, Total: t.desc.Size, Done: true, Err: terminalErr(t, sub)})
		close(ch)
		close(sub.closed)
		delete(t.subscribers, sub)
	}
	t.mu.Unlock()

	c.mu.Lock()
	delete(c.transfers, t.desc.Digest)
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("transfer failed", "digest", t.desc.Digest, "error", err)
	} else {
		c.logger.Debug("transfer complete", "digest", t.desc.Digest)
	}
}

// sendTerminal delivers ev on ch even when ch's buffer is still full of
// stale progress events the subscriber hasn't drained, by discarding the
// oldest buffered event and retrying. run is the only sender on ch, so the
// retry cannot race another send; a blocking send here would hold t.mu
// while a subscriber calling Close waits on it.
func sendTerminal(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// InFlight reports the number of distinct digests currently transferring.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transfers)
}
