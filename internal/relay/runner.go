package relay

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/chat-bridge/internal/platform"
)

// Handler processes one inbound event. *Dispatcher implements it.
type Handler interface {
	Dispatch(ctx context.Context, ev platform.InboundEvent) (Result, error)
}

// Runner decouples inbound transports from relay latency: Submit enqueues
// and returns at once, and a fixed pool of workers drains the queue. When
// the queue is full the event is dropped; the platform's redelivery and the
// ledger absorb the loss.
type Runner struct {
	h       Handler
	queue   chan platform.InboundEvent
	workers int

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner returns a stopped runner.
func NewRunner(h Handler, workers, queueSize int) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Runner{h: h, queue: make(chan platform.InboundEvent, queueSize), workers: workers}
}

// Start launches the workers. Cancelling parent does not abort in-flight
// events; use Shutdown.
func (r *Runner) Start(parent context.Context) {
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(parent))
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work(i)
	}
	log.Info().Int("workers", r.workers).Int("queue", cap(r.queue)).Msg("relay runner started")
}

// Submit enqueues ev without blocking. It returns false when the queue is
// full or the runner is shut down.
func (r *Runner) Submit(ev platform.InboundEvent) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.queue <- ev:
		queueDepth.Inc()
		return true
	default:
		queueDropped.WithLabelValues(string(ev.Platform)).Inc()
		return false
	}
}

// Shutdown stops accepting events and waits for queued ones to finish. If
// ctx ends first, in-flight dispatches are cancelled and ctx.Err returned.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		if r.cancel != nil {
			r.cancel()
		}
		return nil
	case <-ctx.Done():
		if r.cancel != nil {
			r.cancel()
		}
		return ctx.Err()
	}
}

func (r *Runner) work(id int) {
	defer r.wg.Done()
	for ev := range r.queue {
		queueDepth.Dec()
		res, err := r.h.Dispatch(r.ctx, ev)
		if err != nil {
			log.Error().Err(err).
				Int("worker", id).
				Str("platform", string(ev.Platform)).
				Str("message_id", ev.MessageID).
				Msg("relay dispatch failed")
			continue
		}
		log.Debug().
			Int("worker", id).
			Str("platform", string(ev.Platform)).
			Str("message_id", ev.MessageID).
			Str("outcome", string(res.Outcome)).
			Str("reason", res.Reason).
			Int("relayed", res.Relayed).
			Int("failed", res.Failed).
			Msg("relay dispatch done")
	}
}
