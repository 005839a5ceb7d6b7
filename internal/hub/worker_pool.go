package hub

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"duelcore/internal/monitoring"
)

// fanoutTask is one broadcast-to-one-session unit of work.
type fanoutTask func()

// fanoutPool bounds the goroutines spawned by a broadcast so that
// BroadcastAll against a large roster doesn't block the caller (the
// NATS subscription callback, or an online-count broadcast) on every
// session's enqueue call.
//
// If the queue is full the task is dropped rather than blocking or
// spawning unbounded goroutines — a slow session already has its own
// bounded send buffer (Session.send) and drops frames there too.
type fanoutPool struct {
	queue   chan fanoutTask
	wg      sync.WaitGroup
	dropped atomic.Int64
	logger  zerolog.Logger
}

func newFanoutPool(workers, queueSize int, logger zerolog.Logger) *fanoutPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < workers {
		queueSize = workers * 100
	}
	return &fanoutPool{queue: make(chan fanoutTask, queueSize), logger: logger}
}

func (p *fanoutPool) start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *fanoutPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(task)
		case <-ctx.Done():
			return
		}
	}
}

func (p *fanoutPool) run(task fanoutTask) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("fanout task panicked")
		}
	}()
	task()
}

// submit enqueues task for async execution, dropping it if the queue
// is saturated.
func (p *fanoutPool) submit(task fanoutTask) {
	select {
	case p.queue <- task:
	default:
		p.dropped.Add(1)
		monitoring.MessagesDropped.WithLabelValues("broadcast_fanout").Inc()
	}
}
