package triage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/triagestack/triage-engine/internal/metrics"
	"github.com/triagestack/triage-engine/internal/models"
)

// ErrBusy reports a full per-key queue. The caller tells the user to
// retry shortly; nothing is queued.
var ErrBusy = errors.New("triage queue full, retry shortly")

// ErrPoolClosed reports a submission after shutdown began.
var ErrPoolClosed = errors.New("triage pool is shut down")

type job struct {
	run func(ctx context.Context)
}

// actor serializes jobs for one incident key.
type actor struct {
	queue chan job
}

// Pool schedules triage jobs. Each incident key gets its own actor
// goroutine so jobs for the same key apply in FIFO order, while a global
// semaphore bounds how many jobs run at once across keys. Actors whose
// queue stays empty past the idle grace period retire; the next
// submission for that key starts a fresh one.
type Pool struct {
	service    *Service
	sem        chan struct{}
	queueDepth int
	idleAfter  time.Duration
	logger     *slog.Logger
	baseCtx    context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	actors     map[string]*actor
	closed     bool
}

// NewPool builds the pool. parallelism bounds concurrently running jobs,
// queueDepth bounds pending jobs per key.
func NewPool(service *Service, parallelism, queueDepth int, logger *slog.Logger) *Pool {
	if parallelism <= 0 {
		parallelism = 2
	}
	if queueDepth <= 0 {
		queueDepth = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		service:    service,
		sem:        make(chan struct{}, parallelism),
		queueDepth: queueDepth,
		idleAfter:  5 * time.Minute,
		logger:     logger,
		baseCtx:    ctx,
		cancel:     cancel,
		actors:     make(map[string]*actor),
	}
}

// SubmitTriage enqueues one triage job for the request's incident key.
func (p *Pool) SubmitTriage(req models.TriageRequest, cmd models.Command) error {
	return p.Submit(req.IncidentKey, func(ctx context.Context) {
		p.service.RunJob(ctx, req, cmd)
	})
}

// SubmitProduct enqueues a documentation lookup under the incident key so
// it queues behind any in-flight triage for the same thread.
func (p *Pool) SubmitProduct(key, query string) error {
	return p.Submit(key, func(ctx context.Context) {
		p.service.RunProductQuery(ctx, key, query)
	})
}

// Submit enqueues one task for a key. Returns ErrBusy without queueing
// when the key's queue is full. The enqueue happens under the pool lock
// so a retiring actor can never miss a job.
func (p *Pool) Submit(key string, run func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	a, ok := p.actors[key]
	if !ok {
		a = &actor{queue: make(chan job, p.queueDepth)}
		p.actors[key] = a
		p.wg.Add(1)
		go p.runActor(key, a)
	}

	select {
	case a.queue <- job{run: run}:
		return nil
	default:
		metrics.ObservePoolRejection()
		p.logger.Warn("queue full, submission rejected",
			slog.String("incident_key", key))
		return ErrBusy
	}
}

// runActor drains one key's queue in order, taking a semaphore slot per
// job. An actor whose queue has been empty for the idle grace period
// removes itself from the actor table and exits.
func (p *Pool) runActor(key string, a *actor) {
	defer p.wg.Done()
	idle := time.NewTimer(p.idleAfter)
	defer idle.Stop()
	for {
		select {
		case <-p.baseCtx.Done():
			return
		case j := <-a.queue:
			select {
			case p.sem <- struct{}{}:
			case <-p.baseCtx.Done():
				return
			}
			j.run(p.baseCtx)
			<-p.sem
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.idleAfter)
		case <-idle.C:
			p.mu.Lock()
			if len(a.queue) == 0 {
				delete(p.actors, key)
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			idle.Reset(p.idleAfter)
		}
	}
}

// Close stops accepting work, cancels running jobs and waits for the
// actors to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// QueuedJobs reports the number of pending jobs across all keys.
func (p *Pool) QueuedJobs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, a := range p.actors {
		total += len(a.queue)
	}
	return total
}
