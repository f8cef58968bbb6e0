package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrClosed          = errors.New("scheduler closed")
	ErrInvalidPriority = errors.New("invalid priority")
	ErrRetriesExceeded = errors.New("retries exhausted")
)

// ErrorClass tells the scheduler how to treat a failed operation.
type ErrorClass int

const (
	Permanent ErrorClass = iota
	RateLimited
	Transient
)

type Config struct {
	// MaxConcurrent caps in-flight operations.
	MaxConcurrent int
	// MinInterval is the minimum spacing between two dispatches.
	MinInterval time.Duration
	// BackoffUnit scales the rate-limit backoff: unit * 2^attempt.
	BackoffUnit time.Duration
	// RateLimitRetries is how many times a rate-limited request is
	// requeued at the front before failing.
	RateLimitRetries int
	// TransientRetries is how many times a timed-out or 5xx request is
	// re-appended to the back before failing.
	TransientRetries int
	// DefaultTimeout applies when Submit gets a zero timeout.
	DefaultTimeout time.Duration
	// TickInterval is the fallback dispatch tick; submissions and
	// completions also wake the loop.
	TickInterval time.Duration
	// Classify maps operation errors to a class. Deadline overruns of
	// the per-call timeout are always transient.
	Classify func(error) ErrorClass
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent:    5,
		MinInterval:      100 * time.Millisecond,
		BackoffUnit:      time.Second,
		RateLimitRetries: 3,
		TransientRetries: 2,
		DefaultTimeout:   30 * time.Second,
		TickInterval:     250 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be >= 1, got %d", c.MaxConcurrent)
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("min interval must be >= 0, got %s", c.MinInterval)
	}
	if c.BackoffUnit < 0 {
		return fmt.Errorf("backoff unit must be >= 0, got %s", c.BackoffUnit)
	}
	if c.RateLimitRetries < 0 || c.TransientRetries < 0 {
		return fmt.Errorf("retry counts must be >= 0")
	}
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("default timeout must be > 0, got %s", c.DefaultTimeout)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be > 0, got %s", c.TickInterval)
	}
	return nil
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	QueueDepth int
	InFlight   int
	ByPriority map[Priority]int
}

// Scheduler is a priority-ordered, concurrency-capped dispatcher shared by
// every upstream call of a process.
type Scheduler struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger

	mu       sync.Mutex
	queue    requestQueue
	inflight int
	nextSeq  int64
	frontSeq int64
	closed   bool

	wake    chan struct{}
	running sync.WaitGroup

	// newTicker supplies the fallback dispatch tick.
	newTicker func(d time.Duration) (<-chan time.Time, func())
}

func wallTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

func New(cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	return &Scheduler{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		wake:    make(chan struct{}, 1),

		newTicker: wallTicker,
	}, nil
}

// Submit queues op and blocks until it completes, fails permanently or
// ctx is cancelled. A zero timeout uses the configured default.
func (s *Scheduler) Submit(ctx context.Context, p Priority, timeout time.Duration, op Operation) (any, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, p)
	}
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	req := &request{
		id:       uuid.New(),
		priority: p,
		op:       op,
		timeout:  timeout,
		ctx:      ctx,
		done:     make(chan result, 1),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.nextSeq++
	req.seq = s.nextSeq
	heap.Push(&s.queue, req)
	s.mu.Unlock()
	s.signal()

	select {
	case r := <-req.done:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do is a typed wrapper around Submit.
func Do[T any](ctx context.Context, s *Scheduler, p Priority, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := s.Submit(ctx, p, timeout, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, nil
	}
	return out, nil
}

// Run drives the dispatch loop until ctx is cancelled. Requests still
// queued at that point fail with ErrClosed.
func (s *Scheduler) Run(ctx context.Context) {
	ticks, stop := s.newTicker(s.cfg.TickInterval)
	defer stop()

	s.logger.Info("scheduler started",
		zap.Int("maxConcurrent", s.cfg.MaxConcurrent),
		zap.Duration("minInterval", s.cfg.MinInterval),
	)

	for {
		s.dispatch(ctx)

		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-s.wake:
		case <-ticks:
		}
	}
}

// dispatch pops up to (cap - inflight) requests and starts them. It only
// blocks to honour the minimum spacing, never on a running request.
func (s *Scheduler) dispatch(ctx context.Context) {
	for {
		s.mu.Lock()
		ready := s.inflight < s.cfg.MaxConcurrent && s.queue.Len() > 0
		s.mu.Unlock()
		if !ready {
			return
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		s.mu.Lock()
		if s.queue.Len() == 0 || s.inflight >= s.cfg.MaxConcurrent {
			s.mu.Unlock()
			return
		}
		req := heap.Pop(&s.queue).(*request)
		if err := req.ctx.Err(); err != nil {
			s.mu.Unlock()
			req.deliver(nil, err)
			continue
		}
		s.inflight++
		s.running.Add(1)
		s.mu.Unlock()

		go s.execute(req)
	}
}

func (s *Scheduler) execute(req *request) {
	defer s.running.Done()

	callCtx, cancel := context.WithTimeout(req.ctx, req.timeout)
	val, err := req.op(callCtx)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) && req.ctx.Err() == nil
	cancel()

	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()

	s.settle(req, val, err, timedOut)
	s.signal()
}

func (s *Scheduler) settle(req *request, val any, err error, timedOut bool) {
	if err == nil {
		req.deliver(val, nil)
		return
	}
	if ctxErr := req.ctx.Err(); ctxErr != nil {
		req.deliver(nil, ctxErr)
		return
	}

	class := Permanent
	if timedOut {
		class = Transient
	} else if s.cfg.Classify != nil {
		class = s.cfg.Classify(err)
	}

	switch class {
	case RateLimited:
		if req.attempts >= s.cfg.RateLimitRetries {
			s.logger.Warn("rate limit retries exhausted",
				zap.String("request", req.id.String()),
				zap.Int("attempts", req.attempts),
			)
			req.deliver(nil, fmt.Errorf("%w after %d rate-limit retries: %w", ErrRetriesExceeded, req.attempts, err))
			return
		}
		req.attempts++
		delay := s.cfg.BackoffUnit * time.Duration(1<<req.attempts)
		s.logger.Debug("rate limited, backing off",
			zap.String("request", req.id.String()),
			zap.Int("attempt", req.attempts),
			zap.Duration("delay", delay),
		)
		time.AfterFunc(delay, func() { s.requeue(req, true) })

	case Transient:
		if req.retries >= s.cfg.TransientRetries {
			s.logger.Warn("transient retries exhausted",
				zap.String("request", req.id.String()),
				zap.Int("retries", req.retries),
				zap.Error(err),
			)
			req.deliver(nil, fmt.Errorf("%w after %d transient retries: %w", ErrRetriesExceeded, req.retries, err))
			return
		}
		req.retries++
		s.logger.Debug("transient failure, retrying",
			zap.String("request", req.id.String()),
			zap.Int("retry", req.retries),
			zap.Error(err),
		)
		s.requeue(req, false)

	default:
		req.deliver(nil, err)
	}
}

// requeue puts req back at the front or the back of its priority class.
func (s *Scheduler) requeue(req *request, front bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		req.deliver(nil, ErrClosed)
		return
	}
	if front {
		s.frontSeq--
		req.seq = s.frontSeq
	} else {
		s.nextSeq++
		req.seq = s.nextSeq
	}
	heap.Push(&s.queue, req)
	s.mu.Unlock()
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.closed = true
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, req := range pending {
		req.deliver(nil, ErrClosed)
	}

	s.running.Wait()
	s.logger.Info("scheduler stopped", zap.Int("dropped", len(pending)))
}

// QueueDepth returns the number of queued, not yet dispatched, requests.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// InFlight returns the number of dispatched, unfinished requests.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// Counts returns queued requests per priority.
func (s *Scheduler) Counts() map[Priority]int {
	return s.Stats().ByPriority
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := map[Priority]int{Interactive: 0, Feature: 0, Background: 0}
	for _, req := range s.queue {
		counts[req.priority]++
	}
	return Stats{
		QueueDepth: s.queue.Len(),
		InFlight:   s.inflight,
		ByPriority: counts,
	}
}
