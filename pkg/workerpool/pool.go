// Package workerpool provides a small bounded pool for fanning out independent
// jobs, such as re-registering reminders for every drug after a settings change.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of work. The name shows up in logs and failure reports.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Failure pairs a failed job with its error.
type Failure struct {
	Name string
	Err  error
}

// Config holds pool sizing and retry behaviour.
type Config struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig sizes the pool for reschedule fan-out: a handful of workers is
// plenty, the sink calls are cheap.
func DefaultConfig() Config {
	return Config{
		Workers:    8,
		QueueSize:  256,
		MaxRetries: 2,
		RetryDelay: 50 * time.Millisecond,
	}
}

// Pool runs submitted jobs on a fixed set of workers and collects failures.
type Pool struct {
	config Config
	logger *zap.Logger

	jobs chan Job
	wg   sync.WaitGroup

	mu       sync.Mutex
	failures []Failure

	submitted int64
	completed int64
	failed    int64
	retried   int64

	started bool
	closed  bool
}

func New(cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}

	return &Pool{
		config: cfg,
		logger: logger,
		jobs:   make(chan Job, cfg.QueueSize),
	}
}

// Start launches the workers. Jobs run with the given context.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Debug("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit enqueues a job. It blocks while the queue is full so a mass
// reschedule cannot silently drop work.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("workerpool: pool closed")
	}

	select {
	case p.jobs <- job:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait closes the queue, waits for in-flight jobs, and returns the failures
// accumulated since Start. The pool cannot be reused afterwards.
func (p *Pool) Wait() []Failure {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.runJob(ctx, job)
	}
}

func (p *Pool) runJob(ctx context.Context, job Job) {
	var err error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			break
		}
		if err = job.Run(ctx); err == nil {
			atomic.AddInt64(&p.completed, 1)
			return
		}
		if attempt < p.config.MaxRetries {
			atomic.AddInt64(&p.retried, 1)
			select {
			case <-ctx.Done():
			case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
			}
		}
	}

	atomic.AddInt64(&p.failed, 1)
	p.logger.Warn("job failed", zap.String("job", job.Name), zap.Error(err))
	p.mu.Lock()
	p.failures = append(p.failures, Failure{Name: job.Name, Err: err})
	p.mu.Unlock()
}

// Stats reports cumulative counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Retried   int64
}

func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadInt64(&p.submitted),
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
		Retried:   atomic.LoadInt64(&p.retried),
	}
}
