// Package worker provides an asynchronous worker pool that persists completed
// assistant replies after the relay has finished streaming them to the client.
//
// The pool keeps storage and event publishing off the relay's HTTP hot path so
// the client sees the agent stream without added latency.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aip-agents/aip/pkg/storage"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
	defaultJobTimeout        = 30 * time.Second
)

// Persister stores a completed assistant reply. *chat.Service implements it.
type Persister interface {
	CompleteTurn(ctx context.Context, session *storage.Session, text string, metadata map[string]any) (*storage.Message, error)
}

// Job is one completed reply waiting to be stored.
type Job struct {
	Session  *storage.Session
	Text     string
	Metadata map[string]any

	// StartedAt is when the relayed stream began. Used for logging only.
	StartedAt time.Time
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Persister stores assistant replies.
	Persister Persister

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// JobTimeout bounds a single persistence attempt (defaults to 30s).
	JobTimeout time.Duration

	// OnResult, if set, is called after every processed job with its error.
	OnResult func(job Job, err error)

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool processes persistence jobs asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Persister == nil {
		return nil, errors.New("worker pool requires a persister")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.JobTimeout == 0 {
		c.JobTimeout = defaultJobTimeout
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full or the pool is closed,
// resulting in the job being dropped.
func (p *Pool) Enqueue(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Error("job not queued, pool closed, job dropped",
			zap.String("session_id", job.Session.ID),
		)
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("job queued",
			zap.String("session_id", job.Session.ID),
			zap.Int("content_length", len(job.Text)),
		)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			zap.String("session_id", job.Session.ID),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the relay HTTP server has stopped.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("persistence worker stopped", zap.Uint("worker_id", id))
}

func (p *Pool) processJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
	defer cancel()

	msg, err := p.config.Persister.CompleteTurn(ctx, job.Session, job.Text, job.Metadata)
	if p.config.OnResult != nil {
		p.config.OnResult(job, err)
	}
	if err != nil {
		p.logger.Error("async reply storage failed",
			zap.String("session_id", job.Session.ID),
			zap.Error(err),
		)
		return
	}

	fields := []zap.Field{
		zap.String("session_id", job.Session.ID),
		zap.String("message_id", msg.ID),
	}
	if !job.StartedAt.IsZero() {
		fields = append(fields, zap.Duration("turn_duration", time.Since(job.StartedAt)))
	}
	p.logger.Info("assistant reply stored", fields...)
}
