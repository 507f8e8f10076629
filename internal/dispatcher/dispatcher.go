// Package dispatcher runs background analyses on a bounded worker pool.
package dispatcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cexll/ci-agent/internal/intel"
)

var (
	// ErrQueueFull is returned when the queue has no free slot
	ErrQueueFull = errors.New("analysis queue is full")
	// ErrQueueClosed is returned after Shutdown
	ErrQueueClosed = errors.New("analysis queue is closed")
)

// Job is one queued analysis
type Job struct {
	ID        string
	SessionID string
	Request   intel.Request
	// Source names the trigger, e.g. "api" or "webhook".
	Source   string
	Identity string
	Cost     int
	Attempt  int
	Enqueued time.Time
}

// Key serialises jobs for the same competitor and mode
func (j *Job) Key() string {
	return strings.ToLower(strings.TrimSpace(j.Request.Competitor)) + "_" + string(j.Request.Mode)
}

// Executor runs a job
type Executor interface {
	Execute(ctx context.Context, job *Job) error
}

// Abandoner is implemented by executors that need to know when a job
// will not be attempted again.
type Abandoner interface {
	Abandon(job *Job, err error)
}

// Config controls dispatcher behaviour
type Config struct {
	Workers           int
	QueueSize         int
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// Stats is a point-in-time view of the queue
type Stats struct {
	Workers  int `json:"workers"`
	Queued   int `json:"queued"`
	Capacity int `json:"capacity"`
	Running  int `json:"running"`
}

// Dispatcher serialises jobs per key and retries failed jobs with backoff
type Dispatcher struct {
	executor Executor
	cfg      Config

	queue chan *queueItem

	keyedLocks *keyedMutex

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running int

	once sync.Once
}

type queueItem struct {
	job     *Job
	attempt int
}

// New creates a dispatcher and starts its workers
func New(executor Executor, cfg Config) *Dispatcher {
	normalized := normalizeConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		executor:   executor,
		cfg:        normalized,
		queue:      make(chan *queueItem, normalized.QueueSize),
		keyedLocks: newKeyedMutex(),
		ctx:        ctx,
		cancel:     cancel,
		stopCh:     make(chan struct{}),
	}
	d.startWorkers()
	return d
}

func normalizeConfig(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 15 * time.Second
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	return cfg
}

func (d *Dispatcher) startWorkers() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Enqueue queues a job for its first attempt
func (d *Dispatcher) Enqueue(job *Job) error {
	if job == nil {
		return errors.New("dispatcher enqueue: job is nil")
	}

	select {
	case <-d.stopCh:
		return ErrQueueClosed
	default:
	}

	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now()
	}
	select {
	case d.queue <- &queueItem{job: job, attempt: 1}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stats reports queue depth and running jobs
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Workers:  d.cfg.Workers,
		Queued:   len(d.queue),
		Capacity: cap(d.queue),
		Running:  d.running,
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case item, ok := <-d.queue:
			if !ok {
				return
			}
			d.process(item)
		}
	}
}

func (d *Dispatcher) process(item *queueItem) {
	job := item.job
	job.Attempt = item.attempt
	key := job.Key()
	log := zap.L().With(zap.String("job", job.ID), zap.String("key", key), zap.Int("attempt", item.attempt))

	d.keyedLocks.Lock(key)
	d.setRunning(1)
	err := d.executor.Execute(d.ctx, job)
	d.setRunning(-1)
	d.keyedLocks.Unlock(key)

	if err == nil {
		log.Info("job succeeded")
		return
	}

	log.Warn("job attempt failed", zap.Error(err))
	if IsNonRetryable(err) {
		log.Info("job marked non-retryable; no further attempts")
		d.abandon(job, err)
		return
	}
	d.handleRetry(item, err)
}

func (d *Dispatcher) setRunning(delta int) {
	d.mu.Lock()
	d.running += delta
	d.mu.Unlock()
}

func (d *Dispatcher) abandon(job *Job, err error) {
	if a, ok := d.executor.(Abandoner); ok {
		a.Abandon(job, err)
	}
}

func (d *Dispatcher) handleRetry(item *queueItem, execErr error) {
	if item.attempt >= d.cfg.MaxAttempts {
		zap.L().Error("job exceeded max attempts",
			zap.String("job", item.job.ID),
			zap.Int("max_attempts", d.cfg.MaxAttempts),
			zap.Error(execErr))
		d.abandon(item.job, execErr)
		return
	}

	nextAttempt := item.attempt + 1
	delay := d.backoffDuration(nextAttempt)
	zap.L().Info("scheduling job retry",
		zap.String("job", item.job.ID),
		zap.Int("attempt", nextAttempt),
		zap.Duration("delay", delay))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			d.enqueueRetry(&queueItem{job: item.job, attempt: nextAttempt})
		case <-d.stopCh:
			d.abandon(item.job, ErrQueueClosed)
		}
	}()
}

func (d *Dispatcher) enqueueRetry(item *queueItem) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			d.abandon(item.job, ErrQueueClosed)
			return
		case d.queue <- item:
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) backoffDuration(attempt int) time.Duration {
	backoff := float64(d.cfg.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= d.cfg.BackoffMultiplier
		if backoff >= float64(d.cfg.MaxBackoff) {
			return d.cfg.MaxBackoff
		}
	}
	return time.Duration(backoff)
}

// Shutdown stops accepting jobs, cancels running ones and waits for the
// workers until ctx expires. Jobs still queued or waiting for a retry are
// abandoned with ErrQueueClosed.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.once.Do(func() {
		close(d.stopCh)
		d.cancel()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
		d.drain()
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case item := <-d.queue:
			d.abandon(item.job, ErrQueueClosed)
		default:
			return
		}
	}
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[string]*refMutex),
	}
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		return
	}
	m.refs--
	if m.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	m.Unlock()
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
