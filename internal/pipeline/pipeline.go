package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"aura-gateway/internal/config"
	"aura-gateway/internal/metrics"
	"aura-gateway/internal/models"
	"aura-gateway/internal/util"

	"go.uber.org/zap"
)

var (
	// ErrQueueSaturated is returned by Submit when the queue is at capacity.
	ErrQueueSaturated = errors.New("ingestion queue saturated")
	// ErrPipelineClosed is returned by Submit once Shutdown has begun.
	ErrPipelineClosed = errors.New("ingestion pipeline closed")
)

// Archiver appends the raw event to an audit record.
type Archiver interface {
	Archive(ctx context.Context, event models.TelemetryEvent) error
}

// Forwarder hands the event to the scoring engine.
type Forwarder interface {
	Forward(ctx context.Context, event models.TelemetryEvent) error
}

type Config struct {
	Workers        int
	QueueSize      int
	ArchiveTimeout time.Duration
	ShutdownGrace  time.Duration

	// MaxRetries is the number of additional forward attempts after the
	// first failure. Zero disables retry.
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// ConfigFrom maps the application config onto pipeline settings.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Workers:        cfg.Pipeline.Workers,
		QueueSize:      cfg.Pipeline.QueueSize,
		ArchiveTimeout: cfg.Pipeline.ArchiveTimeout,
		ShutdownGrace:  cfg.Pipeline.ShutdownGrace,
		MaxRetries:     cfg.Scoring.MaxRetries,
		RetryBaseDelay: cfg.Scoring.RetryBaseDelay,
		RetryMaxDelay:  cfg.Scoring.RetryMaxDelay,
	}
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1
	}
	if c.ArchiveTimeout <= 0 {
		c.ArchiveTimeout = 2 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 15 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 200 * time.Millisecond
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		c.RetryMaxDelay = c.RetryBaseDelay
	}
	return c
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	Queued        int    `json:"queued"`
	InFlight      int64  `json:"inFlight"`
	Accepted      uint64 `json:"accepted"`
	Processed     uint64 `json:"processed"`
	Forwarded     uint64 `json:"forwarded"`
	ForwardFailed uint64 `json:"forwardFailed"`
	ArchiveFailed uint64 `json:"archiveFailed"`
	Panics        uint64 `json:"panics"`
	Dropped       uint64 `json:"dropped"`
}

// Pipeline is a bounded queue drained by a fixed pool of workers. Each event
// is archived, then forwarded, then logged, by exactly one worker.
type Pipeline struct {
	cfg       Config
	archiver  Archiver
	forwarder Forwarder
	logger    *zap.Logger

	queue chan models.TelemetryEvent
	stop  chan struct{}

	// mu guards closed; Submit holds the read side across its send so that
	// Shutdown never races an enqueue.
	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce    sync.Once
	shutdownOnce sync.Once
	shutdownErr  error

	inFlight      atomic.Int64
	accepted      atomic.Uint64
	processed     atomic.Uint64
	forwarded     atomic.Uint64
	forwardFailed atomic.Uint64
	archiveFailed atomic.Uint64
	panics        atomic.Uint64
	dropped       atomic.Uint64
}

func New(cfg Config, archiver Archiver, forwarder Forwarder, logger *zap.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:       cfg,
		archiver:  archiver,
		forwarder: forwarder,
		logger:    logger.Named("pipeline"),
		queue:     make(chan models.TelemetryEvent, cfg.QueueSize),
		stop:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker pool. Calling it more than once is a no-op.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.cfg.Workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		p.logger.Info("Ingestion pipeline started",
			zap.Int("workers", p.cfg.Workers),
			zap.Int("queue_size", p.cfg.QueueSize),
			zap.Int("max_retries", p.cfg.MaxRetries),
		)
	})
}

// Submit enqueues the event without blocking.
func (p *Pipeline) Submit(event models.TelemetryEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPipelineClosed
	}

	select {
	case p.queue <- event:
		p.accepted.Add(1)
		metrics.SetQueueDepth(len(p.queue))
		return nil
	default:
		return ErrQueueSaturated
	}
}

// Shutdown stops accepting events, lets in-flight events finish and drops
// whatever is still queued. If ctx carries no deadline the configured grace
// period applies. When the grace period runs out in-flight work is cancelled
// and context.DeadlineExceeded is returned.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.shutdown(ctx)
	})
	return p.shutdownErr
}

func (p *Pipeline) shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	close(p.stop)
	p.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ShutdownGrace)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		p.logger.Warn("Shutdown grace period expired, cancelling in-flight events",
			zap.Int64("in_flight", p.inFlight.Load()),
		)
		p.cancel()
		<-done
	}
	p.cancel()

	dropped := p.drain()
	metrics.SetQueueDepth(0)
	p.logger.Info("Ingestion pipeline stopped",
		zap.Int("dropped", dropped),
		zap.Uint64("processed", p.processed.Load()),
	)
	return err
}

// drain discards queued events once every worker has exited.
func (p *Pipeline) drain() int {
	n := 0
	for {
		select {
		case <-p.queue:
			n++
		default:
			p.discard(n)
			return n
		}
	}
}

func (p *Pipeline) discard(n int) {
	if n == 0 {
		return
	}
	p.dropped.Add(uint64(n))
	metrics.EventsDropped(n)
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Queued:        len(p.queue),
		InFlight:      p.inFlight.Load(),
		Accepted:      p.accepted.Load(),
		Processed:     p.processed.Load(),
		Forwarded:     p.forwarded.Load(),
		ForwardFailed: p.forwardFailed.Load(),
		ArchiveFailed: p.archiveFailed.Load(),
		Panics:        p.panics.Load(),
		Dropped:       p.dropped.Load(),
	}
}

func (p *Pipeline) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case event := <-p.queue:
			metrics.SetQueueDepth(len(p.queue))
			// stop may have closed while both cases were ready
			select {
			case <-p.stop:
				p.discard(1)
				return
			default:
			}
			p.process(id, event)
		}
	}
}

// process runs one event through archive -> forward -> log. A panic is
// confined to the event that caused it.
func (p *Pipeline) process(workerID int, event models.TelemetryEvent) {
	p.inFlight.Add(1)
	defer func() {
		p.inFlight.Add(-1)
		p.processed.Add(1)
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("Recovered panic while processing event",
				zap.Int("worker", workerID),
				zap.String("event_id", util.SanitizeLogValue(event.EventID)),
				zap.Any("panic", r),
			)
		}
	}()

	fields := []zap.Field{
		zap.Int("worker", workerID),
		zap.String("event_id", util.SanitizeLogValue(event.EventID)),
		zap.String("endpoint_id", util.SanitizeLogValue(event.EndpointID)),
		zap.String("event_type", util.SanitizeLogValue(event.EventType)),
	}

	if p.archiver != nil {
		archiveCtx, cancel := context.WithTimeout(p.ctx, p.cfg.ArchiveTimeout)
		err := p.archiver.Archive(archiveCtx, event)
		cancel()
		if err != nil {
			p.archiveFailed.Add(1)
			p.logger.Warn("Raw archive failed, forwarding anyway", append(fields, zap.Error(err))...)
		}
	}

	start := time.Now()
	attempts, err := p.forward(event)
	elapsed := time.Since(start)
	fields = append(fields, zap.Int("attempts", attempts), zap.Duration("duration", elapsed))

	if err != nil {
		p.forwardFailed.Add(1)
		metrics.ObserveForward(elapsed, metrics.OutcomeError)
		p.logger.Error("Forward to scoring engine failed", append(fields, zap.Error(err))...)
		return
	}

	p.forwarded.Add(1)
	metrics.ObserveForward(elapsed, metrics.OutcomeSuccess)
	p.logger.Debug("Event forwarded to scoring engine", fields...)
}

// forward calls the forwarder, retrying with capped exponential backoff up to
// MaxRetries additional times. Backoff waits end early on cancellation.
func (p *Pipeline) forward(event models.TelemetryEvent) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.backoff(attempt - 1))
			select {
			case <-p.ctx.Done():
				timer.Stop()
				return attempt, fmt.Errorf("retry abandoned: %w", lastErr)
			case <-timer.C:
			}
		}

		if err := p.forwarder.Forward(p.ctx, event); err != nil {
			lastErr = err
			continue
		}
		return attempt + 1, nil
	}
	return p.cfg.MaxRetries + 1, lastErr
}

// backoff returns base * 2^n, capped at RetryMaxDelay.
func (p *Pipeline) backoff(n int) time.Duration {
	d := p.cfg.RetryBaseDelay
	for i := 0; i < n; i++ {
		d *= 2
		if d >= p.cfg.RetryMaxDelay {
			return p.cfg.RetryMaxDelay
		}
	}
	return d
}
