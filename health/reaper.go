package health

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/kbukum/meshprobe/component"
	"github.com/kbukum/meshprobe/logger"
	"github.com/kbukum/meshprobe/observability"
)

// Deregisterer removes an instance from the catalog.
type Deregisterer interface {
	Deregister(ctx context.Context, serviceID string) error
}

// DeregisterFunc adapts a function to Deregisterer.
type DeregisterFunc func(ctx context.Context, serviceID string) error

// Deregister calls f.
func (f DeregisterFunc) Deregister(ctx context.Context, serviceID string) error {
	return f(ctx, serviceID)
}

// Job is one pending deregistration.
type Job struct {
	ServiceID    string
	Deregisterer Deregisterer
	ResolutionID string
}

// ReaperStats is a snapshot of the reaper counters.
type ReaperStats struct {
	Queued    int   `json:"queued"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Reaper runs deregistration jobs on a fixed set of workers. Submission
// never blocks and never loses a job while the reaper runs: the backlog
// grows past QueueSize, which only marks the reaper degraded. Failures are
// logged and counted, never returned.
type Reaper struct {
	cfg     ReaperConfig
	log     *logger.Logger
	metrics *observability.ProbeMetrics
	limiter *rate.Limiter

	mu      sync.Mutex
	ready   *sync.Cond // signalled on submit and close
	backlog []Job
	wg      sync.WaitGroup
	started *atomic.Bool
	closed  *atomic.Bool

	succeeded *atomic.Int64
	failed    *atomic.Int64
	dropped   *atomic.Int64
}

var _ component.Component = (*Reaper)(nil)

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithReaperLogger sets the reaper logger.
func WithReaperLogger(l *logger.Logger) ReaperOption {
	return func(r *Reaper) { r.log = l }
}

// WithReaperMetrics records job results on m.
func WithReaperMetrics(m *observability.ProbeMetrics) ReaperOption {
	return func(r *Reaper) { r.metrics = m }
}

// NewReaper creates a stopped Reaper. Jobs submitted before Start wait in
// the backlog.
func NewReaper(cfg ReaperConfig, opts ...ReaperOption) *Reaper {
	cfg.ApplyDefaults()
	r := &Reaper{
		cfg:       cfg,
		backlog:   make([]Job, 0, cfg.QueueSize),
		started:   atomic.NewBool(false),
		closed:    atomic.NewBool(false),
		succeeded: atomic.NewInt64(0),
		failed:    atomic.NewInt64(0),
		dropped:   atomic.NewInt64(0),
	}
	r.ready = sync.NewCond(&r.mu)
	if cfg.Rate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst)
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.GetGlobalLogger()
	}
	r.log = r.log.WithComponent("reaper")
	return r
}

// Name implements component.Component.
func (r *Reaper) Name() string { return "reaper" }

// Start launches the workers.
func (r *Reaper) Start(context.Context) error {
	if r.closed.Load() {
		return fmt.Errorf("reaper: already stopped")
	}
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	r.log.Debug("reaper started", logger.Fields("workers", r.cfg.Workers, "queue_size", r.cfg.QueueSize))
	return nil
}

// Stop refuses new jobs and waits for the backlog to be worked off, or for
// ctx. A reaper that never started drops its backlog.
func (r *Reaper) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed.Swap(true) {
		r.mu.Unlock()
		return nil
	}
	r.ready.Broadcast()
	var orphaned []Job
	if !r.started.Load() {
		orphaned, r.backlog = r.backlog, nil
	}
	r.mu.Unlock()

	for _, job := range orphaned {
		r.drop(ctx, "stopped before start", job)
	}
	if !r.started.Load() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reaper: stop: %w", ctx.Err())
	}
}

// Health implements component.Component.
func (r *Reaper) Health(context.Context) component.Health {
	h := component.Health{Name: r.Name(), Status: component.StatusHealthy}
	switch {
	case r.closed.Load():
		h.Status, h.Message = component.StatusUnhealthy, "stopped"
	case !r.started.Load():
		h.Status, h.Message = component.StatusUnhealthy, "not started"
	case r.pending() >= r.cfg.QueueSize:
		h.Status, h.Message = component.StatusDegraded, "backlog over queue size"
	}
	return h
}

// Submit enqueues job without blocking. It reports false only when the
// reaper is stopped and the job was dropped.
func (r *Reaper) Submit(job Job) bool {
	r.mu.Lock()
	if r.closed.Load() {
		r.mu.Unlock()
		r.drop(context.Background(), "stopped", job)
		return false
	}
	r.backlog = append(r.backlog, job)
	n := len(r.backlog)
	r.ready.Signal()
	r.mu.Unlock()

	if n == r.cfg.QueueSize+1 {
		r.log.Warn("deregistration backlog over queue size", logger.Fields(
			"queue_size", r.cfg.QueueSize, logger.FieldServiceID, job.ServiceID,
		))
	}
	return true
}

// Stats returns the current counters.
func (r *Reaper) Stats() ReaperStats {
	return ReaperStats{
		Queued:    r.pending(),
		Succeeded: r.succeeded.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
	}
}

func (r *Reaper) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.backlog)
}

// next blocks until a job is available. It reports false once the reaper
// is stopped and the backlog is empty.
func (r *Reaper) next() (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.backlog) == 0 && !r.closed.Load() {
		r.ready.Wait()
	}
	if len(r.backlog) == 0 {
		return Job{}, false
	}
	job := r.backlog[0]
	r.backlog[0] = Job{}
	r.backlog = r.backlog[1:]
	return job, true
}

func (r *Reaper) work() {
	defer r.wg.Done()
	for {
		job, ok := r.next()
		if !ok {
			return
		}
		r.run(job)
	}
}

func (r *Reaper) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()
	ctx = logger.ContextWithResolutionID(ctx, job.ResolutionID)
	log := r.log.WithContext(ctx)

	if job.Deregisterer == nil {
		r.failed.Inc()
		r.metrics.RecordDeregistration(ctx, observability.DeregFailed)
		log.Warn("deregistration job without deregisterer", logger.Fields(logger.FieldServiceID, job.ServiceID))
		return
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			r.failed.Inc()
			r.metrics.RecordDeregistration(ctx, observability.DeregFailed)
			log.Warn("deregistration not attempted", logger.Fields(
				logger.FieldServiceID, job.ServiceID,
				logger.FieldError, err.Error(),
			))
			return
		}
	}

	if err := job.Deregisterer.Deregister(ctx, job.ServiceID); err != nil {
		r.failed.Inc()
		r.metrics.RecordDeregistration(ctx, observability.DeregFailed)
		log.Warn("deregistration failed", logger.Fields(
			logger.FieldServiceID, job.ServiceID,
			logger.FieldError, err.Error(),
		))
		return
	}
	r.succeeded.Inc()
	r.metrics.RecordDeregistration(ctx, observability.DeregOK)
	log.Info("unreachable instance deregistered", logger.Fields(logger.FieldServiceID, job.ServiceID))
}

func (r *Reaper) drop(ctx context.Context, reason string, jobs ...Job) {
	r.dropped.Inc()
	r.metrics.RecordReaperDrop(ctx)
	fields := logger.Fields("reason", reason)
	if len(jobs) > 0 {
		fields[logger.FieldServiceID] = jobs[0].ServiceID
	}
	r.log.Warn("deregistration job dropped", fields)
}
