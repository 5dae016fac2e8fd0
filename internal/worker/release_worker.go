package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/virtual-queue/internal/observability"
	"github.com/spec-kit/virtual-queue/internal/repository"
	"github.com/spec-kit/virtual-queue/internal/service"
)

// ReleaseWorkerConfig holds configuration for the release worker.
type ReleaseWorkerConfig struct {
	// TickInterval is the time between release cycles.
	TickInterval time.Duration
	// ActiveSessionTTL drops promoted sessions that never arrived;
	// zero disables the sweep.
	ActiveSessionTTL time.Duration
	// WaitingSessionTTL drops no-show waiting sessions; zero disables.
	WaitingSessionTTL time.Duration
	// Clock is injectable for tests; defaults to time.Now.
	Clock func() time.Time
}

// ReleaseWorker promotes waiting sessions into the active pool at each
// queue's configured release rate. A shared ticker visits every active
// queue; the per-tick quota is the rate-accrued allowance clamped by
// free capacity, so a missed tick only slows throughput and never breaks
// the capacity invariant.
type ReleaseWorker struct {
	cfg       ReleaseWorkerConfig
	queues    repository.QueueRepository
	admission *service.AdmissionService
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	done chan struct{}

	mu        sync.Mutex
	allowance map[queueRef]float64
	lastTick  map[queueRef]time.Time

	totalReleased    int64
	lastReleaseTime  time.Time
	lastReleaseCount int
}

type queueRef struct {
	tenantID string
	queueID  string
}

// NewReleaseWorker creates the worker.
func NewReleaseWorker(cfg ReleaseWorkerConfig, queues repository.QueueRepository, admission *service.AdmissionService, logger *zap.Logger, metrics *observability.Metrics) *ReleaseWorker {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReleaseWorker{
		cfg:       cfg,
		queues:    queues,
		admission: admission,
		logger:    logger,
		metrics:   metrics,
		now:       now,
		done:      make(chan struct{}),
		allowance: make(map[queueRef]float64),
		lastTick:  make(map[queueRef]time.Time),
	}
}

// Start runs the release loop until the context is cancelled. Callers that
// run it in a goroutine use Wait to join before tearing down the services
// the loop publishes through.
func (w *ReleaseWorker) Start(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	w.logger.Info("release worker started",
		zap.Duration("tick_interval", w.cfg.TickInterval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("release worker stopping")
			return
		case <-ticker.C:
			w.processAllQueues(ctx)
		}
	}
}

func (w *ReleaseWorker) processAllQueues(ctx context.Context) {
	start := w.now()
	queues, err := w.queues.ListActive(ctx)
	if err != nil {
		w.logger.Error("failed to list active queues", zap.Error(err))
		return
	}

	for i := range queues {
		select {
		case <-ctx.Done():
			return
		default:
		}
		queue := &queues[i]
		if _, err := w.RunReleaseTick(ctx, queue.TenantID, queue.ID); err != nil {
			// one queue's failure must not starve the others
			w.logger.Error("release tick failed",
				zap.String("queue_id", queue.ID),
				zap.Error(err))
		}
	}
	w.metrics.ObserveReleaseTick(w.now().Sub(start))
}

// RunReleaseTick performs one release cycle for one queue: sweep expired
// sessions, compute the rate-limited quota, select and promote. It is the
// externally invocable unit; ticks are independent and retryable.
func (w *ReleaseWorker) RunReleaseTick(ctx context.Context, tenantID, queueID string) (*service.PromotionResult, error) {
	queue, err := w.queues.GetByID(ctx, tenantID, queueID)
	if err != nil {
		return nil, err
	}
	empty := &service.PromotionResult{Promoted: []string{}, AlreadyActive: []string{}, Skipped: []string{}}
	if !queue.AcceptsEntrants(w.now()) {
		return empty, nil
	}

	w.sweepExpired(ctx, tenantID, queueID)

	free, err := w.admission.ComputeFreeCapacity(ctx, tenantID, queueID)
	if err != nil {
		return nil, err
	}

	quota := w.accrueQuota(tenantID, queueID, queue.ReleaseRatePerMinute)
	if quota > free {
		quota = free
	}
	if quota <= 0 {
		return empty, nil
	}

	selected, err := w.admission.SelectNextToPromote(ctx, tenantID, queueID, quota)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return empty, nil
	}

	result, err := w.admission.Promote(ctx, tenantID, queueID, selected)
	if err != nil {
		return nil, err
	}
	w.settle(tenantID, queueID, len(result.Promoted))

	if len(result.Promoted) > 0 {
		w.logger.Info("released sessions",
			zap.String("queue_id", queueID),
			zap.Int("promoted", len(result.Promoted)),
			zap.Int("skipped", len(result.Skipped)))
	}
	return result, nil
}

// accrueQuota advances the queue's fractional allowance by the elapsed
// time since its last tick. The allowance is capped at one minute's worth
// of releases so an idle queue cannot burst past its rate.
func (w *ReleaseWorker) accrueQuota(tenantID, queueID string, ratePerMinute int) int {
	key := queueRef{tenantID: tenantID, queueID: queueID}
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	elapsed := w.cfg.TickInterval
	if last, ok := w.lastTick[key]; ok {
		elapsed = now.Sub(last)
	}
	if elapsed > time.Minute {
		elapsed = time.Minute
	}
	w.lastTick[key] = now

	allowance := w.allowance[key] + float64(ratePerMinute)*elapsed.Seconds()/60.0
	if allowance > float64(ratePerMinute) {
		allowance = float64(ratePerMinute)
	}
	w.allowance[key] = allowance
	return int(allowance)
}

func (w *ReleaseWorker) settle(tenantID, queueID string, promoted int) {
	key := queueRef{tenantID: tenantID, queueID: queueID}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.allowance[key] -= float64(promoted)
	if w.allowance[key] < 0 {
		w.allowance[key] = 0
	}
	w.totalReleased += int64(promoted)
	w.lastReleaseTime = w.now()
	w.lastReleaseCount = promoted
}

// sweepExpired drops active sessions past the arrival TTL and waiting
// sessions past the no-show TTL. Individual failures are logged and the
// sweep continues.
func (w *ReleaseWorker) sweepExpired(ctx context.Context, tenantID, queueID string) {
	now := w.now()
	if w.cfg.ActiveSessionTTL > 0 {
		expired, err := w.admission.ListActiveExpired(ctx, tenantID, queueID, now.Add(-w.cfg.ActiveSessionTTL))
		if err != nil {
			w.logger.Warn("active expiry listing failed", zap.String("queue_id", queueID), zap.Error(err))
		}
		for _, sessionID := range expired {
			if err := w.admission.Drop(ctx, tenantID, queueID, sessionID, "active_expired"); err != nil {
				w.logger.Warn("active expiry drop failed",
					zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}
	if w.cfg.WaitingSessionTTL > 0 {
		expired, err := w.admission.ListWaitingExpired(ctx, tenantID, queueID, now.Add(-w.cfg.WaitingSessionTTL))
		if err != nil {
			w.logger.Warn("waiting expiry listing failed", zap.String("queue_id", queueID), zap.Error(err))
		}
		for _, sessionID := range expired {
			if err := w.admission.Drop(ctx, tenantID, queueID, sessionID, "no_show"); err != nil {
				w.logger.Warn("no-show drop failed",
					zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}
}

// Wait blocks until Start has returned.
func (w *ReleaseWorker) Wait() {
	<-w.done
}

// Stats returns release counters for introspection endpoints.
func (w *ReleaseWorker) Stats() (totalReleased int64, lastReleaseTime time.Time, lastReleaseCount int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalReleased, w.lastReleaseTime, w.lastReleaseCount
}
