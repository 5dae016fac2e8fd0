package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/virtual-queue/internal/cache"
	"github.com/spec-kit/virtual-queue/internal/domain"
	"github.com/spec-kit/virtual-queue/internal/events"
	"github.com/spec-kit/virtual-queue/internal/repository"
	"github.com/spec-kit/virtual-queue/internal/service"
)

const testTenant = "tenant-1"

type workerClock struct {
	mu  sync.Mutex
	now time.Time
}

func newWorkerClock() *workerClock {
	return &workerClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *workerClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *workerClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type workerFixture struct {
	queues    *repository.MemoryQueueRepository
	sessions  *repository.MemorySessionRepository
	admission *service.AdmissionService
	positions *service.PositionService
	clock     *workerClock
	worker    *ReleaseWorker
}

func newWorkerFixture(t *testing.T, cfg ReleaseWorkerConfig) *workerFixture {
	t.Helper()
	f := &workerFixture{
		queues:   repository.NewMemoryQueueRepository(),
		sessions: repository.NewMemorySessionRepository(),
		clock:    newWorkerClock(),
	}
	positionCache := cache.NewMemoryPositionCache(time.Minute)
	f.admission = service.NewAdmissionService(service.AdmissionDependencies{
		QueueRepo:     f.queues,
		SessionRepo:   f.sessions,
		PositionCache: positionCache,
		Dispatcher:    events.NewInMemoryDispatcher(),
		Registry:      service.NewQueueRegistry(),
		Clock:         f.clock.Now,
	})
	f.positions = service.NewPositionService(f.sessions, positionCache, nil, nil)
	cfg.Clock = f.clock.Now
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Second
	}
	f.worker = NewReleaseWorker(cfg, f.queues, f.admission, nil, nil)
	return f
}

func (f *workerFixture) createQueue(t *testing.T, capacity, rate int) *domain.Queue {
	t.Helper()
	queue := &domain.Queue{
		TenantID:             testTenant,
		Name:                 "launch",
		MaxConcurrentUsers:   capacity,
		ReleaseRatePerMinute: rate,
		IsActive:             true,
	}
	require.NoError(t, f.queues.Create(context.Background(), queue))
	return queue
}

func (f *workerFixture) enqueue(t *testing.T, queueID, user string) *domain.UserSession {
	t.Helper()
	session, err := f.admission.Enqueue(context.Background(), testTenant, queueID, service.EnqueueInput{UserIdentifier: user})
	require.NoError(t, err)
	return session
}

func (f *workerFixture) status(t *testing.T, queueID, sessionID string) domain.SessionStatus {
	t.Helper()
	session, err := f.sessions.GetByID(context.Background(), testTenant, queueID, sessionID)
	require.NoError(t, err)
	return session.Status
}

func TestReleaseWorkerStartJoinsOnCancel(t *testing.T) {
	f := newWorkerFixture(t, ReleaseWorkerConfig{TickInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go f.worker.Start(ctx)

	time.Sleep(20 * time.Millisecond)
	cancel()

	joined := make(chan struct{})
	go func() {
		f.worker.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}

func TestReleaseTickPromotesAndReordersLine(t *testing.T) {
	f := newWorkerFixture(t, ReleaseWorkerConfig{})
	queue := f.createQueue(t, 1, 60)

	first := f.enqueue(t, queue.ID, "u1")
	f.clock.Advance(time.Millisecond)
	second := f.enqueue(t, queue.ID, "u2")
	f.clock.Advance(time.Millisecond)
	third := f.enqueue(t, queue.ID, "u3")

	result, err := f.worker.RunReleaseTick(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, result.Promoted)

	assert.Equal(t, domain.SessionStatusActive, f.status(t, queue.ID, first.ID))
	assert.Equal(t, domain.SessionStatusWaiting, f.status(t, queue.ID, second.ID))
	assert.Equal(t, domain.SessionStatusWaiting, f.status(t, queue.ID, third.ID))

	released, err := f.positions.GetPosition(context.Background(), testTenant, queue.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, released.Position)

	next, err := f.positions.GetPosition(context.Background(), testTenant, queue.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, next.Position)

	last, err := f.positions.GetPosition(context.Background(), testTenant, queue.ID, "u3")
	require.NoError(t, err)
	assert.Equal(t, 2, last.Position)
}

func TestReleaseTickHonorsCapacityOverRate(t *testing.T) {
	f := newWorkerFixture(t, ReleaseWorkerConfig{})
	queue := f.createQueue(t, 1, 600)

	f.enqueue(t, queue.ID, "u1")
	f.clock.Advance(time.Millisecond)
	f.enqueue(t, queue.ID, "u2")

	result, err := f.worker.RunReleaseTick(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)
	assert.Len(t, result.Promoted, 1, "free capacity clamps the rate quota")

	// with the only slot occupied the next tick releases nothing
	f.clock.Advance(time.Second)
	result, err = f.worker.RunReleaseTick(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Promoted)
}

func TestReleaseTickAccruesFractionalAllowance(t *testing.T) {
	f := newWorkerFixture(t, ReleaseWorkerConfig{TickInterval: time.Second})
	queue := f.createQueue(t, 10, 30)

	f.enqueue(t, queue.ID, "u1")

	// 30 per minute at one-second ticks accrues 0.5 per tick
	result, err := f.worker.RunReleaseTick(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Promoted)

	f.clock.Advance(time.Second)
	result, err = f.worker.RunReleaseTick(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)
	assert.Len(t, result.Promoted, 1)
}

func TestReleaseTickCapsIdleBurst(t *testing.T) {
	f := newWorkerFixture(t, ReleaseWorkerConfig{TickInterval: time.Second})
	queue := f.createQueue(t, 100, 2)

	for _, user := range []string{"u1", "u2", "u3", "u4", "u5"} {
		f.enqueue(t, queue.ID, user)
		f.clock.Advance(time.Millisecond)
	}

	// prime the last-tick timestamp, then go idle for ten minutes
	_, err := f.worker.RunReleaseTick(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)

	result, err := f.worker.RunReleaseTick(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)
	assert.Len(t, result.Promoted, 2, "allowance never exceeds one minute of rate")
}

func TestReleaseTickSkipsInactiveQueue(t *testing.T) {
	f := newWorkerFixture(t, ReleaseWorkerConfig{})
	queue := f.createQueue(t, 5, 60)
	session := f.enqueue(t, queue.ID, "u1")

	queue.IsActive = false
	require.NoError(t, f.queues.Update(context.Background(), queue))

	result, err := f.worker.RunReleaseTick(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Promoted)
	assert.Equal(t, domain.SessionStatusWaiting, f.status(t, queue.ID, session.ID))
}

func TestReleaseTickDropsNoShows(t *testing.T) {
	f := newWorkerFixture(t, ReleaseWorkerConfig{WaitingSessionTTL: time.Minute})
	queue := f.createQueue(t, 5, 60)
	stale := f.enqueue(t, queue.ID, "u1")

	f.clock.Advance(2 * time.Minute)
	fresh := f.enqueue(t, queue.ID, "u2")

	result, err := f.worker.RunReleaseTick(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.SessionStatusDropped, f.status(t, queue.ID, stale.ID))
	assert.Equal(t, []string{fresh.ID}, result.Promoted, "the fresh entrant takes the freed order")
}

func TestReleaseTickDropsExpiredActiveSessions(t *testing.T) {
	f := newWorkerFixture(t, ReleaseWorkerConfig{ActiveSessionTTL: time.Minute})
	queue := f.createQueue(t, 1, 60)
	first := f.enqueue(t, queue.ID, "u1")
	f.clock.Advance(time.Millisecond)
	second := f.enqueue(t, queue.ID, "u2")

	result, err := f.worker.RunReleaseTick(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)
	require.Equal(t, []string{first.ID}, result.Promoted)

	// the released user never arrives; the slot is reclaimed next sweep
	f.clock.Advance(2 * time.Minute)
	result, err = f.worker.RunReleaseTick(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.SessionStatusDropped, f.status(t, queue.ID, first.ID))
	assert.Equal(t, []string{second.ID}, result.Promoted)
}

func TestStatsTrackReleases(t *testing.T) {
	f := newWorkerFixture(t, ReleaseWorkerConfig{})
	queue := f.createQueue(t, 2, 120)

	f.enqueue(t, queue.ID, "u1")
	f.clock.Advance(time.Millisecond)
	f.enqueue(t, queue.ID, "u2")

	_, err := f.worker.RunReleaseTick(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)

	total, lastTime, lastCount := f.worker.Stats()
	assert.Equal(t, int64(2), total)
	assert.Equal(t, f.clock.Now(), lastTime)
	assert.Equal(t, 2, lastCount)
}
