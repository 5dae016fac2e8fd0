package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/virtual-queue/internal/cache"
	"github.com/spec-kit/virtual-queue/internal/domain"
	"github.com/spec-kit/virtual-queue/internal/events"
	"github.com/spec-kit/virtual-queue/internal/repository"
	apperrors "github.com/spec-kit/virtual-queue/pkg/util/errorutil"
)

const testTenant = "tenant-1"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type admissionFixture struct {
	queues    *repository.MemoryQueueRepository
	sessions  *repository.MemorySessionRepository
	cache     *cache.MemoryPositionCache
	clock     *testClock
	admission *AdmissionService
}

func newAdmissionFixture(t *testing.T) *admissionFixture {
	t.Helper()
	f := &admissionFixture{
		queues:   repository.NewMemoryQueueRepository(),
		sessions: repository.NewMemorySessionRepository(),
		cache:    cache.NewMemoryPositionCache(time.Minute),
		clock:    newTestClock(),
	}
	f.admission = NewAdmissionService(AdmissionDependencies{
		QueueRepo:     f.queues,
		SessionRepo:   f.sessions,
		PositionCache: f.cache,
		Dispatcher:    events.NewInMemoryDispatcher(),
		Registry:      NewQueueRegistry(),
		Clock:         f.clock.Now,
	})
	return f
}

func (f *admissionFixture) createQueue(t *testing.T, capacity, rate int, active bool) *domain.Queue {
	t.Helper()
	queue := &domain.Queue{
		TenantID:             testTenant,
		Name:                 "launch",
		MaxConcurrentUsers:   capacity,
		ReleaseRatePerMinute: rate,
		IsActive:             active,
	}
	require.NoError(t, f.queues.Create(context.Background(), queue))
	return queue
}

func (f *admissionFixture) enqueue(t *testing.T, queueID, user string, priority domain.Priority) *domain.UserSession {
	t.Helper()
	session, err := f.admission.Enqueue(context.Background(), testTenant, queueID, EnqueueInput{
		UserIdentifier: user,
		Priority:       priority,
	})
	require.NoError(t, err)
	return session
}

func TestEnqueueCreatesWaitingSession(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 2, 60, true)

	session := f.enqueue(t, queue.ID, "user-1", "")

	assert.Equal(t, domain.SessionStatusWaiting, session.Status)
	assert.Equal(t, domain.PriorityNormal, session.Priority, "priority defaults to NORMAL")
	assert.Equal(t, f.clock.Now(), session.EnqueuedAt)
	assert.NotEmpty(t, session.ID)
}

func TestEnqueueRejectsDuplicateOpenSession(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 2, 60, true)
	first := f.enqueue(t, queue.ID, "user-1", "")

	_, err := f.admission.Enqueue(context.Background(), testTenant, queue.ID, EnqueueInput{UserIdentifier: "user-1"})

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeDuplicateSession))
	var domainErr *apperrors.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, first.ID, domainErr.Details["existing_session_id"])
}

func TestEnqueueAllowedAgainAfterTerminalSession(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 2, 60, true)
	first := f.enqueue(t, queue.ID, "user-1", "")
	require.NoError(t, f.admission.Leave(context.Background(), testTenant, queue.ID, first.ID))

	second := f.enqueue(t, queue.ID, "user-1", "")
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, domain.SessionStatusWaiting, second.Status)
}

func TestEnqueueInactiveQueue(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 2, 60, false)

	_, err := f.admission.Enqueue(context.Background(), testTenant, queue.ID, EnqueueInput{UserIdentifier: "user-1"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeQueueInactive))
}

func TestEnqueueOutsideScheduleWindow(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 2, 60, true)
	queue.Schedule = &domain.Schedule{
		OpensAt:  f.clock.Now().Add(time.Hour),
		ClosesAt: f.clock.Now().Add(2 * time.Hour),
	}
	require.NoError(t, f.queues.Update(context.Background(), queue))

	_, err := f.admission.Enqueue(context.Background(), testTenant, queue.ID, EnqueueInput{UserIdentifier: "user-1"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeQueueInactive))
}

func TestEnqueueUnknownQueueAndTenantIsolation(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 2, 60, true)

	_, err := f.admission.Enqueue(context.Background(), testTenant, "missing", EnqueueInput{UserIdentifier: "user-1"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeQueueNotFound))

	_, err = f.admission.Enqueue(context.Background(), "other-tenant", queue.ID, EnqueueInput{UserIdentifier: "user-1"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeQueueNotFound), "queues are invisible across tenants")
}

func TestEnqueueValidation(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 2, 60, true)

	_, err := f.admission.Enqueue(context.Background(), testTenant, queue.ID, EnqueueInput{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationFailed))

	_, err = f.admission.Enqueue(context.Background(), testTenant, queue.ID, EnqueueInput{
		UserIdentifier: "user-1",
		Priority:       domain.Priority("URGENT"),
	})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationFailed))
}

func TestSelectNextToPromoteOrders(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 5, 60, true)

	normal := f.enqueue(t, queue.ID, "user-normal", domain.PriorityNormal)
	f.clock.Advance(time.Second)
	low := f.enqueue(t, queue.ID, "user-low", domain.PriorityLow)
	f.clock.Advance(time.Second)
	high := f.enqueue(t, queue.ID, "user-high", domain.PriorityHigh)

	selected, err := f.admission.SelectNextToPromote(context.Background(), testTenant, queue.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{high.ID, normal.ID, low.ID}, selected,
		"high priority releases first even when enqueued last")
}

func TestPromoteClampsToFreeCapacity(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 2, 60, true)

	ids := make([]string, 0, 5)
	for _, user := range []string{"u1", "u2", "u3", "u4", "u5"} {
		ids = append(ids, f.enqueue(t, queue.ID, user, "").ID)
		f.clock.Advance(time.Second)
	}

	result, err := f.admission.Promote(context.Background(), testTenant, queue.ID, ids)
	require.NoError(t, err)
	assert.Equal(t, ids[:2], result.Promoted)
	assert.Equal(t, ids[2:], result.Skipped)
	assert.Empty(t, result.AlreadyActive)

	active, err := f.sessions.CountByStatus(context.Background(), testTenant, queue.ID, domain.SessionStatusActive)
	require.NoError(t, err)
	assert.Equal(t, 2, active, "active count never exceeds MaxConcurrentUsers")
}

func TestPromoteIsIdempotent(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 2, 60, true)
	session := f.enqueue(t, queue.ID, "user-1", "")

	first, err := f.admission.Promote(context.Background(), testTenant, queue.ID, []string{session.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{session.ID}, first.Promoted)

	second, err := f.admission.Promote(context.Background(), testTenant, queue.ID, []string{session.ID})
	require.NoError(t, err)
	assert.Empty(t, second.Promoted)
	assert.Equal(t, []string{session.ID}, second.AlreadyActive)

	active, err := f.sessions.CountByStatus(context.Background(), testTenant, queue.ID, domain.SessionStatusActive)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestPromoteSkipsDepartedAndUnknownSessions(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 5, 60, true)
	left := f.enqueue(t, queue.ID, "user-1", "")
	f.clock.Advance(time.Second)
	waiting := f.enqueue(t, queue.ID, "user-2", "")
	require.NoError(t, f.admission.Leave(context.Background(), testTenant, queue.ID, left.ID))

	result, err := f.admission.Promote(context.Background(), testTenant, queue.ID, []string{left.ID, "ghost", waiting.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{waiting.ID}, result.Promoted)
	assert.ElementsMatch(t, []string{left.ID, "ghost"}, result.Skipped)
}

func TestPromoteOnInactiveQueueSkipsAll(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 5, 60, true)
	session := f.enqueue(t, queue.ID, "user-1", "")

	queue.IsActive = false
	require.NoError(t, f.queues.Update(context.Background(), queue))

	result, err := f.admission.Promote(context.Background(), testTenant, queue.ID, []string{session.ID})
	require.NoError(t, err)
	assert.Empty(t, result.Promoted)
	assert.Equal(t, []string{session.ID}, result.Skipped)
}

func TestLeaveTransitionsAndGuards(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 2, 60, true)
	session := f.enqueue(t, queue.ID, "user-1", "")

	require.NoError(t, f.admission.Leave(context.Background(), testTenant, queue.ID, session.ID))
	stored, err := f.sessions.GetByID(context.Background(), testTenant, queue.ID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusLeft, stored.Status)

	err = f.admission.Leave(context.Background(), testTenant, queue.ID, session.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSessionNotWaiting), "leave is waiting-only")

	err = f.admission.Leave(context.Background(), testTenant, queue.ID, "ghost")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSessionNotFound))
}

func TestLeaveRejectsActiveSession(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 2, 60, true)
	session := f.enqueue(t, queue.ID, "user-1", "")
	_, err := f.admission.Promote(context.Background(), testTenant, queue.ID, []string{session.ID})
	require.NoError(t, err)

	err = f.admission.Leave(context.Background(), testTenant, queue.ID, session.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSessionNotWaiting))
}

func TestLeaveByUser(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 2, 60, true)
	session := f.enqueue(t, queue.ID, "user-1", "")

	require.NoError(t, f.admission.LeaveByUser(context.Background(), testTenant, queue.ID, "user-1"))
	stored, err := f.sessions.GetByID(context.Background(), testTenant, queue.ID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusLeft, stored.Status)

	err = f.admission.LeaveByUser(context.Background(), testTenant, queue.ID, "user-1")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSessionNotFound), "no open session remains")
}

func TestServeActiveSession(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 1, 60, true)
	session := f.enqueue(t, queue.ID, "user-1", "")
	_, err := f.admission.Promote(context.Background(), testTenant, queue.ID, []string{session.ID})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.admission.Serve(context.Background(), testTenant, queue.ID, session.ID))

	stored, err := f.sessions.GetByID(context.Background(), testTenant, queue.ID, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusServed, stored.Status)
	require.NotNil(t, stored.ServedAt)
	assert.Equal(t, f.clock.Now(), *stored.ServedAt)

	err = f.admission.Serve(context.Background(), testTenant, queue.ID, session.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidStateTransition))
}

func TestServeWaitingSessionRejected(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 1, 60, true)
	session := f.enqueue(t, queue.ID, "user-1", "")

	err := f.admission.Serve(context.Background(), testTenant, queue.ID, session.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidStateTransition))
}

func TestServeFreesCapacity(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 1, 60, true)
	first := f.enqueue(t, queue.ID, "user-1", "")
	f.clock.Advance(time.Second)
	second := f.enqueue(t, queue.ID, "user-2", "")

	_, err := f.admission.Promote(context.Background(), testTenant, queue.ID, []string{first.ID})
	require.NoError(t, err)

	free, err := f.admission.ComputeFreeCapacity(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, free)

	require.NoError(t, f.admission.Serve(context.Background(), testTenant, queue.ID, first.ID))
	free, err = f.admission.ComputeFreeCapacity(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, free)

	result, err := f.admission.Promote(context.Background(), testTenant, queue.ID, []string{second.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID}, result.Promoted)
}

func TestDropWorksFromWaitingAndActive(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 2, 60, true)
	waiting := f.enqueue(t, queue.ID, "user-1", "")
	f.clock.Advance(time.Second)
	active := f.enqueue(t, queue.ID, "user-2", "")
	_, err := f.admission.Promote(context.Background(), testTenant, queue.ID, []string{active.ID})
	require.NoError(t, err)

	require.NoError(t, f.admission.Drop(context.Background(), testTenant, queue.ID, waiting.ID, "operator_drop"))
	require.NoError(t, f.admission.Drop(context.Background(), testTenant, queue.ID, active.ID, "active_expired"))

	for _, id := range []string{waiting.ID, active.ID} {
		stored, err := f.sessions.GetByID(context.Background(), testTenant, queue.ID, id)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStatusDropped, stored.Status)
	}

	err = f.admission.Drop(context.Background(), testTenant, queue.ID, waiting.ID, "again")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidStateTransition))
}

func TestConcurrentEnqueuesKeepOnePerUser(t *testing.T) {
	f := newAdmissionFixture(t)
	queue := f.createQueue(t, 2, 60, true)

	var wg sync.WaitGroup
	successes := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, err := f.admission.Enqueue(context.Background(), testTenant, queue.ID, EnqueueInput{UserIdentifier: "user-1"})
			if err == nil {
				successes <- session.ID
			}
		}()
	}
	wg.Wait()
	close(successes)

	ids := []string{}
	for id := range successes {
		ids = append(ids, id)
	}
	assert.Len(t, ids, 1, "uniqueness invariant under racing enqueues")
}
