package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/virtual-queue/internal/domain"
	"github.com/spec-kit/virtual-queue/internal/events"
	"github.com/spec-kit/virtual-queue/internal/repository"
	apperrors "github.com/spec-kit/virtual-queue/pkg/util/errorutil"
)

func newQueueAdminFixture() (*QueueRegistry, *QueueAdminService) {
	queues := repository.NewMemoryQueueRepository()
	registry := NewQueueRegistry()
	return registry, NewQueueAdminService(queues, events.NewInMemoryDispatcher(), registry)
}

func TestCreateQueueStartsInactive(t *testing.T) {
	_, admin := newQueueAdminFixture()

	queue, err := admin.CreateQueue(context.Background(), testTenant, QueueCreateInput{
		Name:                 "checkout",
		MaxConcurrentUsers:   10,
		ReleaseRatePerMinute: 60,
	})
	require.NoError(t, err)
	assert.False(t, queue.IsActive, "new queues must be activated explicitly")
	assert.NotEmpty(t, queue.ID)
}

func TestCreateQueueValidation(t *testing.T) {
	_, admin := newQueueAdminFixture()

	cases := []struct {
		name  string
		input QueueCreateInput
	}{
		{"missing name", QueueCreateInput{MaxConcurrentUsers: 10, ReleaseRatePerMinute: 60}},
		{"zero capacity", QueueCreateInput{Name: "q", MaxConcurrentUsers: 0, ReleaseRatePerMinute: 60}},
		{"negative rate", QueueCreateInput{Name: "q", MaxConcurrentUsers: 10, ReleaseRatePerMinute: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := admin.CreateQueue(context.Background(), testTenant, tc.input)
			assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationFailed))
		})
	}
}

func TestActivateDeactivateLifecycle(t *testing.T) {
	_, admin := newQueueAdminFixture()
	queue, err := admin.CreateQueue(context.Background(), testTenant, QueueCreateInput{
		Name: "checkout", MaxConcurrentUsers: 10, ReleaseRatePerMinute: 60,
	})
	require.NoError(t, err)

	activated, err := admin.Activate(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	again, err := admin.Activate(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)
	assert.True(t, again.IsActive, "re-activation is a no-op")

	deactivated, err := admin.Deactivate(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)
}

func TestUpdateQueuePatchesOnlyProvidedFields(t *testing.T) {
	_, admin := newQueueAdminFixture()
	queue, err := admin.CreateQueue(context.Background(), testTenant, QueueCreateInput{
		Name:                 "checkout",
		Description:          "original",
		MaxConcurrentUsers:   10,
		ReleaseRatePerMinute: 60,
	})
	require.NoError(t, err)

	newCapacity := 25
	updated, err := admin.UpdateQueue(context.Background(), testTenant, queue.ID, QueueUpdateInput{
		MaxConcurrentUsers: &newCapacity,
	})
	require.NoError(t, err)
	assert.Equal(t, 25, updated.MaxConcurrentUsers)
	assert.Equal(t, "original", updated.Description)
	assert.Equal(t, 60, updated.ReleaseRatePerMinute)

	zero := 0
	_, err = admin.UpdateQueue(context.Background(), testTenant, queue.ID, QueueUpdateInput{
		MaxConcurrentUsers: &zero,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationFailed))
}

func TestUpdateQueueSchedule(t *testing.T) {
	_, admin := newQueueAdminFixture()
	queue, err := admin.CreateQueue(context.Background(), testTenant, QueueCreateInput{
		Name: "checkout", MaxConcurrentUsers: 10, ReleaseRatePerMinute: 60,
	})
	require.NoError(t, err)

	opens := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	schedule := &domain.Schedule{OpensAt: opens, ClosesAt: opens.Add(8 * time.Hour)}
	updated, err := admin.UpdateQueue(context.Background(), testTenant, queue.ID, QueueUpdateInput{Schedule: schedule})
	require.NoError(t, err)
	require.NotNil(t, updated.Schedule)
	assert.Equal(t, opens, updated.Schedule.OpensAt)

	cleared, err := admin.UpdateQueue(context.Background(), testTenant, queue.ID, QueueUpdateInput{ClearSchedule: true})
	require.NoError(t, err)
	assert.Nil(t, cleared.Schedule)
}

func TestUpdateQueueWaitsForQueueLock(t *testing.T) {
	registry, admin := newQueueAdminFixture()
	queue, err := admin.CreateQueue(context.Background(), testTenant, QueueCreateInput{
		Name: "checkout", MaxConcurrentUsers: 10, ReleaseRatePerMinute: 60,
	})
	require.NoError(t, err)

	unlock := registry.Lock(testTenant, queue.ID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		lowered := 1
		_, _ = admin.UpdateQueue(context.Background(), testTenant, queue.ID, QueueUpdateInput{
			MaxConcurrentUsers: &lowered,
		})
	}()

	select {
	case <-done:
		t.Fatal("capacity update completed while the queue lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("capacity update never completed after unlock")
	}

	updated, err := admin.GetQueue(context.Background(), testTenant, queue.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.MaxConcurrentUsers)
}

func TestActivateWaitsForQueueLock(t *testing.T) {
	registry, admin := newQueueAdminFixture()
	queue, err := admin.CreateQueue(context.Background(), testTenant, QueueCreateInput{
		Name: "checkout", MaxConcurrentUsers: 10, ReleaseRatePerMinute: 60,
	})
	require.NoError(t, err)

	unlock := registry.Lock(testTenant, queue.ID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = admin.Activate(context.Background(), testTenant, queue.ID)
	}()

	select {
	case <-done:
		t.Fatal("activation completed while the queue lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("activation never completed after unlock")
	}
}

func TestGetQueueScopedToTenant(t *testing.T) {
	_, admin := newQueueAdminFixture()
	queue, err := admin.CreateQueue(context.Background(), testTenant, QueueCreateInput{
		Name: "checkout", MaxConcurrentUsers: 10, ReleaseRatePerMinute: 60,
	})
	require.NoError(t, err)

	_, err = admin.GetQueue(context.Background(), "other-tenant", queue.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeQueueNotFound))
}
