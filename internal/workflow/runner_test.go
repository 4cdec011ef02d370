package workflow

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/subscription-tracker/internal/delayqueue"
	"github.com/magabrotheeeer/subscription-tracker/internal/metrics"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
	"github.com/magabrotheeeer/subscription-tracker/internal/rabbitmq"
)

func newTestQueue(t *testing.T) (*delayqueue.Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	q := delayqueue.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), delayqueue.DefaultKey)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func testRunnerConfig() RunnerConfig {
	return RunnerConfig{
		SigningKey:      "signing-key",
		CallbackTimeout: time.Second,
		PollBatch:       10,
		RetryDelay:      time.Minute,
		Breaker:         DefaultCircuitBreakerConfig("test-callback"),
	}
}

func deliveryBody(runID string) []byte {
	return []byte(`{"runId":"` + runID + `"}`)
}

// unavailableStore хранилище, до которого нельзя достучаться.
type unavailableStore struct {
	*memStore
}

func (unavailableStore) GetRun(context.Context, string) (*models.WorkflowRun, error) {
	return nil, errors.New("connection refused")
}

// stubQueue очередь отложенных с заранее заданным ответом PopDue.
type stubQueue struct {
	due       []string
	popErr    error
	scheduled []string
}

func (q *stubQueue) Schedule(_ context.Context, runID string, _ time.Time) error {
	q.scheduled = append(q.scheduled, runID)
	return nil
}

func (q *stubQueue) PopDue(context.Context, time.Time, int64) ([]string, error) {
	return q.due, q.popErr
}

func (q *stubQueue) Len(context.Context) (int64, error) {
	return int64(len(q.due)), nil
}

func TestRunner_HandleDelivery(t *testing.T) {
	tests := []struct {
		name       string
		respond    int
		runStatus  string
		wantCalls  int32
		wantStatus string
		wantQueued int64
	}{
		{name: "delivered", respond: http.StatusOK, runStatus: models.RunPending, wantCalls: 1, wantStatus: models.RunPending},
		{name: "callback rejected", respond: http.StatusInternalServerError, runStatus: models.RunSuspended, wantCalls: 1, wantStatus: models.RunFailed},
		{name: "api unavailable", respond: http.StatusServiceUnavailable, runStatus: models.RunSuspended, wantCalls: 1, wantStatus: models.RunSuspended, wantQueued: 1},
		{name: "already completed", respond: http.StatusOK, runStatus: models.RunCompleted, wantCalls: 0, wantStatus: models.RunCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			q, _ := newTestQueue(t)
			var calls atomic.Int32
			var gotBody string
			signer := NewSigner("signing-key")

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				assert.NoError(t, signer.Verify(r.Header.Get(HeaderSignature), r.Header.Get(HeaderRunID)))
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
				w.WriteHeader(tt.respond)
			}))
			defer srv.Close()

			run, err := store.CreateRun(context.Background(), srv.URL, []byte(`{"subscriptionId":"sub-1"}`))
			require.NoError(t, err)
			require.NoError(t, store.SetRunStatus(context.Background(), run.ID, tt.runStatus))

			runner := NewRunner(store, q, &MockPublisher{}, testRunnerConfig(), newNoopLogger())
			err = runner.HandleDelivery(context.Background(), deliveryBody(run.ID))

			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.Equal(t, tt.wantStatus, store.status(run.ID))
			if tt.wantCalls > 0 {
				assert.JSONEq(t, `{"subscriptionId":"sub-1"}`, gotBody)
			}
			queued, err := q.Len(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantQueued, queued)
		})
	}
}

func TestRunner_HandleDelivery_UnreachablePostpones(t *testing.T) {
	store := newMemStore()
	q, mr := newTestQueue(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	run, err := store.CreateRun(context.Background(), url, []byte(`{}`))
	require.NoError(t, err)

	runner := NewRunner(store, q, &MockPublisher{}, testRunnerConfig(), newNoopLogger())
	runner.now = func() time.Time { return now }

	require.NoError(t, runner.HandleDelivery(context.Background(), deliveryBody(run.ID)))
	assert.Equal(t, models.RunPending, store.status(run.ID))

	score, err := mr.ZScore(delayqueue.DefaultKey, run.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(now.Add(time.Minute).UnixMilli()), score)
}

func TestRunner_HandleDelivery_ShutdownDuringCallbackKeepsRun(t *testing.T) {
	store := newMemStore()
	q, mr := newTestQueue(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	run, err := store.CreateRun(context.Background(), srv.URL, []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, store.SetRunStatus(context.Background(), run.ID, models.RunSuspended))

	runner := NewRunner(store, q, &MockPublisher{}, testRunnerConfig(), newNoopLogger())
	runner.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- runner.HandleDelivery(ctx, deliveryBody(run.ID))
	}()

	<-started
	cancel()

	select {
	case err = <-result:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery did not return after cancel")
	}

	require.NoError(t, err)
	assert.Equal(t, models.RunSuspended, store.status(run.ID))
	score, err := mr.ZScore(delayqueue.DefaultKey, run.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(now.Add(time.Minute).UnixMilli()), score)
}

func TestRunner_HandleDelivery_OpenBreakerSkipsCall(t *testing.T) {
	store := newMemStore()
	q, _ := newTestQueue(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testRunnerConfig()
	cfg.Breaker.MinRequests = 2
	cfg.Breaker.Timeout = time.Hour
	runner := NewRunner(store, q, &MockPublisher{}, cfg, newNoopLogger())

	run, err := store.CreateRun(context.Background(), srv.URL, []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, store.SetRunStatus(context.Background(), run.ID, models.RunSuspended))

	for range 3 {
		require.NoError(t, runner.HandleDelivery(context.Background(), deliveryBody(run.ID)))
	}

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "open", runner.breaker.State().String())
	assert.Equal(t, models.RunSuspended, store.status(run.ID))
	queued, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), queued)
}

func TestRunner_HandleDelivery_StoreUnavailablePostpones(t *testing.T) {
	q, _ := newTestQueue(t)
	runner := NewRunner(unavailableStore{newMemStore()}, q, &MockPublisher{}, testRunnerConfig(), newNoopLogger())

	require.NoError(t, runner.HandleDelivery(context.Background(), deliveryBody("run-1")))

	queued, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), queued)
}

func TestRunner_HandleDelivery_PostponeFailureRequeues(t *testing.T) {
	q, mr := newTestQueue(t)
	runner := NewRunner(unavailableStore{newMemStore()}, q, &MockPublisher{}, testRunnerConfig(), newNoopLogger())

	mr.SetError("connection reset")
	defer mr.SetError("")

	assert.Error(t, runner.HandleDelivery(context.Background(), deliveryBody("run-1")))
}

func TestRunner_HandleDelivery_Malformed(t *testing.T) {
	runner := NewRunner(newMemStore(), &stubQueue{}, &MockPublisher{}, testRunnerConfig(), newNoopLogger())

	assert.NoError(t, runner.HandleDelivery(context.Background(), []byte(`not json`)))
	assert.NoError(t, runner.HandleDelivery(context.Background(), []byte(`{}`)))
	assert.NoError(t, runner.HandleDelivery(context.Background(), deliveryBody("missing")))
}

func TestRunner_RepublishDue(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, q.Schedule(ctx, "due-1", now.Add(-time.Minute)))
	require.NoError(t, q.Schedule(ctx, "due-2", now))
	require.NoError(t, q.Schedule(ctx, "later", now.Add(time.Hour)))

	publisher := &MockPublisher{}
	publisher.On("PublishMessage", rabbitmq.DeliveryRoutingKey, models.WorkflowDelivery{RunID: "due-1"}).Return(nil).Once()
	publisher.On("PublishMessage", rabbitmq.DeliveryRoutingKey, models.WorkflowDelivery{RunID: "due-2"}).Return(nil).Once()

	runner := NewRunner(newMemStore(), q, publisher, testRunnerConfig(), newNoopLogger())
	runner.now = func() time.Time { return now }

	n, err := runner.RepublishDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	publisher.AssertExpectations(t)

	members, err := mr.ZMembers(delayqueue.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"later"}, members)
}

func TestRunner_RepublishDue_PublishFailureReschedules(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, q.Schedule(ctx, "due-1", now.Add(-time.Minute)))

	publisher := &MockPublisher{}
	publisher.On("PublishMessage", rabbitmq.DeliveryRoutingKey, mock.Anything).Return(errors.New("closed")).Once()

	runner := NewRunner(newMemStore(), q, publisher, testRunnerConfig(), newNoopLogger())
	runner.now = func() time.Time { return now }

	n, err := runner.RepublishDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	members, err := mr.ZMembers(delayqueue.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"due-1"}, members)
}

func TestRunner_RepublishDue_QueueErrorLeavesRunsInPlace(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, q.Schedule(ctx, "due-1", now.Add(-time.Minute)))
	require.NoError(t, q.Schedule(ctx, "due-2", now.Add(-time.Second)))

	publisher := &MockPublisher{}
	runner := NewRunner(newMemStore(), q, publisher, testRunnerConfig(), newNoopLogger())
	runner.now = func() time.Time { return now }

	mr.SetError("connection reset")
	n, err := runner.RepublishDue(ctx)
	mr.SetError("")

	assert.Error(t, err)
	assert.Equal(t, 0, n)
	publisher.AssertNotCalled(t, "PublishMessage", mock.Anything, mock.Anything)

	members, err := mr.ZMembers(delayqueue.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"due-1", "due-2"}, members)
}

func TestRunner_RepublishDue_PublishesClaimedRunsOnError(t *testing.T) {
	queue := &stubQueue{due: []string{"due-1"}, popErr: errors.New("connection reset")}
	publisher := &MockPublisher{}
	publisher.On("PublishMessage", rabbitmq.DeliveryRoutingKey, models.WorkflowDelivery{RunID: "due-1"}).Return(nil).Once()

	runner := NewRunner(newMemStore(), queue, publisher, testRunnerConfig(), newNoopLogger())

	n, err := runner.RepublishDue(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	publisher.AssertExpectations(t)
}

func TestRunner_Recover(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	q, mr := newTestQueue(t)
	completed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	firstWake := completed.Add(48 * time.Hour)
	secondWake := completed.Add(24 * time.Hour)

	suspended, err := store.CreateRun(ctx, "http://api/reminder", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, store.SetRunStatus(ctx, suspended.ID, models.RunSuspended))
	require.NoError(t, store.SaveStep(ctx, models.WorkflowStep{RunID: suspended.ID, Name: "sleep #0", WakeAt: &firstWake, CompletedAt: completed}))
	// последний шаг ожидания важнее более позднего времени
	require.NoError(t, store.SaveStep(ctx, models.WorkflowStep{RunID: suspended.ID, Name: "sleep #1", WakeAt: &secondWake, CompletedAt: completed.Add(time.Minute)}))

	finished, err := store.CreateRun(ctx, "http://api/reminder", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, store.SetRunStatus(ctx, finished.ID, models.RunCompleted))
	require.NoError(t, store.SaveStep(ctx, models.WorkflowStep{RunID: finished.ID, Name: "sleep #0", WakeAt: &firstWake, CompletedAt: completed}))

	runner := NewRunner(store, q, &MockPublisher{}, testRunnerConfig(), newNoopLogger())

	n, err := runner.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	members, err := mr.ZMembers(delayqueue.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, []string{suspended.ID}, members)
	score, err := mr.ZScore(delayqueue.DefaultKey, suspended.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(secondWake.UnixMilli()), score)

	// повторное восстановление не плодит записи
	_, err = runner.Recover(ctx)
	require.NoError(t, err)
	members, err = mr.ZMembers(delayqueue.DefaultKey)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestRunner_PollReportsBacklog(t *testing.T) {
	q, _ := newTestQueue(t)
	require.NoError(t, q.Schedule(context.Background(), "later", time.Now().Add(time.Hour)))
	runner := NewRunner(newMemStore(), q, &MockPublisher{}, testRunnerConfig(), newNoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Poll(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.DelayedRuns) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRunner_PollStopsOnCancel(t *testing.T) {
	q, _ := newTestQueue(t)
	runner := NewRunner(newMemStore(), q, &MockPublisher{}, testRunnerConfig(), newNoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Poll(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poll did not stop after cancel")
	}
}
