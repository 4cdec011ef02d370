package workflow

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/subscription-tracker/internal/models"
	"github.com/magabrotheeeer/subscription-tracker/internal/storage"
)

var errNotFound = storage.ErrNotFound

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore хранилище запусков в памяти.
type memStore struct {
	mu    sync.Mutex
	runs  map[string]*models.WorkflowRun
	steps map[string][]models.WorkflowStep
}

func newMemStore() *memStore {
	return &memStore{
		runs:  make(map[string]*models.WorkflowRun),
		steps: make(map[string][]models.WorkflowStep),
	}
}

func (s *memStore) CreateRun(_ context.Context, url string, payload []byte) (*models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &models.WorkflowRun{
		ID:        uuid.NewString(),
		URL:       url,
		Payload:   payload,
		Status:    models.RunPending,
		CreatedAt: time.Now(),
	}
	s.runs[run.ID] = run
	cp := *run
	return &cp, nil
}

func (s *memStore) GetRun(_ context.Context, runID string) (*models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, errNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *memStore) SetRunStatus(_ context.Context, runID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errNotFound
	}
	run.Status = status
	return nil
}

func (s *memStore) ListSteps(_ context.Context, runID string) ([]models.WorkflowStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.WorkflowStep(nil), s.steps[runID]...), nil
}

func (s *memStore) SaveStep(_ context.Context, step models.WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, st := range s.steps[step.RunID] {
		if st.Name == step.Name {
			s.steps[step.RunID][i] = step
			return nil
		}
	}
	s.steps[step.RunID] = append(s.steps[step.RunID], step)
	return nil
}

func (s *memStore) ListSuspendedRuns(_ context.Context) ([]models.SuspendedRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SuspendedRun
	for id, run := range s.runs {
		if run.Status != models.RunSuspended {
			continue
		}
		var last *models.WorkflowStep
		for i, st := range s.steps[id] {
			if st.WakeAt != nil && (last == nil || st.CompletedAt.After(last.CompletedAt)) {
				last = &s.steps[id][i]
			}
		}
		if last != nil {
			out = append(out, models.SuspendedRun{RunID: id, WakeAt: *last.WakeAt})
		}
	}
	return out, nil
}

func (s *memStore) status(runID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[runID].Status
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishMessage(routingKey string, message any) error {
	args := m.Called(routingKey, message)
	return args.Error(0)
}

type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Schedule(ctx context.Context, runID string, at time.Time) error {
	args := m.Called(ctx, runID, at)
	return args.Error(0)
}

// clock управляемые часы для тестов.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
