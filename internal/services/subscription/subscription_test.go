package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/apperr"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
	reminder "github.com/magabrotheeeer/subscription-tracker/internal/services/reminder"
	"github.com/magabrotheeeer/subscription-tracker/internal/storage"
)

const reminderURL = "http://localhost:8080/api/v1/workflows/subscription/reminder"

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) CreateSubscription(ctx context.Context, sub models.Subscription) (*models.Subscription, error) {
	args := m.Called(ctx, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockRepo) ListSubscriptionsByUser(ctx context.Context, userID string) ([]*models.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

func (m *MockRepo) GetSubscriptionOwned(ctx context.Context, subID, userID string) (*models.Subscription, error) {
	args := m.Called(ctx, subID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockRepo) UpdateSubscriptionOwned(ctx context.Context, subID, userID string, patch models.SubscriptionPatch) (*models.Subscription, error) {
	args := m.Called(ctx, subID, userID, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockRepo) SetSubscriptionStatusOwned(ctx context.Context, subID, userID, status string) (*models.Subscription, error) {
	args := m.Called(ctx, subID, userID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockRepo) DeleteSubscriptionOwned(ctx context.Context, subID, userID string) (*models.Subscription, error) {
	args := m.Called(ctx, subID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockRepo) ListUpcomingRenewals(ctx context.Context, userID string, from, to time.Time) ([]*models.Subscription, error) {
	args := m.Called(ctx, userID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

type MockTrigger struct {
	mock.Mock
}

func (m *MockTrigger) Trigger(ctx context.Context, url string, payload any) (string, error) {
	args := m.Called(ctx, url, payload)
	return args.String(0), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestService() (*SubscriptionService, *MockRepo, *MockTrigger) {
	repo := new(MockRepo)
	trigger := new(MockTrigger)
	svc := NewSubscriptionService(repo, trigger, reminderURL, newNoopLogger())
	svc.now = func() time.Time { return fixedNow }
	return svc, repo, trigger
}

func validRequest() models.DummySubscription {
	return models.DummySubscription{
		Name:          "Netflix",
		Price:         9.99,
		Currency:      "USD",
		Frequency:     "monthly",
		Category:      "entertainment",
		PaymentMethod: "Visa",
		Status:        "active",
		StartDate:     "2026-02-20",
	}
}

func TestCreate_Success(t *testing.T) {
	svc, repo, trigger := newTestService()

	repo.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(s models.Subscription) bool {
		return s.UserID == "user-1" && s.Name == "Netflix" && s.Status == models.StatusActive &&
			s.StartDate.Equal(time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)) &&
			s.RenewalDate.Equal(time.Date(2026, 3, 22, 0, 0, 0, 0, time.UTC))
	})).Return(&models.Subscription{ID: "sub-1", Name: "Netflix", UserID: "user-1"}, nil).Once()
	trigger.On("Trigger", mock.Anything, reminderURL, reminder.ReminderPayload{SubscriptionID: "sub-1"}).
		Return("run-1", nil).Once()

	sub, runID, err := svc.Create(context.Background(), "user-1", validRequest())

	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.ID)
	assert.Equal(t, "run-1", runID)
	repo.AssertExpectations(t)
	trigger.AssertExpectations(t)
}

func TestCreate_AcceptsCapitalizedEnums(t *testing.T) {
	svc, repo, trigger := newTestService()
	req := validRequest()
	req.Currency = "usd"
	req.Frequency = "Monthly"
	req.Category = "Entertainment"
	req.Status = "Active"

	repo.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(s models.Subscription) bool {
		return s.Currency == "USD" && s.Frequency == models.FrequencyMonthly &&
			s.Category == "entertainment" && s.Status == models.StatusActive
	})).Return(&models.Subscription{ID: "sub-1"}, nil).Once()
	trigger.On("Trigger", mock.Anything, reminderURL, mock.Anything).Return("run-1", nil).Once()

	_, _, err := svc.Create(context.Background(), "user-1", req)

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestCreate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *models.DummySubscription)
		wantMsg string
	}{
		{
			name:    "one missing field",
			mutate:  func(r *models.DummySubscription) { r.Category = "" },
			wantMsg: "Missing required fields: category",
		},
		{
			name: "every missing field is listed",
			mutate: func(r *models.DummySubscription) {
				*r = models.DummySubscription{}
			},
			wantMsg: "Missing required fields: name, price, currency, frequency, category, paymentMethod, status, startDate",
		},
		{
			name:    "negative price",
			mutate:  func(r *models.DummySubscription) { r.Price = -1 },
			wantMsg: "field price must be greater than 0",
		},
		{
			name:    "unknown currency",
			mutate:  func(r *models.DummySubscription) { r.Currency = "RUB" },
			wantMsg: "field currency must be one of [BWP ZAR USD GBP EUR]",
		},
		{
			name:    "bad start date",
			mutate:  func(r *models.DummySubscription) { r.StartDate = "yesterday" },
			wantMsg: "Invalid startDate",
		},
		{
			name: "renewal before start",
			mutate: func(r *models.DummySubscription) {
				r.RenewalDate = "2026-02-10"
			},
			wantMsg: "Renewal date must be after the start date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, trigger := newTestService()
			req := validRequest()
			tt.mutate(&req)

			_, _, err := svc.Create(context.Background(), "user-1", req)

			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(err))
			assert.Equal(t, tt.wantMsg, apperr.Message(err))
			repo.AssertNotCalled(t, "CreateSubscription", mock.Anything, mock.Anything)
			trigger.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCreate_PastRenewalExpires(t *testing.T) {
	svc, repo, trigger := newTestService()
	req := validRequest()
	req.StartDate = "2025-01-01"
	req.RenewalDate = "2025-02-01T00:00:00Z"

	repo.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(s models.Subscription) bool {
		return s.Status == models.StatusExpired
	})).Return(&models.Subscription{ID: "sub-1", Status: models.StatusExpired}, nil).Once()
	trigger.On("Trigger", mock.Anything, reminderURL, mock.Anything).Return("run-1", nil).Once()

	sub, _, err := svc.Create(context.Background(), "user-1", req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, sub.Status)
}

func TestCreate_TriggerFailure(t *testing.T) {
	svc, repo, trigger := newTestService()
	repo.On("CreateSubscription", mock.Anything, mock.Anything).Return(&models.Subscription{ID: "sub-1"}, nil).Once()
	trigger.On("Trigger", mock.Anything, reminderURL, mock.Anything).Return("", errors.New("broker down")).Once()

	_, _, err := svc.Create(context.Background(), "user-1", validRequest())
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, apperr.HTTPStatus(err))
}

func TestListByUser(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.On("ListSubscriptionsByUser", mock.Anything, "user-1").Return([]*models.Subscription{{ID: "sub-1"}}, nil).Once()

	subs, err := svc.ListByUser(context.Background(), "user-1", "user-1")
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	_, err = svc.ListByUser(context.Background(), "user-1", "user-2")
	assert.Equal(t, http.StatusUnauthorized, apperr.HTTPStatus(err))
	assert.Equal(t, "You are not the owner of this account", apperr.Message(err))
	repo.AssertNumberOfCalls(t, "ListSubscriptionsByUser", 1)
}

func TestOwnedOperations_NotOwner(t *testing.T) {
	const subID = "0b7c7a9e-58a4-4a4e-9c0e-3d1f6a2b9c11"

	tests := []struct {
		name  string
		setup func(r *MockRepo)
		call  func(s *SubscriptionService) error
	}{
		{
			name: "get",
			setup: func(r *MockRepo) {
				r.On("GetSubscriptionOwned", mock.Anything, subID, "user-2").Return(nil, storage.ErrNotFound).Once()
			},
			call: func(s *SubscriptionService) error {
				_, err := s.Get(context.Background(), "user-2", subID)
				return err
			},
		},
		{
			name: "update",
			setup: func(r *MockRepo) {
				r.On("UpdateSubscriptionOwned", mock.Anything, subID, "user-2", mock.Anything).Return(nil, storage.ErrNotFound).Once()
			},
			call: func(s *SubscriptionService) error {
				name := "Hulu"
				_, err := s.Update(context.Background(), "user-2", subID, models.DummySubscriptionPatch{Name: &name})
				return err
			},
		},
		{
			name: "cancel",
			setup: func(r *MockRepo) {
				r.On("SetSubscriptionStatusOwned", mock.Anything, subID, "user-2", models.StatusCancelled).Return(nil, storage.ErrNotFound).Once()
			},
			call: func(s *SubscriptionService) error {
				_, err := s.Cancel(context.Background(), "user-2", subID)
				return err
			},
		},
		{
			name: "delete",
			setup: func(r *MockRepo) {
				r.On("DeleteSubscriptionOwned", mock.Anything, subID, "user-2").Return(nil, storage.ErrNotFound).Once()
			},
			call: func(s *SubscriptionService) error {
				_, err := s.Delete(context.Background(), "user-2", subID)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _ := newTestService()
			tt.setup(repo)

			err := tt.call(svc)

			require.Error(t, err)
			assert.Equal(t, http.StatusUnauthorized, apperr.HTTPStatus(err))
			assert.Equal(t, "Subscription not found or you are not the owner!", apperr.Message(err))
			repo.AssertExpectations(t)
		})
	}
}

func TestCancel_InvalidID(t *testing.T) {
	svc, repo, _ := newTestService()

	_, err := svc.Cancel(context.Background(), "user-1", "not-a-uuid")

	assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(err))
	assert.Equal(t, "Invalid user ID or subscription ID", apperr.Message(err))
	repo.AssertNotCalled(t, "SetSubscriptionStatusOwned", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdate(t *testing.T) {
	svc, repo, _ := newTestService()
	renewal := "2026-05-01"
	price := 12.5

	repo.On("UpdateSubscriptionOwned", mock.Anything, "sub-1", "user-1", mock.MatchedBy(func(p models.SubscriptionPatch) bool {
		return p.Price != nil && *p.Price == 12.5 && p.RenewalDate != nil &&
			p.RenewalDate.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)) && p.Name == nil
	})).Return(&models.Subscription{ID: "sub-1", Price: 12.5}, nil).Once()

	sub, err := svc.Update(context.Background(), "user-1", "sub-1", models.DummySubscriptionPatch{Price: &price, RenewalDate: &renewal})
	require.NoError(t, err)
	assert.Equal(t, 12.5, sub.Price)

	bad := "sometime"
	_, err = svc.Update(context.Background(), "user-1", "sub-1", models.DummySubscriptionPatch{StartDate: &bad})
	assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(err))

	status := "paused"
	_, err = svc.Update(context.Background(), "user-1", "sub-1", models.DummySubscriptionPatch{Status: &status})
	assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(err))
	repo.AssertExpectations(t)
}

func TestUpdate_NormalizesEnums(t *testing.T) {
	svc, repo, _ := newTestService()
	frequency := "Yearly"
	status := "CANCELLED"

	repo.On("UpdateSubscriptionOwned", mock.Anything, "sub-1", "user-1", mock.MatchedBy(func(p models.SubscriptionPatch) bool {
		return p.Frequency != nil && *p.Frequency == models.FrequencyYearly &&
			p.Status != nil && *p.Status == models.StatusCancelled
	})).Return(&models.Subscription{ID: "sub-1"}, nil).Once()

	_, err := svc.Update(context.Background(), "user-1", "sub-1", models.DummySubscriptionPatch{Frequency: &frequency, Status: &status})
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestUpcoming(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.On("ListUpcomingRenewals", mock.Anything, "user-1", fixedNow, fixedNow.AddDate(0, 0, 7)).
		Return([]*models.Subscription{{ID: "sub-1"}}, nil).Once()

	subs, err := svc.Upcoming(context.Background(), "user-1", 7)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	for _, days := range []int{0, -1, MaxUpcomingDays + 1} {
		_, err := svc.Upcoming(context.Background(), "user-1", days)
		assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(err))
	}
	repo.AssertExpectations(t)
}
