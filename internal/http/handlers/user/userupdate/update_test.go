package userupdate

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/subscription-tracker/internal/lib/apperr"
	"github.com/magabrotheeeer/subscription-tracker/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Update(ctx context.Context, id string, req models.DummyUserPatch) (*models.User, error) {
	args := m.Called(ctx, id, req)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func TestUpdateHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		body       string
		setupMock  func(m *MockService)
		wantStatus int
		wantBody   string
	}{
		{
			name: "name changed",
			body: `{"name":"Johnny","role":"admin"}`,
			setupMock: func(m *MockService) {
				m.On("Update", mock.Anything, "u1", mock.MatchedBy(func(p models.DummyUserPatch) bool {
					return p.Name != nil && *p.Name == "Johnny" && p.Email == nil && p.Password == nil
				})).Return(&models.User{ID: "u1", Name: "Johnny"}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `"name":"Johnny"`,
		},
		{
			name:       "invalid email",
			body:       `{"email":"nope"}`,
			setupMock:  func(_ *MockService) {},
			wantStatus: http.StatusBadRequest,
			wantBody:   `field email must be a valid email`,
		},
		{
			name: "email taken",
			body: `{"email":"taken@example.com"}`,
			setupMock: func(m *MockService) {
				m.On("Update", mock.Anything, "u1", mock.Anything).Return(nil, apperr.Conflict("User already exists")).Once()
			},
			wantStatus: http.StatusConflict,
			wantBody:   `"message":"User already exists"`,
		},
		{
			name: "unknown user",
			body: `{"name":"Johnny"}`,
			setupMock: func(m *MockService) {
				m.On("Update", mock.Anything, "u1", mock.Anything).Return(nil, apperr.NotFound("User not found")).Once()
			},
			wantStatus: http.StatusNotFound,
			wantBody:   `"message":"User not found"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)

			req := httptest.NewRequest(http.MethodPut, "/api/v1/users/u1", strings.NewReader(tt.body))
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", "u1")
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

			rr := httptest.NewRecorder()
			New(logger, svc).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.wantBody)
			assert.NotContains(t, rr.Body.String(), "password")
			svc.AssertExpectations(t)
		})
	}
}
