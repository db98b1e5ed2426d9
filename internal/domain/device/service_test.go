package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ticketgate/internal/utils/clock"
	"ticketgate/internal/utils/logger"
)

// MockRepository is a mock implementation of the Repository interface for testing
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, d Device) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockRepository) FindByID(ctx context.Context, id string) (Device, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Device), args.Error(1)
}

func (m *MockRepository) Touch(ctx context.Context, id string, at time.Time, synced bool) error {
	return m.Called(ctx, id, at, synced).Error(0)
}

func (m *MockRepository) List(ctx context.Context) ([]Device, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Device), args.Error(1)
}

const enrollmentKey = "north-gate-key"

var now = time.Date(2026, 10, 16, 17, 0, 0, 0, time.UTC)

func newTestService(repo Repository) *Service {
	return NewService(repo, NewSecretValidator(), enrollmentKey, clock.NewFixed(now), logger.Discard())
}

func TestService_Register(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo)

	mockRepo.On("Create", mock.Anything, mock.MatchedBy(func(d Device) bool {
		return d.ID == "gate-north-1" &&
			d.Name == "North entrance" &&
			d.CreatedAt.Equal(now) &&
			bcrypt.CompareHashAndPassword([]byte(d.SecretHash), []byte("s3cret-pass")) == nil
	})).Return(nil)

	err := service.Register(context.Background(), RegisterRequest{
		DeviceID:      "gate-north-1",
		Name:          "North entrance",
		Secret:        "s3cret-pass",
		EnrollmentKey: enrollmentKey,
	})

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestService_Register_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		req     RegisterRequest
		wantErr error
	}{
		{
			name:    "wrong enrollment key",
			req:     RegisterRequest{DeviceID: "gate-1", Secret: "s3cret-pass", EnrollmentKey: "guess"},
			wantErr: ErrInvalidEnrollment,
		},
		{
			name:    "weak secret",
			req:     RegisterRequest{DeviceID: "gate-1", Secret: "password", EnrollmentKey: enrollmentKey},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "bad device id",
			req:     RegisterRequest{DeviceID: "ворота", Secret: "s3cret-pass", EnrollmentKey: enrollmentKey},
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockRepository)
			service := newTestService(mockRepo)

			err := service.Register(context.Background(), tt.req)

			assert.ErrorIs(t, err, tt.wantErr)
			mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestService_Register_EmptyEnrollmentKeyDisablesRegistration(t *testing.T) {
	mockRepo := new(MockRepository)
	service := NewService(mockRepo, NewSecretValidator(), "", clock.NewFixed(now), logger.Discard())

	err := service.Register(context.Background(), RegisterRequest{DeviceID: "gate-1", Secret: "s3cret-pass"})

	assert.ErrorIs(t, err, ErrInvalidEnrollment)
}

func TestService_Register_AlreadyExists(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo)
	mockRepo.On("Create", mock.Anything, mock.Anything).Return(ErrAlreadyExists)

	err := service.Register(context.Background(), RegisterRequest{
		DeviceID: "gate-1", Secret: "s3cret-pass", EnrollmentKey: enrollmentKey,
	})

	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestService_Authenticate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	stored := Device{ID: "gate-1", Name: "gate-1", SecretHash: string(hash)}

	t.Run("success", func(t *testing.T) {
		mockRepo := new(MockRepository)
		mockRepo.On("FindByID", mock.Anything, "gate-1").Return(stored, nil)

		d, err := newTestService(mockRepo).Authenticate(context.Background(), "gate-1", "s3cret-pass")

		require.NoError(t, err)
		assert.Equal(t, "gate-1", d.ID)
	})

	t.Run("wrong secret", func(t *testing.T) {
		mockRepo := new(MockRepository)
		mockRepo.On("FindByID", mock.Anything, "gate-1").Return(stored, nil)

		_, err := newTestService(mockRepo).Authenticate(context.Background(), "gate-1", "wrong-pass1")

		assert.ErrorIs(t, err, ErrInvalidAuth)
	})

	t.Run("unknown device", func(t *testing.T) {
		mockRepo := new(MockRepository)
		mockRepo.On("FindByID", mock.Anything, "gate-9").Return(Device{}, ErrNotFound)

		_, err := newTestService(mockRepo).Authenticate(context.Background(), "gate-9", "s3cret-pass")

		assert.ErrorIs(t, err, ErrInvalidAuth)
	})

	t.Run("repository failure is not an auth error", func(t *testing.T) {
		mockRepo := new(MockRepository)
		mockRepo.On("FindByID", mock.Anything, "gate-1").Return(Device{}, errors.New("db down"))

		_, err := newTestService(mockRepo).Authenticate(context.Background(), "gate-1", "s3cret-pass")

		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidAuth)
	})
}

func TestService_TouchAndList(t *testing.T) {
	mockRepo := new(MockRepository)
	service := newTestService(mockRepo)
	seen := now.Add(-time.Minute)

	mockRepo.On("Touch", mock.Anything, "gate-1", now, true).Return(nil)
	mockRepo.On("List", mock.Anything).Return([]Device{
		{ID: "gate-1", Name: "North", SecretHash: "hash", CreatedAt: now, LastSeenAt: &seen},
	}, nil)

	require.NoError(t, service.Touch(context.Background(), "gate-1", true))

	infos, err := service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "North", infos[0].Name)
	assert.Equal(t, &seen, infos[0].LastSeenAt)
	mockRepo.AssertExpectations(t)
}
