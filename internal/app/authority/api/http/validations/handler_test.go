package validations

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ticketgate/internal/app/authority/api/http/middleware/auth"
	"ticketgate/internal/domain/validation"
	"ticketgate/internal/utils/logger"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Submit(ctx context.Context, deviceID string, batch []validation.Submission) ([]validation.Result, error) {
	args := m.Called(ctx, deviceID, batch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]validation.Result), args.Error(1)
}

func (m *MockService) Changes(ctx context.Context, deviceID string, since int64, limit int) (*validation.ChangeFeed, error) {
	args := m.Called(ctx, deviceID, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*validation.ChangeFeed), args.Error(1)
}

func (m *MockService) Conflicts(ctx context.Context, limit int) ([]validation.Entry, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]validation.Entry), args.Error(1)
}

type MockDevices struct {
	mock.Mock
}

func (m *MockDevices) Touch(ctx context.Context, id string, synced bool) error {
	return m.Called(ctx, id, synced).Error(0)
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	return se.GetStatus()
}

func TestHandler_Batch(t *testing.T) {
	authCtx := auth.WithDeviceID(context.Background(), "gate-1")
	records := []validation.Submission{{
		ID:                "5a0c2f7e-1111-4c3b-9d9e-1b2c3d4e5f60",
		TicketID:          "t-1",
		ValidatedAt:       time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC),
		ValidatorIdentity: "alice",
		DeviceID:          "gate-1",
		Method:            validation.MethodScan,
	}}

	t.Run("Success", func(t *testing.T) {
		svc := new(MockService)
		devs := new(MockDevices)
		h := NewHandler(svc, devs, logger.Discard(), nil)

		results := []validation.Result{{RecordID: records[0].ID, Verdict: validation.VerdictSynced}}
		svc.On("Submit", mock.Anything, "gate-1", records).Return(results, nil)
		devs.On("Touch", mock.Anything, "gate-1", true).Return(nil)

		out, err := h.batch(authCtx, &batchInput{Body: validation.BatchRequest{Records: records}})

		require.NoError(t, err)
		assert.Equal(t, results, out.Body.Results)
		devs.AssertExpectations(t)
	})

	errCases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"DeviceMismatch", fmt.Errorf("record 0: %w", validation.ErrDeviceMismatch), 403},
		{"InvalidSubmission", fmt.Errorf("record 0: %w", validation.ErrInvalidSubmission), 400},
		{"TooLarge", validation.ErrBatchTooLarge, 413},
		{"Storage", errors.New("db down"), 500},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(MockService)
			devs := new(MockDevices)
			h := NewHandler(svc, devs, logger.Discard(), nil)
			svc.On("Submit", mock.Anything, "gate-1", records).Return(nil, tc.err)

			_, err := h.batch(authCtx, &batchInput{Body: validation.BatchRequest{Records: records}})

			assert.Equal(t, tc.wantStatus, statusOf(t, err))
			devs.AssertNotCalled(t, "Touch", mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("Unauthorized", func(t *testing.T) {
		h := NewHandler(new(MockService), new(MockDevices), logger.Discard(), nil)

		_, err := h.batch(context.Background(), &batchInput{Body: validation.BatchRequest{Records: records}})

		assert.Equal(t, 401, statusOf(t, err))
	})
}

func TestHandler_Changes(t *testing.T) {
	authCtx := auth.WithDeviceID(context.Background(), "gate-2")
	svc := new(MockService)
	h := NewHandler(svc, new(MockDevices), logger.Discard(), nil)

	feed := &validation.ChangeFeed{
		Changes: []validation.Change{{
			Result:   validation.Result{RecordID: "r-1", Verdict: validation.VerdictConflict, Reason: validation.ReasonSuperseded},
			Revision: 7,
		}},
		Revision: 7,
	}
	svc.On("Changes", mock.Anything, "gate-2", int64(3), 50).Return(feed, nil)

	out, err := h.changes(authCtx, &changesInput{Since: 3, Limit: 50})

	require.NoError(t, err)
	assert.Equal(t, int64(7), out.Body.Revision)
	assert.False(t, out.Body.HasMore)
}

func TestHandler_Conflicts(t *testing.T) {
	authCtx := auth.WithDeviceID(context.Background(), "gate-1")
	svc := new(MockService)
	h := NewHandler(svc, new(MockDevices), logger.Discard(), nil)

	svc.On("Conflicts", mock.Anything, 10).Return([]validation.Entry{{
		ID: "r-1", TicketID: "t-1", DeviceID: "gate-2", Verdict: validation.VerdictConflict,
		Reason: validation.ReasonAlreadyUsed, Revision: 4,
	}}, nil)

	out, err := h.conflicts(authCtx, &conflictsInput{Limit: 10})

	require.NoError(t, err)
	require.Len(t, out.Body.Conflicts, 1)
	assert.Equal(t, "r-1", out.Body.Conflicts[0].RecordID)
	assert.Equal(t, validation.ReasonAlreadyUsed, out.Body.Conflicts[0].Reason)
}
