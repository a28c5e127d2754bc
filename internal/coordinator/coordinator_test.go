package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/internal/store"
	"HibiscusSOS/internal/transport"
	"HibiscusSOS/pkg/errors"
	"HibiscusSOS/pkg/geo"
)

// stubBackend 可编程桩后端，记录两条提交路径的调用次数
type stubBackend struct {
	primaryErr   error
	fallbackErr  error
	primaryCalls int
	fallbackCall int
}

func (s *stubBackend) CreateAlert(context.Context, transport.CreateAlertRequest) (*models.Alert, error) {
	return nil, errors.New("not implemented")
}
func (s *stubBackend) NearbyCandidates(context.Context, geo.Point, float64) ([]models.Candidate, error) {
	return nil, errors.New("not implemented")
}
func (s *stubBackend) UpdateRadius(context.Context, string, float64) (*models.Alert, error) {
	return nil, errors.New("not implemented")
}
func (s *stubBackend) CloseAlert(context.Context, string, models.AlertStatus) error {
	return errors.New("not implemented")
}
func (s *stubBackend) PollAlerts(context.Context, string, time.Time) ([]models.Alert, error) {
	return nil, nil
}
func (s *stubBackend) PollResponderUpdates(context.Context, string, time.Time) ([]models.ResponderUpdate, error) {
	return nil, nil
}

func (s *stubBackend) SubmitResponse(_ context.Context, alertID, userID string, decision models.ResponderStatus) (*models.ResponderUpdate, error) {
	s.primaryCalls++
	if s.primaryErr != nil {
		return nil, s.primaryErr
	}
	return &models.ResponderUpdate{AlertID: alertID, UserID: userID, Status: decision, Timestamp: time.Now()}, nil
}

func (s *stubBackend) SubmitResponseFallback(_ context.Context, alertID, userID string, decision models.ResponderStatus) (*models.ResponderUpdate, error) {
	s.fallbackCall++
	if s.fallbackErr != nil {
		return nil, s.fallbackErr
	}
	return &models.ResponderUpdate{AlertID: alertID, UserID: userID, Status: decision, Timestamp: time.Now()}, nil
}

func testSetup(backend transport.Backend) (*Coordinator, *store.AlertStore) {
	st := store.NewAlertStore()
	st.ApplyAlert(models.Alert{ID: "alert-1", CreatorID: "creator", Status: models.AlertActive, CreatedAt: time.Now()})
	return New(backend, st, transport.Session{UserID: "user-1"}), st
}

func TestRespondPrimarySuccess(t *testing.T) {
	backend := &stubBackend{}
	c, st := testSetup(backend)

	status, err := c.Respond(context.Background(), "alert-1", models.ResponderAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.ResponderAccepted, status)
	assert.Equal(t, 1, backend.primaryCalls)
	assert.Equal(t, 0, backend.fallbackCall)

	got, ok := st.MyResponse("alert-1", "user-1")
	require.True(t, ok)
	assert.Equal(t, models.ResponderAccepted, got)
}

func TestRespondFallbackAfterRetryableFailure(t *testing.T) {
	backend := &stubBackend{primaryErr: errors.WithCode(errors.CodeConnectionFailed, "primary down")}
	c, st := testSetup(backend)

	status, err := c.Respond(context.Background(), "alert-1", models.ResponderRejected)
	require.NoError(t, err)
	assert.Equal(t, models.ResponderRejected, status)
	assert.Equal(t, 1, backend.primaryCalls)
	assert.Equal(t, 1, backend.fallbackCall)

	got, _ := st.MyResponse("alert-1", "user-1")
	assert.Equal(t, models.ResponderRejected, got)
}

func TestRespondBothRoutesFail(t *testing.T) {
	backend := &stubBackend{
		primaryErr:  errors.WithCode(errors.CodeConnectionFailed, "primary down"),
		fallbackErr: errors.WithCode(errors.CodeConnectionFailed, "fallback down"),
	}
	c, st := testSetup(backend)

	_, err := c.Respond(context.Background(), "alert-1", models.ResponderAccepted)
	require.Error(t, err)
	assert.Equal(t, errors.CodeSubmissionFailed, errors.GetCode(err))

	// 远端未确认，本地不得出现已提交状态
	_, ok := st.MyResponse("alert-1", "user-1")
	assert.False(t, ok)
}

func TestRespondNonRetryableSkipsFallback(t *testing.T) {
	backend := &stubBackend{primaryErr: errors.WithCode(errors.CodeConflict, "already responded")}
	c, _ := testSetup(backend)

	_, err := c.Respond(context.Background(), "alert-1", models.ResponderAccepted)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConflict, errors.GetCode(err))
	assert.Equal(t, 0, backend.fallbackCall)
}

func TestRespondValidation(t *testing.T) {
	c, _ := testSetup(&stubBackend{})

	_, err := c.Respond(context.Background(), "", models.ResponderAccepted)
	assert.Equal(t, errors.CodeValidation, errors.GetCode(err))

	_, err = c.Respond(context.Background(), "alert-1", models.ResponderStatus("maybe"))
	assert.Equal(t, errors.CodeValidation, errors.GetCode(err))

	// pending 不是可提交的决定
	_, err = c.Respond(context.Background(), "alert-1", models.ResponderPending)
	assert.Equal(t, errors.CodeValidation, errors.GetCode(err))
}

func TestRespondExistingTerminalShortCircuits(t *testing.T) {
	backend := &stubBackend{}
	c, st := testSetup(backend)

	st.ApplyResponderUpdate(models.ResponderUpdate{
		AlertID: "alert-1", UserID: "user-1",
		Status: models.ResponderRejected, Timestamp: time.Now(),
	})

	status, err := c.Respond(context.Background(), "alert-1", models.ResponderAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.ResponderRejected, status)
	assert.Equal(t, 0, backend.primaryCalls)
}

func TestHandleUpdateLateLoser(t *testing.T) {
	c, st := testSetup(&stubBackend{})

	base := time.Now()
	c.HandleUpdate(models.Event{
		Kind:      models.EventResponderUpdate,
		Update:    &models.ResponderUpdate{AlertID: "alert-1", UserID: "user-2", Status: models.ResponderAccepted, Timestamp: base.Add(10 * time.Second)},
		Timestamp: base.Add(10 * time.Second),
	})
	// 迟到的更旧事件不能覆盖
	c.HandleUpdate(models.Event{
		Kind:      models.EventResponderUpdate,
		Update:    &models.ResponderUpdate{AlertID: "alert-1", UserID: "user-2", Status: models.ResponderRejected, Timestamp: base.Add(8 * time.Second)},
		Timestamp: base.Add(8 * time.Second),
	})

	got, ok := st.MyResponse("alert-1", "user-2")
	require.True(t, ok)
	assert.Equal(t, models.ResponderAccepted, got)
}

func TestAcceptedSince(t *testing.T) {
	c, st := testSetup(&stubBackend{})

	base := time.Now()
	st.ApplyResponderUpdate(models.ResponderUpdate{AlertID: "alert-1", UserID: "u1", Status: models.ResponderAccepted, Timestamp: base.Add(time.Minute)})
	st.ApplyResponderUpdate(models.ResponderUpdate{AlertID: "alert-1", UserID: "u2", Status: models.ResponderAccepted, Timestamp: base.Add(2 * time.Minute)})
	st.ApplyResponderUpdate(models.ResponderUpdate{AlertID: "alert-1", UserID: "u3", Status: models.ResponderRejected, Timestamp: base.Add(3 * time.Minute)})

	assert.Equal(t, 2, c.AcceptedSince("alert-1", base))
	assert.Equal(t, 1, c.AcceptedSince("alert-1", base.Add(90*time.Second)))
	assert.Equal(t, 0, c.AcceptedSince("missing", base))
}
