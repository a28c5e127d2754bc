package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/internal/store"
	"HibiscusSOS/internal/transport"
	"HibiscusSOS/pkg/cache"
	"HibiscusSOS/pkg/errors"
	"HibiscusSOS/pkg/geo"
)

// stubBackend 可编程桩后端
type stubBackend struct {
	mu          sync.Mutex
	createErr   error
	createCalls int
	nearby      []models.Candidate
	nearbyCalls int32
	lastRadius  float64
	radiusErr   error
}

func (s *stubBackend) CreateAlert(_ context.Context, req transport.CreateAlertRequest) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &models.Alert{
		ID: uuid.NewString(), CreatorID: req.CreatorID, Category: req.Category,
		Description: req.Description, Lat: req.Origin.Lat, Lng: req.Origin.Lng,
		RadiusMeters: req.RadiusMeters, Status: models.AlertActive,
		Fingerprint: req.Fingerprint, CreatedAt: req.CreatedAt,
	}, nil
}

func (s *stubBackend) NearbyCandidates(_ context.Context, _ geo.Point, radius float64) ([]models.Candidate, error) {
	atomic.AddInt32(&s.nearbyCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRadius = radius
	return s.nearby, nil
}

func (s *stubBackend) SubmitResponse(context.Context, string, string, models.ResponderStatus) (*models.ResponderUpdate, error) {
	return nil, errors.New("not implemented")
}
func (s *stubBackend) SubmitResponseFallback(context.Context, string, string, models.ResponderStatus) (*models.ResponderUpdate, error) {
	return nil, errors.New("not implemented")
}

func (s *stubBackend) UpdateRadius(_ context.Context, alertID string, radius float64) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.radiusErr != nil {
		return nil, s.radiusErr
	}
	s.lastRadius = radius
	return &models.Alert{ID: alertID, Status: models.AlertActive, RadiusMeters: radius}, nil
}

func (s *stubBackend) CloseAlert(context.Context, string, models.AlertStatus) error { return nil }
func (s *stubBackend) PollAlerts(context.Context, string, time.Time) ([]models.Alert, error) {
	return nil, nil
}
func (s *stubBackend) PollResponderUpdates(context.Context, string, time.Time) ([]models.ResponderUpdate, error) {
	return nil, nil
}

func testService(t *testing.T, backend transport.Backend, opts Options) (*Service, *store.AlertStore) {
	t.Helper()
	c, err := cache.NewCache(cache.Config{Type: "local"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	st := store.NewAlertStore()
	svc := New(backend, st, c, transport.Session{UserID: "user-1"}, opts)
	t.Cleanup(svc.Close)
	return svc, st
}

func validInput() CreateAlertInput {
	return CreateAlertInput{
		Category:    models.CategoryMedical,
		Description: "chest pain, need help",
		Origin:      &geo.Point{Lat: 28.6139, Lng: 77.2090},
	}
}

func TestCreateAlertSuccess(t *testing.T) {
	backend := &stubBackend{}
	svc, st := testService(t, backend, Options{})

	alert, err := svc.CreateAlert(context.Background(), validInput())
	require.NoError(t, err)
	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, "user-1", alert.CreatorID)
	assert.Equal(t, 2000.0, alert.RadiusMeters) // 默认半径
	assert.True(t, alert.Active())

	stored, ok := st.Alert(alert.ID)
	require.True(t, ok)
	assert.Equal(t, alert.ID, stored.ID)
}

func TestCreateAlertValidation(t *testing.T) {
	backend := &stubBackend{}
	svc, _ := testService(t, backend, Options{})
	ctx := context.Background()

	input := validInput()
	input.Category = "gossip"
	_, err := svc.CreateAlert(ctx, input)
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.GetCode(err))
	assert.Contains(t, err.(*errors.Error).FieldNames(), "category")

	input = validInput()
	input.Description = ""
	_, err = svc.CreateAlert(ctx, input)
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.GetCode(err))
	assert.Contains(t, err.(*errors.Error).FieldNames(), "description")

	// 纯空白等同于空
	input.Description = "   "
	_, err = svc.CreateAlert(ctx, input)
	require.Error(t, err)
	assert.Contains(t, err.(*errors.Error).FieldNames(), "description")

	input = validInput()
	input.Origin = nil
	_, err = svc.CreateAlert(ctx, input)
	assert.Equal(t, errors.CodeLocationUnavail, errors.GetCode(err))

	input = validInput()
	input.Origin = &geo.Point{Lat: 91, Lng: 0}
	_, err = svc.CreateAlert(ctx, input)
	assert.Equal(t, errors.CodeInvalidCoordinate, errors.GetCode(err))

	input = validInput()
	input.RadiusMeters = maxRadiusMeters + 1
	_, err = svc.CreateAlert(ctx, input)
	assert.Equal(t, errors.CodeValidation, errors.GetCode(err))

	// 全部校验失败都不触碰后端
	assert.Equal(t, 0, backend.createCalls)
}

func TestCreateAlertDedupWindow(t *testing.T) {
	backend := &stubBackend{}
	svc, _ := testService(t, backend, Options{DedupWindow: time.Minute})

	input := validInput()
	first, err := svc.CreateAlert(context.Background(), input)
	require.NoError(t, err)

	// 同一秒内的重复提交产生相同指纹，直接命中窗口
	second, err := svc.CreateAlert(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, backend.createCalls)
}

func TestCreateAlertFailureReleasesWindow(t *testing.T) {
	backend := &stubBackend{createErr: errors.WithCode(errors.CodeConnectionFailed, "backend down")}
	svc, _ := testService(t, backend, Options{DedupWindow: time.Minute})

	input := validInput()
	_, err := svc.CreateAlert(context.Background(), input)
	require.Error(t, err)

	// 失败释放了窗口，立即重试必须再次到达后端
	backend.mu.Lock()
	backend.createErr = nil
	backend.mu.Unlock()

	alert, err := svc.CreateAlert(context.Background(), input)
	require.NoError(t, err)
	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, 2, backend.createCalls)
}

func TestQueryNearby(t *testing.T) {
	backend := &stubBackend{nearby: []models.Candidate{
		{UserID: "u1", Distance: 120},
		{UserID: "u2", Distance: 450},
	}}
	svc, st := testService(t, backend, Options{})

	got, err := svc.QueryNearby(context.Background(), geo.Point{Lat: 28.61, Lng: 77.21}, 1000)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, got, st.NearbyCandidates())

	_, err = svc.QueryNearby(context.Background(), geo.Point{Lat: 200, Lng: 0}, 1000)
	assert.Equal(t, errors.CodeInvalidCoordinate, errors.GetCode(err))
}

func TestPreviewRadiusDebounce(t *testing.T) {
	backend := &stubBackend{}
	svc, _ := testService(t, backend, Options{RadiusDebounce: 50 * time.Millisecond})

	origin := geo.Point{Lat: 28.61, Lng: 77.21}
	// 模拟滑块拖动：连续的半径变化
	for r := 500.0; r <= 3000; r += 500 {
		svc.PreviewRadius(origin, r)
		time.Sleep(5 * time.Millisecond)
	}

	// 只有最后一个值触发查询
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&backend.nearbyCalls) == 1 },
		time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.nearbyCalls))

	backend.mu.Lock()
	assert.Equal(t, 3000.0, backend.lastRadius)
	backend.mu.Unlock()
}

func TestPreviewAfterCloseIgnored(t *testing.T) {
	backend := &stubBackend{}
	svc, _ := testService(t, backend, Options{RadiusDebounce: 20 * time.Millisecond})

	svc.Close()
	svc.PreviewRadius(geo.Point{Lat: 1, Lng: 1}, 1000)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&backend.nearbyCalls))
}

func TestSetBroadcastRadius(t *testing.T) {
	backend := &stubBackend{}
	svc, st := testService(t, backend, Options{})

	st.ApplyAlert(models.Alert{ID: "alert-1", CreatorID: "user-1", Status: models.AlertActive, RadiusMeters: 2000})

	alert, err := svc.SetBroadcastRadius(context.Background(), "alert-1", 5000)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, alert.RadiusMeters)

	stored, _ := st.Alert("alert-1")
	assert.Equal(t, 5000.0, stored.RadiusMeters)
}

func TestSetBroadcastRadiusOnClosedAlert(t *testing.T) {
	svc, st := testService(t, &stubBackend{}, Options{})

	st.ApplyAlert(models.Alert{ID: "alert-1", CreatorID: "user-1", Status: models.AlertActive})
	st.Deactivate("alert-1", models.AlertResolved)

	_, err := svc.SetBroadcastRadius(context.Background(), "alert-1", 3000)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConflict, errors.GetCode(err))
}

func TestCloseAlert(t *testing.T) {
	svc, st := testService(t, &stubBackend{}, Options{})
	st.ApplyAlert(models.Alert{ID: "alert-1", CreatorID: "user-1", Status: models.AlertActive})

	err := svc.CloseAlert(context.Background(), "alert-1", models.AlertStatus("active"))
	assert.Equal(t, errors.CodeValidation, errors.GetCode(err))

	require.NoError(t, svc.CloseAlert(context.Background(), "alert-1", models.AlertResolved))
	stored, _ := st.Alert("alert-1")
	assert.Equal(t, models.AlertResolved, stored.Status)
}

func TestHandleAlertEvents(t *testing.T) {
	svc, st := testService(t, &stubBackend{}, Options{})

	alert := models.Alert{ID: "alert-9", CreatorID: "user-2", Status: models.AlertActive, CreatedAt: time.Now()}
	svc.HandleAlert(models.Event{Kind: models.EventNewAlert, Alert: &alert, Timestamp: alert.CreatedAt})

	stored, ok := st.Alert("alert-9")
	require.True(t, ok)
	assert.True(t, stored.Active())

	closed := alert
	closed.Status = models.AlertCancelled
	svc.HandleAlert(models.Event{Kind: models.EventAlertClosed, Alert: &closed, Timestamp: time.Now()})

	stored, _ = st.Alert("alert-9")
	assert.Equal(t, models.AlertCancelled, stored.Status)
}
