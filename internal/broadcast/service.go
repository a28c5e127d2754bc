package broadcast

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/internal/store"
	"HibiscusSOS/internal/transport"
	"HibiscusSOS/pkg/cache"
	"HibiscusSOS/pkg/errors"
	"HibiscusSOS/pkg/geo"
	"HibiscusSOS/pkg/logger"
)

const (
	maxDescriptionLen = 500
	maxRadiusMeters   = 50000
	dedupKeyPrefix    = "sos:fp:"
)

// Options 广播服务可调参数
type Options struct {
	// DefaultRadiusMeters 创建告警未指定半径时的默认值，零值取2000米
	DefaultRadiusMeters float64
	// DedupWindow 指纹去重窗口，零值取30秒
	DedupWindow time.Duration
	// RadiusDebounce 半径预览查询去抖周期，零值取300毫秒
	RadiusDebounce time.Duration
}

// Service 告警广播：创建求助告警、按半径查询候选响应者、
// 调整广播半径。创建去重分两层：本地指纹缓存窗口先挡住
// 连点，服务端指纹索引兜底保证最终只有一条告警
type Service struct {
	backend transport.Backend
	store   *store.AlertStore
	cache   cache.Cache
	session transport.Session
	opts    Options

	mu            sync.Mutex
	previewTimer  *time.Timer
	previewOrigin geo.Point
	previewRadius float64
	closed        bool
}

func New(backend transport.Backend, st *store.AlertStore, c cache.Cache, session transport.Session, opts Options) *Service {
	if opts.DefaultRadiusMeters <= 0 {
		opts.DefaultRadiusMeters = 2000
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 30 * time.Second
	}
	if opts.RadiusDebounce <= 0 {
		opts.RadiusDebounce = 300 * time.Millisecond
	}
	return &Service{backend: backend, store: st, cache: c, session: session, opts: opts}
}

// CreateAlertInput 创建告警的输入。Origin 为nil表示定位不可用
type CreateAlertInput struct {
	Category     models.Category
	Description  string
	Origin       *geo.Point
	Address      string
	RadiusMeters float64
}

// CreateAlert 校验并提交一条求助告警。
// 去重窗口内的重复提交返回已创建的告警而非错误
func (s *Service) CreateAlert(ctx context.Context, input CreateAlertInput) (*models.Alert, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}

	radius := input.RadiusMeters
	if radius == 0 {
		radius = s.opts.DefaultRadiusMeters
	}

	createdAt := time.Now()
	fingerprint := models.Fingerprint(s.session.UserID, *input.Origin, input.Description)

	// 本地去重窗口：SetNX失败说明窗口内已有同指纹的创建在途或已完成
	key := dedupKeyPrefix + fingerprint
	fresh, err := s.cache.SetNX(ctx, key, "pending", s.opts.DedupWindow)
	if err != nil {
		logger.Warn("dedup cache unavailable, relying on server-side dedup", zap.Error(err))
		fresh = true
	}
	if !fresh {
		if existing, ok := s.cachedAlert(ctx, key); ok {
			logger.Info("duplicate alert suppressed by dedup window", zap.String("alertId", existing.ID))
			return existing, nil
		}
		// 在途创建尚未回填缓存，交给服务端指纹索引兜底
	}

	alert, err := s.backend.CreateAlert(ctx, transport.CreateAlertRequest{
		CreatorID:    s.session.UserID,
		Category:     input.Category,
		Description:  input.Description,
		Origin:       *input.Origin,
		Address:      input.Address,
		RadiusMeters: radius,
		CreatedAt:    createdAt,
		Fingerprint:  fingerprint,
	})
	if err != nil {
		// 创建未成功，释放窗口让用户立即重试
		_ = s.cache.Delete(ctx, key)
		return nil, err
	}

	_ = s.cache.Set(ctx, key, alert.ID, s.opts.DedupWindow)
	s.store.ApplyAlert(*alert)
	return alert, nil
}

func (s *Service) validate(input CreateAlertInput) error {
	if !input.Category.Valid() {
		return errors.WithCodef(errors.CodeValidation, "unknown category %q", input.Category).
			WithField("category", string(input.Category))
	}
	if strings.TrimSpace(input.Description) == "" {
		return errors.WithCode(errors.CodeValidation, "description required").
			WithField("description", "")
	}
	if len(input.Description) > maxDescriptionLen {
		return errors.WithCode(errors.CodeValidation, "description too long").
			WithField("description", "")
	}
	if input.Origin == nil {
		return errors.WithCode(errors.CodeLocationUnavail, "location unavailable")
	}
	if !input.Origin.Valid() {
		return errors.WithCodef(errors.CodeInvalidCoordinate, "coordinate out of range: %.4f,%.4f",
			input.Origin.Lat, input.Origin.Lng)
	}
	if input.RadiusMeters < 0 || input.RadiusMeters > maxRadiusMeters {
		return errors.WithCode(errors.CodeValidation, "radius out of range").
			WithField("radius_meters", "")
	}
	return nil
}

// cachedAlert 按缓存的告警ID回查store
func (s *Service) cachedAlert(ctx context.Context, key string) (*models.Alert, bool) {
	v, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	id, ok := v.(string)
	if !ok || id == "" || id == "pending" {
		return nil, false
	}
	alert, ok := s.store.Alert(id)
	if !ok {
		return nil, false
	}
	return &alert, true
}

// QueryNearby 立即查询半径内候选响应者并更新store
func (s *Service) QueryNearby(ctx context.Context, origin geo.Point, radiusMeters float64) ([]models.Candidate, error) {
	if !origin.Valid() {
		return nil, errors.WithCode(errors.CodeInvalidCoordinate, "coordinate out of range")
	}
	candidates, err := s.backend.NearbyCandidates(ctx, origin, radiusMeters)
	if err != nil {
		return nil, err
	}
	s.store.SetNearbyCandidates(candidates)
	return candidates, nil
}

// PreviewRadius 半径滑块预览：请求去抖，只有停止拖动后的
// 最后一个值会触发真正的查询，结果经store观察者送达
func (s *Service) PreviewRadius(origin geo.Point, radiusMeters float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.previewOrigin = origin
	s.previewRadius = radiusMeters
	if s.previewTimer != nil {
		s.previewTimer.Stop()
	}
	s.previewTimer = time.AfterFunc(s.opts.RadiusDebounce, s.firePreview)
}

func (s *Service) firePreview() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	origin, radius := s.previewOrigin, s.previewRadius
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.QueryNearby(ctx, origin, radius); err != nil {
		logger.Debug("radius preview query failed", zap.Error(err))
	}
}

// SetBroadcastRadius 调整进行中告警的广播半径。
// 已终结的告警不可调整；扩大半径会在服务端重新播种候选集
func (s *Service) SetBroadcastRadius(ctx context.Context, alertID string, radiusMeters float64) (*models.Alert, error) {
	if radiusMeters <= 0 || radiusMeters > maxRadiusMeters {
		return nil, errors.WithCode(errors.CodeValidation, "radius out of range").
			WithField("radius_meters", "")
	}
	if known, ok := s.store.Alert(alertID); ok && !known.Active() {
		return nil, errors.WithCodef(errors.CodeConflict, "alert %s is no longer active", alertID)
	}

	alert, err := s.backend.UpdateRadius(ctx, alertID, radiusMeters)
	if err != nil {
		return nil, err
	}
	s.store.UpdateRadius(alert.ID, alert.RadiusMeters)
	return alert, nil
}

// CloseAlert 终结一条告警（resolved 或 cancelled）
func (s *Service) CloseAlert(ctx context.Context, alertID string, status models.AlertStatus) error {
	if status != models.AlertResolved && status != models.AlertCancelled {
		return errors.WithCodef(errors.CodeValidation, "invalid terminal status %q", status).
			WithField("status", string(status))
	}
	if err := s.backend.CloseAlert(ctx, alertID, status); err != nil {
		return err
	}
	s.store.Deactivate(alertID, status)
	return nil
}

// HandleAlert 入站告警事件的消费入口，由传输层订阅回调触发
func (s *Service) HandleAlert(ev models.Event) {
	if ev.Alert == nil {
		return
	}
	switch ev.Kind {
	case models.EventNewAlert:
		if s.store.ApplyAlert(*ev.Alert) {
			logger.Info("alert received",
				zap.String("alertId", ev.Alert.ID),
				zap.String("category", string(ev.Alert.Category)))
		}
	case models.EventAlertClosed:
		status := ev.Alert.Status
		if status == models.AlertActive {
			status = models.AlertResolved
		}
		s.store.Deactivate(ev.Alert.ID, status)
	}
}

// Close 停止去抖定时器，之后的预览请求被忽略
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.previewTimer != nil {
		s.previewTimer.Stop()
		s.previewTimer = nil
	}
}
