package transport

import (
	"context"
	"time"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/pkg/geo"
)

// Session 当前用户会话，由外部身份提供方产出
type Session struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Token       string `json:"token,omitempty"`
}

// Valid 会话是否可用于建立通道
func (s Session) Valid() bool {
	return s.UserID != ""
}

// CreateAlertRequest 创建告警的客户端意图。
// CreatedAt 与 Fingerprint 共同构成去重指纹：同一意图的重试
// 不会产生第二条告警
type CreateAlertRequest struct {
	CreatorID    string          `json:"creator_id"`
	Category     models.Category `json:"category"`
	Description  string          `json:"description"`
	Origin       geo.Point       `json:"origin"`
	Address      string          `json:"address"`
	RadiusMeters float64         `json:"radius_meters"`
	CreatedAt    time.Time       `json:"created_at"`
	Fingerprint  string          `json:"fingerprint"`
}

// Backend 后端能力契约：创建、按半径查询、状态提交、按水位轮询。
// 这里不约定具体URL，HTTP实现只是其中一种绑定
type Backend interface {
	// CreateAlert 创建告警，指纹重复时返回已存在的告警
	CreateAlert(ctx context.Context, req CreateAlertRequest) (*models.Alert, error)

	// NearbyCandidates 查询半径内的候选人，按距离升序
	NearbyCandidates(ctx context.Context, origin geo.Point, radiusMeters float64) ([]models.Candidate, error)

	// SubmitResponse 提交响应状态，返回服务端确认后的更新事件
	SubmitResponse(ctx context.Context, alertID, userID string, decision models.ResponderStatus) (*models.ResponderUpdate, error)

	// SubmitResponseFallback 备用提交路径，仅在主路径失败后使用
	SubmitResponseFallback(ctx context.Context, alertID, userID string, decision models.ResponderStatus) (*models.ResponderUpdate, error)

	// UpdateRadius 调整广播半径并重新播种响应者集合
	UpdateRadius(ctx context.Context, alertID string, radiusMeters float64) (*models.Alert, error)

	// CloseAlert 将告警置为终结状态
	CloseAlert(ctx context.Context, alertID string, status models.AlertStatus) error

	// PollAlerts 拉取水位之后出现的、与当前用户相关的新告警
	PollAlerts(ctx context.Context, userID string, since time.Time) ([]models.Alert, error)

	// PollResponderUpdates 拉取水位之后当前用户所发告警的响应者更新
	PollResponderUpdates(ctx context.Context, userID string, since time.Time) ([]models.ResponderUpdate, error)
}
