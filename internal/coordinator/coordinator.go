package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/internal/store"
	"HibiscusSOS/internal/transport"
	"HibiscusSOS/pkg/errors"
	"HibiscusSOS/pkg/logger"
)

// Coordinator 响应者协调：提交本人对告警的接受/拒绝决定，
// 并消费入站的响应者更新流。提交先走主路径，失败后退避到
// 备用路径重试一次；只有远端确认后才写入本地状态
type Coordinator struct {
	backend transport.Backend
	store   *store.AlertStore
	session transport.Session
}

func New(backend transport.Backend, st *store.AlertStore, session transport.Session) *Coordinator {
	return &Coordinator{backend: backend, store: st, session: session}
}

// Respond 提交当前用户对告警的决定。
// 已存在终态时直接返回该终态，不重复提交；
// 提交成功后的状态合并仍走统一的时间戳覆盖规则
func (c *Coordinator) Respond(ctx context.Context, alertID string, decision models.ResponderStatus) (models.ResponderStatus, error) {
	if alertID == "" {
		return "", errors.WithCode(errors.CodeValidation, "alert id required").WithField("alert_id", "")
	}
	if !decision.Valid() || !decision.Terminal() {
		return "", errors.WithCodef(errors.CodeValidation, "decision must be accepted or rejected, got %q", decision).
			WithField("decision", string(decision))
	}

	if current, ok := c.store.MyResponse(alertID, c.session.UserID); ok && current.Terminal() {
		logger.Debug("response already recorded",
			zap.String("alertId", alertID), zap.String("status", string(current)))
		return current, nil
	}

	update, err := c.submit(ctx, alertID, decision)
	if err != nil {
		return "", err
	}

	c.store.ApplyResponderUpdate(*update)
	if final, ok := c.store.MyResponse(alertID, c.session.UserID); ok {
		return final, nil
	}
	return update.Status, nil
}

// submit 主路径提交，传输类失败后走备用路径重试一次
func (c *Coordinator) submit(ctx context.Context, alertID string, decision models.ResponderStatus) (*models.ResponderUpdate, error) {
	update, err := c.backend.SubmitResponse(ctx, alertID, c.session.UserID, decision)
	if err == nil {
		return update, nil
	}
	if !errors.Retryable(err) {
		return nil, err
	}

	logger.Warn("primary submission failed, retrying on fallback route",
		zap.String("alertId", alertID), zap.Error(err))

	update, ferr := c.backend.SubmitResponseFallback(ctx, alertID, c.session.UserID, decision)
	if ferr == nil {
		return update, nil
	}
	e := errors.Wrapf(ferr, "response submission failed on both routes")
	e.Code = errors.CodeSubmissionFailed
	return nil, e
}

// HandleUpdate 入站响应者更新的消费入口，由传输层订阅回调触发
func (c *Coordinator) HandleUpdate(ev models.Event) {
	if ev.Update == nil {
		return
	}
	update := *ev.Update
	if update.Timestamp.IsZero() {
		update.Timestamp = ev.Timestamp
	}
	if c.store.ApplyResponderUpdate(update) {
		logger.Debug("responder update applied",
			zap.String("alertId", update.AlertID),
			zap.String("userId", update.UserID),
			zap.String("status", string(update.Status)))
	}
}

// MyResponse 查询当前用户对某条告警已记录的决定
func (c *Coordinator) MyResponse(alertID string) (models.ResponderStatus, bool) {
	return c.store.MyResponse(alertID, c.session.UserID)
}

// Responders 查询某条告警的全部响应者记录快照
func (c *Coordinator) Responders(alertID string) ([]models.Responder, bool) {
	alert, ok := c.store.Alert(alertID)
	if !ok {
		return nil, false
	}
	return alert.Responders, true
}

// AcceptedSince 统计某时间点之后接受的响应者数，用于升级判断
func (c *Coordinator) AcceptedSince(alertID string, since time.Time) int {
	alert, ok := c.store.Alert(alertID)
	if !ok {
		return 0
	}
	n := 0
	for _, r := range alert.Responders {
		if r.Status == models.ResponderAccepted && r.UpdatedAt.After(since) {
			n++
		}
	}
	return n
}
