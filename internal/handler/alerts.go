package handlers

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"HibiscusSOS/internal/directory"
	"HibiscusSOS/internal/models"
	"HibiscusSOS/internal/transport"
	"HibiscusSOS/pkg/errors"
	"HibiscusSOS/pkg/geo"
	"HibiscusSOS/pkg/logger"
	"HibiscusSOS/pkg/middleware"
	"HibiscusSOS/pkg/response"
	"HibiscusSOS/pkg/websocket"
)

const maxRadiusMeters = 50000

// handleCreateAlert 创建求助告警：指纹去重、落库、播种候选
// 响应者并向其推送
func (h *Handlers) handleCreateAlert(c *gin.Context) {
	var req transport.CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithError(c, errors.WithCode(errors.CodeValidation, "invalid request body"))
		return
	}
	creatorID := c.GetString(middleware.UserField)

	if !req.Category.Valid() {
		response.FailWithError(c, errors.WithCodef(errors.CodeValidation, "unknown category %q", req.Category).
			WithField("category", string(req.Category)))
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		response.FailWithError(c, errors.WithCode(errors.CodeValidation, "description required").
			WithField("description", ""))
		return
	}
	if !req.Origin.Valid() {
		response.FailWithError(c, errors.WithCode(errors.CodeInvalidCoordinate, "coordinate out of range"))
		return
	}
	radius := req.RadiusMeters
	if radius == 0 {
		radius = h.cfg.DefaultRadiusMeters
	}
	if radius < 0 || radius > maxRadiusMeters {
		response.FailWithError(c, errors.WithCode(errors.CodeValidation, "radius out of range").
			WithField("radius_meters", ""))
		return
	}

	fingerprint := req.Fingerprint
	if fingerprint == "" {
		fingerprint = models.Fingerprint(creatorID, req.Origin, req.Description)
	}

	// 服务端权威去重：窗口内同指纹的告警只创建一条
	var existing models.Alert
	err := h.db.WithContext(c.Request.Context()).
		Preload("Responders").
		Where("fingerprint = ? AND creator_id = ? AND created_at > ?",
			fingerprint, creatorID, time.Now().Add(-h.cfg.DedupWindow)).
		First(&existing).Error
	if err == nil {
		h.metrics.AlertDeduped()
		response.Success(c, "duplicate suppressed", existing)
		return
	}

	alert := models.Alert{
		ID:           uuid.NewString(),
		CreatorID:    creatorID,
		Category:     req.Category,
		Description:  req.Description,
		Lat:          req.Origin.Lat,
		Lng:          req.Origin.Lng,
		Address:      req.Address,
		RadiusMeters: radius,
		Status:       models.AlertActive,
		Fingerprint:  fingerprint,
	}

	candidates, err := h.directory.Nearby(c.Request.Context(), req.Origin, radius, creatorID)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	for _, cand := range candidates {
		profile := h.directory.Resolve(c.Request.Context(), cand.UserID)
		alert.Responders = append(alert.Responders, models.Responder{
			AlertID: alert.ID,
			UserID:  cand.UserID,
			Status:  models.ResponderPending,
			Name:    profile.Name,
			Contact: profile.Contact,
		})
	}

	if err := h.db.WithContext(c.Request.Context()).Create(&alert).Error; err != nil {
		response.FailWithError(c, errors.Wrap(err, "persist alert"))
		return
	}

	h.pushAlert(websocket.MessageTypeNewAlert, &alert, candidateIDs(candidates))
	h.db.Model(&models.Alert{}).Where("id = ?", alert.ID).Update("delivered", true)
	alert.Delivered = true

	h.metrics.AlertCreated()
	logger.Info("alert created",
		zap.String("alertId", alert.ID),
		zap.String("creator", creatorID),
		zap.String("category", string(alert.Category)),
		zap.Int("candidates", len(candidates)))

	response.Success(c, "alert created", alert)
}

// handleNearby 预览半径内候选响应者
func (h *Handlers) handleNearby(c *gin.Context) {
	origin := geo.Point{
		Lat: cast.ToFloat64(c.Query("lat")),
		Lng: cast.ToFloat64(c.Query("lng")),
	}
	radius := cast.ToFloat64(c.DefaultQuery("radius", "0"))
	if radius <= 0 {
		radius = h.cfg.DefaultRadiusMeters
	}

	candidates, err := h.directory.Nearby(c.Request.Context(), origin, radius, c.GetString(middleware.UserField))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.Success(c, "ok", candidates)
}

type respondRequest struct {
	AlertID  string                 `json:"alert_id"`
	UserID   string                 `json:"user_id"`
	Decision models.ResponderStatus `json:"decision"`
}

// handleRespond 响应者对告警的接受/拒绝
func (h *Handlers) handleRespond(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithError(c, errors.WithCode(errors.CodeValidation, "invalid request body"))
		return
	}
	h.applyResponse(c, c.Param("id"), req.Decision)
}

// handleRespondLegacy 旧版扁平路由，alert_id 在请求体内
func (h *Handlers) handleRespondLegacy(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithError(c, errors.WithCode(errors.CodeValidation, "invalid request body"))
		return
	}
	h.applyResponse(c, req.AlertID, req.Decision)
}

func (h *Handlers) applyResponse(c *gin.Context, alertID string, decision models.ResponderStatus) {
	userID := c.GetString(middleware.UserField)
	if alertID == "" {
		response.FailWithError(c, errors.WithCode(errors.CodeValidation, "alert id required").
			WithField("alert_id", ""))
		return
	}
	if !decision.Valid() || !decision.Terminal() {
		response.FailWithError(c, errors.WithCodef(errors.CodeValidation,
			"decision must be accepted or rejected, got %q", decision).
			WithField("decision", string(decision)))
		return
	}

	ctx := c.Request.Context()
	var alert models.Alert
	if err := h.db.WithContext(ctx).First(&alert, "id = ?", alertID).Error; err != nil {
		response.FailWithError(c, errors.WithCodef(errors.CodeNotFound, "alert %s not found", alertID))
		return
	}
	if !alert.Active() {
		response.FailWithError(c, errors.WithCodef(errors.CodeConflict, "alert %s is no longer active", alertID))
		return
	}

	now := time.Now()
	var rec models.Responder
	err := h.db.WithContext(ctx).First(&rec, "alert_id = ? AND user_id = ?", alertID, userID).Error
	switch {
	case stderrors.Is(err, gorm.ErrRecordNotFound):
		// 半径扩大或轮询迟到等原因，响应者记录可能尚不存在
		profile := h.directory.Resolve(ctx, userID)
		rec = models.Responder{
			AlertID: alertID, UserID: userID,
			Status: decision, Name: profile.Name, Contact: profile.Contact, UpdatedAt: now,
		}
		if err := h.db.WithContext(ctx).Create(&rec).Error; err != nil {
			response.FailWithError(c, errors.Wrap(err, "persist responder"))
			return
		}
	case err != nil:
		response.FailWithError(c, errors.Wrap(err, "query responder"))
		return
	default:
		if !models.ResolveStatus(rec.Status, rec.UpdatedAt, decision, now) {
			// 幂等：重复同一决定直接返回当前状态
			if rec.Status == decision {
				response.Success(c, "already recorded", updateOf(rec))
				return
			}
			response.FailWithError(c, errors.WithCodef(errors.CodeConflict,
				"response already recorded as %s", rec.Status))
			return
		}
		rec.Status = decision
		rec.UpdatedAt = now
		if err := h.db.WithContext(ctx).Save(&rec).Error; err != nil {
			response.FailWithError(c, errors.Wrap(err, "persist responder"))
			return
		}
	}

	update := updateOf(rec)
	h.metrics.ResponderUpdate(string(decision))
	h.pushUpdate(&update, alert.CreatorID)

	logger.Info("responder update applied",
		zap.String("alertId", alertID),
		zap.String("userId", userID),
		zap.String("status", string(decision)))

	response.Success(c, "response recorded", update)
}

type radiusRequest struct {
	RadiusMeters float64 `json:"radius_meters"`
}

// handleUpdateRadius 创建者调整广播半径并重新播种候选集：
// 新入圈的用户以pending加入并收到推送，已表态的记录保留，
// 出圈且仍为pending的记录移除
func (h *Handlers) handleUpdateRadius(c *gin.Context) {
	var req radiusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithError(c, errors.WithCode(errors.CodeValidation, "invalid request body"))
		return
	}
	if req.RadiusMeters <= 0 || req.RadiusMeters > maxRadiusMeters {
		response.FailWithError(c, errors.WithCode(errors.CodeValidation, "radius out of range").
			WithField("radius_meters", ""))
		return
	}

	ctx := c.Request.Context()
	alertID := c.Param("id")
	var alert models.Alert
	if err := h.db.WithContext(ctx).Preload("Responders").First(&alert, "id = ?", alertID).Error; err != nil {
		response.FailWithError(c, errors.WithCodef(errors.CodeNotFound, "alert %s not found", alertID))
		return
	}
	if alert.CreatorID != c.GetString(middleware.UserField) {
		response.FailWithError(c, errors.WithCode(errors.CodeAuthRequired, "only the creator can adjust the radius"))
		return
	}
	if !alert.Active() {
		response.FailWithError(c, errors.WithCodef(errors.CodeConflict, "alert %s is no longer active", alertID))
		return
	}

	candidates, err := h.directory.Nearby(ctx, alert.Origin(), req.RadiusMeters, alert.CreatorID)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	inRange := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		inRange[cand.UserID] = true
	}

	known := make(map[string]models.ResponderStatus, len(alert.Responders))
	for _, r := range alert.Responders {
		known[r.UserID] = r.Status
	}

	var added []string
	for _, cand := range candidates {
		if _, seen := known[cand.UserID]; seen {
			continue
		}
		profile := h.directory.Resolve(ctx, cand.UserID)
		rec := models.Responder{
			AlertID: alertID, UserID: cand.UserID,
			Status: models.ResponderPending, Name: profile.Name, Contact: profile.Contact,
			UpdatedAt: time.Now(),
		}
		if err := h.db.WithContext(ctx).Create(&rec).Error; err != nil {
			response.FailWithError(c, errors.Wrap(err, "persist responder"))
			return
		}
		added = append(added, cand.UserID)
	}

	// 出圈的pending记录不再是候选；已表态的保留
	for userID, status := range known {
		if !inRange[userID] && status == models.ResponderPending {
			h.db.WithContext(ctx).Delete(&models.Responder{}, "alert_id = ? AND user_id = ?", alertID, userID)
		}
	}

	if err := h.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ?", alertID).Update("radius_meters", req.RadiusMeters).Error; err != nil {
		response.FailWithError(c, errors.Wrap(err, "persist radius"))
		return
	}

	h.db.WithContext(ctx).Preload("Responders").First(&alert, "id = ?", alertID)
	if len(added) > 0 {
		h.pushAlert(websocket.MessageTypeNewAlert, &alert, added)
	}

	logger.Info("broadcast radius updated",
		zap.String("alertId", alertID),
		zap.Float64("radius", req.RadiusMeters),
		zap.Int("newCandidates", len(added)))

	response.Success(c, "radius updated", alert)
}

type closeRequest struct {
	Status models.AlertStatus `json:"status"`
}

// handleCloseAlert 创建者终结告警，通知所有响应者
func (h *Handlers) handleCloseAlert(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithError(c, errors.WithCode(errors.CodeValidation, "invalid request body"))
		return
	}
	if req.Status != models.AlertResolved && req.Status != models.AlertCancelled {
		response.FailWithError(c, errors.WithCodef(errors.CodeValidation, "invalid terminal status %q", req.Status).
			WithField("status", string(req.Status)))
		return
	}

	ctx := c.Request.Context()
	alertID := c.Param("id")
	var alert models.Alert
	if err := h.db.WithContext(ctx).Preload("Responders").First(&alert, "id = ?", alertID).Error; err != nil {
		response.FailWithError(c, errors.WithCodef(errors.CodeNotFound, "alert %s not found", alertID))
		return
	}
	if alert.CreatorID != c.GetString(middleware.UserField) {
		response.FailWithError(c, errors.WithCode(errors.CodeAuthRequired, "only the creator can close the alert"))
		return
	}
	if !alert.Active() {
		response.Success(c, "already closed", alert)
		return
	}

	if err := h.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ?", alertID).Update("status", req.Status).Error; err != nil {
		response.FailWithError(c, errors.Wrap(err, "persist status"))
		return
	}
	alert.Status = req.Status

	targets := make([]string, 0, len(alert.Responders))
	for _, r := range alert.Responders {
		targets = append(targets, r.UserID)
	}
	h.pushAlert(websocket.MessageTypeAlertClosed, &alert, targets)

	logger.Info("alert closed",
		zap.String("alertId", alertID), zap.String("status", string(req.Status)))

	response.Success(c, "alert closed", alert)
}

// handlePollAlerts 轮询兜底：返回当前用户作为候选响应者、
// 且自水位以来有变化的告警（含新建与关闭）
func (h *Handlers) handlePollAlerts(c *gin.Context) {
	h.metrics.PollRequest("alerts")
	since, err := parseSince(c.Query("since"))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	userID := c.GetString(middleware.UserField)

	var alerts []models.Alert
	err = h.db.WithContext(c.Request.Context()).
		Joins("JOIN responders ON responders.alert_id = alerts.id").
		Where("responders.user_id = ? AND alerts.updated_at > ?", userID, since).
		Preload("Responders").
		Order("alerts.created_at").
		Find(&alerts).Error
	if err != nil {
		response.FailWithError(c, errors.Wrap(err, "query alerts"))
		return
	}
	response.Success(c, "ok", alerts)
}

// handlePollResponses 轮询兜底：返回当前用户所发告警的响应者
// 状态变化
func (h *Handlers) handlePollResponses(c *gin.Context) {
	h.metrics.PollRequest("responses")
	since, err := parseSince(c.Query("since"))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	userID := c.GetString(middleware.UserField)

	var recs []models.Responder
	err = h.db.WithContext(c.Request.Context()).
		Joins("JOIN alerts ON alerts.id = responders.alert_id").
		Where("alerts.creator_id = ? AND responders.updated_at > ? AND responders.status <> ?",
			userID, since, models.ResponderPending).
		Order("responders.updated_at").
		Find(&recs).Error
	if err != nil {
		response.FailWithError(c, errors.Wrap(err, "query responders"))
		return
	}

	updates := make([]models.ResponderUpdate, 0, len(recs))
	for _, rec := range recs {
		updates = append(updates, updateOf(rec))
	}
	response.Success(c, "ok", updates)
}

// handleReportLocation 用户位置上报，进入候选响应者目录
func (h *Handlers) handleReportLocation(c *gin.Context) {
	var req struct {
		Lat     float64 `json:"lat"`
		Lng     float64 `json:"lng"`
		Name    string  `json:"name"`
		Contact string  `json:"contact"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithError(c, errors.WithCode(errors.CodeValidation, "invalid request body"))
		return
	}

	err := h.directory.Report(c.Request.Context(), directory.UserLocation{
		UserID:  c.GetString(middleware.UserField),
		Lat:     req.Lat,
		Lng:     req.Lng,
		Name:    req.Name,
		Contact: req.Contact,
	})
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.Success(c, "location recorded", nil)
}

// SweepStaleAlerts 清扫超过TTL仍未终结的告警，由定时任务驱动
func (h *Handlers) SweepStaleAlerts(ctx context.Context) {
	cutoff := time.Now().Add(-h.cfg.StaleAlertTTL)
	res := h.db.WithContext(ctx).Model(&models.Alert{}).
		Where("status = ? AND created_at < ?", models.AlertActive, cutoff).
		Update("status", models.AlertResolved)
	if res.Error != nil {
		logger.Error("stale alert sweep failed", zap.Error(res.Error))
		return
	}
	if res.RowsAffected > 0 {
		logger.Info("stale alerts swept", zap.Int64("count", res.RowsAffected))
	}
}

// pushAlert 向目标用户推送告警消息
func (h *Handlers) pushAlert(msgType string, alert *models.Alert, userIDs []string) {
	if len(userIDs) == 0 {
		return
	}
	h.hub.SendToUsers(userIDs, &websocket.Message{
		Type:      msgType,
		Data:      alert,
		Timestamp: time.Now().Unix(),
	})
	h.metrics.PushMessage(msgType)
}

// pushUpdate 向告警创建者推送响应者状态变化
func (h *Handlers) pushUpdate(update *models.ResponderUpdate, creatorID string) {
	h.hub.SendToUser(creatorID, &websocket.Message{
		Type:      websocket.MessageTypeResponderUpdate,
		Data:      update,
		Timestamp: update.Timestamp.Unix(),
	})
	h.metrics.PushMessage(websocket.MessageTypeResponderUpdate)
}

func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	since, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errors.WithCode(errors.CodeValidation, "invalid since timestamp").
			WithField("since", raw)
	}
	return since, nil
}

func updateOf(rec models.Responder) models.ResponderUpdate {
	return models.ResponderUpdate{
		AlertID:   rec.AlertID,
		UserID:    rec.UserID,
		Status:    rec.Status,
		Timestamp: rec.UpdatedAt,
	}
}

func candidateIDs(candidates []models.Candidate) []string {
	ids := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		ids = append(ids, cand.UserID)
	}
	return ids
}
