package listeners

import (
	"go.uber.org/zap"

	"HibiscusSOS/internal/store"
	"HibiscusSOS/pkg/logger"
	"HibiscusSOS/pkg/metrics"
)

// InitAlertListeners 注册store观察者：记录状态变化日志与指标。
// 返回注销句柄
func InitAlertListeners(st *store.AlertStore) int {
	m := metrics.NewMetrics()

	return st.Subscribe(func(c store.Change) {
		switch c.Kind {
		case store.ChangeAlertAdded:
			logger.Info("alert visible",
				zap.String("alertId", c.Alert.ID),
				zap.String("category", string(c.Alert.Category)),
				zap.Float64("radius", c.Alert.RadiusMeters))
		case store.ChangeAlertUpdated:
			logger.Info("alert updated",
				zap.String("alertId", c.Alert.ID),
				zap.Float64("radius", c.Alert.RadiusMeters))
		case store.ChangeAlertClosed:
			logger.Info("alert closed",
				zap.String("alertId", c.Alert.ID),
				zap.String("status", string(c.Alert.Status)))
		case store.ChangeResponderUpdate:
			m.ResponderUpdate(string(c.Update.Status))
			logger.Info("responder status changed",
				zap.String("alertId", c.Update.AlertID),
				zap.String("userId", c.Update.UserID),
				zap.String("status", string(c.Update.Status)))
		}
	})
}
