package models

import "time"

// EventKind 入站事件类型
type EventKind string

const (
	EventNewAlert        EventKind = "new_alert"
	EventResponderUpdate EventKind = "responder_update"
	EventAlertClosed     EventKind = "alert_closed"
)

// Event 推送通道与轮询通道归一后的入站事件。
// 消费方必须按至少一次投递处理：事件以 alertId 或 (alertId,userId) 为键，重放为空操作
type Event struct {
	Kind      EventKind        `json:"kind"`
	Alert     *Alert           `json:"alert,omitempty"`
	Update    *ResponderUpdate `json:"update,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
