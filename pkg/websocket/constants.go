package websocket

// WebSocket消息类型常量
const (
	// 系统消息类型
	MessageTypePing  = "ping"
	MessageTypePong  = "pong"
	MessageTypeError = "error"

	// 业务消息类型
	MessageTypeNewAlert        = "new_alert"
	MessageTypeResponderUpdate = "responder_update"
	MessageTypeAlertClosed     = "alert_closed"

	// 认证上下文中的用户字段
	UserField = "user_id"
)
