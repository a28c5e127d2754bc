package models

import "time"

// ResponderStatus 响应者确认状态
type ResponderStatus string

const (
	ResponderPending  ResponderStatus = "pending"
	ResponderAccepted ResponderStatus = "accepted"
	ResponderRejected ResponderStatus = "rejected"
)

// Terminal 是否为终态；终态之间只能按时间戳规则覆盖，不会回到pending
func (s ResponderStatus) Terminal() bool {
	return s == ResponderAccepted || s == ResponderRejected
}

// Valid 检查状态取值
func (s ResponderStatus) Valid() bool {
	switch s {
	case ResponderPending, ResponderAccepted, ResponderRejected:
		return true
	}
	return false
}

// Responder 单个候选人对单条告警的确认记录，(AlertID, UserID) 唯一
type Responder struct {
	AlertID   string          `gorm:"primaryKey;size:36" json:"alert_id"`
	UserID    string          `gorm:"primaryKey;size:36" json:"user_id"`
	Status    ResponderStatus `gorm:"size:16" json:"status"`
	Name      string          `gorm:"size:64" json:"name,omitempty"`    // 用户目录补充，尽力而为
	Contact   string          `gorm:"size:64" json:"contact,omitempty"` // 同上
	UpdatedAt time.Time       `json:"updated_at"`                       // 状态逻辑时间戳
}

// ResponderUpdate 单次状态变更事件，推送与轮询两条通道共用
type ResponderUpdate struct {
	AlertID   string          `json:"alert_id"`
	UserID    string          `json:"user_id"`
	Status    ResponderStatus `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// ResolveStatus 判定一次入站状态更新能否覆盖当前状态。
// 规则：pending 永不覆盖终态；相同状态为幂等空操作；
// 两个不同终态竞争时，逻辑时间戳大者胜出（与到达顺序无关），
// 时间戳完全相等时 accepted 优先于 rejected。
func ResolveStatus(current ResponderStatus, currentAt time.Time,
	incoming ResponderStatus, incomingAt time.Time) bool {
	if incoming == current {
		return false
	}
	if !current.Terminal() {
		return true
	}
	if !incoming.Terminal() {
		return false
	}
	if incomingAt.After(currentAt) {
		return true
	}
	if incomingAt.Equal(currentAt) {
		return incoming == ResponderAccepted
	}
	return false
}
