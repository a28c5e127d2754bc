package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"HibiscusSOS/pkg/geo"
)

// Category 告警类别
type Category string

const (
	CategoryMedical Category = "medical"
	CategorySafety  Category = "safety"
	CategoryOther   Category = "other"
)

// Valid 检查类别取值
func (c Category) Valid() bool {
	switch c {
	case CategoryMedical, CategorySafety, CategoryOther:
		return true
	}
	return false
}

// AlertStatus 告警生命周期状态
type AlertStatus string

const (
	AlertActive    AlertStatus = "active"
	AlertResolved  AlertStatus = "resolved"
	AlertCancelled AlertStatus = "cancelled"
)

// SOS Alert（求助警报）
type Alert struct {
	ID           string      `gorm:"primaryKey;size:36" json:"id"`
	CreatorID    string      `gorm:"size:36;index" json:"creator_id"`
	Category     Category    `gorm:"size:16" json:"category"`
	Description  string      `json:"description"`
	Lat          float64     `json:"lat"`
	Lng          float64     `json:"lng"`
	Address      string      `json:"address"` // 反解析出的可读地址，尽力而为
	RadiusMeters float64     `json:"radius_meters"`
	Status       AlertStatus `gorm:"size:16;index" json:"status"`
	Delivered    bool        `json:"delivered"` // 首次广播投递是否完成
	Fingerprint  string      `gorm:"size:64;index" json:"-"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Responders   []Responder `gorm:"foreignKey:AlertID" json:"responders,omitempty"`
}

// Origin 告警原点坐标
func (a *Alert) Origin() geo.Point {
	return geo.Point{Lat: a.Lat, Lng: a.Lng}
}

// Active 告警是否仍在进行中
func (a *Alert) Active() bool {
	return a.Status == AlertActive
}

// Fingerprint 根据创建意图派生去重指纹：
// 同一用户对同一坐标、同一描述的求助共享指纹。
// 指纹本身不含时间，去重窗口由缓存TTL与服务端按时间
// 约束的指纹查询共同实现
func Fingerprint(creatorID string, origin geo.Point, description string) string {
	payload := fmt.Sprintf("%s|%.6f|%.6f|%s",
		creatorID, origin.Lat, origin.Lng, description)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Candidate 广播候选人，来源于地理查询，不落库
type Candidate = geo.Candidate
