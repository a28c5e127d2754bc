package directory

import (
	"context"
	"math"
	"time"

	"gorm.io/gorm"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/pkg/cache"
	"HibiscusSOS/pkg/errors"
	"HibiscusSOS/pkg/geo"
)

// 每纬度约111.32公里
const metersPerDegreeLat = 111320.0

// UserLocation 用户最近上报的位置，候选响应者的数据来源
type UserLocation struct {
	UserID    string    `gorm:"primaryKey;size:36" json:"user_id"`
	Lat       float64   `gorm:"index" json:"lat"`
	Lng       float64   `gorm:"index" json:"lng"`
	Name      string    `gorm:"size:64" json:"name,omitempty"`
	Contact   string    `gorm:"size:64" json:"contact,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Directory 响应者目录：位置上报、半径查询与展示信息补全。
// 半径查询先用经纬度包围盒走索引粗筛，再用大圆距离精筛
type Directory struct {
	db       *gorm.DB
	cache    cache.Cache
	staleTTL time.Duration // 位置上报超过该时长视为离线，不参与候选
}

func New(db *gorm.DB, c cache.Cache, staleTTL time.Duration) *Directory {
	if staleTTL <= 0 {
		staleTTL = time.Hour
	}
	return &Directory{db: db, cache: c, staleTTL: staleTTL}
}

// Migrate 建表
func (d *Directory) Migrate() error {
	return d.db.AutoMigrate(&UserLocation{})
}

// Report 上报或更新一名用户的位置
func (d *Directory) Report(ctx context.Context, loc UserLocation) error {
	if !(geo.Point{Lat: loc.Lat, Lng: loc.Lng}).Valid() {
		return errors.WithCode(errors.CodeInvalidCoordinate, "coordinate out of range")
	}
	if loc.UserID == "" {
		return errors.WithCode(errors.CodeValidation, "user id required").WithField("user_id", "")
	}
	loc.UpdatedAt = time.Now()
	if err := d.db.WithContext(ctx).Save(&loc).Error; err != nil {
		return errors.Wrap(err, "save user location")
	}
	// 展示信息可能已变化，失效缓存
	_ = d.cache.Delete(ctx, profileKey(loc.UserID))
	return nil
}

// Nearby 查询原点半径内的候选响应者，按距离升序。
// exclude 用于剔除告警创建者自己
func (d *Directory) Nearby(ctx context.Context, origin geo.Point, radiusMeters float64, exclude string) ([]models.Candidate, error) {
	if !origin.Valid() {
		return nil, errors.WithCode(errors.CodeInvalidCoordinate, "origin coordinate out of range")
	}

	latDelta := radiusMeters / metersPerDegreeLat
	lngDelta := latDelta
	if cosLat := math.Cos(origin.Lat * math.Pi / 180); cosLat > 0.01 {
		lngDelta = latDelta / cosLat
	}

	var rows []UserLocation
	err := d.db.WithContext(ctx).
		Where("lat BETWEEN ? AND ?", origin.Lat-latDelta, origin.Lat+latDelta).
		Where("lng BETWEEN ? AND ?", origin.Lng-lngDelta, origin.Lng+lngDelta).
		Where("updated_at > ?", time.Now().Add(-d.staleTTL)).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "query user locations")
	}

	candidates := make([]models.Candidate, 0, len(rows))
	for _, row := range rows {
		if row.UserID == exclude {
			continue
		}
		candidates = append(candidates, models.Candidate{
			UserID: row.UserID,
			Point:  geo.Point{Lat: row.Lat, Lng: row.Lng},
		})
	}
	return geo.FilterWithinRadius(origin, candidates, radiusMeters)
}

// Profile 用户展示信息
type Profile struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

// Resolve 查询用户展示信息，带短缓存，查不到时返回空档案
func (d *Directory) Resolve(ctx context.Context, userID string) Profile {
	key := profileKey(userID)
	if v, ok := d.cache.Get(ctx, key); ok {
		if p, ok := v.(Profile); ok {
			return p
		}
	}

	var row UserLocation
	if err := d.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error; err != nil {
		return Profile{UserID: userID}
	}
	p := Profile{UserID: userID, Name: row.Name, Contact: row.Contact}
	_ = d.cache.Set(ctx, key, p, 5*time.Minute)
	return p
}

func profileKey(userID string) string {
	return "sos:profile:" + userID
}
