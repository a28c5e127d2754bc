package geo

import (
	"math"
	"sort"

	"HibiscusSOS/pkg/errors"
)

// 地球平均半径，单位米
const earthRadiusMeters = 6371000

// Point 经纬度坐标，单位度
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Candidate 广播候选人：用户、坐标及计算出的距离
type Candidate struct {
	UserID   string  `json:"user_id"`
	Point    Point   `json:"point"`
	Distance float64 `json:"distance"` // 距离原点的米数，由 FilterWithinRadius 填充
}

// Valid 检查坐标是否在合法范围内
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Distance 计算两点间的大圆距离（haversine），单位米
func Distance(a, b Point) (float64, error) {
	if !a.Valid() || !b.Valid() {
		return 0, errors.WithCode(errors.CodeInvalidCoordinate, "coordinate out of range")
	}
	return haversine(a.Lat, a.Lng, b.Lat, b.Lng), nil
}

// FilterWithinRadius 过滤半径内的候选人并按距离升序排序，
// 距离相同时按 UserID 排序保证结果确定
func FilterWithinRadius(origin Point, candidates []Candidate, radiusMeters float64) ([]Candidate, error) {
	if !origin.Valid() {
		return nil, errors.WithCode(errors.CodeInvalidCoordinate, "origin coordinate out of range")
	}

	result := make([]Candidate, 0, len(candidates))
	for _, cand := range candidates {
		if !cand.Point.Valid() {
			return nil, errors.WithCodef(errors.CodeInvalidCoordinate,
				"candidate %s coordinate out of range", cand.UserID)
		}
		dist := haversine(origin.Lat, origin.Lng, cand.Point.Lat, cand.Point.Lng)
		if dist <= radiusMeters {
			cand.Distance = dist
			result = append(result, cand)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Distance != result[j].Distance {
			return result[i].Distance < result[j].Distance
		}
		return result[i].UserID < result[j].UserID
	})
	return result, nil
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
