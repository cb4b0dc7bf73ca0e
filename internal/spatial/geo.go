// Package spatial 基于 s2 的距离与方位角计算
package spatial

import (
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusMeters 地球平均半径（米）
const EarthRadiusMeters = 6371008.8

// Distance 两点间大圆距离（米）
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Bearing 从点 1 到点 2 的初始方位角，0-360 度，0 为正北
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)

	lat1Rad := p1.Lat.Radians()
	lat2Rad := p2.Lat.Radians()
	lonDiff := p2.Lng.Radians() - p1.Lng.Radians()

	y := math.Sin(lonDiff) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) - math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(lonDiff)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// HeadingDelta 两个航向之间的最小夹角，0-180 度
func HeadingDelta(a, b float64) float64 {
	d := math.Abs(math.Mod(b-a, 360))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// ValidLatLng 经纬度是否在合法范围内
func ValidLatLng(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
