package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	// 赤道上经度相差 1 度约 111.2 km
	d := Distance(0, 0, 0, 1)
	assert.InDelta(t, 111195, d, 50)

	assert.Equal(t, 0.0, Distance(6.5244, 3.3792, 6.5244, 3.3792))
}

func TestBearing(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{name: "north", lat1: 0, lon1: 0, lat2: 1, lon2: 0, want: 0},
		{name: "east", lat1: 0, lon1: 0, lat2: 0, lon2: 1, want: 90},
		{name: "south", lat1: 1, lon1: 0, lat2: 0, lon2: 0, want: 180},
		{name: "west", lat1: 0, lon1: 1, lat2: 0, lon2: 0, want: 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Bearing(tt.lat1, tt.lon1, tt.lat2, tt.lon2), 1e-6)
		})
	}
}

func TestHeadingDelta(t *testing.T) {
	assert.InDelta(t, 20, HeadingDelta(350, 10), 1e-9)
	assert.InDelta(t, 20, HeadingDelta(10, 350), 1e-9)
	assert.InDelta(t, 180, HeadingDelta(0, 180), 1e-9)
	assert.InDelta(t, 0, HeadingDelta(90, 90), 1e-9)
}

func TestValidLatLng(t *testing.T) {
	assert.True(t, ValidLatLng(6.45, 3.39))
	assert.False(t, ValidLatLng(91, 0))
	assert.False(t, ValidLatLng(0, -181))
}
