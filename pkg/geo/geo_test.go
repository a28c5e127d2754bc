package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HibiscusSOS/pkg/errors"
)

func TestDistanceZeroAndSymmetry(t *testing.T) {
	a := Point{Lat: 28.60, Lng: 77.20}
	b := Point{Lat: 28.61, Lng: 77.21}

	dAA, err := Distance(a, a)
	require.NoError(t, err)
	assert.Equal(t, float64(0), dAA)

	dAB, err := Distance(a, b)
	require.NoError(t, err)
	dBA, err := Distance(b, a)
	require.NoError(t, err)
	assert.Equal(t, dAB, dBA)
}

func TestDistanceKnownPair(t *testing.T) {
	// 德里市区两点，约1.49公里
	a := Point{Lat: 28.60, Lng: 77.20}
	b := Point{Lat: 28.61, Lng: 77.21}

	d, err := Distance(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1490, d, 20)
}

func TestDistanceInvalidCoordinate(t *testing.T) {
	_, err := Distance(Point{Lat: 91, Lng: 0}, Point{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidCoordinate, errors.GetCode(err))

	_, err = Distance(Point{}, Point{Lat: 0, Lng: 181})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidCoordinate, errors.GetCode(err))
}

func TestFilterWithinRadius(t *testing.T) {
	origin := Point{Lat: 28.60, Lng: 77.20}
	cands := []Candidate{
		{UserID: "u1", Point: Point{Lat: 28.61, Lng: 77.21}},
	}

	near, err := FilterWithinRadius(origin, cands, 1000)
	require.NoError(t, err)
	assert.Empty(t, near)

	near, err = FilterWithinRadius(origin, cands, 2000)
	require.NoError(t, err)
	require.Len(t, near, 1)
	assert.Equal(t, "u1", near[0].UserID)
	assert.Greater(t, near[0].Distance, float64(0))
}

func TestFilterWithinRadiusOrderingAndTies(t *testing.T) {
	origin := Point{Lat: 0, Lng: 0}
	cands := []Candidate{
		{UserID: "b", Point: Point{Lat: 0.01, Lng: 0}},
		{UserID: "a", Point: Point{Lat: 0.01, Lng: 0}}, // 与b距离相同
		{UserID: "c", Point: Point{Lat: 0.005, Lng: 0}},
	}

	near, err := FilterWithinRadius(origin, cands, 5000)
	require.NoError(t, err)
	require.Len(t, near, 3)
	assert.Equal(t, "c", near[0].UserID)
	assert.Equal(t, "a", near[1].UserID)
	assert.Equal(t, "b", near[2].UserID)
}

func TestFilterWithinRadiusSubset(t *testing.T) {
	origin := Point{Lat: 10, Lng: 10}
	cands := []Candidate{
		{UserID: "u1", Point: Point{Lat: 10.001, Lng: 10}},
		{UserID: "u2", Point: Point{Lat: 10.01, Lng: 10}},
		{UserID: "u3", Point: Point{Lat: 10.1, Lng: 10}},
	}

	small, err := FilterWithinRadius(origin, cands, 2000)
	require.NoError(t, err)
	large, err := FilterWithinRadius(origin, cands, 20000)
	require.NoError(t, err)

	// 小半径结果必须是大半径结果的子集
	ids := make(map[string]bool)
	for _, c := range large {
		ids[c.UserID] = true
	}
	for _, c := range small {
		assert.True(t, ids[c.UserID])
	}
	assert.Less(t, len(small), len(large))
}

func TestFilterWithinRadiusDeterministic(t *testing.T) {
	origin := Point{Lat: 28.60, Lng: 77.20}
	cands := []Candidate{
		{UserID: "u2", Point: Point{Lat: 28.62, Lng: 77.22}},
		{UserID: "u1", Point: Point{Lat: 28.61, Lng: 77.21}},
	}

	first, err := FilterWithinRadius(origin, cands, 10000)
	require.NoError(t, err)
	second, err := FilterWithinRadius(origin, cands, 10000)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
