package directions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripshare/internal/geo"
)

type stubProvider struct {
	route Route
	err   error
}

func (s stubProvider) Route(ctx context.Context, from, to geo.Point) (Route, error) {
	return s.route, s.err
}

func TestStraightLine(t *testing.T) {
	t.Parallel()

	from := geo.Point{Lat: 37, Lng: -122}
	to := geo.Point{Lat: 37.01, Lng: -122}

	r, err := StraightLine{}.Route(context.Background(), from, to)
	require.NoError(t, err)
	assert.True(t, r.Approximate)
	assert.InDelta(t, geo.Distance(from, to)*geo.SinuosityFactor, r.DistanceMeters, 1e-6)

	_, err = StraightLine{}.Route(context.Background(), geo.Point{Lat: 100}, to)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	from := geo.Point{Lat: 37, Lng: -122}
	to := geo.Point{Lat: 37.01, Lng: -122}
	straight := geo.Distance(from, to) * geo.SinuosityFactor

	testCases := []struct {
		name     string
		provider Provider
		explicit float64
		want     float64
		approx   bool
	}{
		{"explicit wins", stubProvider{route: Route{DistanceMeters: 5000}}, 1000, 1000, false},
		{"provider", stubProvider{route: Route{DistanceMeters: 5000, DurationSeconds: 600}}, 0, 5000, false},
		{"provider error falls back", stubProvider{err: errors.New("boom")}, 0, straight, true},
		{"empty provider route falls back", stubProvider{}, 0, straight, true},
		{"no provider", nil, 0, straight, true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := Resolve(ctx, tc.provider, tc.explicit, from, to)
			assert.InDelta(t, tc.want, r.DistanceMeters, 1e-6)
			assert.Equal(t, tc.approx, r.Approximate)
		})
	}
}
