package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceMeters(t *testing.T) {
	t.Run("coincident points are zero", func(t *testing.T) {
		assert.Zero(t, DistanceMeters(12.9716, 77.5946, 12.9716, 77.5946))
		assert.Zero(t, DistanceMeters(0, 0, 0, 0))
		assert.Zero(t, DistanceMeters(-33.8688, 151.2093, -33.8688, 151.2093))
	})

	t.Run("symmetry", func(t *testing.T) {
		pairs := [][4]float64{
			{12.9716, 77.5946, 13.0827, 80.2707},
			{51.5074, -0.1278, 48.8566, 2.3522},
			{-33.8688, 151.2093, 35.6762, 139.6503},
		}
		for _, p := range pairs {
			assert.Equal(t,
				DistanceMeters(p[0], p[1], p[2], p[3]),
				DistanceMeters(p[2], p[3], p[0], p[1]))
		}
	})

	t.Run("one degree of longitude at the equator", func(t *testing.T) {
		d := DistanceMeters(0, 0, 0, 1)
		assert.InDelta(t, 111195, d, 111195*0.01)
	})

	t.Run("known city pair", func(t *testing.T) {
		// Bangalore to Chennai, roughly 290km.
		d := DistanceMeters(12.9716, 77.5946, 13.0827, 80.2707)
		assert.InDelta(t, 290_000, d, 10_000)
	})

	t.Run("short distances stay proportional", func(t *testing.T) {
		// ~11m per 1e-4 degrees of latitude.
		d := DistanceMeters(12.9716, 77.5946, 12.9717, 77.5946)
		assert.InDelta(t, 11.1, d, 0.5)
	})
}
