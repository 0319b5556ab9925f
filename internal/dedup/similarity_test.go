package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLocation(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1030 Wien", "wien"},
		{"Wien, 3. Bezirk", "wien 3 bezirk"},
		{"Mödling, Österreich", "modling"},
		{"Landstraße, Wien", "landstrasse"},
		{"  2340   Mödling ", "modling"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeLocation(tt.in))
		})
	}
}

func TestLocationSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, LocationSimilarity("2340 Mödling", "Mödling, Österreich"))
	assert.Equal(t, 0.9, LocationSimilarity("1030 Wien", "Wien, 3. Bezirk"))
	assert.Equal(t, 0.0, LocationSimilarity("", "Wien"))
	assert.Equal(t, 0.0, LocationSimilarity("Graz", "Linz"))

	// {baden, nahe, bahnhof} vs {baden, zentrum}: 1 shared of 4.
	assert.InDelta(t, 0.25, LocationSimilarity("Baden nahe Bahnhof", "Baden Zentrum"), 1e-9)
}

func TestLocationSimilarity_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"1030 Wien", "Wien, 3. Bezirk"},
		{"Baden nahe Bahnhof", "Baden Zentrum"},
		{"Perchtoldsdorf", "2380 Perchtoldsdorf"},
	}
	for _, p := range pairs {
		assert.Equal(t, LocationSimilarity(p[0], p[1]), LocationSimilarity(p[1], p[0]))
	}
}
