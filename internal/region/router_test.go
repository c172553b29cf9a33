// internal/region/router_test.go
package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage-gg/arena/internal/apperr"
)

func TestResolveExplicitRegion(t *testing.T) {
	var r Router

	got, err := r.Resolve("eu-central", nil)
	require.NoError(t, err)
	assert.Equal(t, "eu-central", got)

	// Explicit region wins over hints pointing elsewhere.
	got, err = r.Resolve("us-west", map[string]int{"eu-central": 5})
	require.NoError(t, err)
	assert.Equal(t, "us-west", got)
}

func TestResolveUnknownRegion(t *testing.T) {
	var r Router
	_, err := r.Resolve("moon-base", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInvalidRegion)
}

func TestResolveFromHints(t *testing.T) {
	var r Router
	got, err := r.Resolve("", map[string]int{
		"us-east":      80,
		"ap-southeast": 12,
		"eu-central":   45,
	})
	require.NoError(t, err)
	assert.Equal(t, "ap-southeast", got)
}

func TestResolveIgnoresBadHints(t *testing.T) {
	var r Router
	got, err := r.Resolve("", map[string]int{
		"atlantis": 1,
		"us-west":  -3,
		"sa-east":  90,
	})
	require.NoError(t, err)
	assert.Equal(t, "sa-east", got)
}

func TestResolveDefault(t *testing.T) {
	var r Router

	got, err := r.Resolve("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultRegion, got)

	got, err = r.Resolve("", map[string]int{"atlantis": 10})
	require.NoError(t, err)
	assert.Equal(t, DefaultRegion, got)
}

func TestSupportedSet(t *testing.T) {
	assert.True(t, Supported(DefaultRegion))
	assert.False(t, Supported(""))
	assert.Len(t, All(), 5)
}
