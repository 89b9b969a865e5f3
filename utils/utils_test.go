package utils

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeDivide(t *testing.T) {
	assert.Equal(t, 2.0, SafeDivide(4, 2))
	assert.Equal(t, 0.0, SafeDivide(4, 0))
}

func TestLinspace(t *testing.T) {
	assert.Equal(t, []float64{0, 0.5, 1}, Linspace(0, 1, 3))
	assert.Equal(t, []float64{3}, Linspace(3, 5, 1))
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, 1.235, FormatFloat(1.23456, 3))
	assert.True(t, math.IsNaN(FormatFloat(math.NaN(), 2)))
	assert.False(t, IsFinite(math.Inf(-1)))
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger("debug"))
	assert.True(t, GetLogger(context.Background()).Core().Enabled(-1))
	assert.Error(t, InitLogger("loud"))
	require.NoError(t, InitLogger("info"))
}
