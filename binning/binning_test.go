package binning

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/model"
)

const testBinning = `# cos_low cos_high p_low p_high
0.0 0.5 0 100
0.0 0.5 100 200
bad line
0.5 1.0 0 100
0.5 1.0 100 300
`

func parseTest(t *testing.T) *Binning {
	b, err := Parse(context.Background(), strings.NewReader(testBinning))
	require.NoError(t, err)
	return b
}

func TestParseSkipsBadLines(t *testing.T) {
	b := parseTest(t)
	assert.Equal(t, 4, b.NBins())
	assert.Equal(t, 2, b.Dims())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bins.txt")
	require.NoError(t, os.WriteFile(path, []byte(testBinning), 0o644))

	b, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 4, b.NBins())

	_, err = Load(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestBinWidthIsProductOverDimensions(t *testing.T) {
	b := parseTest(t)
	w, err := b.BinWidth(3)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*200, w, 1e-12)

	_, err = b.BinWidth(4)
	assert.ErrorIs(t, err, common.ErrorParamIndexOutOfRange)
	_, err = b.BinWidth(-1)
	assert.ErrorIs(t, err, common.ErrorParamIndexOutOfRange)
}

func TestBinIndexHalfOpen(t *testing.T) {
	b := parseTest(t)
	assert.Equal(t, 0, b.BinIndex(0.0, 0))
	assert.Equal(t, 1, b.BinIndex(0.25, 100))
	assert.Equal(t, 2, b.BinIndex(0.5, 50))
	assert.Equal(t, 3, b.BinIndex(0.99, 299))
	assert.Equal(t, -1, b.BinIndex(1.0, 50))
	assert.Equal(t, -1, b.BinIndex(0.7, 300))
	assert.Equal(t, -1, b.BinIndex(0.7))
}

func TestNewRejectsBadEdges(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, common.ErrorInvalidValue)

	_, err = New([]Bin{{{Low: 1, High: 1}}})
	assert.ErrorIs(t, err, common.ErrorInvalidValue)

	_, err = New([]Bin{{{Low: 0, High: 1}}, {{Low: 0, High: 1}, {Low: 0, High: 1}}})
	assert.ErrorIs(t, err, common.ErrorDimensionMismatch)
}

func TestSlices(t *testing.T) {
	b := parseTest(t)
	h := model.NewHistogram("h", 4)
	copy(h.Content, []float64{1, 2, 3, 4})

	slices, err := b.Slices(h, "cc0pi", "postfit")
	require.NoError(t, err)
	require.Len(t, slices, 2)

	assert.Equal(t, "cc0pi_cos_bin0_postfit", slices[0].Name)
	assert.Equal(t, []float64{0, 100, 200}, slices[0].Edges)
	assert.Equal(t, []float64{1, 2}, slices[0].Content)

	assert.Equal(t, "cc0pi_cos_bin1_postfit", slices[1].Name)
	assert.Equal(t, []float64{0, 100, 300}, slices[1].Edges)
	assert.Equal(t, []float64{3, 4}, slices[1].Content)

	_, err = b.Slices(model.NewHistogram("short", 3), "x", "y")
	assert.ErrorIs(t, err, common.ErrorDimensionMismatch)
}
