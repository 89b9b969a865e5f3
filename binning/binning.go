// Package binning holds the analysis bin definitions. A binning file has one
// bin per line written as low/high edge pairs, one pair per dimension, in
// the order (cos theta, momentum, ...). Lines starting with '#' are comments.
package binning

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/model"
	"github.com/uyouii/xsec-errprop/utils"
	"go.uber.org/zap"
)

const CommentChar = '#'

type Edge struct {
	Low  float64
	High float64
}

func (e Edge) Width() float64 {
	return e.High - e.Low
}

func (e Edge) Contains(x float64) bool {
	return x >= e.Low && x < e.High
}

// Bin is one analysis bin, one edge pair per dimension.
type Bin []Edge

type Binning struct {
	dims int
	bins []Bin
}

func New(bins []Bin) (*Binning, error) {
	if len(bins) == 0 {
		return nil, fmt.Errorf("empty binning: %w", common.ErrorInvalidValue)
	}
	dims := len(bins[0])
	if dims == 0 {
		return nil, fmt.Errorf("bin without dimensions: %w", common.ErrorInvalidValue)
	}
	for i, b := range bins {
		if len(b) != dims {
			return nil, fmt.Errorf("bin %d has %d dimensions, want %d: %w", i, len(b), dims, common.ErrorDimensionMismatch)
		}
		for d, e := range b {
			if !(e.High > e.Low) {
				return nil, fmt.Errorf("bin %d dim %d edges [%v, %v): %w", i, d, e.Low, e.High, common.ErrorInvalidValue)
			}
		}
	}
	return &Binning{dims: dims, bins: bins}, nil
}

func Load(ctx context.Context, path string) (*Binning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open binning file: %w", err)
	}
	defer f.Close()
	return Parse(ctx, f)
}

// Parse reads a binning file. Malformed lines are logged and skipped.
func Parse(ctx context.Context, r io.Reader) (*Binning, error) {
	logger := utils.GetLogger(ctx)

	bins := []Bin{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == CommentChar {
			continue
		}
		fields := strings.Fields(line)
		if len(fields)%2 != 0 {
			logger.Warn("bad binning line format", zap.Int("line", lineNo), zap.String("text", line))
			continue
		}
		bin, ok := parseBin(fields)
		if !ok {
			logger.Warn("bad binning line format", zap.Int("line", lineNo), zap.String("text", line))
			continue
		}
		bins = append(bins, bin)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return New(bins)
}

func parseBin(fields []string) (Bin, bool) {
	bin := make(Bin, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		lo, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, false
		}
		hi, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, false
		}
		bin = append(bin, Edge{Low: lo, High: hi})
	}
	return bin, true
}

func (b *Binning) NBins() int {
	return len(b.bins)
}

func (b *Binning) Dims() int {
	return b.dims
}

func (b *Binning) Bin(i int) (Bin, error) {
	if i < 0 || i >= len(b.bins) {
		return nil, fmt.Errorf("bin %d of %d: %w", i, len(b.bins), common.ErrorParamIndexOutOfRange)
	}
	return b.bins[i], nil
}

// BinWidth is the product of the bin's edge widths over all dimensions.
func (b *Binning) BinWidth(i int) (float64, error) {
	bin, err := b.Bin(i)
	if err != nil {
		return 0, err
	}
	width := 1.0
	for _, e := range bin {
		width *= e.Width()
	}
	return width, nil
}

// BinIndex returns the first bin containing vals, or -1. Only the first
// Dims() values are used.
func (b *Binning) BinIndex(vals ...float64) int {
	if len(vals) < b.dims {
		return -1
	}
	for i, bin := range b.bins {
		inside := true
		for d, e := range bin {
			if !e.Contains(vals[d]) {
				inside = false
				break
			}
		}
		if inside {
			return i
		}
	}
	return -1
}

func (b *Binning) EdgeVector(dim int) []Edge {
	if dim < 0 || dim >= b.dims {
		return nil
	}
	res := make([]Edge, len(b.bins))
	for i, bin := range b.bins {
		res[i] = bin[dim]
	}
	return res
}

// Slices splits h, laid out in this binning's bin order, into one
// histogram per run of consecutive bins sharing the same first-dimension
// edges. Each slice is binned along the second dimension.
func (b *Binning) Slices(h model.Histogram, name, suffix string) ([]model.Histogram, error) {
	if h.Len() != b.NBins() {
		return nil, fmt.Errorf("slice %q: %w", h.Name, common.ErrorDimensionMismatch)
	}

	axis := 0
	if b.dims > 1 {
		axis = 1
	}
	outer := b.EdgeVector(0)
	inner := b.EdgeVector(axis)

	groups := [][]float64{{inner[0].Low, inner[0].High}}
	for m := 1; m < len(outer); m++ {
		if b.dims > 1 && outer[m] != outer[m-1] {
			groups = append(groups, []float64{})
		}
		last := len(groups) - 1
		groups[last] = append(groups[last], inner[m].Low, inner[m].High)
	}

	res := make([]model.Histogram, 0, len(groups))
	offset := 0
	for k, group := range groups {
		edges := uniqueSorted(group)
		nbins := len(edges) - 1
		if offset+nbins > h.Len() {
			return nil, fmt.Errorf("slice %d of %q overruns %d bins: %w", k, h.Name, h.Len(), common.ErrorDimensionMismatch)
		}
		sliceName := fmt.Sprintf("%s_cos_bin%d_%s", name, k, suffix)
		slice := model.NewHistogram(sliceName, nbins)
		slice.Edges = edges
		copy(slice.Content, h.Content[offset:offset+nbins])
		if len(h.Errors) == h.Len() {
			copy(slice.Errors, h.Errors[offset:offset+nbins])
		}
		offset += nbins
		res = append(res, slice)
	}
	return res, nil
}

func uniqueSorted(x []float64) []float64 {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	res := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			res = append(res, v)
		}
	}
	return res
}
