package events

import (
	"fmt"
	"sort"

	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/model"
)

// FluxBlock maps true neutrino energy bins of one detector onto a
// contiguous block of flux parameters starting at Offset.
type FluxBlock struct {
	Detector string
	Offset   int
	Edges    []float64
}

func (b *FluxBlock) NBins() int {
	return len(b.Edges) - 1
}

// BinIndex returns the energy bin containing enu, or -1.
func (b *FluxBlock) BinIndex(enu float64) int {
	if len(b.Edges) < 2 || enu < b.Edges[0] || enu >= b.Edges[len(b.Edges)-1] {
		return -1
	}
	i := sort.SearchFloat64s(b.Edges, enu)
	if b.Edges[i] == enu {
		return i
	}
	return i - 1
}

// ParamIndex returns the parameter index for enu, or -1 when enu is
// outside the block.
func (b *FluxBlock) ParamIndex(enu float64) int {
	bin := b.BinIndex(enu)
	if bin < 0 {
		return -1
	}
	return b.Offset + bin
}

// FluxModel holds the flux parameter blocks of all detectors.
type FluxModel struct {
	blocks map[string]*FluxBlock
}

func NewFluxModel(blocks []FluxBlock) (*FluxModel, error) {
	m := &FluxModel{blocks: map[string]*FluxBlock{}}
	for i := range blocks {
		b := blocks[i]
		if b.NBins() < 1 || !sort.Float64sAreSorted(b.Edges) {
			return nil, fmt.Errorf("flux block %q edges %v: %w", b.Detector, b.Edges, common.ErrorInvalidValue)
		}
		if b.Offset < 0 {
			return nil, fmt.Errorf("flux block %q offset %d: %w", b.Detector, b.Offset, common.ErrorInvalidValue)
		}
		m.blocks[b.Detector] = &b
	}
	return m, nil
}

func (m *FluxModel) Block(detector string) (*FluxBlock, bool) {
	if m == nil {
		return nil, false
	}
	b, ok := m.blocks[detector]
	return b, ok
}

// FluxIntegral reweights the nominal flux histogram of detector with the
// flux parameters in params and returns its integral. Nominal bins are
// matched to parameter bins by bin center.
func (m *FluxModel) FluxIntegral(params []float64, nominal model.Histogram, detector string) (float64, error) {
	block, ok := m.Block(detector)
	if !ok {
		return 0, fmt.Errorf("no flux parameters for detector %q: %w", detector, common.ErrorInvalidValue)
	}
	if len(nominal.Edges) != nominal.Len()+1 {
		return 0, fmt.Errorf("flux histogram %q has no bin edges: %w", nominal.Name, common.ErrorInvalidValue)
	}

	integral := 0.0
	for i, content := range nominal.Content {
		center := 0.5 * (nominal.Edges[i] + nominal.Edges[i+1])
		idx := block.ParamIndex(center)
		if idx < 0 {
			integral += content
			continue
		}
		if idx >= len(params) {
			return 0, fmt.Errorf("flux parameter %d of %d: %w", idx, len(params), common.ErrorParamIndexOutOfRange)
		}
		integral += content * params[idx]
	}
	return integral, nil
}
