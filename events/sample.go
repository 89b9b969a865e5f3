package events

import (
	"context"
	"fmt"
	"math"

	"github.com/uyouii/xsec-errprop/binning"
	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/model"
	"github.com/uyouii/xsec-errprop/utils"
	"go.uber.org/zap"
)

const (
	PassEvent = -1 // not a signal event
	BadBin    = -2 // signal event outside the signal binning
)

// Record is one simulated event as stored in an event store.
type Record struct {
	ID       int64   `db:"id"`
	Signal   int     `db:"signal"` // signal type, negative when not signal
	D1       float64 `db:"d1"`     // true muon momentum
	D2       float64 `db:"d2"`     // true muon cos theta
	Enu      float64 `db:"enu"`    // true neutrino energy
	WeightMC float64 `db:"weight_mc"`
}

// SignalSpec is the part of a signal definition the sample needs to place
// events into template parameters.
type SignalSpec struct {
	Name     string
	Detector string
	Binning  *binning.Binning
}

// Sample is a population of events whose weights are recomputed from the
// original MC weights on every Reweight call. Records and bin maps are
// shared read-only between clones; weights are owned by each clone.
type Sample struct {
	name    string
	signals []SignalSpec
	offsets []int
	flux    *FluxModel

	records   []Record
	bins      []int
	fluxParam []int

	weights []float64
}

func NewSample(ctx context.Context, name string, records []Record, signals []SignalSpec, flux *FluxModel) (*Sample, error) {
	logger := utils.GetLogger(ctx)

	if len(signals) == 0 {
		return nil, fmt.Errorf("sample %q without signals: %w", name, common.ErrorInvalidValue)
	}

	offsets := make([]int, len(signals))
	offset := 0
	for i, sig := range signals {
		if sig.Binning == nil {
			return nil, fmt.Errorf("signal %q without binning: %w", sig.Name, common.ErrorInvalidValue)
		}
		offsets[i] = offset
		offset += sig.Binning.NBins()
	}

	s := &Sample{
		name:      name,
		signals:   signals,
		offsets:   offsets,
		flux:      flux,
		records:   records,
		bins:      make([]int, len(records)),
		fluxParam: make([]int, len(records)),
		weights:   make([]float64, len(records)),
	}

	badBins := 0
	for i, r := range records {
		s.weights[i] = r.WeightMC
		s.fluxParam[i] = -1

		if r.Signal < 0 || r.Signal >= len(signals) {
			s.bins[i] = PassEvent
			continue
		}
		sig := signals[r.Signal]
		bin := sig.Binning.BinIndex(r.D2, r.D1)
		if bin < 0 {
			s.bins[i] = BadBin
			badBins++
		} else {
			s.bins[i] = bin
		}
		if block, ok := flux.Block(sig.Detector); ok {
			s.fluxParam[i] = block.ParamIndex(r.Enu)
		}
	}

	logger.Info("sample initialized", zap.String("sample", name), zap.Int("events", len(records)),
		zap.Int("badBins", badBins), zap.Int("signalBins", offset))
	return s, nil
}

func (s *Sample) Name() string {
	return s.name
}

func (s *Sample) Len() int {
	return len(s.records)
}

func (s *Sample) NumSignalBins() int {
	n := 0
	for _, sig := range s.signals {
		n += sig.Binning.NBins()
	}
	return n
}

func (s *Sample) Weights() []float64 {
	return s.weights
}

// Clone returns a sample sharing records with s but owning its weights.
func (s *Sample) Clone() *Sample {
	res := *s
	res.weights = append([]float64(nil), s.weights...)
	return &res
}

// Reweight sets every event weight to its MC weight times the template
// parameter of its signal bin and, when flux parameters are configured, the
// flux parameter of its energy bin. Weights never compound across calls.
func (s *Sample) Reweight(params []float64) error {
	for i, r := range s.records {
		w := r.WeightMC

		bin := s.bins[i]
		if bin >= 0 {
			idx := s.offsets[r.Signal] + bin
			if idx >= len(params) {
				return fmt.Errorf("sample %q event %d: template parameter %d of %d: %w",
					s.name, r.ID, idx, len(params), common.ErrorParamIndexOutOfRange)
			}
			w *= params[idx]
		}

		if idx := s.fluxParam[i]; idx >= 0 {
			if idx >= len(params) {
				return fmt.Errorf("sample %q event %d: flux parameter %d of %d: %w",
					s.name, r.ID, idx, len(params), common.ErrorParamIndexOutOfRange)
			}
			w *= params[idx]
		}

		s.weights[i] = w
	}
	return nil
}

func (s *Sample) ReweightNominal() {
	for i, r := range s.records {
		s.weights[i] = r.WeightMC
	}
}

// SignalHists fills one histogram per signal definition, binned in the
// signal's true kinematic bins. Errors are sqrt(sum of squared weights).
func (s *Sample) SignalHists() []model.Histogram {
	hists := make([]model.Histogram, len(s.signals))
	sumw2 := make([][]float64, len(s.signals))
	for i, sig := range s.signals {
		hists[i] = model.NewHistogram(sig.Name, sig.Binning.NBins())
		sumw2[i] = make([]float64, sig.Binning.NBins())
	}

	for i, r := range s.records {
		bin := s.bins[i]
		if bin < 0 {
			continue
		}
		w := s.weights[i]
		hists[r.Signal].Content[bin] += w
		sumw2[r.Signal][bin] += w * w
	}

	for i := range hists {
		for b, v := range sumw2[i] {
			hists[i].Errors[b] = math.Sqrt(v)
		}
	}
	return hists
}

// RatioHist divides the signal 1 histogram by the signal 0 histogram.
func (s *Sample) RatioHist() (model.Histogram, error) {
	if len(s.signals) != 2 || s.signals[0].Binning.NBins() != s.signals[1].Binning.NBins() {
		return model.Histogram{}, fmt.Errorf("sample %q: %w", s.name, common.ErrorRatioLayout)
	}
	hists := s.SignalHists()
	ratio, err := hists[1].Divide(hists[0])
	if err != nil {
		return model.Histogram{}, err
	}
	ratio.Name = s.name + "_ratio"
	return ratio, nil
}
