package pipeline

import (
	"fmt"

	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/model"
	"github.com/uyouii/xsec-errprop/utils"
)

// Efficiency returns selected/true for every signal definition.
func Efficiency(sel, tru []model.Histogram) ([]model.Histogram, error) {
	if len(sel) != len(tru) {
		return nil, fmt.Errorf("%d selected vs %d true histograms: %w", len(sel), len(tru), common.ErrorDimensionMismatch)
	}
	eff := make([]model.Histogram, len(sel))
	for i := range sel {
		e, err := sel[i].Divide(tru[i])
		if err != nil {
			return nil, err
		}
		e.Name = sel[i].Name + "_eff"
		eff[i] = e
	}
	return eff, nil
}

// ApplyEff divides each selected histogram by its efficiency and returns
// the corrected histograms together with the efficiencies. Bins with zero
// efficiency are set to zero.
func ApplyEff(sel, tru []model.Histogram) ([]model.Histogram, []model.Histogram, error) {
	eff, err := Efficiency(sel, tru)
	if err != nil {
		return nil, nil, err
	}
	corrected := make([]model.Histogram, len(sel))
	for i := range sel {
		h := sel[i].Clone()
		for j := range h.Content {
			h.Content[j] = utils.SafeDivide(sel[i].Content[j], eff[i].Content[j])
			h.Errors[j] = utils.SafeDivide(sel[i].Errors[j], eff[i].Content[j])
		}
		corrected[i] = h
	}
	return corrected, eff, nil
}

// ApplyEffRatio corrects the selected ratio histogram with the efficiencies
// of the two signal definitions: ratio *= eff[0]/eff[1]. The returned
// ratio efficiency is eff[1]/eff[0].
func ApplyEffRatio(ratio model.Histogram, sel, tru []model.Histogram) (model.Histogram, model.Histogram, error) {
	eff, err := Efficiency(sel, tru)
	if err != nil {
		return model.Histogram{}, model.Histogram{}, err
	}
	if len(eff) != 2 || eff[0].Len() != ratio.Len() || eff[1].Len() != ratio.Len() {
		return model.Histogram{}, model.Histogram{}, common.ErrorRatioLayout
	}

	corrected := ratio.Clone()
	effRatio := model.NewHistogram(ratio.Name+"_eff", ratio.Len())
	for j := range corrected.Content {
		effC, effO := eff[0].Content[j], eff[1].Content[j]
		corrected.Content[j] = utils.SafeDivide(ratio.Content[j]*effC, effO)
		corrected.Errors[j] = utils.SafeDivide(ratio.Errors[j]*effC, effO)
		effRatio.Content[j] = utils.SafeDivide(effO, effC)
	}
	return corrected, effRatio, nil
}

func ApplyTargets(h model.Histogram, numTargets float64) model.Histogram {
	return h.Scale(1.0 / numTargets)
}

func ApplyFlux(h model.Histogram, fluxInt float64) model.Histogram {
	return h.Scale(1.0 / fluxInt)
}

// ApplyBinWidth divides every bin by its width converted with unitScale.
func ApplyBinWidth(h model.Histogram, bins model.BinWidther, unitScale float64) (model.Histogram, error) {
	if bins == nil || bins.NBins() != h.Len() {
		return model.Histogram{}, fmt.Errorf("bin width for %q: %w", h.Name, common.ErrorDimensionMismatch)
	}
	res := h.Clone()
	for i := range res.Content {
		w, err := bins.BinWidth(i)
		if err != nil {
			return model.Histogram{}, err
		}
		width := w / unitScale
		res.Content[i] = h.Content[i] / width
		res.Errors[i] = h.Errors[i] / width
	}
	return res, nil
}

func ConcatHist(hists []model.Histogram, name string) model.Histogram {
	return model.Concat(name, hists...)
}
