package store

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/events"
	"github.com/uyouii/xsec-errprop/model"
	"gonum.org/v1/gonum/mat"
)

func newStore(t *testing.T, name string) *Store {
	s, err := Create(context.Background(), filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestObjects(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "out.db")

	h := model.NewHistogram("sel_best_fit", 2)
	copy(h.Content, []float64{1.5, 2.5})
	copy(h.Errors, []float64{0.1, 0.2})
	h.Edges = []float64{0, 1, 3}
	m := mat.NewSymDense(2, []float64{4, 2, 2, 3})

	require.NoError(t, s.PutHist(ctx, h))
	require.NoError(t, s.PutVector(ctx, "postfit_param", []float64{1, 2, 3}))
	require.NoError(t, s.PutMatrix(ctx, "xsec_cov", m))
	require.NoError(t, s.PutMeta(ctx, "run_info", map[string]any{"seed": 3}))

	got, err := s.GetHist(ctx, "sel_best_fit")
	require.NoError(t, err)
	assert.Equal(t, h, got)

	vec, err := s.GetVector(ctx, "postfit_param")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, vec)

	gotM, err := s.GetMatrix(ctx, "xsec_cov")
	require.NoError(t, err)
	assert.True(t, mat.Equal(m, gotM))

	meta := map[string]int{}
	require.NoError(t, s.GetMeta(ctx, "run_info", &meta))
	assert.Equal(t, 3, meta["seed"])

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"postfit_param", "run_info", "sel_best_fit", "xsec_cov"}, names)

	ok, err := s.Has(ctx, "xsec_cov")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMissingAndWrongKind(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "out.db")
	require.NoError(t, s.PutVector(ctx, "v", []float64{1}))

	_, err := s.GetHist(ctx, "nothing")
	assert.ErrorIs(t, err, common.ErrorObjectNotFound)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "nothing")

	_, err = s.GetMatrix(ctx, "v")
	assert.ErrorIs(t, err, common.ErrorInvalidValue)
}

func TestNonFiniteRejected(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "out.db")

	h := model.NewHistogram("sel_signal_toy3", 3)
	copy(h.Content, []float64{1, math.Inf(1), 2})
	err := s.PutHist(ctx, h)
	assert.ErrorIs(t, err, common.ErrorNonFiniteValue)
	assert.Contains(t, err.Error(), "sel_signal_toy3")

	h.Content[1] = 1
	h.Errors[2] = math.NaN()
	assert.ErrorIs(t, s.PutHist(ctx, h), common.ErrorNonFiniteValue)

	m := mat.NewSymDense(2, []float64{1, math.NaN(), math.NaN(), 1})
	assert.ErrorIs(t, s.PutMatrix(ctx, "xsec_cov", m), common.ErrorNonFiniteValue)
	assert.ErrorIs(t, s.PutVector(ctx, "postfit_param", []float64{math.Inf(-1)}), common.ErrorNonFiniteValue)

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestOverwriteAndRecreate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.db")

	s, err := Create(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.PutVector(ctx, "v", []float64{1}))
	require.NoError(t, s.PutVector(ctx, "v", []float64{2}))
	v, err := s.GetVector(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, v)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	ok, err := s.Has(ctx, "v")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	s, err = Create(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	ok, err = s.Has(ctx, "v")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Open(ctx, filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}

func TestTxRollback(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "out.db")

	err := s.Tx(ctx, func(w *Writer) error {
		require.NoError(t, w.PutVector(ctx, "v", []float64{1}))
		return common.ErrorInvalidValue
	})
	assert.ErrorIs(t, err, common.ErrorInvalidValue)

	ok, err := s.Has(ctx, "v")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFitResult(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "fit.db")

	cov := mat.NewSymDense(2, []float64{4, 2, 2, 3})
	cor := mat.NewSymDense(2, []float64{1, 0.5, 0.5, 1})
	in := &model.FitResult{
		PostfitParam:   []float64{1, 1.1},
		PrefitOriginal: []float64{1, 1},
		PrefitDecomp:   []float64{0, 0},
		PrefitToy:      []float64{0.9, 1.2},
		PostfitCov:     cov,
		PostfitCor:     cor,
	}
	require.NoError(t, WriteFitResult(ctx, s, in))

	out, err := ReadFitResult(ctx, s, true, false)
	require.NoError(t, err)
	assert.Equal(t, in.PostfitParam, out.PostfitParam)
	assert.Equal(t, in.PrefitToy, out.PrefitToy)
	assert.True(t, mat.Equal(cov, out.PostfitCov))
	assert.Nil(t, out.PrefitCov)

	out, err = ReadFitResult(ctx, s, false, false)
	require.NoError(t, err)
	assert.Nil(t, out.PrefitToy)

	_, err = ReadFitResult(ctx, s, false, true)
	assert.ErrorIs(t, err, common.ErrorObjectNotFound)
	assert.Contains(t, err.Error(), FitPrefitCov)
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	recs := []events.Record{
		{ID: 2, Signal: 1, D1: 300, D2: 0.9, Enu: 0.7, WeightMC: 1.2},
		{ID: 1, Signal: -1, D1: 100, D2: 0.5, Enu: 0.6, WeightMC: 1},
	}
	require.NoError(t, WriteEvents(ctx, path, recs))

	got, err := ReadEvents(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []events.Record{recs[1], recs[0]}, got)

	_, err = ReadEvents(ctx, filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}

func TestCopyExtra(t *testing.T) {
	ctx := context.Background()
	from := newStore(t, "fit.db")
	to := newStore(t, "out.db")

	h := model.NewHistogram("nd_flux", 1)
	require.NoError(t, from.PutHist(ctx, h))
	require.NoError(t, from.PutVector(ctx, "chi2", []float64{12}))

	list := filepath.Join(t.TempDir(), "extra.txt")
	require.NoError(t, os.WriteFile(list, []byte("# copied objects\nnd_flux\n\nmissing_hist\nchi2\n"), 0o644))

	copied, skipped := CopyExtra(ctx, list, from, to)
	assert.Equal(t, 2, copied)
	assert.Equal(t, 1, skipped)

	got, err := to.GetHist(ctx, "nd_flux")
	require.NoError(t, err)
	assert.Equal(t, h, got)

	copied, skipped = CopyExtra(ctx, filepath.Join(t.TempDir(), "none.txt"), from, to)
	assert.Zero(t, copied)
	assert.Zero(t, skipped)
}

func TestWriteWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cov.xlsx")
	h := model.NewHistogram("sel_best_fit", 2)
	wb := &Workbook{
		Matrices:   []NamedMatrix{{Name: "xsec_cov", Matrix: mat.NewSymDense(2, []float64{4, 2, 2, 3})}},
		Histograms: []model.Histogram{h},
	}
	require.NoError(t, WriteWorkbook(context.Background(), path, wb))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
