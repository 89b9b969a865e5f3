// Package store persists named histograms, vectors and matrices in a
// SQLite file. Every object is one row and can be read back independently.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uyouii/xsec-errprop/common"
	"github.com/uyouii/xsec-errprop/model"
	"github.com/uyouii/xsec-errprop/utils"
	"gonum.org/v1/gonum/mat"
)

const (
	KindVector = "vector"
	KindMatrix = "matrix"
	KindHist   = "hist"
	KindMeta   = "meta"
)

const createObjectsTable = `
CREATE TABLE IF NOT EXISTS objects (
	name  TEXT PRIMARY KEY,
	kind  TEXT NOT NULL,
	nrows INTEGER NOT NULL,
	ncols INTEGER NOT NULL,
	data  TEXT NOT NULL,
	meta  TEXT NOT NULL DEFAULT '{}'
)`

const upsertObject = `
INSERT OR REPLACE INTO objects (name, kind, nrows, ncols, data, meta)
VALUES (:name, :kind, :nrows, :ncols, :data, :meta)`

type objectRow struct {
	Name  string `db:"name"`
	Kind  string `db:"kind"`
	NRows int    `db:"nrows"`
	NCols int    `db:"ncols"`
	Data  string `db:"data"`
	Meta  string `db:"meta"`
}

type histMeta struct {
	Errors []float64 `json:"errors,omitempty"`
	Edges  []float64 `json:"edges,omitempty"`
}

type Store struct {
	*Writer
	db   *sqlx.DB
	path string
}

// Writer writes objects either directly or inside a transaction.
type Writer struct {
	ext sqlx.ExtContext
}

// Open opens an existing store.
func Open(ctx context.Context, path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return connect(ctx, path)
}

// Create recreates the store at path, dropping any previous content.
func Create(ctx context.Context, path string) (*Store, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("recreate store %s: %w", path, err)
	}
	return connect(ctx, path)
}

func connect(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect store %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, createObjectsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store %s: %w", path, err)
	}
	return &Store{Writer: &Writer{ext: db}, db: db, path: path}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

// Tx runs fn inside one transaction.
func (s *Store) Tx(ctx context.Context, fn func(w *Writer) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&Writer{ext: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) Names(ctx context.Context) ([]string, error) {
	names := []string{}
	if err := s.db.SelectContext(ctx, &names, "SELECT name FROM objects ORDER BY name"); err != nil {
		return nil, err
	}
	return names, nil
}

func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	var cnt int
	if err := s.db.GetContext(ctx, &cnt, "SELECT COUNT(*) FROM objects WHERE name = ?", name); err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (s *Store) get(ctx context.Context, name, kind string) (*objectRow, error) {
	row := &objectRow{}
	err := s.db.GetContext(ctx, row, "SELECT name, kind, nrows, ncols, data, meta FROM objects WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", name, common.ErrorObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", name, err)
	}
	if kind != "" && row.Kind != kind {
		return nil, fmt.Errorf("%q is a %s, want %s: %w", name, row.Kind, kind, common.ErrorInvalidValue)
	}
	return row, nil
}

func (s *Store) GetVector(ctx context.Context, name string) ([]float64, error) {
	row, err := s.get(ctx, name, KindVector)
	if err != nil {
		return nil, err
	}
	data := []float64{}
	if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
		return nil, fmt.Errorf("decode %q: %w", name, err)
	}
	return data, nil
}

// GetMatrix reads a square matrix; the upper triangle defines the result.
func (s *Store) GetMatrix(ctx context.Context, name string) (*mat.SymDense, error) {
	row, err := s.get(ctx, name, KindMatrix)
	if err != nil {
		return nil, err
	}
	if row.NRows != row.NCols || row.NRows == 0 {
		return nil, fmt.Errorf("%q is %d x %d: %w", name, row.NRows, row.NCols, common.ErrorDimensionMismatch)
	}
	data := []float64{}
	if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
		return nil, fmt.Errorf("decode %q: %w", name, err)
	}
	if len(data) != row.NRows*row.NCols {
		return nil, fmt.Errorf("%q has %d values for %d x %d: %w", name, len(data), row.NRows, row.NCols, common.ErrorDimensionMismatch)
	}
	return mat.NewSymDense(row.NRows, data), nil
}

func (s *Store) GetHist(ctx context.Context, name string) (model.Histogram, error) {
	row, err := s.get(ctx, name, KindHist)
	if err != nil {
		return model.Histogram{}, err
	}
	content := []float64{}
	if err := json.Unmarshal([]byte(row.Data), &content); err != nil {
		return model.Histogram{}, fmt.Errorf("decode %q: %w", name, err)
	}
	meta := histMeta{}
	if err := json.Unmarshal([]byte(row.Meta), &meta); err != nil {
		return model.Histogram{}, fmt.Errorf("decode %q meta: %w", name, err)
	}
	h := model.NewHistogram(name, len(content))
	copy(h.Content, content)
	if len(meta.Errors) == len(content) {
		copy(h.Errors, meta.Errors)
	}
	if len(meta.Edges) == len(content)+1 {
		h.Edges = meta.Edges
	}
	return h, nil
}

func (s *Store) GetMeta(ctx context.Context, name string, v any) error {
	row, err := s.get(ctx, name, KindMeta)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(row.Data), v)
}

// CopyObject copies the named object of any kind from src into s.
func (s *Store) CopyObject(ctx context.Context, src *Store, name string) error {
	row, err := src.get(ctx, name, "")
	if err != nil {
		return err
	}
	return s.put(ctx, row)
}

func (w *Writer) put(ctx context.Context, row *objectRow) error {
	if _, err := sqlx.NamedExecContext(ctx, w.ext, upsertObject, row); err != nil {
		return fmt.Errorf("write %q: %w", row.Name, err)
	}
	return nil
}

// checkFinite rejects NaN and Inf, which JSON cannot encode.
func checkFinite(name string, values []float64) error {
	for i, v := range values {
		if !utils.IsFinite(v) {
			return fmt.Errorf("%q element %d is %v: %w", name, i, v, common.ErrorNonFiniteValue)
		}
	}
	return nil
}

func (w *Writer) PutVector(ctx context.Context, name string, v []float64) error {
	if err := checkFinite(name, v); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", name, err)
	}
	return w.put(ctx, &objectRow{Name: name, Kind: KindVector, NRows: len(v), NCols: 1, Data: string(data), Meta: "{}"})
}

func (w *Writer) PutMatrix(ctx context.Context, name string, m mat.Symmetric) error {
	n := m.SymmetricDim()
	values := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			values = append(values, m.At(i, j))
		}
	}
	if err := checkFinite(name, values); err != nil {
		return err
	}
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode %q: %w", name, err)
	}
	return w.put(ctx, &objectRow{Name: name, Kind: KindMatrix, NRows: n, NCols: n, Data: string(data), Meta: "{}"})
}

// PutHist stores h under its own name.
func (w *Writer) PutHist(ctx context.Context, h model.Histogram) error {
	if err := checkFinite(h.Name, h.Content); err != nil {
		return err
	}
	if err := checkFinite(h.Name+" errors", h.Errors); err != nil {
		return err
	}
	data, err := json.Marshal(h.Content)
	if err != nil {
		return fmt.Errorf("encode %q: %w", h.Name, err)
	}
	meta, err := json.Marshal(histMeta{Errors: h.Errors, Edges: h.Edges})
	if err != nil {
		return fmt.Errorf("encode %q meta: %w", h.Name, err)
	}
	return w.put(ctx, &objectRow{Name: h.Name, Kind: KindHist, NRows: h.Len(), NCols: 1, Data: string(data), Meta: string(meta)})
}

func (w *Writer) PutHists(ctx context.Context, hists ...model.Histogram) error {
	for _, h := range hists {
		if err := w.PutHist(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) PutMeta(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", name, err)
	}
	return w.put(ctx, &objectRow{Name: name, Kind: KindMeta, NRows: 1, NCols: 1, Data: string(data), Meta: "{}"})
}
