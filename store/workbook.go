package store

import (
	"context"
	"fmt"

	"github.com/uyouii/xsec-errprop/model"
	"github.com/uyouii/xsec-errprop/utils"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// NamedMatrix is one matrix sheet of a workbook.
type NamedMatrix struct {
	Name   string
	Matrix mat.Symmetric
}

// Workbook is the spreadsheet view of a result: one sheet per matrix and
// one "histograms" sheet with a column pair per histogram.
type Workbook struct {
	Matrices   []NamedMatrix
	Histograms []model.Histogram
}

const histSheet = "histograms"

func WriteWorkbook(ctx context.Context, path string, wb *Workbook) error {
	logger := utils.GetLogger(ctx)

	f := excelize.NewFile()
	defer f.Close()

	for _, m := range wb.Matrices {
		if _, err := f.NewSheet(m.Name); err != nil {
			return fmt.Errorf("sheet %q: %w", m.Name, err)
		}
		n := m.Matrix.SymmetricDim()
		for i := 0; i < n; i++ {
			row := make([]any, n)
			for j := 0; j < n; j++ {
				row[j] = m.Matrix.At(i, j)
			}
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(m.Name, cell, &row); err != nil {
				return fmt.Errorf("sheet %q row %d: %w", m.Name, i, err)
			}
		}
	}

	if len(wb.Histograms) > 0 {
		if _, err := f.NewSheet(histSheet); err != nil {
			return err
		}
		for k, h := range wb.Histograms {
			col := 2*k + 1
			for j, header := range []string{h.Name, h.Name + "_err"} {
				cell, err := excelize.CoordinatesToCellName(col+j, 1)
				if err != nil {
					return err
				}
				if err := f.SetCellValue(histSheet, cell, header); err != nil {
					return err
				}
			}
			for i := 0; i < h.Len(); i++ {
				cell, err := excelize.CoordinatesToCellName(col, i+2)
				if err != nil {
					return err
				}
				row := []any{h.Content[i], h.Errors[i]}
				if err := f.SetSheetRow(histSheet, cell, &row); err != nil {
					return err
				}
			}
		}
	}

	if len(wb.Matrices) > 0 || len(wb.Histograms) > 0 {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}

	logger.Info("wrote workbook", zap.String("path", path),
		zap.Int("matrices", len(wb.Matrices)), zap.Int("histograms", len(wb.Histograms)))
	return nil
}
