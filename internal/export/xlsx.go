// Package export writes stored prompt records to spreadsheet files.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/promptforge/internal/models"
	"github.com/hyperjump/promptforge/internal/vector"
)

const sheetName = "Prompts"

// Header is the first row of every export.
var Header = []string{
	"ID", "Category", "Prompt", "Negative Prompt", "Image URL",
	"Width", "Height", "Reactions", "Comments",
	"Steps", "CFG Scale", "Sampler", "Seed", "Created At",
}

// WriteXLSX scrolls idx and writes up to limit records (all when limit <= 0)
// to path, one row per record. It returns the number of rows written.
func WriteXLSX(ctx context.Context, idx vector.Index, path string, limit int) (int, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return 0, err
	}
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return 0, fmt.Errorf("failed to create sheet writer: %w", err)
	}
	if err := sw.SetRow("A1", toRow(Header)); err != nil {
		return 0, err
	}

	written := 0
	offset := ""
	for limit <= 0 || written < limit {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		records, next, err := idx.Scroll(ctx, offset, vector.DefaultPageSize)
		if err != nil {
			return written, fmt.Errorf("failed to scroll index: %w", err)
		}
		for _, r := range records {
			if limit > 0 && written >= limit {
				break
			}
			cell, err := excelize.CoordinatesToCellName(1, written+2)
			if err != nil {
				return written, err
			}
			if err := sw.SetRow(cell, recordRow(r)); err != nil {
				return written, fmt.Errorf("failed to write row: %w", err)
			}
			written++
		}
		if next == "" || len(records) == 0 {
			break
		}
		offset = next
	}

	if err := sw.Flush(); err != nil {
		return written, fmt.Errorf("failed to flush sheet: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return written, err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return written, fmt.Errorf("failed to save workbook: %w", err)
	}
	return written, nil
}

func recordRow(r vector.Record) []interface{} {
	p := r.Payload
	params := models.Payload(p.Params())
	var cfg interface{}
	if v, ok := params[models.ParamCFGScale]; ok {
		cfg = v
	}
	return []interface{}{
		r.ID,
		p.Text(models.FieldCategory),
		p.Text(models.FieldPrompt),
		p.Text(models.FieldNegativePrompt),
		p.Text(models.FieldImageURL),
		p.Int(models.FieldWidth),
		p.Int(models.FieldHeight),
		p.Int(models.FieldReactions),
		p.Int(models.FieldComments),
		params.Int(models.ParamSteps),
		cfg,
		params.Text(models.ParamSampler),
		params.Int(models.ParamSeed),
		p.Text(models.FieldCreatedAt),
	}
}

func toRow(values []string) []interface{} {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}
