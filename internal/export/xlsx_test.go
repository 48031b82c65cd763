package export

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/promptforge/internal/models"
	"github.com/hyperjump/promptforge/internal/vector"
)

func seeded(t *testing.T, n int) *vector.MemoryIndex {
	t.Helper()
	idx, err := vector.NewMemoryIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%d", i)
		err := idx.Upsert(context.Background(), id, []float32{1, 0}, models.Payload{
			models.FieldID:       id,
			models.FieldCategory: "SDXL 1.0",
			models.FieldPrompt:   "prompt " + id,
			models.FieldWidth:    int64(1024),
			models.FieldParams: map[string]any{
				models.ParamSteps:    int64(30),
				models.ParamCFGScale: 7.5,
				models.ParamSampler:  "DPM++ 2M",
			},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return idx
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "prompts.xlsx")
	n, err := WriteXLSX(context.Background(), seeded(t, 3), path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("written = %d", n)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0][0] != "ID" || rows[0][2] != "Prompt" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][1] != "SDXL 1.0" || rows[1][5] != "1024" || rows[1][9] != "30" || rows[1][10] != "7.5" || rows[1][11] != "DPM++ 2M" {
		t.Errorf("row = %v", rows[1])
	}
}

func TestWriteXLSX_Limit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.xlsx")
	n, err := WriteXLSX(context.Background(), seeded(t, 5), path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("written = %d", n)
	}
}
