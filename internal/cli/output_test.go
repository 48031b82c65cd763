package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/promptforge/internal/fetcher"
	"github.com/hyperjump/promptforge/internal/job"
	"github.com/hyperjump/promptforge/internal/models"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"json", OutputJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseFormat(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func sampleReport() *job.Report {
	return &job.Report{
		RunID:         "run-1",
		Mode:          fetcher.ModeContinue,
		TargetCount:   100,
		State:         fetcher.StateDone,
		Reason:        fetcher.ReasonTarget,
		Fetched:       100,
		Pages:         1,
		Cursor:        "abc",
		UpstreamTotal: 500,
		SeenCount:     100,
		NewEstimate:   400,
		Stats:         models.RunStats{Processed: 100, Stored: 90, Skipped: 10},
		StartedAt:     time.Now(),
		FetchTime:     1500 * time.Millisecond,
	}
}

func TestWriteReport_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteReport(&buf, sampleReport(), OutputText); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"run-1", "DONE", "90 stored", "10 skipped", "cursor:       abc", "new estimate: 400"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteReport_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteReport(&buf, sampleReport(), OutputJSON); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	var decoded job.Report
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.RunID != "run-1" || decoded.Stats.Stored != 90 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteReport_UnknownEstimateOmitted(t *testing.T) {
	rep := sampleReport()
	rep.NewEstimate = -1
	rep.Cursor = ""
	var buf bytes.Buffer
	_ = WriteReport(&buf, rep, OutputText)
	if strings.Contains(buf.String(), "new estimate") {
		t.Errorf("unexpected estimate line:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "(none)") {
		t.Errorf("expected empty cursor marker:\n%s", buf.String())
	}
}

func TestWriteExamples(t *testing.T) {
	examples := []models.Example{{
		ID:             "7",
		Prompt:         "a lighthouse at dusk",
		NegativePrompt: "blurry",
		Score:          0.91,
		Metadata:       map[string]any{"steps": 30, "sampler": "Euler a", "seed": nil},
	}}
	var buf bytes.Buffer
	if err := WriteExamples(&buf, examples, "", OutputText); err != nil {
		t.Fatalf("WriteExamples: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"#1", "ID: 7", "a lighthouse at dusk", "Negative: blurry", "sampler=Euler a steps=30"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "seed") {
		t.Errorf("nil metadata should be omitted:\n%s", out)
	}
}

func TestWriteExamples_EmptyWithSuggestion(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteExamples(&buf, nil, "SDXL 1.0", OutputText)
	if !strings.Contains(buf.String(), `Did you mean category "SDXL 1.0"?`) {
		t.Errorf("missing suggestion:\n%s", buf.String())
	}

	buf.Reset()
	_ = WriteExamples(&buf, nil, "SDXL 1.0", OutputJSON)
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["did_you_mean"] != "SDXL 1.0" {
		t.Errorf("did_you_mean = %v", decoded["did_you_mean"])
	}
}

func TestWriteStatus_Text(t *testing.T) {
	status := map[string]any{
		"records": 3,
		"config":  map[string]any{"vector_type": "memory"},
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, status, OutputText); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "records:") || !strings.Contains(out, "vector_type:") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Index(out, "config:") > strings.Index(out, "records:") {
		t.Errorf("keys not sorted:\n%s", out)
	}
}
