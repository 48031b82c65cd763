// Package cli formats command output for promptforge.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/promptforge/internal/job"
	"github.com/hyperjump/promptforge/internal/models"
	"github.com/hyperjump/promptforge/pkg/utils"
)

// OutputFormat selects how results are printed.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteReport writes a run report in the given format.
func WriteReport(w io.Writer, rep *job.Report, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, rep)
	}
	fmt.Fprintf(w, "run:          %s (%s)\n", rep.RunID, rep.Mode)
	fmt.Fprintf(w, "state:        %s", rep.State)
	if rep.Reason != "" {
		fmt.Fprintf(w, " (%s)", rep.Reason)
	}
	fmt.Fprintln(w)
	if rep.Error != "" {
		fmt.Fprintf(w, "error:        %s\n", rep.Error)
	}
	fmt.Fprintf(w, "fetched:      %d of %d in %d page(s), %s\n",
		rep.Fetched, rep.TargetCount, rep.Pages, rep.FetchTime.Round(time.Millisecond))
	fmt.Fprintf(w, "ingested:     %d stored, %d skipped, %d errors of %d, %s\n",
		rep.Stats.Stored, rep.Stats.Skipped, rep.Stats.Errors, rep.Stats.Processed, rep.IngestTime.Round(time.Millisecond))
	if rep.Cursor != "" {
		fmt.Fprintf(w, "cursor:       %s\n", rep.Cursor)
	} else {
		fmt.Fprintln(w, "cursor:       (none)")
	}
	if rep.NewEstimate >= 0 {
		fmt.Fprintf(w, "new estimate: %d (upstream %d, seen %d)\n", rep.NewEstimate, rep.UpstreamTotal, rep.SeenCount)
	}
	return nil
}

// WriteExamples writes retrieved examples in the given format. suggestion is
// printed when non-empty and nothing matched.
func WriteExamples(w io.Writer, examples []models.Example, suggestion string, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, struct {
			Results    []models.Example `json:"results"`
			Suggestion string           `json:"did_you_mean,omitempty"`
		}{examples, suggestion})
	}
	if len(examples) == 0 {
		fmt.Fprintln(w, "No similar prompts found.")
		if suggestion != "" {
			fmt.Fprintf(w, "Did you mean category %q?\n", suggestion)
		}
		return nil
	}
	for i, ex := range examples {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "#%d  Score: %.4f  ID: %s\n", i+1, ex.Score, ex.ID)
		fmt.Fprintf(w, "\n%s\n", utils.Truncate(ex.Prompt, 300))
		if ex.NegativePrompt != "" {
			fmt.Fprintf(w, "Negative: %s\n", utils.Truncate(ex.NegativePrompt, 120))
		}
		if line := metaLine(ex.Metadata); line != "" {
			fmt.Fprintf(w, "%s\n", line)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func metaLine(meta map[string]any) string {
	keys := make([]string, 0, len(meta))
	for k, v := range meta {
		if v == nil || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, meta[k]))
	}
	return strings.Join(parts, " ")
}

// WriteStatus writes a status map. Text output lists top-level keys in order
// with nested maps flattened one level.
func WriteStatus(w io.Writer, status map[string]any, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, status)
	}
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := status[k].(type) {
		case map[string]any:
			fmt.Fprintf(w, "%s:\n", k)
			sub := make([]string, 0, len(v))
			for sk := range v {
				sub = append(sub, sk)
			}
			sort.Strings(sub)
			for _, sk := range sub {
				fmt.Fprintf(w, "  %-22s %v\n", sk+":", v[sk])
			}
		default:
			fmt.Fprintf(w, "%-24s %v\n", k+":", v)
		}
	}
	return nil
}
