package rag

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/promptforge/internal/models"
)

var paramWhitelist = map[string]struct{}{
	models.ParamSteps:    {},
	models.ParamCFGScale: {},
	models.ParamSampler:  {},
	models.ParamSeed:     {},
}

// Format renders examples as numbered blocks separated by a blank line.
// When maxChars > 0 the output never exceeds it: examples that would not fit
// are dropped whole, along with everything after them. Format is pure.
func Format(examples []models.Example, maxChars int) string {
	var b strings.Builder
	for i, ex := range examples {
		block := formatExample(i+1, ex)
		sep := ""
		if b.Len() > 0 {
			sep = "\n"
		}
		if maxChars > 0 && b.Len()+len(sep)+len(block) > maxChars {
			break
		}
		b.WriteString(sep)
		b.WriteString(block)
	}
	return b.String()
}

func formatExample(n int, ex models.Example) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Example %d:\n", n)
	fmt.Fprintf(&b, "Prompt: %s\n", ex.Prompt)
	if ex.NegativePrompt != "" {
		fmt.Fprintf(&b, "Negative Prompt: %s\n", ex.NegativePrompt)
	}
	if params := formatParams(ex.Metadata); params != "" {
		fmt.Fprintf(&b, "Parameters: %s\n", params)
	}
	fmt.Fprintf(&b, "Score: %.2f\n", ex.Score)
	return b.String()
}

func formatParams(meta map[string]any) string {
	params, _ := meta[models.FieldParams].(map[string]any)
	keys := make([]string, 0, len(params))
	for k := range params {
		if _, ok := paramWhitelist[k]; ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + paramValue(params[k])
	}
	return strings.Join(parts, ", ")
}

func paramValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprint(x)
	}
}
