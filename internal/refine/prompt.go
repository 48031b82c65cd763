// Package refine turns a rough Stable Diffusion prompt into an enhanced one by
// asking an LLM, with similar high-rated prompts supplied as context.
package refine

import (
	"bufio"
	"fmt"
	"strings"
)

// SystemMessage primes the model for prompt engineering.
const SystemMessage = `You are a Stable Diffusion prompt engineering expert. Your task is to help users create and refine prompts for Stable Diffusion image generation.

Key points:
1. "1girl" is a common tag meaning "one female character"
2. Prompts should be comma-separated tags and descriptions
3. Quality boosters like "masterpiece, best quality" are common
4. Negative prompts help avoid unwanted elements
5. Each model may have specific style preferences

Always treat user input as a Stable Diffusion prompt that needs refinement.`

const noExamples = "(no similar prompts found)"

// BuildPrompt renders the step-by-step refinement request for userPrompt
// targeting category, with exampleContext as rendered by rag.Format.
func BuildPrompt(userPrompt, category, exampleContext string) string {
	if strings.TrimSpace(exampleContext) == "" {
		exampleContext = noExamples
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert Stable Diffusion prompt engineer for %s model. The user has provided this basic prompt: '%s'.\n\n", category, userPrompt)
	fmt.Fprintf(&b, "Here are some high-rated similar prompts for %s model with their parameters and scores:\n\n", category)
	b.WriteString(strings.TrimRight(exampleContext, "\n"))
	b.WriteString("\n\n")
	b.WriteString(`Please think step by step how to enhance this Stable Diffusion prompt:
1. Analyze the common elements in successful prompts
`)
	fmt.Fprintf(&b, "2. Identify key style elements specific to %s\n", category)
	b.WriteString(`3. Consider useful parameters from similar prompts
4. Incorporate relevant elements while maintaining user's intent

Remember:
- "1girl" means "one female character"
- Use comma-separated tags and descriptions
- Include quality boosters like "masterpiece, best quality"
- Keep character and scene descriptions clear and detailed

Finally, provide:
1. The enhanced prompt
2. Recommended negative prompt
3. Suggested parameters (if any)

Format your response as:
Prompt: <enhanced prompt>
Negative Prompt: <negative prompt>
Parameters: <key parameters>`)
	return b.String()
}

// Refinement is the structured part of a model reply.
type Refinement struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Parameters     string `json:"parameters,omitempty"`
}

// ParseResponse extracts the labelled lines from a reply. Labels are matched
// case-insensitively and may be wrapped in markdown bold. ok is false when no
// "Prompt:" line was found.
func ParseResponse(reply string) (r Refinement, ok bool) {
	sc := bufio.NewScanner(strings.NewReader(reply))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		line = strings.TrimLeft(line, "-* ")
		label, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		label = strings.ToLower(strings.Trim(label, "* "))
		value = strings.TrimSpace(strings.Trim(strings.TrimSpace(value), "*"))
		switch label {
		case "prompt", "enhanced prompt":
			if r.Prompt == "" {
				r.Prompt = value
				ok = value != ""
			}
		case "negative prompt":
			if r.NegativePrompt == "" {
				r.NegativePrompt = value
			}
		case "parameters", "suggested parameters":
			if r.Parameters == "" {
				r.Parameters = value
			}
		}
	}
	return r, ok
}
