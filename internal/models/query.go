package models

import (
	"errors"
	"strings"
)

var (
	// ErrEmptyQuery is returned when a similarity query has no prompt.
	ErrEmptyQuery = errors.New("query prompt cannot be empty")
	// ErrEmptyCategory is returned when a similarity query names no category.
	ErrEmptyCategory = errors.New("query category cannot be empty")
)

// SimilarQuery asks for stored prompts close to Prompt within Category.
type SimilarQuery struct {
	Prompt   string `json:"prompt"`
	Category string `json:"category"`
	Limit    int    `json:"limit,omitempty"`
}

// Validate rejects an empty prompt or category and clamps Limit to [1, 50],
// using defaultLimit when unset.
func (q *SimilarQuery) Validate(defaultLimit int) error {
	if q.Prompt == "" {
		return ErrEmptyQuery
	}
	q.Category = strings.TrimSpace(q.Category)
	if q.Category == "" {
		return ErrEmptyCategory
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit <= 0 {
		q.Limit = 5
	}
	if q.Limit > 50 {
		q.Limit = 50
	}
	return nil
}

// Example is one retrieved prompt with its similarity score.
type Example struct {
	ID             string         `json:"id"`
	Prompt         string         `json:"prompt"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	Score          float32        `json:"score"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
