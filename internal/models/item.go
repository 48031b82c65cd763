// Package models defines the records that flow between fetch, ingest and retrieval.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UnknownCategory is assigned when an item carries no base model.
const UnknownCategory = "Unknown"

// ErrInvalidItem marks an upstream object that lacks the fields needed to ingest it.
var ErrInvalidItem = errors.New("invalid item")

// RawItem is one undecoded element of the upstream items array.
type RawItem = json.RawMessage

// Item is a validated upstream image record. Fields the pipeline depends on are
// typed; unrecognized generation metadata is kept in Extra.
type Item struct {
	ID             string           `json:"id"`
	URL            string           `json:"url"`
	Category       string           `json:"category"`
	Prompt         string           `json:"prompt"`
	NegativePrompt string           `json:"negative_prompt,omitempty"`
	Width          int64            `json:"width,omitempty"`
	Height         int64            `json:"height,omitempty"`
	NSFW           bool             `json:"nsfw"`
	NSFWLevel      string           `json:"nsfw_level,omitempty"`
	PostID         int64            `json:"post_id,omitempty"`
	Username       string           `json:"username,omitempty"`
	Hash           string           `json:"hash,omitempty"`
	Stats          Stats            `json:"stats"`
	Params         GenerationParams `json:"params"`
	CreatedAt      time.Time        `json:"created_at"`
	Extra          map[string]any   `json:"extra,omitempty"`
}

// Stats holds engagement counters.
type Stats struct {
	Reactions int64 `json:"reactions"`
	Comments  int64 `json:"comments"`
}

// GenerationParams are the sampler settings surfaced in retrieval context.
// Zero values mean the upstream did not report the setting.
type GenerationParams struct {
	Steps    int64   `json:"steps,omitempty"`
	CFGScale float64 `json:"cfg_scale,omitempty"`
	Sampler  string  `json:"sampler,omitempty"`
	Seed     int64   `json:"seed,omitempty"`
}

type wireItem struct {
	ID        flexID         `json:"id"`
	URL       string         `json:"url"`
	Hash      string         `json:"hash"`
	Width     json.Number    `json:"width"`
	Height    json.Number    `json:"height"`
	NSFW      bool           `json:"nsfw"`
	NSFWLevel any            `json:"nsfwLevel"`
	CreatedAt string         `json:"createdAt"`
	PostID    json.Number    `json:"postId"`
	Username  string         `json:"username"`
	BaseModel string         `json:"baseModel"`
	Stats     wireStats      `json:"stats"`
	Meta      map[string]any `json:"meta"`
}

type wireStats struct {
	CryCount     int64 `json:"cryCount"`
	LaughCount   int64 `json:"laughCount"`
	LikeCount    int64 `json:"likeCount"`
	HeartCount   int64 `json:"heartCount"`
	CommentCount int64 `json:"commentCount"`
}

// meta keys lifted into typed fields; everything else lands in Extra.
var knownMetaKeys = map[string]struct{}{
	"prompt": {}, "negativePrompt": {}, "steps": {}, "cfgScale": {},
	"sampler": {}, "seed": {}, "baseModel": {},
}

// ParseItem decodes and validates one upstream object. It returns an error
// wrapping ErrInvalidItem when the object is null or lacks an id or url, and a
// plain decode error when the JSON is malformed.
func ParseItem(raw RawItem) (*Item, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: empty object", ErrInvalidItem)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var w wireItem
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}

	id := strings.TrimSpace(string(w.ID))
	if id == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidItem)
	}
	url := strings.TrimSpace(w.URL)
	if url == "" {
		return nil, fmt.Errorf("%w: item %s missing url", ErrInvalidItem, id)
	}

	item := &Item{
		ID:        id,
		URL:       url,
		Hash:      w.Hash,
		Width:     numberInt(w.Width),
		Height:    numberInt(w.Height),
		NSFW:      w.NSFW,
		NSFWLevel: levelString(w.NSFWLevel),
		PostID:    numberInt(w.PostID),
		Username:  w.Username,
		Stats: Stats{
			Reactions: w.Stats.HeartCount + w.Stats.LikeCount + w.Stats.LaughCount + w.Stats.CryCount,
			Comments:  w.Stats.CommentCount,
		},
	}
	if t, err := time.Parse(time.RFC3339, w.CreatedAt); err == nil {
		item.CreatedAt = t.UTC()
	}

	meta := w.Meta
	item.Prompt = strings.TrimSpace(metaString(meta, "prompt"))
	item.NegativePrompt = strings.TrimSpace(metaString(meta, "negativePrompt"))
	item.Category = strings.TrimSpace(w.BaseModel)
	if item.Category == "" {
		item.Category = strings.TrimSpace(metaString(meta, "baseModel"))
	}
	if item.Category == "" {
		item.Category = UnknownCategory
	}
	item.Params = GenerationParams{
		Steps:    anyInt(meta["steps"]),
		CFGScale: anyFloat(meta["cfgScale"]),
		Sampler:  metaString(meta, "sampler"),
		Seed:     anyInt(meta["seed"]),
	}
	for k, v := range meta {
		if _, known := knownMetaKeys[k]; known {
			continue
		}
		if item.Extra == nil {
			item.Extra = make(map[string]any)
		}
		item.Extra[k] = plainJSON(v)
	}
	return item, nil
}

// flexID accepts the id as a JSON number or string.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func metaString(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

func levelString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	}
	return ""
}

func numberInt(n json.Number) int64 {
	return anyInt(n)
}

// plainJSON replaces json.Number values with int64 or float64 so the value
// can be handed to encoders that do not know json.Number.
func plainJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = plainJSON(vv)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = plainJSON(vv)
		}
		return out
	}
	return v
}
