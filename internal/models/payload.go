package models

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Payload is the field set stored next to a vector.
type Payload map[string]any

// Payload field names.
const (
	FieldID             = "id"
	FieldImageURL       = "image_url"
	FieldCategory       = "category"
	FieldPrompt         = "prompt"
	FieldNegativePrompt = "negative_prompt"
	FieldWidth          = "width"
	FieldHeight         = "height"
	FieldNSFW           = "nsfw"
	FieldNSFWLevel      = "nsfw_level"
	FieldPostID         = "post_id"
	FieldUsername       = "username"
	FieldHash           = "hash"
	FieldReactions      = "reaction_count"
	FieldComments       = "comment_count"
	FieldCreatedAt      = "created_at"
	FieldParams         = "params"
	FieldExtra          = "extra"
)

// Param names kept in the params sub-map.
const (
	ParamSteps    = "steps"
	ParamCFGScale = "cfg_scale"
	ParamSampler  = "sampler"
	ParamSeed     = "seed"
)

// Payload flattens the item into vector-store fields. Only plain JSON types
// (string, bool, int64, float64, maps and slices of those) are used.
func (it *Item) Payload() Payload {
	p := Payload{
		FieldID:             it.ID,
		FieldImageURL:       it.URL,
		FieldCategory:       it.Category,
		FieldPrompt:         it.Prompt,
		FieldNegativePrompt: it.NegativePrompt,
		FieldWidth:          it.Width,
		FieldHeight:         it.Height,
		FieldNSFW:           it.NSFW,
		FieldNSFWLevel:      it.NSFWLevel,
		FieldPostID:         it.PostID,
		FieldUsername:       it.Username,
		FieldHash:           it.Hash,
		FieldReactions:      it.Stats.Reactions,
		FieldComments:       it.Stats.Comments,
	}
	if !it.CreatedAt.IsZero() {
		p[FieldCreatedAt] = it.CreatedAt.Format(time.RFC3339)
	}
	params := map[string]any{}
	if it.Params.Steps != 0 {
		params[ParamSteps] = it.Params.Steps
	}
	if it.Params.CFGScale != 0 {
		params[ParamCFGScale] = it.Params.CFGScale
	}
	if it.Params.Sampler != "" {
		params[ParamSampler] = it.Params.Sampler
	}
	if it.Params.Seed != 0 {
		params[ParamSeed] = it.Params.Seed
	}
	if len(params) > 0 {
		p[FieldParams] = params
	}
	if len(it.Extra) > 0 {
		p[FieldExtra] = it.Extra
	}
	return p
}

// Text returns the string at key, or "".
func (p Payload) Text(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int returns the integer at key, accepting any numeric representation.
func (p Payload) Int(key string) int64 {
	return anyInt(p[key])
}

// Bool returns the bool at key.
func (p Payload) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Params returns the params sub-map, or nil.
func (p Payload) Params() map[string]any {
	m, _ := p[FieldParams].(map[string]any)
	return m
}

func anyInt(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint64:
		if x > math.MaxInt64 {
			return 0
		}
		return int64(x)
	case float32:
		return int64(x)
	case float64:
		return int64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if i, err := strconv.ParseInt(x, 10, 64); err == nil {
			return i
		}
	}
	return 0
}

func anyFloat(v any) float64 {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case float64:
		return x
	case json.Number:
		f, _ := x.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	}
	return 0
}
