package config

import (
	"strings"
	"sync"

	"github.com/hyperjump/promptforge/pkg/utils"
)

// Categories is the live category allow-list. It is replaced wholesale on
// config reload; readers take a snapshot per run.
type Categories struct {
	mu   sync.RWMutex
	list []string
}

// NewCategories returns an allow-list holding list.
func NewCategories(list []string) *Categories {
	c := &Categories{}
	c.Set(list)
	return c
}

// Set replaces the allow-list. Blank entries are dropped.
func (c *Categories) Set(list []string) {
	cleaned := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	c.mu.Lock()
	c.list = cleaned
	c.mu.Unlock()
}

// Snapshot returns a copy of the current allow-list.
func (c *Categories) Snapshot() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.list...)
}

// Contains reports whether name is allowed. Matching is exact.
func (c *Categories) Contains(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.list {
		if s == name {
			return true
		}
	}
	return false
}

// Suggest returns the allowed category closest to name, ignoring case, when it
// is within a third of name's length in edits. It returns "" for an exact match
// or when nothing is close.
func (c *Categories) Suggest(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return ""
	}
	maxDist := max(1, len([]rune(lower))/3)
	best, bestDist := "", maxDist+1
	for _, s := range c.list {
		if s == name {
			return ""
		}
		if d := utils.EditDistance(lower, strings.ToLower(s)); d < bestDist {
			best, bestDist = s, d
		}
	}
	return best
}
