package utils

import "testing"

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"SDXL 1.0", "SDXL 1.0", 0},
		{"SDXL1.0", "SDXL 1.0", 1},
		{"kitten", "sitting", 3},
		{"Pony", "pony", 1},
		{"日本", "日本語", 1},
	}
	for _, tt := range tests {
		if got := EditDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("EditDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
