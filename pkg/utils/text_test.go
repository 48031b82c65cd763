package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if got := Truncate("日本語のプロンプト", 3); got != "日本語..." {
		t.Errorf("multibyte: got %s", got)
	}
}

func TestCollapseSpace(t *testing.T) {
	tests := map[string]string{
		"":                          "",
		"  a  ":                     "a",
		"masterpiece,\n\n  1girl\t": "masterpiece, 1girl",
		"no change":                 "no change",
	}
	for in, want := range tests {
		if got := CollapseSpace(in); got != want {
			t.Errorf("CollapseSpace(%q) = %q, want %q", in, got, want)
		}
	}
}
