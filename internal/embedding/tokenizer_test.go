package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("Hello, World", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths: %d %d %d", len(ids), len(attn), len(types))
	}
	if ids[0] != tokenCLS || ids[3] != tokenSEP {
		t.Errorf("expected [CLS] w w [SEP], got %v", ids[:4])
	}
	for i, want := range []int64{1, 1, 1, 1, 0} {
		if attn[i] != want {
			t.Errorf("attention[%d] = %d, want %d", i, attn[i], want)
		}
	}
	again, _, _ := tok.Tokenize("hello world", 10)
	if again[1] != ids[1] || again[2] != ids[2] {
		t.Error("tokenization should ignore case and punctuation")
	}
}

func TestSimpleTokenizer_TruncatesLongInput(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("a b c d e f g h i j k l", 5)
	if ids[4] != tokenSEP {
		t.Errorf("last slot should hold [SEP], got %v", ids)
	}
	for i := range attn {
		if attn[i] != 1 {
			t.Errorf("attention[%d] should be 1 for a full sequence", i)
		}
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  (Masterpiece:1.2), best-quality  ")
	want := []string{"masterpiece", "1", "2", "best", "quality"}
	if len(words) != len(want) {
		t.Fatalf("SplitWords = %v", words)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("word %d = %q, want %q", i, words[i], want[i])
		}
	}
	if len(SplitWords("")) != 0 {
		t.Error("empty string should yield no words")
	}
}
