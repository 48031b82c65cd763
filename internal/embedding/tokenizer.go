package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// Token IDs shared with BERT-style vocabularies.
const (
	tokenCLS   = 101
	tokenSEP   = 102
	vocabFloor = 1000
	vocabSize  = 30522
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer lowercases, splits on anything that is not a letter or digit,
// and hashes each word into the vocabulary range.
type SimpleTokenizer struct{}

// Tokenize returns [CLS] words... [SEP] padded to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1
	pos := 1
	for _, word := range SplitWords(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = wordID(word)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = tokenSEP
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

func wordID(word string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return int64(vocabFloor + h.Sum32()%(vocabSize-vocabFloor))
}

// SplitWords lowercases text and splits it on non-alphanumeric runes.
// Prompt weighting syntax such as "(masterpiece:1.2)" yields "masterpiece", "1", "2".
func SplitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
