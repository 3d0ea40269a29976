// Package chunker splits extracted text into overlapping word windows sized
// by an approximate token budget.
package chunker

import (
	"unicode"

	"github.com/shubhambtra/chatapp-api-sub000/config"
	"github.com/shubhambtra/chatapp-api-sub000/model"
)

// Span is one chunk of the source text. StartChar and EndChar are rune
// (character) offsets into the text passed to Split.
type Span struct {
	Index      int
	Content    string
	StartChar  int
	EndChar    int
	Words      int
	TokenCount int
}

type Chunker struct {
	size          int
	overlap       int
	tokensPerWord float64
}

func New(cfg config.ChunkingConfig) *Chunker {
	return &Chunker{
		size:          cfg.Size,
		overlap:       cfg.Overlap,
		tokensPerWord: cfg.TokensPerWord,
	}
}

// WordsPerChunk and OverlapWords are the token targets converted to words.
func (c *Chunker) WordsPerChunk() int {
	return max(1, int(float64(c.size)/c.tokensPerWord))
}

func (c *Chunker) OverlapWords() int {
	o := int(float64(c.overlap) / c.tokensPerWord)
	return min(max(0, o), c.WordsPerChunk()-1)
}

// word holds byte bounds for slicing and rune bounds for offsets.
type word struct {
	start, end         int
	runeStart, runeEnd int
}

func splitWords(text string) []word {
	var words []word
	start, runeStart := -1, 0
	runes := 0
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, word{start, i, runeStart, runes})
				start = -1
			}
		} else if start < 0 {
			start, runeStart = i, runes
		}
		runes++
	}
	if start >= 0 {
		words = append(words, word{start, len(text), runeStart, runes})
	}
	return words
}

// Split returns the chunks of text in order. Text without words yields no
// chunks; text shorter than one window yields exactly one.
func (c *Chunker) Split(text string) []Span {
	words := splitWords(text)
	if len(words) == 0 {
		return nil
	}

	perChunk := c.WordsPerChunk()
	step := perChunk - c.OverlapWords()

	var spans []Span
	for i := 0; i < len(words); i += step {
		end := min(i+perChunk, len(words))
		first, last := words[i], words[end-1]
		n := end - i
		spans = append(spans, Span{
			Index:      len(spans),
			Content:    text[first.start:last.end],
			StartChar:  first.runeStart,
			EndChar:    last.runeEnd,
			Words:      n,
			TokenCount: model.ApproxTokens(n, c.tokensPerWord),
		})
		if end == len(words) {
			break
		}
	}
	return spans
}

// CountTokens applies the same word-based estimate to a whole text.
func (c *Chunker) CountTokens(text string) int {
	return model.ApproxTokens(len(splitWords(text)), c.tokensPerWord)
}
