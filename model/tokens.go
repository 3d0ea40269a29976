package model

import (
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates how many model tokens a text occupies.
type TokenCounter interface {
	Count(text string) int
}

// ApproxCounter estimates tokens as word count times a fixed ratio.
type ApproxCounter struct {
	TokensPerWord float64
}

func (c ApproxCounter) Count(text string) int {
	return ApproxTokens(len(strings.Fields(text)), c.TokensPerWord)
}

func ApproxTokens(words int, tokensPerWord float64) int {
	return int(math.Ceil(float64(words) * tokensPerWord))
}

// TiktokenCounter counts cl100k_base tokens. The encoding is loaded on first
// use; if it cannot be loaded the fallback counter is used instead.
type TiktokenCounter struct {
	fallback TokenCounter

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewTiktokenCounter(fallback TokenCounter) *TiktokenCounter {
	return &TiktokenCounter{fallback: fallback}
}

func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return c.fallback.Count(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}
