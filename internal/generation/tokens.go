package generation

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter measures and trims text in model tokens.
type TokenCounter interface {
	Count(text string) int
	// Truncate returns the longest prefix of text that fits in max tokens.
	Truncate(text string, max int) string
}

// TiktokenCounter counts cl100k_base tokens. The encoding is loaded on
// first use; if loading fails it falls back to a four-characters-per-token
// estimate.
type TiktokenCounter struct {
	logger *zap.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a lazily initialized counter.
func NewTiktokenCounter(logger *zap.Logger) *TiktokenCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenCounter{logger: logger}
}

func (c *TiktokenCounter) encoding() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			c.logger.Warn("tiktoken encoding unavailable, estimating tokens", zap.Error(err))
			return
		}
		c.enc = enc
	})
	return c.enc
}

// Count returns the number of tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	if enc := c.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// Truncate returns the longest token prefix of text that fits in max.
func (c *TiktokenCounter) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	if enc := c.encoding(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= max {
			return text
		}
		return enc.Decode(tokens[:max])
	}
	if estimateTokens(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max*4])
}

func estimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
