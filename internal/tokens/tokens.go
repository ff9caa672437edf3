// Package tokens counts and truncates text against model token budgets.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter provides tiktoken token counts. Models without a tiktoken
// encoding, such as rerankers, are approximated with the closest encoding.
type Counter struct {
	// codecCache caches tokenizer codecs by encoding name
	codecCache map[tokenizer.Encoding]tokenizer.Codec
	cacheMu    sync.RWMutex
}

// NewCounter creates a new token counter.
func NewCounter() *Counter {
	return &Counter{
		codecCache: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

func (c *Counter) getCodec(model string) (tokenizer.Codec, error) {
	encoding := modelToEncoding(model)

	c.cacheMu.RLock()
	if cached, ok := c.codecCache[encoding]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	c.cacheMu.Lock()
	c.codecCache[encoding] = codec
	c.cacheMu.Unlock()

	return codec, nil
}

// modelToEncoding maps model names to encoding names.
//
// Encoding reference:
// - O200kBase: GPT-5, GPT-4.1, GPT-4o, O-series and unknown models
// - Cl100kBase: GPT-4, GPT-3.5-turbo, text-embedding-*
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"),
		strings.HasPrefix(model, "gpt-3.5"),
		strings.HasPrefix(model, "text-embedding"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}

// Count counts the tokens of text for model.
func (c *Counter) Count(model, text string) (int, error) {
	codec, err := c.getCodec(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Truncate cuts text down to at most max tokens for model and reports
// whether anything was removed. A max of zero or less disables truncation.
func (c *Counter) Truncate(model, text string, max int) (string, bool, error) {
	if max <= 0 || text == "" {
		return text, false, nil
	}
	codec, err := c.getCodec(model)
	if err != nil {
		return "", false, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return "", false, err
	}
	if len(ids) <= max {
		return text, false, nil
	}
	out, err := codec.Decode(ids[:max])
	if err != nil {
		return "", false, fmt.Errorf("failed to decode truncated text: %w", err)
	}
	return out, true, nil
}
