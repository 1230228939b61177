package tokencount

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens with a BPE codec. Local models rarely ship an OpenAI vocabulary,
// so cl100k_base serves as a close estimate for all of them.
type Counter struct {
	codec tokenizer.Codec
}

func New(encoding string) (*Counter, error) {
	if encoding == "" {
		encoding = string(tokenizer.Cl100kBase)
	}
	codec, err := tokenizer.Get(tokenizer.Encoding(encoding))
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", encoding, err)
	}
	return &Counter{codec: codec}, nil
}

// CountTokens falls back to four bytes per token if the codec rejects the text.
func (c *Counter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}
