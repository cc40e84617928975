package document

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/OFFIS-RIT/medgraph/pkg/logger"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tiktoken encoding used for chunk budgets.
const DefaultEncoding = "o200k_base"

// TokenCounter counts tokens in a text.
type TokenCounter interface {
	Count(text string) int
}

// TokenCounterFunc adapts a function to TokenCounter.
type TokenCounterFunc func(text string) int

func (f TokenCounterFunc) Count(text string) int { return f(text) }

// WordCounter counts whitespace separated words.
var WordCounter = TokenCounterFunc(func(text string) int {
	return len(strings.Fields(text))
})

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// estimateCounter approximates tokens as runes/4.
type estimateCounter struct{}

func (estimateCounter) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

var (
	defaultCounterOnce sync.Once
	defaultCounter     TokenCounter
)

// DefaultCounter returns a tiktoken counter for DefaultEncoding. If the
// encoding cannot be loaded, a character based estimate is used instead.
func DefaultCounter() TokenCounter {
	defaultCounterOnce.Do(func() {
		counter, err := NewTiktokenCounter(DefaultEncoding)
		if err != nil {
			logger.Warn("[Document][Tokens] Falling back to estimated token counts", "encoding", DefaultEncoding, "err", err)
			defaultCounter = estimateCounter{}
			return
		}
		defaultCounter = counter
	})
	return defaultCounter
}

// NewTiktokenCounter loads the named tiktoken encoding.
func NewTiktokenCounter(encoding string) (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return tiktokenCounter{enc: enc}, nil
}
