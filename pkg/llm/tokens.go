package llm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// perMessageOverhead approximates the tokens the chat format spends on role
// markers and separators per message.
const perMessageOverhead = 4

var (
	// Encodings are expensive to build; cache them per model.
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	encodingMu    sync.RWMutex
)

// Estimator counts tokens locally with tiktoken. Used when the provider
// omits usage and to size the context-reduction window.
type Estimator struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// NewEstimator builds a counter for the model, falling back to cl100k_base
// for models tiktoken does not know.
func NewEstimator(model string) (*Estimator, error) {
	encodingMu.RLock()
	cached, ok := encodingCache[model]
	encodingMu.RUnlock()
	if ok {
		return &Estimator{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	encodingMu.Lock()
	encodingCache[model] = encoding
	encodingMu.Unlock()

	return &Estimator{encoding: encoding, model: model}, nil
}

// CountText returns the token count of a single string.
func (e *Estimator) CountText(text string) int {
	if text == "" {
		return 0
	}
	return len(e.encoding.Encode(text, nil, nil))
}

// CountMessages returns the approximate prompt size of a conversation,
// including per-message formatting overhead.
func (e *Estimator) CountMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += e.CountText(m.Content) + perMessageOverhead
	}
	return total
}
