// Package tokens estimates prompt sizes with a tiktoken encoding.
package tokens

import (
	"encoding/json"
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/deep-interviewer/internal/domain"
)

// Per-message overheads, following the chat-format accounting of the
// tiktoken cookbook.
const (
	tokensPerMessage  = 3
	tokensPerRole     = 1
	tokensPerToolCall = 3
	tokensPerResult   = 2
	tokensPriming     = 3
)

// Estimator approximates the prompt size of a model request. Claude and
// Gemini use their own tokenizers, so counts are estimates for logging and
// tracing, not for billing.
type Estimator struct {
	codec tokenizer.Codec
}

// NewEstimator loads the cl100k_base encoding.
func NewEstimator() (*Estimator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}
	return &Estimator{codec: codec}, nil
}

// Count returns the number of tokens in text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	ids, _, _ := e.codec.Encode(text)
	return len(ids)
}

// Request estimates the input tokens of req, including tool schemas.
func (e *Estimator) Request(req *domain.CanonicalRequest) int {
	total := 0

	if req.System != "" {
		total += tokensPerMessage + tokensPerRole
		total += e.Count(req.System)
	}

	for _, msg := range req.Messages {
		total += tokensPerMessage + tokensPerRole
		total += e.Count(msg.Content)
		for _, tc := range msg.ToolCalls {
			total += tokensPerToolCall
			total += e.Count(tc.Name)
			total += e.Count(string(tc.Input))
		}
		if msg.Role == domain.RoleTool {
			total += tokensPerResult
		}
	}

	for _, tool := range req.Tools {
		total += e.Count(tool.Name) + e.Count(tool.Description)
		if schema, err := json.Marshal(tool.InputSchema); err == nil {
			total += e.Count(string(schema))
		}
	}

	return total + tokensPriming
}
