// Package llms provides the vision-language model client used for
// summarization and intent analysis.
package llms

import (
	"context"
	"fmt"

	"github.com/openviking/openviking/pkg/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn. Images are URLs or data URIs attached to the
// text, capped by the provider at ten per call.
type Message struct {
	Role    string
	Content string
	Images  []string
}

// VLM is the model contract. Implementations must be safe for concurrent
// use; the semantic processor fans out up to ten calls at once.
type VLM interface {
	// Chat returns the assistant completion for the conversation.
	Chat(ctx context.Context, messages []Message) (string, error)

	Close() error
}

// MaxImagesPerCall bounds how many images one Chat call may carry.
const MaxImagesPerCall = 10

// New builds the provider named by cfg.
func New(cfg config.VLMConfig) (VLM, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIVLM(cfg)
	default:
		return nil, fmt.Errorf("unsupported vlm provider: %s", cfg.Provider)
	}
}
