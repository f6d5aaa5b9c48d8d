package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/errdefs"
	"github.com/openviking/openviking/pkg/httpclient"
)

// OpenAIVLM calls an OpenAI-compatible chat completions endpoint.
type OpenAIVLM struct {
	client      *httpclient.Client
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
}

func NewOpenAIVLM(cfg config.VLMConfig) (*OpenAIVLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for the OpenAI VLM")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIVLM{
		client:      httpclient.New(httpclient.WithMaxRetries(cfg.MaxRetries)),
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (v *OpenAIVLM) Chat(ctx context.Context, messages []Message) (string, error) {
	req := chatRequest{
		Model:       v.model,
		Temperature: v.temperature,
		MaxTokens:   v.maxTokens,
	}
	for _, m := range messages {
		if len(m.Images) == 0 {
			req.Messages = append(req.Messages, chatMessage{Role: m.Role, Content: m.Content})
			continue
		}
		images := m.Images
		if len(images) > MaxImagesPerCall {
			images = images[:MaxImagesPerCall]
		}
		parts := []contentPart{{Type: "text", Text: m.Content}}
		for _, img := range images {
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: img}})
		}
		req.Messages = append(req.Messages, chatMessage{Role: m.Role, Content: parts})
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", v.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return "", errdefs.Transient(fmt.Errorf("chat request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errdefs.Transient(fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", errdefs.Fatal(fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, string(body)))
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", errdefs.Fatal(fmt.Errorf("failed to decode response: %w", err))
	}
	if response.Error != nil {
		return "", errdefs.Fatal(fmt.Errorf("chat API error: %s (type: %s)", response.Error.Message, response.Error.Type))
	}
	if len(response.Choices) == 0 {
		return "", errdefs.Fatal(fmt.Errorf("chat API returned no choices"))
	}
	return response.Choices[0].Message.Content, nil
}

func (v *OpenAIVLM) Close() error { return nil }
