package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/openviking/openviking/pkg/config"
	"github.com/openviking/openviking/pkg/errdefs"
	"github.com/openviking/openviking/pkg/httpclient"
)

// HTTPReranker calls a Cohere-style /rerank endpoint.
type HTTPReranker struct {
	client    *httpclient.Client
	url       string
	apiKey    string
	model     string
	threshold float64
}

func NewHTTPReranker(cfg config.RerankConfig) *HTTPReranker {
	return &HTTPReranker{
		client:    httpclient.New(),
		url:       cfg.URL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		threshold: cfg.Threshold,
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank returns the documents scoring at or above the threshold, best
// first.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, docs []Document) ([]Result, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}

	reqBody, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", r.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, errdefs.Transient(fmt.Errorf("rerank request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errdefs.Transient(fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errdefs.Fatal(fmt.Errorf("rerank API returned status %d: %s", resp.StatusCode, string(body)))
	}

	var response rerankResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errdefs.Fatal(fmt.Errorf("failed to decode response: %w", err))
	}

	results := make([]Result, 0, len(response.Results))
	for _, item := range response.Results {
		if item.Index < 0 || item.Index >= len(docs) {
			continue
		}
		if item.RelevanceScore < r.threshold {
			continue
		}
		results = append(results, Result{Index: item.Index, Score: item.RelevanceScore})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}
