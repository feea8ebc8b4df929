package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shre-db/linked-squad/go/assistant/internal/metrics"
	"github.com/shre-db/linked-squad/go/assistant/internal/tracing"
)

const (
	defaultServiceURL = "http://llm-service:8000"
	defaultAgentID    = "profile_assistant"
	defaultMaxTokens  = 4096
)

// HTTPClient calls an LLM service exposing POST /agent/query.
type HTTPClient struct {
	baseURL   string
	agentID   string
	model     string
	maxTokens int
	client    *http.Client
	logger    *zap.Logger
}

type queryResponse struct {
	Success    bool   `json:"success"`
	Response   string `json:"response"`
	Error      string `json:"error,omitempty"`
	TokensUsed int    `json:"tokens_used"`
	ModelUsed  string `json:"model_used"`
	Provider   string `json:"provider"`
}

// NewHTTPClient creates an LLM service client. The http.Client timeout is a hard
// upper bound; per-call deadlines come from the context.
func NewHTTPClient(opts Options, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultServiceURL
	}
	agentID := opts.AgentID
	if agentID == "" {
		agentID = defaultAgentID
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &HTTPClient{
		baseURL:   baseURL,
		agentID:   agentID,
		model:     opts.Model,
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// Generate implements Generator.
func (c *HTTPClient) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	reqBody := map[string]interface{}{
		"query":       prompt,
		"max_tokens":  c.maxTokens,
		"temperature": temperature,
		"agent_id":    c.agentID,
		"context":     map[string]interface{}{},
	}
	if c.model != "" {
		reqBody["model"] = c.model
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/agent/query", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-ID", c.agentID)
	tracing.Inject(ctx, req.Header)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("LLM service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP %d from LLM service", resp.StatusCode)
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode LLM response: %w", err)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "unsuccessful response"
		}
		return "", fmt.Errorf("LLM service error: %s", msg)
	}

	metrics.RecordGenerationTokens("llm-service", out.TokensUsed)
	c.logger.Debug("LLM service call complete",
		zap.String("model", out.ModelUsed),
		zap.String("provider", out.Provider),
		zap.Int("tokens", out.TokensUsed),
	)
	return out.Response, nil
}
