package patch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"guardrail/internal/logging"
)

// ErrCompletionUnavailable signals the completion service could not produce a
// usable reply; callers fall through to the deterministic template path.
var ErrCompletionUnavailable = errors.New("completion service unavailable")

// CompletionClient proposes a replacement function body for a violation.
// HTTPClient and OfflineClient implement it; the deterministic templates are
// not a CompletionClient and are reached through GenerateTemplate instead.
type CompletionClient interface {
	ProposeReplacement(ctx context.Context, prompt string) (string, error)
}

// ReplacementPatch is the only reply shape the engine accepts from a
// completion service.
type ReplacementPatch struct {
	Explanation   string `json:"explanation"`
	Patch         struct {
		Type    string `json:"type"`
		Target  string `json:"target"`
		NewCode string `json:"new_code"`
	} `json:"patch"`
	RiskScoreAfter int `json:"risk_score_after"`
}

// SelfReviewVerdict is the reply shape for the optional self-review step.
type SelfReviewVerdict struct {
	Safe           bool     `json:"safe"`
	Issues         []string `json:"issues"`
	Recommendation string   `json:"recommendation"`
}

// ParseReplacement parses a completion-service reply into the strict schema,
// tolerating a markdown code fence around the JSON body.
func ParseReplacement(raw string) (*ReplacementPatch, error) {
	obj, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	var rp ReplacementPatch
	if err := json.Unmarshal(obj, &rp); err != nil {
		return nil, fmt.Errorf("malformed replacement patch: %w", err)
	}
	if rp.Patch.Type != "replace_function" || rp.Patch.NewCode == "" {
		return nil, fmt.Errorf("unexpected patch shape: type=%q", rp.Patch.Type)
	}
	return &rp, nil
}

// ParseSelfReview parses a self-review reply into its strict schema.
func ParseSelfReview(raw string) (*SelfReviewVerdict, error) {
	obj, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	var v SelfReviewVerdict
	if err := json.Unmarshal(obj, &v); err != nil {
		return nil, fmt.Errorf("malformed self-review verdict: %w", err)
	}
	return &v, nil
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// extractJSON finds the first parseable JSON object in text, tolerating a
// ```json fenced block wrapper around it.
func extractJSON(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) {
		return []byte(trimmed), nil
	}
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if json.Valid([]byte(candidate)) {
			return []byte(candidate), nil
		}
	}
	start := strings.Index(text, "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in completion reply")
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return []byte(candidate), nil
				}
			}
		}
	}
	return nil, fmt.Errorf("no balanced JSON object found in completion reply")
}

// OfflineClient always reports unavailability. It exists so the orchestrator's
// deterministic fallback path is exercised identically in tests and in any
// environment without network access.
type OfflineClient struct{}

// NewOfflineClient constructs the offline double.
func NewOfflineClient() *OfflineClient { return &OfflineClient{} }

// ProposeReplacement never succeeds.
func (OfflineClient) ProposeReplacement(_ context.Context, _ string) (string, error) {
	return "", ErrCompletionUnavailable
}

// HTTPClient calls an OpenAI-chat-completion-shaped HTTP endpoint. It retries
// with exponential backoff (1s, 2s, 4s, ...) up to MaxRetries attempts.
type HTTPClient struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	httpClient  *http.Client
}

// NewHTTPClient builds a completion-service HTTP adapter with the given
// per-attempt timeout.
func NewHTTPClient(baseURL, apiKey, model string, temperature float64, maxTokens, maxRetries int, timeout time.Duration) *HTTPClient {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &HTTPClient{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		Model:       model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		MaxRetries:  maxRetries,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ProposeReplacement sends prompt as a single user message and returns the raw
// reply text, retrying on transient failures with exponential backoff.
func (c *HTTPClient) ProposeReplacement(ctx context.Context, prompt string) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("%w: API key not configured", ErrCompletionUnavailable)
	}

	reqBody := chatRequest{
		Model:       c.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal request: %v", ErrCompletionUnavailable, err)
	}

	var lastErr error
	backoff := time.Second

	for attempt := 0; attempt < c.MaxRetries; attempt++ {
		if attempt > 0 {
			logging.PatchDebug("completion retry %d/%d after %v", attempt+1, c.MaxRetries, backoff)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		reply, err := c.doRequest(ctx, body)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		logging.PatchWarn("completion attempt %d/%d failed: %v", attempt+1, c.MaxRetries, err)
	}

	return "", fmt.Errorf("%w: %v", ErrCompletionUnavailable, lastErr)
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion service returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("completion service error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no completion returned")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
