package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"briefing_scheduler/internal/domain"
)

const (
	CodeUnavailable = "GENERATOR_UNAVAILABLE"
	CodeBadResponse = "GENERATOR_BAD_RESPONSE"
)

// Client requests briefing generation from the webhook. In stub mode it
// returns a canned result built from the request.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	stubMode   bool
	logger     *slog.Logger
}

func NewClient(baseURL, secret string, timeout time.Duration, stubMode bool, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
		stubMode:   stubMode,
		logger:     logger.With("component", "generator"),
	}
}

func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.Result, error) {
	if c.stubMode {
		return c.stub(req), nil
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("X-Webhook-Secret", c.secret)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", fmt.Sprintf("%s:%d", req.JobID, req.Attempt))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.GenerationError{Code: CodeUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.ErrorCode != "" {
			return nil, &domain.GenerationError{Code: errResp.ErrorCode, Message: errResp.ErrorMessage}
		}
		return nil, &domain.GenerationError{
			Code:    fmt.Sprintf("GENERATOR_HTTP_%d", resp.StatusCode),
			Message: strings.TrimSpace(string(body)),
		}
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &domain.GenerationError{Code: CodeBadResponse, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if out.AudioPath == "" {
		return nil, &domain.GenerationError{Code: CodeBadResponse, Message: "response has no audio_path"}
	}

	c.logger.Debug("briefing generated", "job_id", req.JobID, "audio_path", out.AudioPath, "cost", out.Cost)

	return &domain.Result{
		Script:               out.Script,
		AudioPath:            out.AudioPath,
		AudioDurationSeconds: out.AudioDurationSeconds,
		Transcript:           out.Transcript,
		GenerationCost:       out.Cost,
	}, nil
}

func (c *Client) stub(req domain.GenerationRequest) *domain.Result {
	name := req.Preferences.PreferredName
	if name == "" {
		name = "there"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Good morning, %s. Here is your briefing for %s.", name, req.LocalDate)
	for _, t := range domain.ContentTypes {
		if entries, ok := req.Content[t]; ok {
			fmt.Fprintf(&sb, " %d %s update(s).", len(entries), t)
		}
	}
	script := sb.String()

	return &domain.Result{
		Script:               script,
		AudioPath:            fmt.Sprintf("stub/%s/%s.mp3", req.UserID, req.LocalDate),
		AudioDurationSeconds: 60,
		Transcript:           script,
	}
}
