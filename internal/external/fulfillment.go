package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"payrelay/internal/types"
)

// maxUpstreamBodyBytes caps how much of an upstream reply is read.
const maxUpstreamBodyBytes = 64 << 10

// maxReportedBodyChars caps the upstream body copied into error details.
const maxReportedBodyChars = 512

// HotmartClientConfig configures the fulfillment API client.
type HotmartClientConfig struct {
	URL        string
	Token      types.SecretString
	Timeout    time.Duration
	MaxRetries int
	Logger     *slog.Logger
}

// HotmartClient posts fulfillment requests to a Hotmart-compatible
// membership endpoint using bearer authentication.
type HotmartClient struct {
	base   *BaseClient
	url    string
	token  types.SecretString
	logger *slog.Logger
}

// NewHotmartClient creates a HotmartClient with its own breaker.
func NewHotmartClient(cfg HotmartClientConfig) *HotmartClient {
	policy := DefaultRetryPolicy()
	policy.MaxRetries = cfg.MaxRetries

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	base := NewBaseClient(
		&http.Client{Timeout: timeout},
		"fulfillment",
		policy,
		"payrelay/1.0",
	)
	return NewHotmartClientWithBase(base, cfg)
}

// NewHotmartClientWithBase creates a HotmartClient over a pre-configured
// BaseClient.
func NewHotmartClientWithBase(base *BaseClient, cfg HotmartClientConfig) *HotmartClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HotmartClient{
		base:   base,
		url:    cfg.URL,
		token:  cfg.Token,
		logger: logger,
	}
}

// Fulfill POSTs req as JSON. Missing URL or token is a configuration error
// and no call is made.
func (c *HotmartClient) Fulfill(ctx context.Context, req *types.FulfillmentRequest) (*types.FulfillmentResult, error) {
	if c.url == "" || !c.token.IsSet() {
		return nil, types.NewAppError(
			types.ErrCodeConfigUpstreamUnavailable,
			"fulfillment endpoint or token is not configured",
			nil,
		)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to serialize fulfillment request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigUpstreamUnavailable, "invalid fulfillment endpoint", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token.Unmask())

	resp, err := c.base.Do(httpReq)
	if err != nil {
		return nil, c.wrapError(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBodyBytes))
	result := &types.FulfillmentResult{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
	}

	if !result.Success {
		c.logger.WarnContext(ctx, "fulfillment API rejected request",
			"status", resp.StatusCode,
			"body", truncate(result.Body, maxReportedBodyChars),
			"fulfillment_id", req.ID,
		)
		return result, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamRejected,
			fmt.Sprintf("fulfillment API returned %d", resp.StatusCode),
			nil,
			map[string]any{
				"status": resp.StatusCode,
				"body":   truncate(result.Body, maxReportedBodyChars),
			},
		)
	}

	return result, nil
}

func (c *HotmartClient) wrapError(err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return types.NewAppError(types.ErrCodeUpstreamUnreachable, "fulfillment request failed", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
