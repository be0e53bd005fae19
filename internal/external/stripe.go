package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"payrelay/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
)

const (
	defaultStripeURL = "https://api.stripe.com"

	// customerDescriptionPrefix labels customers mirrored from relayed purchases.
	customerDescriptionPrefix = "Cliente Hotmart - Produto: "
)

// StripeClientConfig configures the customer mirror.
type StripeClientConfig struct {
	SecretKey types.SecretString
	BaseURL   string // empty means the live API
	Logger    *slog.Logger
}

// StripeClient mirrors relayed buyers into Stripe customers. It speaks the
// REST API directly over BaseClient, so it shares the retry and breaker
// behaviour of the fulfillment client.
type StripeClient struct {
	base      *BaseClient
	secretKey types.SecretString
	apiURL    string
	logger    *slog.Logger
}

// NewStripeClient builds a StripeClient with a small retry budget. Customer
// mirroring is off the critical path, so it may retry where fulfillment does not.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	base := NewBaseClient(httpClient, "stripe", RetryPolicy{
		MaxRetries: 2,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}, "payrelay/1.0")
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase builds a StripeClient over an existing BaseClient.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	apiURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if apiURL == "" {
		apiURL = defaultStripeURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{base: base, secretKey: cfg.SecretKey, apiURL: apiURL, logger: logger}
}

type customerRecord struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type customerPage struct {
	Data []customerRecord `json:"data"`
}

// EnsureCustomer returns the id of the first customer with the given email,
// creating one labelled with the product when none exists.
func (s *StripeClient) EnsureCustomer(ctx context.Context, email string, product types.ProductInfo) (string, error) {
	query := url.Values{
		"query": {fmt.Sprintf("email:'%s'", quoteSearch(email))},
		"limit": {"1"},
	}
	var page customerPage
	if err := s.call(ctx, http.MethodGet, "/v1/customers/search", query, &page, "customer search"); err != nil {
		return "", err
	}
	if len(page.Data) > 0 {
		s.logger.DebugContext(ctx, "stripe customer already exists", "customer_id", page.Data[0].ID)
		return page.Data[0].ID, nil
	}

	form := url.Values{
		"email":       {email},
		"description": {customerDescriptionPrefix + product.Name},
	}
	if !product.ID.IsZero() {
		form.Set("metadata[product_id]", product.ID.String())
	}
	var created customerRecord
	if err := s.call(ctx, http.MethodPost, "/v1/customers", form, &created, "customer create"); err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "stripe customer created", "customer_id", created.ID)
	return created.ID, nil
}

// quoteSearch escapes a value for a single-quoted search clause.
func quoteSearch(v string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
}

// call sends params as a query string (GET) or form body (POST), and
// decodes a 200 reply into out. Every failure comes back as an AppError.
func (s *StripeClient) call(ctx context.Context, method, path string, params url.Values, out any, op string) error {
	target := s.apiURL + path
	var body io.Reader
	if method == http.MethodGet {
		target += "?" + params.Encode()
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe, op+": building request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey.Unmask())
	// Pin the API version to the one the SDK was generated from.
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	resp, err := s.base.Do(req)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		return types.NewAppError(types.ErrCodeUpstreamStripe, op+": request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stripeFailure(resp, op)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe, op+": undecodable response", err)
	}
	return nil
}

type stripeAPIError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// stripeFailure maps a non-200 reply to an AppError. 429 is reported as
// rate limiting; everything else as the generic Stripe failure.
func stripeFailure(resp *http.Response, op string) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBodyBytes))
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: status %d, unreadable body", op, resp.StatusCode), err)
	}

	var apiErr stripeAPIError
	if err := json.Unmarshal(raw, &apiErr); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: status %d, non-JSON body", op, resp.StatusCode), err)
	}

	code := types.ErrCodeUpstreamStripe
	if resp.StatusCode == http.StatusTooManyRequests {
		code = types.ErrCodeUpstreamRateLimited
	}
	return types.NewAppErrorWithDetails(code,
		fmt.Sprintf("%s: stripe error %d: %s", op, resp.StatusCode, apiErr.Error.Message),
		nil,
		map[string]any{"stripe_type": apiErr.Error.Type, "stripe_code": apiErr.Error.Code},
	)
}
