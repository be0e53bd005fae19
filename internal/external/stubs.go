package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"payrelay/internal/types"
)

// StubFulfillmentClient logs fulfillment requests instead of sending them.
// It lets the relay run locally without an upstream endpoint.
type StubFulfillmentClient struct {
	logger *slog.Logger
}

// NewStubFulfillmentClient creates a new StubFulfillmentClient.
func NewStubFulfillmentClient(logger *slog.Logger) *StubFulfillmentClient {
	return &StubFulfillmentClient{logger: logger}
}

func (s *StubFulfillmentClient) Fulfill(ctx context.Context, req *types.FulfillmentRequest) (*types.FulfillmentResult, error) {
	s.logger.InfoContext(ctx, "stub: Fulfill called",
		"fulfillment_id", req.ID,
		"product_id", req.Data.Product.ID.String(),
		"email", req.Data.User.Email,
	)
	return &types.FulfillmentResult{
		Success:    true,
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"stub":true,"id":%q}`, req.ID),
	}, nil
}
