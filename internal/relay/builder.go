package relay

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"payrelay/internal/types"
)

// BuilderConfig carries the payload conventions of the upstream API.
type BuilderConfig struct {
	Event                   string
	Version                 string
	PlaceholderProductName  string
	PlaceholderCustomerName string
}

// BuilderOption customizes a Builder.
type BuilderOption func(*Builder)

// WithClock overrides the time source used for creation_date.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// WithIDGenerator overrides the source of request ids.
func WithIDGenerator(newID func() string) BuilderOption {
	return func(b *Builder) { b.newID = newID }
}

// Builder turns extracted fields into a FulfillmentRequest. Given a fixed
// clock and id source its output is fully determined by its input.
type Builder struct {
	cfg      BuilderConfig
	now      func() time.Time
	newID    func() string
	validate *validator.Validate
}

// NewBuilder creates a Builder. Empty event and version fall back to the
// defaults PURCHASE_APPROVED and 2.0.0.
func NewBuilder(cfg BuilderConfig, opts ...BuilderOption) *Builder {
	if cfg.Event == "" {
		cfg.Event = types.DefaultFulfillmentEvent
	}
	if cfg.Version == "" {
		cfg.Version = types.DefaultFulfillmentVersion
	}
	if cfg.PlaceholderProductName == "" {
		cfg.PlaceholderProductName = "Produto"
	}
	if cfg.PlaceholderCustomerName == "" {
		cfg.PlaceholderCustomerName = "Cliente"
	}

	b := &Builder{
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles and validates the outbound request.
func (b *Builder) Build(ex *Extracted) (*types.FulfillmentRequest, error) {
	if ex == nil || ex.Customer.Email == "" {
		return nil, types.MissingField("customer_email")
	}
	if ex.Product.ID.IsZero() {
		return nil, types.MissingField("product_id")
	}

	product := ex.Product
	if product.Name == "" {
		product.Name = b.cfg.PlaceholderProductName
	}
	customer := ex.Customer
	if customer.Name == "" {
		customer.Name = b.cfg.PlaceholderCustomerName
	}

	req := &types.FulfillmentRequest{
		ID:           b.newID(),
		CreationDate: b.now().UnixMilli(),
		Event:        b.cfg.Event,
		Version:      b.cfg.Version,
		Data: types.FulfillmentData{
			Product: product,
			User:    customer,
		},
	}

	if err := b.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	return req, nil
}

// validationError maps the first failing field to an AppError.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "fulfillment request validation failed", err)
	}

	fe := verrs[0]
	if fe.StructField() == "Email" {
		return types.MissingField("customer_email")
	}
	return types.NewAppErrorWithDetails(
		types.ErrCodeInternalUnexpected,
		"fulfillment request failed validation",
		err,
		map[string]any{"field": fe.Namespace(), "rule": fe.Tag()},
	)
}
