package relay

import (
	"payrelay/internal/types"
)

// Extracted is the buyer and product resolved from an event. Names may be
// empty; the Builder fills placeholders.
type Extracted struct {
	Customer types.CustomerInfo
	Product  types.ProductInfo
}

// Extractor resolves buyer email and product id from an Event and encodes
// the product id as configured.
type Extractor struct {
	productIDType types.ProductIDType
}

// NewExtractor creates an Extractor. An empty mode means number.
func NewExtractor(mode types.ProductIDType) *Extractor {
	if mode == "" {
		mode = types.ProductIDNumber
	}
	return &Extractor{productIDType: mode}
}

// Extract fails with a missing-field error naming customer_email or
// product_id when either resolves empty after all fallbacks.
func (x *Extractor) Extract(ev Event) (*Extracted, error) {
	f := ev.fields()

	if f.Email == "" {
		return nil, types.MissingField("customer_email")
	}
	if f.ProductID == "" {
		return nil, types.MissingField("product_id")
	}

	id, err := types.ParseProductID(f.ProductID, x.productIDType)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidProductID,
			"product id is not valid for the configured id type",
			err,
			map[string]any{
				"product_id":      f.ProductID,
				"product_id_type": string(x.productIDType),
			},
		)
	}

	return &Extracted{
		Customer: types.CustomerInfo{Email: f.Email, Name: f.CustomerName},
		Product:  types.ProductInfo{ID: id, Name: f.ProductName},
	}, nil
}
