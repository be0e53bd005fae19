package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CustomerInfo identifies the buyer. Email is required but its format is the
// fulfillment service's concern; Name falls back to a placeholder before the
// payload leaves the relay.
type CustomerInfo struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required"`
}

// ProductInfo identifies the purchased product.
type ProductInfo struct {
	ID   ProductID `json:"id"`
	Name string    `json:"name" validate:"required"`
}

// ProductID is a product identifier that serializes either as a JSON number
// or as a JSON string, depending on how it was parsed.
type ProductID struct {
	raw     string
	numeric bool
	n       int64
}

// ParseProductID trims raw and encodes it according to mode. In number mode
// the value must be a base-10 integer.
func ParseProductID(raw string, mode ProductIDType) (ProductID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ProductID{}, fmt.Errorf("product id is empty")
	}
	switch mode {
	case ProductIDString:
		return ProductID{raw: raw}, nil
	case ProductIDNumber, "":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return ProductID{}, fmt.Errorf("product id %q is not an integer: %w", raw, err)
		}
		return ProductID{raw: raw, numeric: true, n: n}, nil
	default:
		return ProductID{}, fmt.Errorf("unknown product id type %q", mode)
	}
}

// IsZero reports whether the identifier is unset.
func (p ProductID) IsZero() bool {
	return p.raw == ""
}

// IsNumeric reports whether the identifier serializes as a JSON number.
func (p ProductID) IsNumeric() bool {
	return p.numeric
}

// Int64 returns the numeric value and whether one is available.
func (p ProductID) Int64() (int64, bool) {
	return p.n, p.numeric
}

// String returns the identifier as text.
func (p ProductID) String() string {
	return p.raw
}

// MarshalJSON emits a number in numeric mode and a string otherwise.
func (p ProductID) MarshalJSON() ([]byte, error) {
	if p.numeric {
		return []byte(strconv.FormatInt(p.n, 10)), nil
	}
	return json.Marshal(p.raw)
}

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (p *ProductID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ProductID{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = ProductID{raw: s}
		return nil
	}
	parsed, err := ParseProductID(string(data), ProductIDNumber)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// FulfillmentRequest is the envelope POSTed to the upstream fulfillment API.
type FulfillmentRequest struct {
	ID           string          `json:"id" validate:"required,uuid"`
	CreationDate int64           `json:"creation_date" validate:"gt=0"`
	Event        string          `json:"event" validate:"required"`
	Version      string          `json:"version" validate:"required"`
	Data         FulfillmentData `json:"data"`
}

// FulfillmentData carries the product and buyer of a fulfillment request.
type FulfillmentData struct {
	Product ProductInfo  `json:"product"`
	User    CustomerInfo `json:"user"`
}

// FulfillmentResult is the outcome of a completed upstream call.
type FulfillmentResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Body       string `json:"body,omitempty"`
}

// ProcessedEvent is a provider event recorded by the deduplication store.
type ProcessedEvent struct {
	EventID       string      `json:"event_id" db:"event_id"`
	EventType     string      `json:"event_type" db:"event_type"`
	Status        EventStatus `json:"status" db:"status"`
	FulfillmentID string      `json:"fulfillment_id,omitempty" db:"fulfillment_id"`
	ClaimedAt     time.Time   `json:"claimed_at" db:"claimed_at"`
	ExpiresAt     time.Time   `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the record no longer blocks a redelivery at now.
func (e *ProcessedEvent) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
