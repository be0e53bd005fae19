package relay

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"payrelay/internal/types"
)

// Event is an accepted inbound provider event. The concrete type is chosen
// by ParseEvent from the event's discriminant; each variant knows where its
// buyer and product fields live.
type Event interface {
	// EventID is the provider's event identifier, empty when the provider
	// did not send one.
	EventID() string
	// EventType is the discriminant value the event was accepted under.
	EventType() string

	fields() eventFields
}

// eventFields holds the raw, unvalidated values an event variant resolved.
type eventFields struct {
	Email        string
	ProductID    string
	ProductName  string
	CustomerName string
}

// CheckoutSessionEvent is a Stripe-style event whose session lives under
// data.object.
type CheckoutSessionEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object checkoutSession `json:"object"`
	} `json:"data"`
}

type checkoutSession struct {
	ID              string `json:"id"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
	Metadata sessionMetadata `json:"metadata"`
}

type sessionMetadata struct {
	CustomerEmail string    `json:"customer_email"`
	CustomerName  string    `json:"customer_name"`
	ProductID     looseText `json:"product_id"`
	ProductName   string    `json:"product_name"`
}

func (e *CheckoutSessionEvent) EventID() string   { return e.ID }
func (e *CheckoutSessionEvent) EventType() string { return e.Type }

func (e *CheckoutSessionEvent) fields() eventFields {
	s := e.Data.Object
	return eventFields{
		Email:        firstNonEmpty(s.Metadata.CustomerEmail, s.CustomerDetails.Email, s.CustomerEmail),
		ProductID:    string(s.Metadata.ProductID),
		ProductName:  s.Metadata.ProductName,
		CustomerName: firstNonEmpty(s.Metadata.CustomerName, s.CustomerDetails.Name),
	}
}

// PaymentApprovedEvent is the flat payment.approved notification: the
// purchase sits directly under data.
type PaymentApprovedEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		CustomerEmail string `json:"customer_email"`
		Customer      struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"customer"`
		Product struct {
			ID   looseText `json:"id"`
			Name string    `json:"name"`
		} `json:"product"`
		Metadata sessionMetadata `json:"metadata"`
	} `json:"data"`
}

func (e *PaymentApprovedEvent) EventID() string   { return e.ID }
func (e *PaymentApprovedEvent) EventType() string { return e.Type }

func (e *PaymentApprovedEvent) fields() eventFields {
	d := e.Data
	return eventFields{
		Email:        firstNonEmpty(d.Metadata.CustomerEmail, d.Customer.Email, d.CustomerEmail),
		ProductID:    firstNonEmpty(string(d.Product.ID), string(d.Metadata.ProductID)),
		ProductName:  firstNonEmpty(d.Product.Name, d.Metadata.ProductName),
		CustomerName: firstNonEmpty(d.Customer.Name, d.Metadata.CustomerName),
	}
}

// PurchaseEvent is a Hotmart-style purchase notification discriminated by
// the top-level "event" field.
type PurchaseEvent struct {
	ID    string `json:"id"`
	Event string `json:"event"`
	Data  struct {
		Email   string       `json:"email"`
		User    purchaseUser `json:"user"`
		Buyer   purchaseUser `json:"buyer"`
		Product struct {
			ID   looseText `json:"id"`
			Name string    `json:"name"`
		} `json:"product"`
	} `json:"data"`
}

type purchaseUser struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (e *PurchaseEvent) EventID() string   { return e.ID }
func (e *PurchaseEvent) EventType() string { return e.Event }

func (e *PurchaseEvent) fields() eventFields {
	d := e.Data
	return eventFields{
		Email:        firstNonEmpty(d.User.Email, d.Buyer.Email, d.Email),
		ProductID:    string(d.Product.ID),
		ProductName:  d.Product.Name,
		CustomerName: firstNonEmpty(d.User.Name, d.Buyer.Name),
	}
}

// envelopeHead reads only the discriminants.
type envelopeHead struct {
	Type  *string `json:"type"`
	Event *string `json:"event"`
}

// ParseEvent decodes raw into the variant named by its discriminant. A
// "type" field selects the Stripe-style variants and an "event" field the
// purchase variant. Anything else is rejected rather than guessed at.
func ParseEvent(raw []byte) (Event, error) {
	var head envelopeHead
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidJSON, "request body is not a JSON object", err)
	}

	var (
		ev  Event
		tag string
	)
	switch {
	case head.Type != nil:
		tag = *head.Type
		switch tag {
		case types.EventTagCheckoutCompleted:
			ev = &CheckoutSessionEvent{}
		case types.EventTagPaymentApproved:
			ev = &PaymentApprovedEvent{}
		}
	case head.Event != nil:
		tag = *head.Event
		switch tag {
		case types.EventTagPurchaseApproved, types.EventTagPurchaseApprovedL:
			ev = &PurchaseEvent{}
		}
	}

	if ev == nil {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationUnrecognizedType,
			"unrecognized event type",
			nil,
			map[string]any{"event_type": tag},
		)
	}

	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidJSON,
			"event body does not match its declared type",
			err,
			map[string]any{"event_type": tag},
		)
	}
	return ev, nil
}

// looseText decodes a JSON string or number into its textual form. Providers
// disagree on whether identifiers are quoted.
type looseText string

func (t *looseText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = looseText(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		// 42.0 is an integer id that happened to be encoded as a float.
		if f, err := n.Float64(); err == nil && f == float64(int64(f)) && strings.ContainsAny(n.String(), ".eE") {
			*t = looseText(strconv.FormatInt(int64(f), 10))
			return nil
		}
		*t = looseText(n.String())
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
