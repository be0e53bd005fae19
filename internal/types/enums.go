package types

// ProductIDType selects how the product identifier is encoded in the
// outbound fulfillment payload. The upstream contract was never pinned down,
// so this is configuration rather than inference.
type ProductIDType string

const (
	ProductIDNumber ProductIDType = "number"
	ProductIDString ProductIDType = "string"
)

// EventStatus is the lifecycle state of a claimed provider event in the
// deduplication store.
type EventStatus string

const (
	EventStatusProcessing EventStatus = "processing"
	EventStatusFulfilled  EventStatus = "fulfilled"
)

// Inbound event tags accepted by the relay.
const (
	EventTagCheckoutCompleted = "checkout.session.completed"
	EventTagPaymentApproved   = "payment.approved"
	EventTagPurchaseApproved  = "PURCHASE_APPROVED"
	EventTagPurchaseApprovedL = "purchase.approved"
)

// Outbound fulfillment defaults.
const (
	DefaultFulfillmentEvent   = "PURCHASE_APPROVED"
	DefaultFulfillmentVersion = "2.0.0"
)

// Stage names the relay pipeline state a request reached.
type Stage string

const (
	StageReceived  Stage = "received"
	StageVerified  Stage = "verified"
	StageExtracted Stage = "extracted"
	StageBuilt     Stage = "built"
	StageForwarded Stage = "forwarded"
	StageResponded Stage = "responded"
	StageRejected  Stage = "rejected"
)

// RelayOutcome is the metric dimension value recorded for every request.
type RelayOutcome string

const (
	OutcomeFulfilled       RelayOutcome = "fulfilled"
	OutcomeDuplicate       RelayOutcome = "duplicate"
	OutcomeValidation      RelayOutcome = "validation_error"
	OutcomeConfiguration   RelayOutcome = "configuration_error"
	OutcomeUpstreamFailure RelayOutcome = "upstream_error"
	OutcomeInternal        RelayOutcome = "internal_error"
)
