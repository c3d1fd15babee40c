package domain

import (
	"fmt"
	"time"
)

// ProductKind classifies catalog products. Only simple products are eligible for quick order.
type ProductKind string

const (
	// ProductKindSimple is a product without variants or bundling.
	ProductKindSimple ProductKind = "simple"
	// ProductKindComposite covers configurable, bundled and grouped products.
	ProductKindComposite ProductKind = "composite"
)

// IsSimple reports whether the kind is eligible for batch add.
func (k ProductKind) IsSimple() bool {
	return k == ProductKindSimple
}

// Product is the catalog record consulted during stock lookups.
type Product struct {
	ID        string
	SKU       string
	Name      string
	Kind      ProductKind
	Quantity  int
	UpdatedAt time.Time
}

// StockSnapshot is the availability view of a single identifier, fetched fresh per item.
type StockSnapshot struct {
	Identifier   string
	ProductID    string
	Name         string
	AvailableQty int
	Kind         ProductKind
	Exists       bool
}

// Cart is the session owned cart. Version and UpdatedAt carry the revision the cart was read at so that
// repositories can reject stale writes.
type Cart struct {
	ID        string
	Items     []CartItem
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartItem stores a single product line within a cart.
type CartItem struct {
	ID        string
	ProductID string
	SKU       string
	Quantity  int
	AddedAt   time.Time
	UpdatedAt *time.Time
}

// CartLine is the derived in-cart quantity for one product identity.
type CartLine struct {
	Identifier string
	ProductID  string
	QtyInCart  int
}

// RawLineItem is one positional entry of a submitted batch.
type RawLineItem struct {
	Position     int
	Identifier   string
	QuantityText string
}

// BatchRequest is the ordered list of line items parsed from a submission.
type BatchRequest struct {
	Items []RawLineItem
}

// ShapeMismatchReason explains why a submission could not be split into line items.
type ShapeMismatchReason string

const (
	// ShapeMismatchEmptyField is reported when either submitted list is empty.
	ShapeMismatchEmptyField ShapeMismatchReason = "empty_field"
	// ShapeMismatchCountMismatch is reported when the lists split into different lengths.
	ShapeMismatchCountMismatch ShapeMismatchReason = "count_mismatch"
	// ShapeMismatchTooManyItems is reported when a well formed batch exceeds the configured item limit.
	ShapeMismatchTooManyItems ShapeMismatchReason = "too_many_items"
)

// ShapeMismatch is the batch-level failure raised before any item is processed.
type ShapeMismatch struct {
	Reason          ShapeMismatchReason
	IdentifierCount int
	QuantityCount   int
	Limit           int
}

func (e *ShapeMismatch) Error() string {
	if e == nil {
		return "batch shape mismatch"
	}
	switch e.Reason {
	case ShapeMismatchEmptyField:
		return "batch shape mismatch: empty field"
	case ShapeMismatchTooManyItems:
		return fmt.Sprintf("batch shape mismatch: %d items exceeds limit %d", e.IdentifierCount, e.Limit)
	}
	return fmt.Sprintf("batch shape mismatch: %d identifiers, %d quantities", e.IdentifierCount, e.QuantityCount)
}

// OutcomeKind tags the reconciliation outcome variant.
type OutcomeKind string

const (
	OutcomeAdded                OutcomeKind = "added"
	OutcomeClampedAdded         OutcomeKind = "clamped_added"
	OutcomeRejectedOutOfStock   OutcomeKind = "rejected_out_of_stock"
	OutcomeRejectedNotFound     OutcomeKind = "rejected_not_found"
	OutcomeRejectedNotSimple    OutcomeKind = "rejected_not_simple"
	OutcomeRejectedMalformedQty OutcomeKind = "rejected_malformed_qty"
)

// Reasons attached to rejected_not_found outcomes.
const (
	ReasonProductMissing  = "product_missing"
	ReasonLookupFailed    = "lookup_failed"
	ReasonCartUnavailable = "cart_unavailable"
	ReasonPersistFailed   = "persist_failed"
)

// Outcome is the per-item reconciliation result. Qty is the quantity to add (added, clamped_added),
// Requested is the parsed request for clamped_added, MaxAddable is set for rejected_out_of_stock.
type Outcome struct {
	Kind       OutcomeKind
	Qty        int
	Requested  int
	MaxAddable int
	Reason     string
}

// Accepted reports whether the outcome asks for a cart mutation.
func (o Outcome) Accepted() bool {
	return (o.Kind == OutcomeAdded || o.Kind == OutcomeClampedAdded) && o.Qty > 0
}

// Added builds an added outcome.
func Added(qty int) Outcome {
	return Outcome{Kind: OutcomeAdded, Qty: qty}
}

// ClampedAdded builds a clamped outcome where only qty of requested fits.
func ClampedAdded(qty, requested int) Outcome {
	return Outcome{Kind: OutcomeClampedAdded, Qty: qty, Requested: requested}
}

// RejectedOutOfStock builds an out of stock rejection.
func RejectedOutOfStock(maxAddable int) Outcome {
	if maxAddable < 0 {
		maxAddable = 0
	}
	return Outcome{Kind: OutcomeRejectedOutOfStock, MaxAddable: maxAddable}
}

// RejectedNotFound builds a not found rejection with the failure reason.
func RejectedNotFound(reason string) Outcome {
	return Outcome{Kind: OutcomeRejectedNotFound, Reason: reason}
}

// RejectedNotSimple builds a product kind rejection.
func RejectedNotSimple() Outcome {
	return Outcome{Kind: OutcomeRejectedNotSimple}
}

// RejectedMalformedQty builds a quantity parse rejection.
func RejectedMalformedQty() Outcome {
	return Outcome{Kind: OutcomeRejectedMalformedQty}
}

// ItemResult pairs a submitted line with its outcome.
type ItemResult struct {
	Item    RawLineItem
	Outcome Outcome
}

// BatchResult is the ordered per-item result of one submission. ShapeError is set, and Items is empty,
// when the submission failed batch validation.
type BatchResult struct {
	CartID     string
	Items      []ItemResult
	ShapeError *ShapeMismatch
	Messages   []Message
}

// MessageKind separates error and success notices.
type MessageKind string

const (
	MessageKindError   MessageKind = "error"
	MessageKindSuccess MessageKind = "success"
)

// Message codes double as localisation keys.
const (
	MessageCodeFieldsEmpty      = "fields_empty"
	MessageCodeCountsMismatch   = "counts_mismatch"
	MessageCodeTooManyItems     = "too_many_items"
	MessageCodeProductNotFound  = "product_not_found"
	MessageCodeProductNotSimple = "product_not_simple"
	MessageCodeOnlyAvailable    = "only_available"
	MessageCodeOnlyAdded        = "only_added"
	MessageCodeProductAdded     = "product_added"
)

// Message is a user facing notice produced for a batch or an item.
type Message struct {
	Kind    MessageKind    `json:"kind"`
	Code    string         `json:"code"`
	Text    string         `json:"text"`
	Subject string         `json:"subject,omitempty"`
	Params  map[string]int `json:"params,omitempty"`
}

// EventAddToCart is the event name published after a successful add.
const EventAddToCart = "add_to_cart"

// AddToCartEvent carries the identifier exactly as the customer requested it.
type AddToCartEvent struct {
	Name       string    `json:"name"`
	Identifier string    `json:"identifier"`
	ProductID  string    `json:"productId"`
	CartID     string    `json:"cartId"`
	Quantity   int       `json:"quantity"`
	OccurredAt time.Time `json:"occurredAt"`
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
