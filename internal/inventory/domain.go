package inventory

import (
	"errors"
	"time"
)

// ReservationState enumerates the reservation lifecycle.
type ReservationState string

const (
	// ReservationStateReserved is the initial state of every reservation.
	ReservationStateReserved ReservationState = "RESERVED"
	// ReservationStateReleased marks a claim freed without shipping.
	ReservationStateReleased ReservationState = "RELEASED"
	// ReservationStateConsumed marks a claim fulfilled by shipment.
	ReservationStateConsumed ReservationState = "CONSUMED"
)

// ReasonOrderShipment is the ledger reason recorded when stock leaves
// the warehouse through order fulfilment.
const ReasonOrderShipment = "Order shipment"

// Variant is a sellable unit with tracked stock counters. The counters
// are mutated only through the engine's transactional operations.
type Variant struct {
	ID             int64
	SKU            string
	OnHand         int64
	Reserved       int64
	TrackInventory bool
	UpdatedAt      time.Time
}

// LedgerEntry is an immutable record of an on-hand quantity change.
type LedgerEntry struct {
	ID        int64
	VariantID int64
	Delta     int64
	Reason    string
	Reference string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Reservation is a per-order claim against one variant's stock.
type Reservation struct {
	ID        int64
	OrderID   int64
	VariantID int64
	Quantity  int64
	State     ReservationState
	Reference string
	Note      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Availability is the read model returned to callers. Available is
// floored at zero even when reserved exceeds on-hand.
type Availability struct {
	VariantID      int64 `json:"variant_id"`
	OnHand         int64 `json:"on_hand"`
	Reserved       int64 `json:"reserved"`
	Available      int64 `json:"available"`
	TrackInventory bool  `json:"track_inventory"`
}

// AdjustmentInput describes a manual or invoice-driven stock change.
type AdjustmentInput struct {
	VariantID int64
	Delta     int64
	Reason    string
	Reference string
	Metadata  map[string]any
	ActorID   int64
}

// ReservationLine is one (variant, quantity) pair of an order.
type ReservationLine struct {
	VariantID int64
	Quantity  int64
}

// ReservationInput describes an order's reservation batch.
type ReservationInput struct {
	OrderID   int64
	Lines     []ReservationLine
	Reference string
	Note      string
	ActorID   int64
}

// ConsumeInput describes a shipment of an order's reserved stock.
type ConsumeInput struct {
	OrderID   int64
	Reference string
	Note      string
	ActorID   int64
}

// HistoryFilter narrows ledger listings.
type HistoryFilter struct {
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
}

// ErrNotFound indicates the referenced variant does not exist.
var ErrNotFound = errors.New("inventory: variant not found")

// ErrNegativeStock is returned when an adjustment would drive on-hand below zero.
var ErrNegativeStock = errors.New("inventory: negative stock not allowed")

// ErrInvalidQuantity indicates a zero delta or missing variant id.
var ErrInvalidQuantity = errors.New("inventory: quantity must be non zero")

// ErrInsufficientStock is returned when a reservation or shipment asks
// for more than is available; wrapping errors name the variant.
var ErrInsufficientStock = errors.New("inventory: insufficient stock")

// ErrDuplicateReservation is returned when an order already holds an
// active reservation batch.
var ErrDuplicateReservation = errors.New("inventory: order already has an active reservation")

// ErrReservationUnderflow signals that releasing or consuming a
// reservation would drive the reserved counter below zero. This means
// the counters were corrupted outside the engine and is not retried.
var ErrReservationUnderflow = errors.New("inventory: reserved quantity underflow")
