// Package invoice turns purchase invoices into stock receipts.
package invoice

import "errors"

// ReasonDefault is used when neither a line nor the invoice carries a reason.
const ReasonDefault = "Purchase invoice receipt"

// Invoice is the header of a purchase invoice.
type Invoice struct {
	Number   string
	Supplier string
	// Reason overrides the default ledger reason for every line that
	// does not carry its own.
	Reason string
	// UnitCost is the invoice-level default, overridden per line.
	UnitCost float64
	// Reference overrides the invoice number as the ledger reference.
	Reference string
}

// Line is one received item.
type Line struct {
	VariantID int64
	Quantity  int64
	UnitCost  float64
	Reason    string
}

// ParseFunc turns an invoice file into a header and its lines. The
// ingestion service performs no file-format parsing of its own.
type ParseFunc func(path string) (Invoice, []Line, error)

// ErrValidation indicates malformed ingestion input: no lines, or
// every line filtered out as invalid.
var ErrValidation = errors.New("invoice: invalid input")
