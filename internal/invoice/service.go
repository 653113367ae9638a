package invoice

import (
	"context"
	"fmt"

	"github.com/hybernia/storefront/internal/inventory"
	"github.com/hybernia/storefront/internal/shared"
)

// InventoryPort exposes the required inventory integration.
type InventoryPort interface {
	Adjust(ctx context.Context, input inventory.AdjustmentInput) (inventory.LedgerEntry, error)
}

// TxRunner wraps a sequence of calls into one unit of work so a failed
// line rolls back the whole invoice.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(context.Context) error) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service ingests purchase invoices as inventory receipts.
type Service struct {
	inventory InventoryPort
	tx        TxRunner
	audit     AuditPort
}

// NewService constructs the ingestion service.
func NewService(inv InventoryPort, tx TxRunner, audit AuditPort) *Service {
	return &Service{inventory: inv, tx: tx, audit: audit}
}

// IngestManual posts one adjustment per usable line, all inside one
// transaction. A receipt only adds stock: lines without a variant id or
// with a non-positive quantity are dropped; when nothing usable remains
// the call fails.
func (s *Service) IngestManual(ctx context.Context, inv Invoice, lines []Line, actorID int64) ([]inventory.LedgerEntry, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no lines", ErrValidation)
	}
	usable := make([]Line, 0, len(lines))
	for _, line := range lines {
		if line.VariantID <= 0 || line.Quantity <= 0 {
			continue
		}
		usable = append(usable, line)
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("%w: no usable lines", ErrValidation)
	}

	reference := inv.Reference
	if reference == "" {
		reference = inv.Number
	}

	var entries []inventory.LedgerEntry
	run := func(ctx context.Context) error {
		for _, line := range usable {
			entry, err := s.inventory.Adjust(ctx, inventory.AdjustmentInput{
				VariantID: line.VariantID,
				Delta:     line.Quantity,
				Reason:    resolveReason(line, inv),
				Reference: reference,
				Metadata:  lineMetadata(line, inv),
				ActorID:   actorID,
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	}

	var err error
	if s.tx != nil {
		err = s.tx.RunInTx(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "invoice:ingest",
			Entity:   "invoice",
			EntityID: inv.Number,
			Meta: map[string]any{
				"supplier": inv.Supplier,
				"lines":    len(entries),
			},
		})
	}
	return entries, nil
}

// IngestFromFile parses the file with the caller-supplied parser and
// ingests the result. Parse errors propagate untouched.
func (s *Service) IngestFromFile(ctx context.Context, path string, parse ParseFunc, actorID int64) ([]inventory.LedgerEntry, error) {
	if parse == nil {
		return nil, fmt.Errorf("%w: parser required", ErrValidation)
	}
	inv, lines, err := parse(path)
	if err != nil {
		return nil, err
	}
	return s.IngestManual(ctx, inv, lines, actorID)
}

func resolveReason(line Line, inv Invoice) string {
	if line.Reason != "" {
		return line.Reason
	}
	if inv.Reason != "" {
		return inv.Reason
	}
	return ReasonDefault
}

func lineMetadata(line Line, inv Invoice) map[string]any {
	meta := map[string]any{}
	if inv.Number != "" {
		meta["invoice_number"] = inv.Number
	}
	if inv.Supplier != "" {
		meta["supplier"] = inv.Supplier
	}
	unitCost := inv.UnitCost
	if line.UnitCost != 0 {
		unitCost = line.UnitCost
	}
	if unitCost != 0 {
		meta["unit_cost"] = unitCost
	}
	return meta
}
