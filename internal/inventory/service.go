package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hybernia/storefront/internal/platform/db"
	"github.com/hybernia/storefront/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetVariant(ctx context.Context, variantID int64) (Variant, error)
	ListLedger(ctx context.Context, variantID int64, filter HistoryFilter) ([]LedgerEntry, int, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock movements, reservations and ledger writes.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	cache       *Cache
	integration IntegrationHandler
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cache *Cache, integration IntegrationHandler) *Service {
	return &Service{repo: repo, audit: audit, cache: cache, integration: integration}
}

// Adjust changes a variant's on-hand quantity and appends the matching
// ledger entry. The change and the ledger write happen in one
// transaction; when the new quantity would be negative nothing is
// written.
func (s *Service) Adjust(ctx context.Context, input AdjustmentInput) (LedgerEntry, error) {
	if input.VariantID == 0 {
		return LedgerEntry{}, errors.New("inventory: variant required")
	}
	if input.Delta == 0 {
		return LedgerEntry{}, ErrInvalidQuantity
	}

	now := time.Now().UTC()
	entry := LedgerEntry{
		VariantID: input.VariantID,
		Delta:     input.Delta,
		Reason:    input.Reason,
		Reference: input.Reference,
		Metadata:  input.Metadata,
		CreatedAt: now,
	}
	var variant Variant
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVariantForUpdate(ctx, input.VariantID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: variant %d", ErrNotFound, input.VariantID)
			}
			return err
		}
		if v.OnHand+input.Delta < 0 {
			return fmt.Errorf("%w: variant %d on hand %d delta %d", ErrNegativeStock, v.ID, v.OnHand, input.Delta)
		}
		if err := tx.ApplyVariantDeltas(ctx, v.ID, input.Delta, 0); err != nil {
			return err
		}
		id, err := tx.InsertLedgerEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		variant = v
		variant.OnHand += input.Delta
		return nil
	})
	if err != nil {
		return LedgerEntry{}, err
	}

	// A caller-opened transaction may still roll back; audit rows, cache
	// bumps and integration events wait for the outermost commit.
	db.AfterCommit(ctx, func(ctx context.Context) {
		_ = s.cache.Bump(ctx)
		if s.audit != nil {
			_ = s.audit.Record(ctx, shared.AuditLog{
				ActorID:  input.ActorID,
				Action:   "inventory:adjust",
				Entity:   "stock_ledger",
				EntityID: fmt.Sprintf("%d", entry.ID),
				Meta: map[string]any{
					"variant_id": input.VariantID,
					"delta":      input.Delta,
					"reason":     input.Reason,
				},
			})
		}
		if s.integration != nil {
			_ = s.integration.HandleStockMovementPosted(ctx, movementEvent(variant, entry))
		}
	})
	return entry, nil
}

// Availability returns the stock snapshot for one variant. The read is
// served from the cache when possible and never mutates state.
func (s *Service) Availability(ctx context.Context, variantID int64) (Availability, error) {
	if variantID == 0 {
		return Availability{}, errors.New("inventory: variant required")
	}
	return s.cache.FetchAvailability(ctx, variantID, func(ctx context.Context) (Availability, error) {
		v, err := s.repo.GetVariant(ctx, variantID)
		if err != nil {
			return Availability{}, err
		}
		return availabilityFor(v), nil
	})
}

// ReserveForOrder claims stock for every line of an order in a single
// all-or-nothing batch. Lines with non-positive quantity or an unknown
// variant are skipped; a tracked variant with too little available
// stock fails the whole call.
func (s *Service) ReserveForOrder(ctx context.Context, input ReservationInput) ([]Reservation, error) {
	if input.OrderID == 0 {
		return nil, errors.New("inventory: order required")
	}

	lines := mergeLines(input.Lines)
	now := time.Now().UTC()
	var created []Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		active, err := tx.HasActiveReservation(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("%w: order %d", ErrDuplicateReservation, input.OrderID)
		}
		for _, line := range lines {
			v, err := tx.GetVariantForUpdate(ctx, line.VariantID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			if v.TrackInventory {
				available := v.OnHand - v.Reserved
				if available < line.Quantity {
					return fmt.Errorf("%w: variant %d requested %d available %d", ErrInsufficientStock, v.ID, line.Quantity, available)
				}
			}
			if err := tx.ApplyVariantDeltas(ctx, v.ID, 0, line.Quantity); err != nil {
				return err
			}
			res := Reservation{
				OrderID:   input.OrderID,
				VariantID: v.ID,
				Quantity:  line.Quantity,
				State:     ReservationStateReserved,
				Reference: input.Reference,
				Note:      input.Note,
				CreatedAt: now,
				UpdatedAt: now,
			}
			id, err := tx.InsertReservation(ctx, res)
			if err != nil {
				return err
			}
			res.ID = id
			created = append(created, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(created) > 0 {
		db.AfterCommit(ctx, func(ctx context.Context) {
			_ = s.cache.Bump(ctx)
			if s.audit != nil {
				_ = s.audit.Record(ctx, shared.AuditLog{
					ActorID:  input.ActorID,
					Action:   "inventory:reserve",
					Entity:   "reservation",
					EntityID: fmt.Sprintf("order:%d", input.OrderID),
					Meta:     map[string]any{"lines": len(created)},
				})
			}
		})
	}
	return created, nil
}

// ReleaseForOrder frees every active claim held by an order. No ledger
// entry is written; physical stock does not move. Succeeds as a no-op
// when the order holds nothing.
func (s *Service) ReleaseForOrder(ctx context.Context, orderID int64, note string) error {
	if orderID == 0 {
		return errors.New("inventory: order required")
	}

	released := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reservations, err := tx.ListActiveReservations(ctx, orderID)
		if err != nil {
			return err
		}
		for _, res := range reservations {
			v, err := tx.GetVariantForUpdate(ctx, res.VariantID)
			if err != nil {
				return err
			}
			if v.Reserved < res.Quantity {
				return fmt.Errorf("%w: variant %d reserved %d releasing %d", ErrReservationUnderflow, v.ID, v.Reserved, res.Quantity)
			}
			if err := tx.ApplyVariantDeltas(ctx, v.ID, 0, -res.Quantity); err != nil {
				return err
			}
			if err := tx.SetReservationState(ctx, res.ID, ReservationStateReleased, note); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		return err
	}

	if released > 0 {
		db.AfterCommit(ctx, func(ctx context.Context) {
			_ = s.cache.Bump(ctx)
			if s.audit != nil {
				_ = s.audit.Record(ctx, shared.AuditLog{
					Action:   "inventory:release",
					Entity:   "reservation",
					EntityID: fmt.Sprintf("order:%d", orderID),
					Meta:     map[string]any{"lines": released, "note": note},
				})
			}
		})
	}
	return nil
}

// ConsumeForOrder ships every active claim held by an order: reserved
// and on-hand both decrease and one ledger entry per line records the
// outbound movement. This is the only path that both changes physical
// stock and closes a reservation.
func (s *Service) ConsumeForOrder(ctx context.Context, input ConsumeInput) ([]LedgerEntry, error) {
	if input.OrderID == 0 {
		return nil, errors.New("inventory: order required")
	}

	now := time.Now().UTC()
	var entries []LedgerEntry
	var variants []Variant
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reservations, err := tx.ListActiveReservations(ctx, input.OrderID)
		if err != nil {
			return err
		}
		for _, res := range reservations {
			v, err := tx.GetVariantForUpdate(ctx, res.VariantID)
			if err != nil {
				return err
			}
			if v.Reserved < res.Quantity {
				return fmt.Errorf("%w: variant %d reserved %d consuming %d", ErrReservationUnderflow, v.ID, v.Reserved, res.Quantity)
			}
			if v.OnHand < res.Quantity {
				return fmt.Errorf("%w: variant %d on hand %d consuming %d", ErrInsufficientStock, v.ID, v.OnHand, res.Quantity)
			}
			if err := tx.ApplyVariantDeltas(ctx, v.ID, -res.Quantity, -res.Quantity); err != nil {
				return err
			}
			if err := tx.SetReservationState(ctx, res.ID, ReservationStateConsumed, input.Note); err != nil {
				return err
			}
			meta := map[string]any{"order_id": input.OrderID}
			if input.Note != "" {
				meta["note"] = input.Note
			}
			entry := LedgerEntry{
				VariantID: v.ID,
				Delta:     -res.Quantity,
				Reason:    ReasonOrderShipment,
				Reference: input.Reference,
				Metadata:  meta,
				CreatedAt: now,
			}
			id, err := tx.InsertLedgerEntry(ctx, entry)
			if err != nil {
				return err
			}
			entry.ID = id
			entries = append(entries, entry)
			v.OnHand -= res.Quantity
			v.Reserved -= res.Quantity
			variants = append(variants, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(entries) > 0 {
		db.AfterCommit(ctx, func(ctx context.Context) {
			_ = s.cache.Bump(ctx)
			if s.audit != nil {
				_ = s.audit.Record(ctx, shared.AuditLog{
					ActorID:  input.ActorID,
					Action:   "inventory:consume",
					Entity:   "reservation",
					EntityID: fmt.Sprintf("order:%d", input.OrderID),
					Meta:     map[string]any{"lines": len(entries), "reference": input.Reference},
				})
			}
			if s.integration != nil {
				for i, entry := range entries {
					_ = s.integration.HandleStockMovementPosted(ctx, movementEvent(variants[i], entry))
				}
			}
		})
	}
	return entries, nil
}

// HistoryForVariant lists the variant's ledger entries. Pure read.
func (s *Service) HistoryForVariant(ctx context.Context, variantID int64, filter HistoryFilter) ([]LedgerEntry, shared.Pagination, error) {
	if variantID == 0 {
		return nil, shared.Pagination{}, errors.New("inventory: variant required")
	}
	if _, err := s.repo.GetVariant(ctx, variantID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, shared.Pagination{}, fmt.Errorf("%w: variant %d", ErrNotFound, variantID)
		}
		return nil, shared.Pagination{}, err
	}
	entries, total, err := s.repo.ListLedger(ctx, variantID, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func availabilityFor(v Variant) Availability {
	available := v.OnHand - v.Reserved
	if available < 0 {
		available = 0
	}
	return Availability{
		VariantID:      v.ID,
		OnHand:         v.OnHand,
		Reserved:       v.Reserved,
		Available:      available,
		TrackInventory: v.TrackInventory,
	}
}

// mergeLines drops non-positive quantities and sums duplicates so an
// order never ends up with two claims on the same variant.
func mergeLines(lines []ReservationLine) []ReservationLine {
	merged := make([]ReservationLine, 0, len(lines))
	index := make(map[int64]int, len(lines))
	for _, line := range lines {
		if line.VariantID == 0 || line.Quantity <= 0 {
			continue
		}
		if i, ok := index[line.VariantID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.VariantID] = len(merged)
		merged = append(merged, line)
	}
	return merged
}

func movementEvent(v Variant, entry LedgerEntry) MovementPostedEvent {
	return MovementPostedEvent{
		VariantID: v.ID,
		SKU:       v.SKU,
		Delta:     entry.Delta,
		OnHand:    v.OnHand,
		Reserved:  v.Reserved,
		Available: availabilityFor(v).Available,
		Reason:    entry.Reason,
		Reference: entry.Reference,
		PostedAt:  entry.CreatedAt,
	}
}
