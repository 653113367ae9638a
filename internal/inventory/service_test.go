package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybernia/storefront/internal/platform/db"
	"github.com/hybernia/storefront/internal/shared"
)

// memoryRepo implements RepositoryPort and TxRepository over maps. WithTx
// snapshots state before running fn and restores it on error, mirroring
// the rollback behaviour of the real repository.
type memoryRepo struct {
	variants     map[int64]Variant
	ledger       []LedgerEntry
	reservations map[int64]Reservation
	nextLedgerID int64
	nextResID    int64
}

func newMemoryRepo(variants ...Variant) *memoryRepo {
	repo := &memoryRepo{
		variants:     make(map[int64]Variant),
		reservations: make(map[int64]Reservation),
	}
	for _, v := range variants {
		repo.variants[v.ID] = v
	}
	return repo
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapVariants := make(map[int64]Variant, len(m.variants))
	for id, v := range m.variants {
		snapVariants[id] = v
	}
	snapLedger := append([]LedgerEntry(nil), m.ledger...)
	snapReservations := make(map[int64]Reservation, len(m.reservations))
	for id, r := range m.reservations {
		snapReservations[id] = r
	}
	snapLedgerID, snapResID := m.nextLedgerID, m.nextResID

	if err := fn(ctx, m); err != nil {
		m.variants = snapVariants
		m.ledger = snapLedger
		m.reservations = snapReservations
		m.nextLedgerID, m.nextResID = snapLedgerID, snapResID
		return err
	}
	return nil
}

func (m *memoryRepo) GetVariant(ctx context.Context, variantID int64) (Variant, error) {
	v, ok := m.variants[variantID]
	if !ok {
		return Variant{}, ErrNotFound
	}
	return v, nil
}

func (m *memoryRepo) ListLedger(ctx context.Context, variantID int64, filter HistoryFilter) ([]LedgerEntry, int, error) {
	var matched []LedgerEntry
	for _, entry := range m.ledger {
		if entry.VariantID != variantID {
			continue
		}
		if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && entry.CreatedAt.After(filter.To) {
			continue
		}
		matched = append(matched, entry)
	}
	total := len(matched)
	offset := (filter.Page - 1) * filter.PerPage
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total, nil
	}
	end := offset + filter.PerPage
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *memoryRepo) GetVariantForUpdate(ctx context.Context, variantID int64) (Variant, error) {
	return m.GetVariant(ctx, variantID)
}

func (m *memoryRepo) ApplyVariantDeltas(ctx context.Context, variantID int64, onHandDelta, reservedDelta int64) error {
	v, ok := m.variants[variantID]
	if !ok {
		return ErrNotFound
	}
	v.OnHand += onHandDelta
	v.Reserved += reservedDelta
	v.UpdatedAt = time.Now().UTC()
	m.variants[variantID] = v
	return nil
}

func (m *memoryRepo) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	m.nextLedgerID++
	entry.ID = m.nextLedgerID
	m.ledger = append(m.ledger, entry)
	return entry.ID, nil
}

func (m *memoryRepo) HasActiveReservation(ctx context.Context, orderID int64) (bool, error) {
	for _, res := range m.reservations {
		if res.OrderID == orderID && res.State == ReservationStateReserved {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) InsertReservation(ctx context.Context, res Reservation) (int64, error) {
	m.nextResID++
	res.ID = m.nextResID
	m.reservations[res.ID] = res
	return res.ID, nil
}

func (m *memoryRepo) ListActiveReservations(ctx context.Context, orderID int64) ([]Reservation, error) {
	var out []Reservation
	for id := int64(1); id <= m.nextResID; id++ {
		res, ok := m.reservations[id]
		if !ok {
			continue
		}
		if res.OrderID == orderID && res.State == ReservationStateReserved {
			out = append(out, res)
		}
	}
	return out, nil
}

func (m *memoryRepo) SetReservationState(ctx context.Context, reservationID int64, state ReservationState, note string) error {
	res, ok := m.reservations[reservationID]
	if !ok || res.State != ReservationStateReserved {
		return ErrNotFound
	}
	res.State = state
	if note != "" {
		res.Note = note
	}
	res.UpdatedAt = time.Now().UTC()
	m.reservations[reservationID] = res
	return nil
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (m *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

type capturedEvents struct {
	events []MovementPostedEvent
}

func (c *capturedEvents) HandleStockMovementPosted(ctx context.Context, evt MovementPostedEvent) error {
	c.events = append(c.events, evt)
	return nil
}

func newTestService(repo *memoryRepo) (*Service, *memoryAudit, *capturedEvents) {
	audit := &memoryAudit{}
	events := &capturedEvents{}
	return NewService(repo, audit, nil, events), audit, events
}

func TestAdjustWritesLedgerEntry(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, SKU: "TEE-RED-M", OnHand: 10, TrackInventory: true})
	svc, audit, events := newTestService(repo)

	entry, err := svc.Adjust(context.Background(), AdjustmentInput{
		VariantID: 1,
		Delta:     5,
		Reason:    "Stocktake correction",
		Reference: "ST-2026-08",
		ActorID:   7,
	})
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)
	assert.Equal(t, int64(5), entry.Delta)

	v := repo.variants[1]
	assert.Equal(t, int64(15), v.OnHand)
	require.Len(t, repo.ledger, 1)
	assert.Equal(t, "Stocktake correction", repo.ledger[0].Reason)

	require.Len(t, audit.logs, 1)
	assert.Equal(t, "inventory:adjust", audit.logs[0].Action)

	require.Len(t, events.events, 1)
	assert.Equal(t, int64(15), events.events[0].OnHand)
	assert.Equal(t, "TEE-RED-M", events.events[0].SKU)
}

func TestAdjustRejectsNegativeStock(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, OnHand: 3, TrackInventory: true})
	svc, _, _ := newTestService(repo)

	_, err := svc.Adjust(context.Background(), AdjustmentInput{VariantID: 1, Delta: -5, Reason: "Damage"})
	require.ErrorIs(t, err, ErrNegativeStock)

	assert.Equal(t, int64(3), repo.variants[1].OnHand)
	assert.Empty(t, repo.ledger)
}

func TestAdjustUnknownVariant(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)

	_, err := svc.Adjust(context.Background(), AdjustmentInput{VariantID: 99, Delta: 1, Reason: "Receipt"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAdjustRejectsZeroDelta(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, OnHand: 3})
	svc, _, _ := newTestService(repo)

	_, err := svc.Adjust(context.Background(), AdjustmentInput{VariantID: 1, Delta: 0, Reason: "Noop"})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestReserveForOrder(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, SKU: "TEE-RED-M", OnHand: 10, TrackInventory: true})
	svc, audit, _ := newTestService(repo)

	created, err := svc.ReserveForOrder(context.Background(), ReservationInput{
		OrderID:   100,
		Lines:     []ReservationLine{{VariantID: 1, Quantity: 4}},
		Reference: "ORD-100",
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, ReservationStateReserved, created[0].State)

	v := repo.variants[1]
	assert.Equal(t, int64(10), v.OnHand)
	assert.Equal(t, int64(4), v.Reserved)
	assert.Empty(t, repo.ledger, "reserving stock must not write ledger entries")

	avail, err := svc.Availability(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(6), avail.Available)

	require.Len(t, audit.logs, 1)
	assert.Equal(t, "inventory:reserve", audit.logs[0].Action)
}

func TestReserveForOrderDuplicateBatch(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, OnHand: 10, TrackInventory: true})
	svc, _, _ := newTestService(repo)

	_, err := svc.ReserveForOrder(context.Background(), ReservationInput{
		OrderID: 100,
		Lines:   []ReservationLine{{VariantID: 1, Quantity: 4}},
	})
	require.NoError(t, err)

	_, err = svc.ReserveForOrder(context.Background(), ReservationInput{
		OrderID: 100,
		Lines:   []ReservationLine{{VariantID: 1, Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrDuplicateReservation)

	assert.Equal(t, int64(4), repo.variants[1].Reserved, "first batch stays untouched")
}

func TestReserveForOrderInsufficientStock(t *testing.T) {
	repo := newMemoryRepo(
		Variant{ID: 1, OnHand: 10, TrackInventory: true},
		Variant{ID: 2, OnHand: 1, TrackInventory: true},
	)
	svc, _, _ := newTestService(repo)

	_, err := svc.ReserveForOrder(context.Background(), ReservationInput{
		OrderID: 100,
		Lines: []ReservationLine{
			{VariantID: 1, Quantity: 4},
			{VariantID: 2, Quantity: 3},
		},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "variant 2")

	// All-or-nothing: the first line's claim rolled back too.
	assert.Equal(t, int64(0), repo.variants[1].Reserved)
	assert.Equal(t, int64(0), repo.variants[2].Reserved)
	assert.Empty(t, repo.reservations)
}

func TestReserveForOrderUntrackedVariant(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, OnHand: 0, TrackInventory: false})
	svc, _, _ := newTestService(repo)

	created, err := svc.ReserveForOrder(context.Background(), ReservationInput{
		OrderID: 100,
		Lines:   []ReservationLine{{VariantID: 1, Quantity: 50}},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, int64(50), repo.variants[1].Reserved)
}

func TestReserveForOrderSkipsUnusableLines(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, OnHand: 10, TrackInventory: true})
	svc, _, _ := newTestService(repo)

	created, err := svc.ReserveForOrder(context.Background(), ReservationInput{
		OrderID: 100,
		Lines: []ReservationLine{
			{VariantID: 1, Quantity: 2},
			{VariantID: 1, Quantity: 1}, // merged into the line above
			{VariantID: 99, Quantity: 5},
			{VariantID: 1, Quantity: 0},
		},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, int64(3), created[0].Quantity)
	assert.Equal(t, int64(3), repo.variants[1].Reserved)
}

func TestReleaseForOrder(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, OnHand: 10, TrackInventory: true})
	svc, _, _ := newTestService(repo)

	_, err := svc.ReserveForOrder(context.Background(), ReservationInput{
		OrderID: 100,
		Lines:   []ReservationLine{{VariantID: 1, Quantity: 4}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.ReleaseForOrder(context.Background(), 100, "customer cancelled"))

	v := repo.variants[1]
	assert.Equal(t, int64(10), v.OnHand)
	assert.Equal(t, int64(0), v.Reserved)
	assert.Empty(t, repo.ledger, "releasing must not write ledger entries")

	res := repo.reservations[1]
	assert.Equal(t, ReservationStateReleased, res.State)
	assert.Equal(t, "customer cancelled", res.Note)
}

func TestReleaseForOrderNoActiveClaims(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, OnHand: 10})
	svc, audit, _ := newTestService(repo)

	require.NoError(t, svc.ReleaseForOrder(context.Background(), 100, ""))
	assert.Empty(t, audit.logs)
}

func TestReleaseForOrderUnderflow(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, OnHand: 10, Reserved: 1, TrackInventory: true})
	repo.nextResID = 1
	repo.reservations[1] = Reservation{ID: 1, OrderID: 100, VariantID: 1, Quantity: 5, State: ReservationStateReserved}
	svc, _, _ := newTestService(repo)

	err := svc.ReleaseForOrder(context.Background(), 100, "")
	require.ErrorIs(t, err, ErrReservationUnderflow)
	assert.Equal(t, int64(1), repo.variants[1].Reserved)
}

func TestConsumeForOrder(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, SKU: "TEE-RED-M", OnHand: 10, TrackInventory: true})
	svc, _, events := newTestService(repo)

	_, err := svc.ReserveForOrder(context.Background(), ReservationInput{
		OrderID: 100,
		Lines:   []ReservationLine{{VariantID: 1, Quantity: 4}},
	})
	require.NoError(t, err)

	entries, err := svc.ConsumeForOrder(context.Background(), ConsumeInput{
		OrderID:   100,
		Reference: "ORD-100",
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-4), entries[0].Delta)
	assert.Equal(t, ReasonOrderShipment, entries[0].Reason)
	assert.Equal(t, int64(100), entries[0].Metadata["order_id"])

	v := repo.variants[1]
	assert.Equal(t, int64(6), v.OnHand)
	assert.Equal(t, int64(0), v.Reserved)
	assert.Equal(t, ReservationStateConsumed, repo.reservations[1].State)

	require.Len(t, events.events, 1)
	assert.Equal(t, int64(6), events.events[0].Available)
}

func TestConsumeForOrderInsufficientOnHand(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, OnHand: 2, Reserved: 4, TrackInventory: false})
	repo.nextResID = 1
	repo.reservations[1] = Reservation{ID: 1, OrderID: 100, VariantID: 1, Quantity: 4, State: ReservationStateReserved}
	svc, _, _ := newTestService(repo)

	_, err := svc.ConsumeForOrder(context.Background(), ConsumeInput{OrderID: 100})
	require.ErrorIs(t, err, ErrInsufficientStock)

	assert.Equal(t, int64(2), repo.variants[1].OnHand)
	assert.Equal(t, ReservationStateReserved, repo.reservations[1].State)
	assert.Empty(t, repo.ledger)
}

func TestAdjustSideEffectsWaitForOuterCommit(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, SKU: "TEE-RED-M", OnHand: 10, TrackInventory: true})
	svc, audit, events := newTestService(repo)

	// Model an invoice posting two lines inside one caller-opened
	// transaction: hooks collect instead of firing line by line.
	outer, flush := db.CollectAfterCommit(context.Background())

	_, err := svc.Adjust(outer, AdjustmentInput{VariantID: 1, Delta: 5, Reason: "Purchase invoice receipt"})
	require.NoError(t, err)
	assert.Empty(t, audit.logs, "audit must wait for the outer commit")
	assert.Empty(t, events.events, "events must wait for the outer commit")

	_, err = svc.Adjust(outer, AdjustmentInput{VariantID: 99, Delta: 3, Reason: "Purchase invoice receipt"})
	require.ErrorIs(t, err, ErrNotFound)

	// The opener rolls back on error and never flushes: no audit rows
	// or movement events survive for the first line.
	assert.Empty(t, audit.logs)
	assert.Empty(t, events.events)

	// A committed outer transaction flushes everything collected.
	flush(context.Background())
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "inventory:adjust", audit.logs[0].Action)
	require.Len(t, events.events, 1)
	assert.Equal(t, int64(5), events.events[0].Delta)
}

func TestConsumeSideEffectsWaitForOuterCommit(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, SKU: "TEE-RED-M", OnHand: 10, TrackInventory: true})
	svc, audit, events := newTestService(repo)

	_, err := svc.ReserveForOrder(context.Background(), ReservationInput{
		OrderID: 100,
		Lines:   []ReservationLine{{VariantID: 1, Quantity: 4}},
	})
	require.NoError(t, err)
	audit.logs = nil

	outer, flush := db.CollectAfterCommit(context.Background())
	entries, err := svc.ConsumeForOrder(outer, ConsumeInput{OrderID: 100, Reference: "ORD-100"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, audit.logs)
	assert.Empty(t, events.events)

	flush(context.Background())
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "inventory:consume", audit.logs[0].Action)
	require.Len(t, events.events, 1)
	assert.Equal(t, int64(-4), events.events[0].Delta)
}

func TestAvailabilityClampsAtZero(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, OnHand: 2, Reserved: 5, TrackInventory: true})
	svc, _, _ := newTestService(repo)

	avail, err := svc.Availability(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), avail.OnHand)
	assert.Equal(t, int64(5), avail.Reserved)
	assert.Equal(t, int64(0), avail.Available)
}

func TestHistoryForVariant(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, OnHand: 0, TrackInventory: true})
	svc, _, _ := newTestService(repo)

	for i := 0; i < 3; i++ {
		_, err := svc.Adjust(context.Background(), AdjustmentInput{VariantID: 1, Delta: 5, Reason: "Receipt"})
		require.NoError(t, err)
	}

	entries, page, err := svc.HistoryForVariant(context.Background(), 1, HistoryFilter{Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)

	_, _, err = svc.HistoryForVariant(context.Background(), 42, HistoryFilter{Page: 1, PerPage: 10})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLedgerReconcilesWithOnHand(t *testing.T) {
	repo := newMemoryRepo(Variant{ID: 1, OnHand: 0, TrackInventory: true})
	svc, _, _ := newTestService(repo)

	deltas := []int64{10, -3, 7, -4}
	for _, d := range deltas {
		_, err := svc.Adjust(context.Background(), AdjustmentInput{VariantID: 1, Delta: d, Reason: "Movement"})
		require.NoError(t, err)
	}

	var sum int64
	for _, entry := range repo.ledger {
		sum += entry.Delta
	}
	assert.Equal(t, repo.variants[1].OnHand, sum)
}
