package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hybernia/storefront/internal/platform/db"
	"github.com/hybernia/storefront/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
// Variant reads lock the row so concurrent movements on the same
// variant serialise on the database.
type TxRepository interface {
	GetVariantForUpdate(ctx context.Context, variantID int64) (Variant, error)
	ApplyVariantDeltas(ctx context.Context, variantID int64, onHandDelta, reservedDelta int64) error
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error)
	HasActiveReservation(ctx context.Context, orderID int64) (bool, error)
	InsertReservation(ctx context.Context, res Reservation) (int64, error)
	ListActiveReservations(ctx context.Context, orderID int64) ([]Reservation, error)
	SetReservationState(ctx context.Context, reservationID int64, state ReservationState, note string) error
}

type txRepository struct {
	tx pgx.Tx
}

// RunInTx runs fn inside the repository's unit of work. Callers that
// already opened a transaction (for example the order workflow wrapping
// reservation together with its own writes) are joined; only the
// outermost opener commits.
func (r *Repository) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.RunInTx(ctx, r.pool, fn)
}

// WithTx executes the callback against a transactional repository view.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.RunInTx(ctx, func(ctx context.Context) error {
		return fn(ctx, &txRepository{tx: db.TxFromContext(ctx)})
	})
}

// GetVariant reads a variant snapshot without locking.
func (r *Repository) GetVariant(ctx context.Context, variantID int64) (Variant, error) {
	if r == nil {
		return Variant{}, errors.New("inventory repository not initialised")
	}
	return scanVariant(r.pool.QueryRow(ctx, `SELECT id, sku, on_hand, reserved, track_inventory, updated_at
FROM variants WHERE id=$1`, variantID))
}

// ListLedger returns ledger entries for a variant, newest first, with
// the total row count for pagination.
func (r *Repository) ListLedger(ctx context.Context, variantID int64, filter HistoryFilter) ([]LedgerEntry, int, error) {
	if r == nil {
		return nil, 0, errors.New("inventory repository not initialised")
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)

	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_ledger
WHERE variant_id=$1 AND created_at BETWEEN COALESCE($2, '-infinity') AND COALESCE($3, 'infinity')`,
		variantID, nullTime(filter.From), nullTime(filter.To)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, variant_id, delta, reason, reference, metadata, created_at
FROM stock_ledger
WHERE variant_id=$1 AND created_at BETWEEN COALESCE($2, '-infinity') AND COALESCE($3, 'infinity')
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5`, variantID, nullTime(filter.From), nullTime(filter.To), page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []LedgerEntry{}
	for rows.Next() {
		var entry LedgerEntry
		var meta []byte
		if err := rows.Scan(&entry.ID, &entry.VariantID, &entry.Delta, &entry.Reason, &entry.Reference, &meta, &entry.CreatedAt); err != nil {
			return nil, 0, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &entry.Metadata); err != nil {
				return nil, 0, err
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ListReservations returns all reservations for an order regardless of
// state, for audit display.
func (r *Repository) ListReservations(ctx context.Context, orderID int64) ([]Reservation, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, variant_id, qty, state, reference, note, created_at, updated_at
FROM reservations WHERE order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReservations(rows)
}

func (t *txRepository) GetVariantForUpdate(ctx context.Context, variantID int64) (Variant, error) {
	return scanVariant(t.tx.QueryRow(ctx, `SELECT id, sku, on_hand, reserved, track_inventory, updated_at
FROM variants WHERE id=$1 FOR UPDATE`, variantID))
}

func (t *txRepository) ApplyVariantDeltas(ctx context.Context, variantID int64, onHandDelta, reservedDelta int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE variants
SET on_hand = on_hand + $2, reserved = reserved + $3, updated_at = $4
WHERE id = $1`, variantID, onHandDelta, reservedDelta, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepository) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO stock_ledger (variant_id, delta, reason, reference, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		entry.VariantID, entry.Delta, entry.Reason, entry.Reference, meta, entry.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepository) HasActiveReservation(ctx context.Context, orderID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reservations WHERE order_id=$1 AND state=$2)`,
		orderID, ReservationStateReserved).Scan(&exists)
	return exists, err
}

func (t *txRepository) InsertReservation(ctx context.Context, res Reservation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO reservations (order_id, variant_id, qty, state, reference, note, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`,
		res.OrderID, res.VariantID, res.Quantity, res.State, res.Reference, res.Note, res.CreatedAt).Scan(&id)
	if err != nil {
		return 0, mapReservationInsertError(err, res.OrderID)
	}
	return id, nil
}

// mapReservationInsertError converts the partial unique index violation
// on active reservations into the domain sentinel. The index is the
// backstop for the in-transaction existence check: two RepeatableRead
// snapshots can both see no active batch for the same order, so the
// second insert must fail at the database.
func mapReservationInsertError(err error, orderID int64) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: order %d", ErrDuplicateReservation, orderID)
	}
	return err
}

func (t *txRepository) ListActiveReservations(ctx context.Context, orderID int64) ([]Reservation, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, order_id, variant_id, qty, state, reference, note, created_at, updated_at
FROM reservations WHERE order_id=$1 AND state=$2 ORDER BY id ASC FOR UPDATE`,
		orderID, ReservationStateReserved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReservations(rows)
}

func (t *txRepository) SetReservationState(ctx context.Context, reservationID int64, state ReservationState, note string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE reservations
SET state = $2, note = CASE WHEN $3 <> '' THEN $3 ELSE note END, updated_at = $4
WHERE id = $1 AND state = $5`,
		reservationID, state, note, time.Now().UTC(), ReservationStateReserved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanVariant(row pgx.Row) (Variant, error) {
	var v Variant
	err := row.Scan(&v.ID, &v.SKU, &v.OnHand, &v.Reserved, &v.TrackInventory, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Variant{}, ErrNotFound
		}
		return Variant{}, err
	}
	return v, nil
}

func collectReservations(rows pgx.Rows) ([]Reservation, error) {
	reservations := []Reservation{}
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(&res.ID, &res.OrderID, &res.VariantID, &res.Quantity, &res.State, &res.Reference, &res.Note, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		reservations = append(reservations, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reservations, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
