package inventory

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapReservationInsertError(t *testing.T) {
	dup := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "reservations_order_variant_active_idx",
	}
	err := mapReservationInsertError(dup, 100)
	require.ErrorIs(t, err, ErrDuplicateReservation)
	assert.Contains(t, err.Error(), "order 100")

	plain := errors.New("broken pipe")
	assert.Equal(t, plain, mapReservationInsertError(plain, 100))

	other := &pgconn.PgError{Code: "23503"}
	assert.NotErrorIs(t, mapReservationInsertError(other, 100), ErrDuplicateReservation)
}
