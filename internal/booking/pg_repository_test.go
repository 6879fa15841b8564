package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgRepository(mock), mock
}

func TestPgCountOverlappingScansCount(t *testing.T) {
	repo, mock := newMockRepo(t)

	therapistID := uuid.New()
	start := time.Date(2025, 3, 4, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectQuery("SELECT count").
		WithArgs(therapistID, start, end, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.CountOverlapping(context.Background(), therapistID, start, end, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCountOverlappingZero(t *testing.T) {
	repo, mock := newMockRepo(t)

	therapistID := uuid.New()
	start := time.Date(2025, 3, 4, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	exclude := uuid.New()

	mock.ExpectQuery("SELECT count").
		WithArgs(therapistID, start, end, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))

	n, err := repo.CountOverlapping(context.Background(), therapistID, start, end, &exclude)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateAppointmentStatusCASMiss(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()

	// Zero rows back from the CAS update means the row was not in the
	// expected source status anymore.
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id, "confirmed", "pending", "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := repo.UpdateAppointmentStatus(context.Background(), id, StatusPending, StatusConfirmed, "")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
