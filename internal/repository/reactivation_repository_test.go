package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactivationExists(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReactivationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM reactivation_markers")).
		WithArgs("lead-1", 7).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	found, err := repo.Exists(context.Background(), "lead-1", 7)
	require.NoError(t, err)
	assert.True(t, found)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM reactivation_markers")).
		WithArgs("lead-1", 14).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	found, err = repo.Exists(context.Background(), "lead-1", 14)
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReactivationSetOutcomeClosesOpenMarkers(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReactivationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE reactivation_markers SET outcome = $2 WHERE lead_id = $1 AND outcome IS NULL")).
		WithArgs("lead-1", "reactivated").
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.SetOutcome(context.Background(), "lead-1", "reactivated"))
	require.NoError(t, mock.ExpectationsWereMet())
}
