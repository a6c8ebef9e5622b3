package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErrors "github.com/edupoint-crm/lead-engine/pkg/errors"
)

// Txer runs closures inside database transactions. Per-lead serialization is
// achieved by selecting the lead row FOR UPDATE at the start of the closure.
type Txer struct {
	db *sqlx.DB
}

// NewTxer constructs a Txer.
func NewTxer(db *sqlx.DB) *Txer {
	return &Txer{db: db}
}

// WithinTx begins a transaction, runs fn, and commits. Any error rolls the
// transaction back; nothing partial is committed.
func (t *Txer) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "begin transaction")
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "commit transaction")
	}
	return nil
}

// pq error class 23 covers integrity constraint violations (unique keys,
// foreign references).
const pqIntegrityClass = "23"

// MapDBError normalises driver errors into the engine's error kinds.
func MapDBError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, op)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == pqIntegrityClass {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, fmt.Sprintf("%s: %s", op, pqErr.Constraint))
	}
	return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, op)
}
