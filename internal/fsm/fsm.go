package fsm

import (
	"context"
	"database/sql"
	"errors"

	"motopay/internal/models"
)

var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[models.TransactionStatus]map[models.TransactionStatus]struct{}{
	models.TransactionPending:  {models.TransactionSuccess: {}, models.TransactionFailed: {}},
	models.TransactionSuccess:  {models.TransactionRefunded: {}},
	models.TransactionFailed:   {},
	models.TransactionRefunded: {},
}

// CanTransition returns whether a transaction may move from one status to another.
func CanTransition(from, to models.TransactionStatus) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Terminal reports whether no further transition is possible.
func Terminal(s models.TransactionStatus) bool {
	allowed, ok := transitions[s]
	return ok && len(allowed) == 0
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Apply moves a transaction row from fromStatus to toStatus only if it is
// still in fromStatus. It returns sql.ErrNoRows when another writer got there
// first. Extra SET clauses are appended verbatim with their args placed
// before the WHERE args.
func Apply(ctx context.Context, db Execer, rebind func(string) string, id string, from, to models.TransactionStatus, set string, args ...any) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	q := `UPDATE transactions SET status = ?, updated_at = CURRENT_TIMESTAMP`
	if set != "" {
		q += ", " + set
	}
	q += ` WHERE id = ? AND status = ?`
	if rebind != nil {
		q = rebind(q)
	}
	all := make([]any, 0, len(args)+3)
	all = append(all, string(to))
	all = append(all, args...)
	all = append(all, id, string(from))

	res, err := db.ExecContext(ctx, q, all...)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
