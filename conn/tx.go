package conn

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX es el subconjunto de *sql.DB / *sql.Tx que usan los repositorios,
// de modo que las mismas consultas sirvan dentro y fuera de una transacción.
type DBTX interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// WithTx runs fn inside a single transaction. Any error (or panic) rolls
// back every write performed by fn; partial application is not possible.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic en transacción: %v", p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
