package store

import (
	"context"
	"database/sql"
	"fmt"
)

// execInTx runs fn inside a database transaction, committing on success and
// rolling back on any error.
func execInTx(ctx context.Context, db *sql.DB,
	fn func(tx *sql.Tx) error) error {

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err,
				rbErr)
		}

		return err
	}

	return tx.Commit()
}
