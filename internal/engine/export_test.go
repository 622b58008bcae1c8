package engine

import (
	"context"
	"database/sql"
)

func SetBeforeSave(e *Engine, fn func(ctx context.Context, tx *sql.Tx, shiftID string) error) {
	e.beforeSave = fn
}
