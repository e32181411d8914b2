package persistence

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/facolos/etl/internal/domain/pipeline"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// transientSQLStates are postgres error codes worth retrying.
var transientSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"55P03": true, // lock_not_available
	"57P01": true, // admin_shutdown
	"57P03": true, // cannot_connect_now
}

// schemaSQLStates are postgres error codes meaning the table does not match the rows.
var schemaSQLStates = map[string]bool{
	"42703": true, // undefined_column
	"42P01": true, // undefined_table
	"42804": true, // datatype_mismatch
	"22P02": true, // invalid_text_representation
	"23502": true, // not_null_violation
}

// classifyDBError maps a database error onto the pipeline error taxonomy.
// Context errors are returned unchanged.
func classifyDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case transientSQLStates[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08"):
			return pipeline.NewTransientError(op, "DB_TRANSIENT", err)
		case schemaSQLStates[pgErr.Code]:
			return pipeline.NewFatalError(op, "SCHEMA_MISMATCH",
				fmt.Errorf("%w: %s", pipeline.ErrSchemaMismatch, pgErr.Message))
		}
		return pipeline.NewFatalError(op, "DB_ERROR", err)
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return pipeline.NewFatalError(op, "DUPLICATE_KEY", err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &netErr) {
		return pipeline.NewTransientError(op, "DB_CONNECTION", err)
	}

	return pipeline.NewFatalError(op, "DB_ERROR", err)
}
