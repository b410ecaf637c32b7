package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"surveyflow/internal/domain"
	"surveyflow/internal/fault"
)

// Queryer is satisfied by *sqlx.DB and *sqlx.Tx. Every query is written with
// ? placeholders and rebound for the connection's dialect.
type Queryer interface {
	sqlx.ExtContext
}

type Repo struct {
	DB *sqlx.DB
}

var ErrNotFound = fault.ErrNotFound

func (r Repo) q(q Queryer) Queryer {
	if q == nil {
		return r.DB
	}
	return q
}

func get(ctx context.Context, q Queryer, dest any, query string, args ...any) error {
	return mapErr(sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...))
}

func selectAll(ctx context.Context, q Queryer, dest any, query string, args ...any) error {
	return mapErr(sqlx.SelectContext(ctx, q, dest, q.Rebind(query), args...))
}

func exec(ctx context.Context, q Queryer, query string, args ...any) (sql.Result, error) {
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	return res, mapErr(err)
}

// execOne runs a write that must touch exactly one row.
func execOne(ctx context.Context, q Queryer, query string, args ...any) error {
	res, err := exec(ctx, q, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// insertID runs an INSERT ... RETURNING id.
func insertID(ctx context.Context, q Queryer, query string, args ...any) (int64, error) {
	var id int64
	if err := q.QueryRowxContext(ctx, q.Rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
		return 0, mapErr(err)
	}
	return id, nil
}

// mapErr turns driver errors into the fault sentinels, keeping the driver text.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", fault.ErrUniqueViolation, pqErr.Message)
		case "23503":
			return fmt.Errorf("%w: %s", fault.ErrForeignKeyViolation, pqErr.Message)
		case "23514":
			return fmt.Errorf("%w: %s", fault.ErrCheckViolation, pqErr.Message)
		}
		return err
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", fault.ErrUniqueViolation, sqErr.Error())
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %s", fault.ErrForeignKeyViolation, sqErr.Error())
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return fmt.Errorf("%w: %s", fault.ErrCheckViolation, sqErr.Error())
		}
		// Extended codes may be off; fall back to the message.
		msg := sqErr.Error()
		switch {
		case strings.Contains(msg, "FOREIGN KEY constraint failed"):
			return fmt.Errorf("%w: %s", fault.ErrForeignKeyViolation, msg)
		case strings.Contains(msg, "UNIQUE constraint failed"):
			return fmt.Errorf("%w: %s", fault.ErrUniqueViolation, msg)
		case strings.Contains(msg, "CHECK constraint failed"):
			return fmt.Errorf("%w: %s", fault.ErrCheckViolation, msg)
		}
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// determinantColumns is the storage shape of an optional determinant:
// (NULL, NULL), ('end', NULL) or ('goto', id).
func determinantColumns(d *domain.Determinant) (kind any, questionID any, err error) {
	if d == nil {
		return nil, nil, nil
	}
	if !d.Valid() {
		return nil, nil, domain.ErrInvalidDeterminant
	}
	if id, ok := d.Target(); ok {
		return string(domain.KindGoTo), id, nil
	}
	return string(domain.KindEnd), nil, nil
}

func determinantFromColumns(kind sql.NullString, questionID sql.NullInt64) (*domain.Determinant, error) {
	if !kind.Valid {
		if questionID.Valid {
			return nil, fmt.Errorf("%w: stored target %d without kind", domain.ErrInvalidDeterminant, questionID.Int64)
		}
		return nil, nil
	}
	var id *int64
	if questionID.Valid {
		v := questionID.Int64
		id = &v
	}
	d, err := domain.NewDeterminant(domain.DeterminantKind(kind.String), id)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
