package postgres

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ternarybob/colligo/internal/common"
)

// Postgres error codes this layer cares about.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// mapError translates driver errors into kinded errors so callers never
// inspect pg internals. notFoundMsg names the entity for ErrNoRows.
func mapError(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}

	var kinded *common.Error
	if errors.As(err, &kinded) {
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return common.E(common.KindNotFound, notFoundMsg)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation, codeForeignKeyViolation:
			return common.WrapErr(common.KindConflict, err, constraintMessage(pgErr))
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return common.WrapErr(common.KindCancelled, err, "operation cancelled")
	}

	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
		return common.WrapErr(common.KindUnavailable, err, "database is unavailable")
	}

	return err
}

// constraintMessage turns known constraint names into client-readable text.
func constraintMessage(pgErr *pgconn.PgError) string {
	switch pgErr.ConstraintName {
	case "projects_source_url_key":
		return "a project with this URL already exists"
	case "idx_jobs_one_active_per_project":
		return "project already has an active job"
	default:
		return "conflicting database state"
	}
}
