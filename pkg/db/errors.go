package db

import (
	"context"
	"errors"
	"strings"

	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation from
// Postgres or SQLite. When constraintName is provided the constraint must match.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return false
		}
		return constraintName == "" || strings.Contains(pgErr.ConstraintName, constraintName)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return constraintName == ""
	}
	msg := chainMessage(err)
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return constraintName == "" || strings.Contains(msg, constraintName)
}

// UniqueViolationColumn names the column behind a unique violation when it can
// be recovered from the constraint name (postgres) or the message (sqlite).
// It returns one of the given candidates or "".
func UniqueViolationColumn(err error, candidates ...string) string {
	if !IsUniqueViolation(err, "") {
		return ""
	}
	haystack := chainMessage(err)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		haystack = pgErr.ConstraintName + " " + pgErr.Detail
	}
	for _, candidate := range candidates {
		if strings.Contains(haystack, "."+candidate) ||
			strings.Contains(haystack, "_"+candidate+"_") ||
			strings.Contains(haystack, "("+candidate+")") {
			return candidate
		}
	}
	return ""
}

// chainMessage joins the messages of every error in err's chain, since typed
// wrappers do not repeat their cause in Error().
func chainMessage(err error) string {
	var parts []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, ": ")
}

// Classify maps a storage error onto the typed error taxonomy. Typed errors pass
// through untouched.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, message)
	case IsUniqueViolation(err, ""):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, message)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, message+": timed out")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeStorage, err, message)
	}
}
