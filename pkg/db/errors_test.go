package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "users_iin_key"}
	assert.True(t, IsUniqueViolation(pgErr, ""))
	assert.True(t, IsUniqueViolation(fmt.Errorf("wrapped: %w", pgErr), "users_iin_key"))
	assert.False(t, IsUniqueViolation(pgErr, "users_phone_key"))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
	assert.False(t, IsUniqueViolation(nil, ""))
	assert.False(t, IsUniqueViolation(errors.New("boom"), ""))
}

func TestUniqueViolationColumn(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "idx_users_phone_unique"}
	assert.Equal(t, "phone", UniqueViolationColumn(pgErr, "iin", "phone"))

	sqliteErr := errors.New("UNIQUE constraint failed: users.iin")
	assert.Equal(t, "iin", UniqueViolationColumn(sqliteErr, "iin", "phone"))
	assert.Equal(t, "", UniqueViolationColumn(errors.New("boom"), "iin"))

	classified := Classify(sqliteErr, "insert user")
	assert.Equal(t, "iin", UniqueViolationColumn(classified, "iin", "phone"))
}

func TestUniqueViolationFromSQLite(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&testModel{Name: "dup"}).Error)
	err := db.Create(&testModel{Name: "dup"}).Error
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err, ""))
	assert.Equal(t, "name", UniqueViolationColumn(err, "name"))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil, "noop"))

	notFound := Classify(gorm.ErrRecordNotFound, "load household")
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(notFound))

	conflict := Classify(&pgconn.PgError{Code: "23505"}, "insert user")
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(conflict))

	timeout := Classify(context.DeadlineExceeded, "update point")
	assert.Equal(t, pkgerrors.CodeStorage, pkgerrors.CodeOf(timeout))

	typed := pkgerrors.New(pkgerrors.CodeInsufficientBalance, "empty")
	assert.Same(t, typed, Classify(typed, "ignored"))

	other := Classify(errors.New("connection reset"), "query")
	assert.Equal(t, pkgerrors.CodeStorage, pkgerrors.CodeOf(other))
}
