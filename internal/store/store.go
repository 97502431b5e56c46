// Package store is the equality-predicate persistence layer every repository
// is built on. Predicates are column=value pairs combined with AND.
package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/bottlepoint/waterbot/pkg/db"
	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"gorm.io/gorm"
)

// Where is an equality predicate. A nil value matches SQL NULL.
type Where map[string]any

var columnRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Base binds a repository to a connection or an open transaction.
type Base struct {
	db *gorm.DB
}

// NewBase constructs a Base backed by the provided GORM connection.
func NewBase(conn *gorm.DB) Base {
	return Base{db: conn}
}

// DB returns the connection bound to ctx.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

func (w Where) validate() error {
	for column := range w {
		if !columnRe.MatchString(column) {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid column %q", column))
		}
	}
	return nil
}

func (w Where) apply(q *gorm.DB) *gorm.DB {
	columns := make([]string, 0, len(w))
	for column := range w {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	for _, column := range columns {
		if w[column] == nil {
			q = q.Where(fmt.Sprintf("%s IS NULL", column))
			continue
		}
		q = q.Where(fmt.Sprintf("%s = ?", column), w[column])
	}
	return q
}

// FetchOne returns the single row matching where, or NOT_FOUND.
func FetchOne[T any](ctx context.Context, conn *gorm.DB, where Where) (*T, error) {
	if err := where.validate(); err != nil {
		return nil, err
	}
	var row T
	if err := where.apply(conn.WithContext(ctx)).Take(&row).Error; err != nil {
		return nil, db.Classify(err, fmt.Sprintf("fetch %T", row))
	}
	return &row, nil
}

// FetchAll returns every row matching where in primary key order.
func FetchAll[T any](ctx context.Context, conn *gorm.DB, where Where) ([]T, error) {
	if err := where.validate(); err != nil {
		return nil, err
	}
	var rows []T
	q := where.apply(conn.WithContext(ctx).Model(new(T)))
	if err := q.Order(clausePrimaryKey(conn, new(T))).Find(&rows).Error; err != nil {
		return nil, db.Classify(err, fmt.Sprintf("fetch all %T", rows))
	}
	return rows, nil
}

// FetchColumn projects a single column of the rows matching where.
func FetchColumn[V any, T any](ctx context.Context, conn *gorm.DB, column string, where Where) ([]V, error) {
	if !columnRe.MatchString(column) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid column %q", column))
	}
	if err := where.validate(); err != nil {
		return nil, err
	}
	var values []V
	q := where.apply(conn.WithContext(ctx).Model(new(T)))
	if err := q.Order(column).Pluck(column, &values).Error; err != nil {
		return nil, db.Classify(err, fmt.Sprintf("fetch column %s", column))
	}
	return values, nil
}

// Insert persists row, filling generated fields back into it.
func Insert[T any](ctx context.Context, conn *gorm.DB, row *T) error {
	if err := conn.WithContext(ctx).Create(row).Error; err != nil {
		return db.Classify(err, fmt.Sprintf("insert %T", row))
	}
	return nil
}

// Update applies set to the rows matching where and returns how many changed.
// An empty predicate is rejected so a typo can never rewrite a whole table.
func Update[T any](ctx context.Context, conn *gorm.DB, set map[string]any, where Where) (int64, error) {
	if len(where) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "update requires a predicate")
	}
	if len(set) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "update requires at least one column")
	}
	if err := where.validate(); err != nil {
		return 0, err
	}
	if err := Where(set).validate(); err != nil {
		return 0, err
	}
	res := where.apply(conn.WithContext(ctx).Model(new(T))).Updates(set)
	if res.Error != nil {
		return 0, db.Classify(res.Error, fmt.Sprintf("update %T", *new(T)))
	}
	return res.RowsAffected, nil
}

func clausePrimaryKey(conn *gorm.DB, model any) string {
	stmt := &gorm.Statement{DB: conn}
	if err := stmt.Parse(model); err != nil || stmt.Schema == nil || stmt.Schema.PrioritizedPrimaryField == nil {
		return "1"
	}
	return stmt.Schema.PrioritizedPrimaryField.DBName
}
