package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorDump is the log-only view of an error: the full chain plus whatever the
// database driver reported. It never reaches a chat or an HTTP body.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	DBDriver     string `json:"db_driver,omitempty"`
	DBCode       string `json:"db_code,omitempty"`
	DBConstraint string `json:"db_constraint,omitempty"`
	DBTable      string `json:"db_table,omitempty"`
	DBColumn     string `json:"db_column,omitempty"`
	DBDetail     string `json:"db_detail,omitempty"`
}

// sqlite reports constraint failures only in the message text, e.g.
// "UNIQUE constraint failed: users.phone".
var sqliteConstraintKinds = []string{"UNIQUE", "CHECK", "NOT NULL", "FOREIGN KEY"}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		d.DBDriver = "postgres"
		d.DBCode = pgErr.Code
		d.DBConstraint = pgErr.ConstraintName
		d.DBTable = pgErr.TableName
		d.DBColumn = pgErr.ColumnName
		d.DBDetail = pgErr.Detail
		return d
	}
	for _, link := range d.Chain {
		if dumpSQLite(&d, link) {
			break
		}
	}
	return d
}

func dumpSQLite(d *ErrorDump, msg string) bool {
	for _, kind := range sqliteConstraintKinds {
		marker := kind + " constraint failed: "
		i := strings.Index(msg, marker)
		if i < 0 {
			continue
		}
		target := strings.TrimSpace(msg[i+len(marker):])
		if j := strings.IndexAny(target, ", "); j >= 0 {
			target = target[:j]
		}
		d.DBDriver = "sqlite"
		d.DBCode = kind
		d.DBConstraint = target
		if table, column, ok := strings.Cut(target, "."); ok {
			d.DBTable, d.DBColumn = table, column
		}
		return true
	}
	return false
}

// Fields flattens the dump for structured logging.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{"error_chain": d.Chain}
	if d.Code != "" {
		fields["error_code"] = string(d.Code)
	}
	if d.DBCode != "" {
		fields["db_driver"] = d.DBDriver
		fields["db_code"] = d.DBCode
		fields["db_constraint"] = d.DBConstraint
		fields["db_table"] = d.DBTable
	}
	return fields
}
