package errors

import (
	stdErrors "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// StoreFault is the database detail behind a failed statement. Postgres
// reports it through pgx or lib/pq depending on the driver in use.
type StoreFault struct {
	Code       string `json:"pg_code,omitempty"`
	Constraint string `json:"pg_constraint,omitempty"`
	Table      string `json:"pg_table,omitempty"`
	Column     string `json:"pg_column,omitempty"`
	Detail     string `json:"pg_detail,omitempty"`
	Message    string `json:"pg_message,omitempty"`
}

func storeFault(err error) (StoreFault, bool) {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		return StoreFault{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}, true
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return StoreFault{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}, true
	}
	return StoreFault{}, false
}

// FromStore maps a persistence error onto the public taxonomy. Coded errors
// pass through; a missing row becomes notFound; constraint violations become
// conflicts or validation failures; anything else is a dependency outage.
func FromStore(err error, action, notFound string) error {
	switch {
	case err == nil:
		return nil
	case As(err) != nil:
		return err
	case stdErrors.Is(err, gorm.ErrRecordNotFound):
		return New(CodeNotFound, notFound)
	}

	code := ""
	if fault, ok := storeFault(err); ok {
		code = fault.Code
	} else {
		// sqlite has no SQLSTATE; match its constraint messages
		msg := err.Error()
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed"):
			code = pgUniqueViolation
		case strings.Contains(msg, "FOREIGN KEY constraint failed"):
			code = pgForeignKeyViolation
		}
	}

	switch code {
	case pgUniqueViolation:
		return Wrap(CodeConflict, err, action+": record already exists")
	case pgForeignKeyViolation:
		return Wrap(CodeValidation, err, action+": referenced record does not exist")
	default:
		return Wrap(CodeDependency, err, action)
	}
}

// Dump flattens err for structured logs.
type Dump struct {
	TopMessage string
	Code       Code
	Chain      []string
	Store      *StoreFault
}

func NewDump(err error) Dump {
	if err == nil {
		return Dump{}
	}
	d := Dump{TopMessage: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	if fault, ok := storeFault(err); ok {
		d.Store = &fault
	}
	return d
}

// Fields is the dump as logger fields; store detail only appears when a
// database error is in the chain.
func (d Dump) Fields() map[string]any {
	fields := map[string]any{
		"error_message": d.TopMessage,
		"error_code":    d.Code,
		"error_chain":   d.Chain,
	}
	if f := d.Store; f != nil {
		fields["pg_code"] = f.Code
		fields["pg_constraint"] = f.Constraint
		fields["pg_table"] = f.Table
		fields["pg_column"] = f.Column
		fields["pg_detail"] = f.Detail
		fields["pg_message"] = f.Message
	}
	return fields
}
