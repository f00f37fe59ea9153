package metadata

import "context"

// ObjectKind classifies a documented database object.
type ObjectKind string

const (
	KindTable     ObjectKind = "table"
	KindView      ObjectKind = "view"
	KindProcedure ObjectKind = "procedure"
	KindFunction  ObjectKind = "function"
)

// GroupOrder is the fixed presentation order of object kinds within a
// schema. Tables come before views, then routines.
var GroupOrder = []ObjectKind{KindTable, KindView, KindProcedure, KindFunction}

// ObjectRow describes one database object as enumerated from the catalog.
type ObjectRow struct {
	Schema string
	Name   string
	Kind   ObjectKind
}

// ColumnRow describes one column of a table or view.
type ColumnRow struct {
	Name        string
	DataType    string
	Nullable    bool
	Ordinal     int
	Description string
}

// IndexRow describes one index of a table or view.
type IndexRow struct {
	Name    string
	Type    string
	Unique  bool
	Primary bool
	Columns []string
}

// ParameterRow describes one parameter of a procedure or function.
type ParameterRow struct {
	Name     string
	DataType string
	Ordinal  int
	Output   bool
}

// DependencyRow is one raw dependency edge from the catalog: the named
// object references the entity on the right-hand side. The referenced
// name is optionally qualified; empty Database or Schema parts mean the
// reference must be normalized against the current context.
type DependencyRow struct {
	Schema string
	Object string

	RefDatabase string
	RefSchema   string
	RefName     string
}

// Source supplies catalog metadata rows for one database server.
// All rows are materialized into the fixed shapes above at this
// boundary; nothing downstream inspects driver-level values.
// Each implementation owns its connection and must be closed when done.
type Source interface {
	// Databases returns the names of databases visible on the server.
	Databases(ctx context.Context) ([]string, error)

	// Schemas returns the non-system schemas of a database.
	Schemas(ctx context.Context, database string) ([]string, error)

	// Objects returns the documentable objects of one schema with kind.
	Objects(ctx context.Context, database, schema string) ([]ObjectRow, error)

	// Columns returns the ordered column rows of a table or view.
	Columns(ctx context.Context, database, schema, object string) ([]ColumnRow, error)

	// Indexes returns the index rows of a table or view.
	Indexes(ctx context.Context, database, schema, object string) ([]IndexRow, error)

	// Parameters returns the ordered parameter rows of a routine.
	Parameters(ctx context.Context, database, schema, object string) ([]ParameterRow, error)

	// SchemaDescription returns the free-text description of a schema,
	// or "" when none is recorded.
	SchemaDescription(ctx context.Context, database, schema string) (string, error)

	// ObjectDescription returns the free-text description of an object,
	// or "" when none is recorded.
	ObjectDescription(ctx context.Context, database, schema, object string) (string, error)

	// Dependencies returns all dependency edge rows recorded for objects
	// of a database.
	Dependencies(ctx context.Context, database string) ([]DependencyRow, error)

	// Close releases the database connection.
	Close() error
}

// ConnectParams carries adapter-agnostic connection settings.
// Fields not meaningful for a given engine are ignored by its adapter.
type ConnectParams struct {
	Host     string
	Port     int // 0 = adapter default
	Database string
	Username string
	Password string

	Encrypt bool   // SQL Server
	SSLMode string // PostgreSQL
}
