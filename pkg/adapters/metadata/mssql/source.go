package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/dbscribe/dbscribe/pkg/adapters/metadata"
)

// DefaultPort is the default SQL Server port.
const DefaultPort = 1433

// Source implements metadata.Source for SQL Server.
// One connection serves all databases on the server; queries qualify
// catalog views with the target database name.
type Source struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens a SQL Server metadata source.
// If logger is nil, a no-op logger is used.
func New(ctx context.Context, params metadata.ConnectParams, logger *zap.Logger) (*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	port := params.Port
	if port == 0 {
		port = DefaultPort
	}

	query := url.Values{}
	query.Add("database", params.Database)
	if params.Encrypt {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
		query.Add("TrustServerCertificate", "true")
	}

	connStr := fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(params.Username),
		url.QueryEscape(params.Password),
		params.Host,
		port,
		query.Encode(),
	)

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s:%d: %w", params.Host, port, err)
	}

	return &Source{db: db, logger: logger.Named("mssql")}, nil
}

// quoteName escapes a SQL Server identifier with square brackets.
func quoteName(identifier string) string {
	escaped := strings.ReplaceAll(identifier, "]", "]]")
	return fmt.Sprintf("[%s]", escaped)
}

// Databases returns user database names on the server.
func (s *Source) Databases(ctx context.Context) ([]string, error) {
	query := `
	SET NOCOUNT ON;
	SELECT name
	FROM sys.databases
	WHERE database_id > 4  -- Exclude master, tempdb, model, msdb
	ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan database row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate database rows: %w", err)
	}
	return names, nil
}

// Schemas returns the schemas of a database that contain documentable
// objects (tables, views, procedures, functions).
func (s *Source) Schemas(ctx context.Context, database string) ([]string, error) {
	query := fmt.Sprintf(`
	SET NOCOUNT ON;
	SELECT DISTINCT sch.name
	FROM %[1]s.sys.schemas sch
	INNER JOIN %[1]s.sys.objects o ON o.schema_id = sch.schema_id
	WHERE o.type IN ('U', 'V', 'P', 'FN', 'IF', 'TF')
	  AND o.is_ms_shipped = 0
	ORDER BY sch.name
	`, quoteName(database))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query schemas of %s: %w", database, err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		schemas = append(schemas, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema rows: %w", err)
	}
	return schemas, nil
}

// mapObjectType converts a sys.objects type code to an ObjectKind.
// Returns "" for types that are not documented.
func mapObjectType(code string) metadata.ObjectKind {
	switch strings.TrimSpace(code) {
	case "U":
		return metadata.KindTable
	case "V":
		return metadata.KindView
	case "P":
		return metadata.KindProcedure
	case "FN", "IF", "TF":
		return metadata.KindFunction
	default:
		return ""
	}
}

// Objects returns the documentable objects of one schema.
func (s *Source) Objects(ctx context.Context, database, schema string) ([]metadata.ObjectRow, error) {
	query := fmt.Sprintf(`
	SET NOCOUNT ON;
	SELECT o.name, o.type
	FROM %[1]s.sys.objects o
	INNER JOIN %[1]s.sys.schemas sch ON o.schema_id = sch.schema_id
	WHERE sch.name = @schema
	  AND o.type IN ('U', 'V', 'P', 'FN', 'IF', 'TF')
	  AND o.is_ms_shipped = 0
	ORDER BY o.name
	`, quoteName(database))

	rows, err := s.db.QueryContext(ctx, query, sql.Named("schema", schema))
	if err != nil {
		return nil, fmt.Errorf("query objects of %s.%s: %w", database, schema, err)
	}
	defer rows.Close()

	var objects []metadata.ObjectRow
	for rows.Next() {
		var name, typeCode string
		if err := rows.Scan(&name, &typeCode); err != nil {
			return nil, fmt.Errorf("scan object row: %w", err)
		}
		kind := mapObjectType(typeCode)
		if kind == "" {
			continue
		}
		objects = append(objects, metadata.ObjectRow{Schema: schema, Name: name, Kind: kind})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate object rows: %w", err)
	}
	return objects, nil
}

// Columns returns the ordered columns of a table or view, including the
// MS_Description extended property when present.
func (s *Source) Columns(ctx context.Context, database, schema, object string) ([]metadata.ColumnRow, error) {
	query := fmt.Sprintf(`
	SET NOCOUNT ON;
	SELECT
	    c.name,
	    tp.name AS data_type,
	    c.is_nullable,
	    c.column_id,
	    ISNULL(CAST(ep.value AS NVARCHAR(MAX)), '') AS description
	FROM %[1]s.sys.columns c
	INNER JOIN %[1]s.sys.types tp ON c.user_type_id = tp.user_type_id
	INNER JOIN %[1]s.sys.objects o ON c.object_id = o.object_id
	INNER JOIN %[1]s.sys.schemas sch ON o.schema_id = sch.schema_id
	LEFT JOIN %[1]s.sys.extended_properties ep
	    ON ep.major_id = c.object_id AND ep.minor_id = c.column_id
	   AND ep.class = 1 AND ep.name = 'MS_Description'
	WHERE sch.name = @schema AND o.name = @object
	ORDER BY c.column_id
	`, quoteName(database))

	rows, err := s.db.QueryContext(ctx, query,
		sql.Named("schema", schema),
		sql.Named("object", object),
	)
	if err != nil {
		return nil, fmt.Errorf("query columns of %s.%s.%s: %w", database, schema, object, err)
	}
	defer rows.Close()

	var columns []metadata.ColumnRow
	for rows.Next() {
		var col metadata.ColumnRow
		if err := rows.Scan(&col.Name, &col.DataType, &col.Nullable, &col.Ordinal, &col.Description); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return columns, nil
}

// Indexes returns the indexes of a table or view with their key columns.
func (s *Source) Indexes(ctx context.Context, database, schema, object string) ([]metadata.IndexRow, error) {
	query := fmt.Sprintf(`
	SET NOCOUNT ON;
	SELECT
	    i.name,
	    i.type_desc,
	    i.is_unique,
	    i.is_primary_key,
	    c.name AS column_name
	FROM %[1]s.sys.indexes i
	INNER JOIN %[1]s.sys.objects o ON i.object_id = o.object_id
	INNER JOIN %[1]s.sys.schemas sch ON o.schema_id = sch.schema_id
	INNER JOIN %[1]s.sys.index_columns ic
	    ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	INNER JOIN %[1]s.sys.columns c
	    ON c.object_id = ic.object_id AND c.column_id = ic.column_id
	WHERE sch.name = @schema AND o.name = @object
	  AND i.name IS NOT NULL
	ORDER BY i.name, ic.key_ordinal
	`, quoteName(database))

	rows, err := s.db.QueryContext(ctx, query,
		sql.Named("schema", schema),
		sql.Named("object", object),
	)
	if err != nil {
		return nil, fmt.Errorf("query indexes of %s.%s.%s: %w", database, schema, object, err)
	}
	defer rows.Close()

	var indexes []metadata.IndexRow
	byName := make(map[string]int)
	for rows.Next() {
		var name, typeDesc, columnName string
		var unique, primary bool
		if err := rows.Scan(&name, &typeDesc, &unique, &primary, &columnName); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		idx, ok := byName[name]
		if !ok {
			indexes = append(indexes, metadata.IndexRow{
				Name:    name,
				Type:    typeDesc,
				Unique:  unique,
				Primary: primary,
			})
			idx = len(indexes) - 1
			byName[name] = idx
		}
		indexes[idx].Columns = append(indexes[idx].Columns, columnName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index rows: %w", err)
	}
	return indexes, nil
}

// Parameters returns the ordered parameters of a procedure or function.
func (s *Source) Parameters(ctx context.Context, database, schema, object string) ([]metadata.ParameterRow, error) {
	query := fmt.Sprintf(`
	SET NOCOUNT ON;
	SELECT
	    p.name,
	    tp.name AS data_type,
	    p.parameter_id,
	    p.is_output
	FROM %[1]s.sys.parameters p
	INNER JOIN %[1]s.sys.types tp ON p.user_type_id = tp.user_type_id
	INNER JOIN %[1]s.sys.objects o ON p.object_id = o.object_id
	INNER JOIN %[1]s.sys.schemas sch ON o.schema_id = sch.schema_id
	WHERE sch.name = @schema AND o.name = @object
	  AND p.parameter_id > 0  -- Skip the return value slot
	ORDER BY p.parameter_id
	`, quoteName(database))

	rows, err := s.db.QueryContext(ctx, query,
		sql.Named("schema", schema),
		sql.Named("object", object),
	)
	if err != nil {
		return nil, fmt.Errorf("query parameters of %s.%s.%s: %w", database, schema, object, err)
	}
	defer rows.Close()

	var params []metadata.ParameterRow
	for rows.Next() {
		var p metadata.ParameterRow
		if err := rows.Scan(&p.Name, &p.DataType, &p.Ordinal, &p.Output); err != nil {
			return nil, fmt.Errorf("scan parameter row: %w", err)
		}
		params = append(params, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parameter rows: %w", err)
	}
	return params, nil
}

// SchemaDescription returns the MS_Description extended property of a
// schema, or "" when none is recorded.
func (s *Source) SchemaDescription(ctx context.Context, database, schema string) (string, error) {
	query := fmt.Sprintf(`
	SET NOCOUNT ON;
	SELECT ISNULL(CAST(ep.value AS NVARCHAR(MAX)), '')
	FROM %[1]s.sys.extended_properties ep
	INNER JOIN %[1]s.sys.schemas sch ON ep.major_id = sch.schema_id
	WHERE ep.class = 3 AND ep.name = 'MS_Description'
	  AND sch.name = @schema
	`, quoteName(database))

	var description string
	err := s.db.QueryRowContext(ctx, query, sql.Named("schema", schema)).Scan(&description)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query schema description of %s.%s: %w", database, schema, err)
	}
	return description, nil
}

// ObjectDescription returns the MS_Description extended property of an
// object, or "" when none is recorded.
func (s *Source) ObjectDescription(ctx context.Context, database, schema, object string) (string, error) {
	query := fmt.Sprintf(`
	SET NOCOUNT ON;
	SELECT ISNULL(CAST(ep.value AS NVARCHAR(MAX)), '')
	FROM %[1]s.sys.extended_properties ep
	INNER JOIN %[1]s.sys.objects o ON ep.major_id = o.object_id
	INNER JOIN %[1]s.sys.schemas sch ON o.schema_id = sch.schema_id
	WHERE ep.class = 1 AND ep.minor_id = 0 AND ep.name = 'MS_Description'
	  AND sch.name = @schema AND o.name = @object
	`, quoteName(database))

	var description string
	err := s.db.QueryRowContext(ctx, query,
		sql.Named("schema", schema),
		sql.Named("object", object),
	).Scan(&description)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query object description of %s.%s.%s: %w", database, schema, object, err)
	}
	return description, nil
}

// Dependencies returns all dependency edge rows recorded for objects of
// a database. The referenced database and schema are empty when the
// reference was written unqualified.
func (s *Source) Dependencies(ctx context.Context, database string) ([]metadata.DependencyRow, error) {
	query := fmt.Sprintf(`
	SET NOCOUNT ON;
	SELECT
	    sch.name AS referencing_schema,
	    o.name AS referencing_object,
	    ISNULL(d.referenced_database_name, '') AS referenced_database,
	    ISNULL(d.referenced_schema_name, '') AS referenced_schema,
	    d.referenced_entity_name
	FROM %[1]s.sys.sql_expression_dependencies d
	INNER JOIN %[1]s.sys.objects o ON d.referencing_id = o.object_id
	INNER JOIN %[1]s.sys.schemas sch ON o.schema_id = sch.schema_id
	WHERE o.is_ms_shipped = 0
	ORDER BY sch.name, o.name, d.referenced_entity_name
	`, quoteName(database))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query dependencies of %s: %w", database, err)
	}
	defer rows.Close()

	var deps []metadata.DependencyRow
	for rows.Next() {
		var d metadata.DependencyRow
		if err := rows.Scan(&d.Schema, &d.Object, &d.RefDatabase, &d.RefSchema, &d.RefName); err != nil {
			return nil, fmt.Errorf("scan dependency row: %w", err)
		}
		deps = append(deps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependency rows: %w", err)
	}
	return deps, nil
}

// Close releases the database connection.
func (s *Source) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure Source implements metadata.Source at compile time.
var _ metadata.Source = (*Source)(nil)
