package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dbscribe/dbscribe/pkg/adapters/metadata"
)

// DefaultPort is the default PostgreSQL port.
const DefaultPort = 5432

// Source implements metadata.Source for PostgreSQL.
//
// A PostgreSQL connection is scoped to one database; the catalog of
// other databases on the same server is not reachable through it.
// Databases therefore reports only the connected database, and
// Dependencies returns nothing for any other database name.
type Source struct {
	pool     *pgxpool.Pool
	database string
	logger   *zap.Logger
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields must be URL-escaped to handle special
// characters in passwords (e.g., @, /, #, ?) that would otherwise
// break URL parsing.
func buildConnectionString(params metadata.ConnectParams) string {
	port := params.Port
	if port == 0 {
		port = DefaultPort
	}
	sslMode := params.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(params.Username),
		url.QueryEscape(params.Password),
		params.Host,
		port,
		url.QueryEscape(params.Database),
		sslMode,
	)
}

// New opens a PostgreSQL metadata source.
func New(ctx context.Context, params metadata.ConnectParams, logger *zap.Logger) (*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, buildConnectionString(params))
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Source{
		pool:     pool,
		database: params.Database,
		logger:   logger.Named("postgres"),
	}, nil
}

// Databases returns the single database this source is connected to.
func (s *Source) Databases(ctx context.Context) ([]string, error) {
	return []string{s.database}, nil
}

// Schemas returns the non-system schemas that contain documentable objects.
func (s *Source) Schemas(ctx context.Context, database string) ([]string, error) {
	if !s.isConnectedDatabase(database) {
		return nil, nil
	}

	query := `
	SELECT DISTINCT n.nspname
	FROM pg_catalog.pg_namespace n
	WHERE n.nspname NOT LIKE 'pg\_%'
	  AND n.nspname <> 'information_schema'
	  AND (
	    EXISTS (
	      SELECT 1 FROM pg_catalog.pg_class c
	      WHERE c.relnamespace = n.oid AND c.relkind IN ('r', 'p', 'v', 'm')
	    )
	    OR EXISTS (
	      SELECT 1 FROM pg_catalog.pg_proc p
	      WHERE p.pronamespace = n.oid AND p.prokind IN ('f', 'p')
	    )
	  )
	ORDER BY n.nspname
	`

	rows, err := s.pool.Query(ctx, query)
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

// Objects returns the tables, views, procedures and functions of one schema.
// Materialized views are reported as views and partitioned tables as tables.
func (s *Source) Objects(ctx context.Context, database, schema string) ([]metadata.ObjectRow, error) {
	if !s.isConnectedDatabase(database) {
		return nil, nil
	}

	query := `
	SELECT c.relname,
	       CASE c.relkind WHEN 'v' THEN 'view' WHEN 'm' THEN 'view' ELSE 'table' END
	FROM pg_catalog.pg_class c
	JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relkind IN ('r', 'p', 'v', 'm')
	UNION ALL
	SELECT p.proname,
	       CASE p.prokind WHEN 'p' THEN 'procedure' ELSE 'function' END
	FROM pg_catalog.pg_proc p
	JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
	WHERE n.nspname = $1 AND p.prokind IN ('f', 'p')
	ORDER BY 1
	`

	rows, err := s.pool.Query(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("query objects of %s.%s: %w", database, schema, err)
	}
	defer rows.Close()

	var objects []metadata.ObjectRow
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return nil, fmt.Errorf("scan object row: %w", err)
		}
		objects = append(objects, metadata.ObjectRow{
			Schema: schema,
			Name:   name,
			Kind:   metadata.ObjectKind(kind),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate object rows: %w", err)
	}
	return objects, nil
}

// Columns returns the ordered columns of a table or view with comments.
func (s *Source) Columns(ctx context.Context, database, schema, object string) ([]metadata.ColumnRow, error) {
	if !s.isConnectedDatabase(database) {
		return nil, nil
	}

	query := `
	SELECT a.attname,
	       pg_catalog.format_type(a.atttypid, a.atttypmod),
	       NOT a.attnotnull,
	       a.attnum,
	       COALESCE(pg_catalog.col_description(a.attrelid, a.attnum), '')
	FROM pg_catalog.pg_attribute a
	JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
	JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relname = $2
	  AND a.attnum > 0 AND NOT a.attisdropped
	ORDER BY a.attnum
	`

	rows, err := s.pool.Query(ctx, query, schema, object)
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

// Indexes returns the indexes of a table with their key columns in order.
func (s *Source) Indexes(ctx context.Context, database, schema, object string) ([]metadata.IndexRow, error) {
	if !s.isConnectedDatabase(database) {
		return nil, nil
	}

	query := `
	SELECT ic.relname,
	       am.amname,
	       ix.indisunique,
	       ix.indisprimary,
	       COALESCE(a.attname, '')
	FROM pg_catalog.pg_index ix
	JOIN pg_catalog.pg_class ic ON ic.oid = ix.indexrelid
	JOIN pg_catalog.pg_class tc ON tc.oid = ix.indrelid
	JOIN pg_catalog.pg_namespace n ON n.oid = tc.relnamespace
	JOIN pg_catalog.pg_am am ON am.oid = ic.relam
	CROSS JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
	LEFT JOIN pg_catalog.pg_attribute a
	    ON a.attrelid = tc.oid AND a.attnum = k.attnum
	WHERE n.nspname = $1 AND tc.relname = $2
	ORDER BY ic.relname, k.ord
	`

	rows, err := s.pool.Query(ctx, query, schema, object)
	if err != nil {
		return nil, fmt.Errorf("query indexes of %s.%s.%s: %w", database, schema, object, err)
	}
	defer rows.Close()

	var indexes []metadata.IndexRow
	byName := make(map[string]int)
	for rows.Next() {
		var name, amName, columnName string
		var unique, primary bool
		if err := rows.Scan(&name, &amName, &unique, &primary, &columnName); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		idx, ok := byName[name]
		if !ok {
			indexes = append(indexes, metadata.IndexRow{
				Name:    name,
				Type:    strings.ToUpper(amName),
				Unique:  unique,
				Primary: primary,
			})
			idx = len(indexes) - 1
			byName[name] = idx
		}
		if columnName != "" {
			indexes[idx].Columns = append(indexes[idx].Columns, columnName)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index rows: %w", err)
	}
	return indexes, nil
}

// Parameters returns the ordered parameters of a function or procedure.
func (s *Source) Parameters(ctx context.Context, database, schema, object string) ([]metadata.ParameterRow, error) {
	if !s.isConnectedDatabase(database) {
		return nil, nil
	}

	query := `
	SELECT COALESCE(p.parameter_name, ''),
	       p.data_type,
	       p.ordinal_position,
	       p.parameter_mode IN ('OUT', 'INOUT')
	FROM information_schema.parameters p
	JOIN information_schema.routines r
	    ON r.specific_schema = p.specific_schema
	   AND r.specific_name = p.specific_name
	WHERE r.routine_schema = $1 AND r.routine_name = $2
	  AND p.ordinal_position > 0
	ORDER BY p.ordinal_position
	`

	rows, err := s.pool.Query(ctx, query, schema, object)
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

// SchemaDescription returns the comment on a schema, or "".
func (s *Source) SchemaDescription(ctx context.Context, database, schema string) (string, error) {
	if !s.isConnectedDatabase(database) {
		return "", nil
	}

	query := `
	SELECT COALESCE(pg_catalog.obj_description(n.oid, 'pg_namespace'), '')
	FROM pg_catalog.pg_namespace n
	WHERE n.nspname = $1
	`

	var description string
	err := s.pool.QueryRow(ctx, query, schema).Scan(&description)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query schema description of %s.%s: %w", database, schema, err)
	}
	return description, nil
}

// ObjectDescription returns the comment on a relation or routine, or "".
func (s *Source) ObjectDescription(ctx context.Context, database, schema, object string) (string, error) {
	if !s.isConnectedDatabase(database) {
		return "", nil
	}

	query := `
	SELECT COALESCE(pg_catalog.obj_description(c.oid, 'pg_class'), '')
	FROM pg_catalog.pg_class c
	JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relname = $2
	UNION ALL
	SELECT COALESCE(pg_catalog.obj_description(p.oid, 'pg_proc'), '')
	FROM pg_catalog.pg_proc p
	JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
	WHERE n.nspname = $1 AND p.proname = $2
	LIMIT 1
	`

	var description string
	err := s.pool.QueryRow(ctx, query, schema, object).Scan(&description)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query object description of %s.%s.%s: %w", database, schema, object, err)
	}
	return description, nil
}

// Dependencies returns view-to-relation and view-to-routine edges for
// the connected database. Other database names yield no rows.
func (s *Source) Dependencies(ctx context.Context, database string) ([]metadata.DependencyRow, error) {
	if !s.isConnectedDatabase(database) {
		return nil, nil
	}

	query := `
	SELECT view_schema, view_name, table_schema, table_name
	FROM information_schema.view_table_usage
	WHERE view_schema NOT LIKE 'pg\_%' AND view_schema <> 'information_schema'
	UNION
	SELECT table_schema, table_name, specific_schema,
	       regexp_replace(specific_name, '_[0-9]+$', '')
	FROM information_schema.view_routine_usage
	WHERE table_schema NOT LIKE 'pg\_%' AND table_schema <> 'information_schema'
	ORDER BY 1, 2, 4
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query dependencies of %s: %w", database, err)
	}
	defer rows.Close()

	var deps []metadata.DependencyRow
	for rows.Next() {
		var d metadata.DependencyRow
		if err := rows.Scan(&d.Schema, &d.Object, &d.RefSchema, &d.RefName); err != nil {
			return nil, fmt.Errorf("scan dependency row: %w", err)
		}
		deps = append(deps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependency rows: %w", err)
	}
	return deps, nil
}

// Close releases the connection pool.
func (s *Source) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Source) isConnectedDatabase(database string) bool {
	return strings.EqualFold(database, s.database)
}

var _ metadata.Source = (*Source)(nil)
