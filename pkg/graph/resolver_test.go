package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dbscribe/dbscribe/pkg/adapters/metadata"
	"github.com/dbscribe/dbscribe/pkg/apperrors"
)

// fakeSource serves canned catalog metadata.
type fakeSource struct {
	databases    []string
	schemas      map[string][]string                 // db -> schemas
	objects      map[string][]metadata.ObjectRow     // db -> objects
	dependencies map[string][]metadata.DependencyRow // db -> rows
	depsErr      map[string]error
	schemasErr   error
}

func (f *fakeSource) Databases(ctx context.Context) ([]string, error) {
	return f.databases, nil
}

func (f *fakeSource) Schemas(ctx context.Context, db string) ([]string, error) {
	if f.schemasErr != nil {
		return nil, f.schemasErr
	}
	return f.schemas[db], nil
}

func (f *fakeSource) Objects(ctx context.Context, db, schema string) ([]metadata.ObjectRow, error) {
	var out []metadata.ObjectRow
	for _, o := range f.objects[db] {
		if o.Schema == schema {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeSource) Columns(ctx context.Context, db, schema, object string) ([]metadata.ColumnRow, error) {
	return []metadata.ColumnRow{{Name: "id", DataType: "int", Ordinal: 1}}, nil
}

func (f *fakeSource) Indexes(ctx context.Context, db, schema, object string) ([]metadata.IndexRow, error) {
	return nil, nil
}

func (f *fakeSource) Parameters(ctx context.Context, db, schema, object string) ([]metadata.ParameterRow, error) {
	return nil, nil
}

func (f *fakeSource) SchemaDescription(ctx context.Context, db, schema string) (string, error) {
	return "", nil
}

func (f *fakeSource) ObjectDescription(ctx context.Context, db, schema, object string) (string, error) {
	return "", nil
}

func (f *fakeSource) Dependencies(ctx context.Context, db string) ([]metadata.DependencyRow, error) {
	if err := f.depsErr[db]; err != nil {
		return nil, err
	}
	return f.dependencies[db], nil
}

func (f *fakeSource) Close() error { return nil }

func newResolver(t *testing.T, src metadata.Source) *Resolver {
	t.Helper()
	return NewResolver(src, zaptest.NewLogger(t))
}

func TestResolveCycleTerminates(t *testing.T) {
	src := &fakeSource{
		databases: []string{"app"},
		schemas:   map[string][]string{"app": {"dbo"}},
		objects: map[string][]metadata.ObjectRow{
			"app": {
				{Schema: "dbo", Name: "ViewA", Kind: metadata.KindView},
				{Schema: "dbo", Name: "ViewB", Kind: metadata.KindView},
			},
		},
		dependencies: map[string][]metadata.DependencyRow{
			"app": {
				{Schema: "dbo", Object: "ViewA", RefSchema: "dbo", RefName: "ViewB"},
				{Schema: "dbo", Object: "ViewB", RefSchema: "dbo", RefName: "ViewA"},
			},
		},
	}

	g, err := newResolver(t, src).Resolve(context.Background())
	require.NoError(t, err)

	assert.Len(t, g.Nodes, 2)
	assert.Len(t, g.Edges, 2)
}

func TestResolveDedupesEdges(t *testing.T) {
	src := &fakeSource{
		databases: []string{"app"},
		schemas:   map[string][]string{"app": {"dbo"}},
		objects: map[string][]metadata.ObjectRow{
			"app": {
				{Schema: "dbo", Name: "Orders", Kind: metadata.KindTable},
				{Schema: "dbo", Name: "OrderView", Kind: metadata.KindView},
			},
		},
		dependencies: map[string][]metadata.DependencyRow{
			"app": {
				{Schema: "dbo", Object: "OrderView", RefSchema: "dbo", RefName: "Orders"},
				{Schema: "dbo", Object: "OrderView", RefSchema: "dbo", RefName: "Orders"},
				// Case variants hit the same node.
				{Schema: "dbo", Object: "OrderView", RefSchema: "DBO", RefName: "ORDERS"},
			},
		},
	}

	g, err := newResolver(t, src).Resolve(context.Background())
	require.NoError(t, err)

	require.Len(t, g.Edges, 1)
	assert.Equal(t, "app.dbo.orders", g.Edges[0].Source)
	assert.Equal(t, "app.dbo.orderview", g.Edges[0].Target)
}

func TestResolveDanglingReference(t *testing.T) {
	src := &fakeSource{
		databases: []string{"app"},
		schemas:   map[string][]string{"app": {"dbo"}},
		objects: map[string][]metadata.ObjectRow{
			"app": {{Schema: "dbo", Name: "OrderView", Kind: metadata.KindView}},
		},
		dependencies: map[string][]metadata.DependencyRow{
			"app": {{Schema: "dbo", Object: "OrderView", RefName: "DroppedTable"}},
		},
	}

	g, err := newResolver(t, src).Resolve(context.Background())
	require.NoError(t, err)

	assert.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Edges)
	require.Len(t, g.Dangling, 1)
	// Missing database and schema parts are filled in before reporting.
	assert.Equal(t, "app.dbo.DroppedTable", g.Dangling[0])
}

func TestResolveIsolatedNodeIncluded(t *testing.T) {
	src := &fakeSource{
		databases: []string{"app"},
		schemas:   map[string][]string{"app": {"dbo"}},
		objects: map[string][]metadata.ObjectRow{
			"app": {{Schema: "dbo", Name: "Standalone", Kind: metadata.KindTable}},
		},
	}

	g, err := newResolver(t, src).Resolve(context.Background())
	require.NoError(t, err)

	require.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Edges)
	node := g.Nodes["app.dbo.standalone"]
	require.NotNil(t, node)
	assert.False(t, node.External)
	assert.NotEmpty(t, node.Columns)
}

func TestResolveCrossDatabaseExternalNode(t *testing.T) {
	src := &fakeSource{
		databases: []string{"app"},
		schemas: map[string][]string{
			"app":    {"dbo"},
			"shared": {"ref"},
		},
		objects: map[string][]metadata.ObjectRow{
			"app":    {{Schema: "dbo", Name: "Report", Kind: metadata.KindView}},
			"shared": {{Schema: "ref", Name: "Countries", Kind: metadata.KindTable}},
		},
		dependencies: map[string][]metadata.DependencyRow{
			"app": {
				{Schema: "dbo", Object: "Report", RefDatabase: "shared", RefSchema: "ref", RefName: "Countries"},
			},
		},
	}

	r := newResolver(t, src)
	r.Databases = []string{"app"}
	r.DependencyDatabases = []string{"shared"}

	g, err := r.Resolve(context.Background())
	require.NoError(t, err)

	require.Len(t, g.Nodes, 2)
	ext := g.Nodes["shared.ref.countries"]
	require.NotNil(t, ext)
	assert.True(t, ext.External)
	assert.Empty(t, ext.Columns)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, Edge{Source: "shared.ref.countries", Target: "app.dbo.report"}, g.Edges[0])
}

func TestResolveSchemaFilter(t *testing.T) {
	src := &fakeSource{
		databases: []string{"app"},
		schemas:   map[string][]string{"app": {"dbo", "audit"}},
		objects: map[string][]metadata.ObjectRow{
			"app": {
				{Schema: "dbo", Name: "Orders", Kind: metadata.KindTable},
				{Schema: "audit", Name: "Log", Kind: metadata.KindTable},
			},
		},
	}

	r := newResolver(t, src)
	r.Schemas = []string{"dbo"}

	g, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Len(t, g.Nodes, 1)
	assert.Contains(t, g.Nodes, "app.dbo.orders")
}

func TestResolveDependencyQueryFailureIsNotFatal(t *testing.T) {
	src := &fakeSource{
		databases: []string{"app"},
		schemas:   map[string][]string{"app": {"dbo"}},
		objects: map[string][]metadata.ObjectRow{
			"app": {{Schema: "dbo", Name: "Orders", Kind: metadata.KindTable}},
		},
		depsErr: map[string]error{"app": errors.New("permission denied")},
	}

	g, err := newResolver(t, src).Resolve(context.Background())
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Edges)
}

func TestResolveEnumerationFailureIsFatal(t *testing.T) {
	src := &fakeSource{
		databases:  []string{"app"},
		schemasErr: errors.New("login failed"),
	}

	_, err := newResolver(t, src).Resolve(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrMetadataUnavailable)
}
