package doctree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbscribe/dbscribe/pkg/adapters/metadata"
	"github.com/dbscribe/dbscribe/pkg/graph"
)

// plainRenderer renders traceable plain-text bodies.
type plainRenderer struct{}

func (plainRenderer) RenderDatabase(db string) string { return "database " + db }

func (plainRenderer) RenderSchema(db, schema, description string) string {
	return fmt.Sprintf("schema %s.%s %s", db, schema, description)
}

func (plainRenderer) RenderGroup(db, schema string, kind metadata.ObjectKind) string {
	return fmt.Sprintf("group %s %s.%s", kind, db, schema)
}

func (plainRenderer) RenderObject(node *graph.Node, dependsOn, usedBy []graph.ObjectName) string {
	return fmt.Sprintf("object %s deps=%d used=%d", node.Name, len(dependsOn), len(usedBy))
}

func buildGraph(t *testing.T, nodes []*graph.Node, edges [][2]string) *graph.Graph {
	t.Helper()
	g := graph.NewGraph()
	for _, n := range nodes {
		g.AddNode(n)
	}
	for _, e := range edges {
		g.AddEdge(e[0], e[1])
	}
	return g
}

func TestBuildSingleObjectChain(t *testing.T) {
	g := buildGraph(t, []*graph.Node{
		{Name: graph.ObjectName{Database: "MY_DB", Schema: "dbo", Name: "Clients"}, Kind: metadata.KindTable},
	}, nil)

	roots := NewBuilder(plainRenderer{}).Build(g)
	require.Len(t, roots, 1)

	db := roots[0]
	assert.Equal(t, "db:my_db", db.Key)
	assert.Equal(t, "DATABASE: MY_DB", db.Title)

	require.Len(t, db.Children, 1)
	schema := db.Children[0]
	assert.Equal(t, "schema:my_db.dbo", schema.Key)
	assert.Equal(t, "MY_DB.dbo", schema.Title)

	require.Len(t, schema.Children, 1)
	group := schema.Children[0]
	assert.Equal(t, "group:my_db.dbo.tables", group.Key)
	assert.Equal(t, "Tables MY_DB.dbo", group.Title)

	require.Len(t, group.Children, 1)
	object := group.Children[0]
	assert.Equal(t, "object:my_db.dbo.clients", object.Key)
	assert.Equal(t, "MY_DB.dbo.Clients", object.Title)
}

func TestBuildGroupOrderAndAlphaSort(t *testing.T) {
	g := buildGraph(t, []*graph.Node{
		{Name: graph.ObjectName{Database: "app", Schema: "dbo", Name: "zeta"}, Kind: metadata.KindTable},
		{Name: graph.ObjectName{Database: "app", Schema: "dbo", Name: "Alpha"}, Kind: metadata.KindTable},
		{Name: graph.ObjectName{Database: "app", Schema: "dbo", Name: "GetUser"}, Kind: metadata.KindProcedure},
		{Name: graph.ObjectName{Database: "app", Schema: "dbo", Name: "UserView"}, Kind: metadata.KindView},
	}, nil)

	roots := NewBuilder(plainRenderer{}).Build(g)
	require.Len(t, roots, 1)
	schema := roots[0].Children[0]

	// Fixed group order, empty groups omitted.
	require.Len(t, schema.Children, 3)
	assert.Equal(t, "Tables app.dbo", schema.Children[0].Title)
	assert.Equal(t, "Views app.dbo", schema.Children[1].Title)
	assert.Equal(t, "Procedures app.dbo", schema.Children[2].Title)

	// Case-insensitive alphabetical order inside a group.
	tables := schema.Children[0].Children
	require.Len(t, tables, 2)
	assert.Equal(t, "app.dbo.Alpha", tables[0].Title)
	assert.Equal(t, "app.dbo.zeta", tables[1].Title)
}

func TestBuildDeterministic(t *testing.T) {
	make3 := func() *graph.Graph {
		return buildGraph(t, []*graph.Node{
			{Name: graph.ObjectName{Database: "b_db", Schema: "s", Name: "T1"}, Kind: metadata.KindTable},
			{Name: graph.ObjectName{Database: "a_db", Schema: "s", Name: "T2"}, Kind: metadata.KindTable},
			{Name: graph.ObjectName{Database: "a_db", Schema: "s", Name: "V1"}, Kind: metadata.KindView},
		}, [][2]string{{"a_db.s.t2", "a_db.s.v1"}})
	}

	first := NewBuilder(plainRenderer{}).Build(make3())
	second := NewBuilder(plainRenderer{}).Build(make3())
	require.Equal(t, first, second)

	// Databases sorted by name.
	assert.Equal(t, "DATABASE: a_db", first[0].Title)
	assert.Equal(t, "DATABASE: b_db", first[1].Title)
}

func TestBuildExternalNodesExcluded(t *testing.T) {
	g := buildGraph(t, []*graph.Node{
		{Name: graph.ObjectName{Database: "app", Schema: "dbo", Name: "Report"}, Kind: metadata.KindView},
		{Name: graph.ObjectName{Database: "shared", Schema: "ref", Name: "Countries"}, Kind: metadata.KindTable, External: true},
	}, [][2]string{{"shared.ref.countries", "app.dbo.report"}})

	roots := NewBuilder(plainRenderer{}).Build(g)
	require.Len(t, roots, 1)
	assert.Equal(t, "DATABASE: app", roots[0].Title)

	// The external dependency still shows in the object body.
	object := roots[0].Children[0].Children[0].Children[0]
	assert.Contains(t, object.Body, "deps=1")
}

func TestHashBodyStable(t *testing.T) {
	assert.Equal(t, HashBody("abc"), HashBody("abc"))
	assert.NotEqual(t, HashBody("abc"), HashBody("abd"))
	assert.Len(t, HashBody(""), 64)
}
