package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbscribe/dbscribe/pkg/adapters/metadata"
)

func TestObjectNameKeyCaseInsensitive(t *testing.T) {
	a := ObjectName{Database: "MY_DB", Schema: "DBO", Name: "Clients"}
	b := ObjectName{Database: "my_db", Schema: "dbo", Name: "clients"}
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "MY_DB.DBO.Clients", a.String())
}

func TestGraphAddNodeDedup(t *testing.T) {
	g := NewGraph()
	first := g.AddNode(&Node{Name: ObjectName{Database: "a", Schema: "s", Name: "T"}, Kind: metadata.KindTable})
	second := g.AddNode(&Node{Name: ObjectName{Database: "A", Schema: "S", Name: "t"}, Kind: metadata.KindView})

	assert.Same(t, first, second)
	assert.Len(t, g.Nodes, 1)
	assert.Equal(t, metadata.KindTable, second.Kind)
}

func TestGraphAddEdgeDedupAndSelfLoop(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{Name: ObjectName{Database: "a", Schema: "s", Name: "t"}})
	g.AddNode(&Node{Name: ObjectName{Database: "a", Schema: "s", Name: "v"}})

	g.AddEdge("a.s.t", "a.s.v")
	g.AddEdge("a.s.t", "a.s.v")
	g.AddEdge("a.s.v", "a.s.v")

	assert.Len(t, g.Edges, 1)
	assert.Equal(t, []string{"a.s.t"}, g.Dependencies("a.s.v"))
	assert.Empty(t, g.Dependencies("a.s.t"))
}
