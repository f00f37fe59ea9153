// Package graph builds the dependency graph of database objects that a
// documentation run covers: every object of the documented databases
// plus everything reachable from them through recorded dependencies.
package graph

import (
	"fmt"
	"strings"

	"github.com/dbscribe/dbscribe/pkg/adapters/metadata"
)

// ObjectName identifies a database object across databases.
type ObjectName struct {
	Database string
	Schema   string
	Name     string
}

// String renders the fully qualified name.
func (n ObjectName) String() string {
	return fmt.Sprintf("%s.%s.%s", n.Database, n.Schema, n.Name)
}

// Key returns the case-insensitive identity of the object. SQL Server
// identifiers compare case-insensitively under the common collations,
// so two spellings of one name must map to one node.
func (n ObjectName) Key() string {
	return strings.ToLower(n.String())
}

// Node is one database object with its detail rows.
type Node struct {
	Name        ObjectName
	Kind        metadata.ObjectKind
	Description string
	Columns     []metadata.ColumnRow
	Indexes     []metadata.IndexRow
	Parameters  []metadata.ParameterRow

	// External marks nodes that were reached only through a dependency
	// edge from a documented database. They carry no detail rows.
	External bool
}

// Edge is a directed dependency: Target depends on Source. Keys are
// ObjectName.Key values of nodes in the same graph.
type Edge struct {
	Source string
	Target string
}

// Graph holds the resolved nodes keyed by ObjectName.Key, the deduped
// edge set, and the references that could not be matched to any known
// object.
type Graph struct {
	Nodes    map[string]*Node
	Edges    []Edge
	Dangling []string

	edgeSet map[Edge]struct{}
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes:   make(map[string]*Node),
		edgeSet: make(map[Edge]struct{}),
	}
}

// AddNode inserts a node unless one with the same key already exists,
// and returns the node stored under that key.
func (g *Graph) AddNode(node *Node) *Node {
	key := node.Name.Key()
	if existing, ok := g.Nodes[key]; ok {
		return existing
	}
	g.Nodes[key] = node
	return node
}

// AddEdge records a dependency edge, ignoring duplicates and self-loops.
// Both endpoints must already be present as nodes.
func (g *Graph) AddEdge(source, target string) {
	if source == target {
		return
	}
	e := Edge{Source: source, Target: target}
	if _, ok := g.edgeSet[e]; ok {
		return
	}
	g.edgeSet[e] = struct{}{}
	g.Edges = append(g.Edges, e)
}

// Dependencies returns the keys of the nodes that key depends on.
func (g *Graph) Dependencies(key string) []string {
	var deps []string
	for _, e := range g.Edges {
		if e.Target == key {
			deps = append(deps, e.Source)
		}
	}
	return deps
}
