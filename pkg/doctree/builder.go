package doctree

import (
	"sort"
	"strings"

	"github.com/dbscribe/dbscribe/pkg/adapters/metadata"
	"github.com/dbscribe/dbscribe/pkg/graph"
)

// Builder turns a resolved graph into the desired page forest. The
// output is deterministic: identical graphs produce identical trees,
// in identical order.
type Builder struct {
	renderer BodyRenderer
	// SchemaDescriptions keyed by SchemaKey. Optional.
	SchemaDescriptions map[string]string
}

// NewBuilder creates a tree builder over a body renderer.
func NewBuilder(renderer BodyRenderer) *Builder {
	return &Builder{renderer: renderer}
}

// Build returns one root PageNode per documented database, sorted by
// name. External graph nodes contribute to dependency listings only,
// never to pages of their own.
func (b *Builder) Build(g *graph.Graph) []*PageNode {
	byDB := make(map[string]map[string]schemaGroups)
	names := make(map[string]graph.ObjectName)

	for key, node := range g.Nodes {
		names[key] = node.Name
		if node.External {
			continue
		}
		db := strings.ToLower(node.Name.Database)
		schema := strings.ToLower(node.Name.Schema)
		if byDB[db] == nil {
			byDB[db] = make(map[string]schemaGroups)
		}
		if byDB[db][schema] == nil {
			byDB[db][schema] = make(schemaGroups)
		}
		byDB[db][schema][node.Kind] = append(byDB[db][schema][node.Kind], node)
	}

	dependsOn, usedBy := edgeIndex(g, names)

	var roots []*PageNode
	for _, db := range sortedKeys(byDB) {
		schemas := byDB[db]
		dbName := displayDatabase(schemas)

		dbPage := &PageNode{
			Key:   DatabaseKey(dbName),
			Title: DatabaseTitle(dbName),
			Body:  b.renderer.RenderDatabase(dbName),
		}

		for _, schema := range sortedKeys(schemas) {
			groups := schemas[schema]
			schemaName := displaySchema(groups)

			schemaPage := &PageNode{
				Key:   SchemaKey(dbName, schemaName),
				Title: SchemaTitle(dbName, schemaName),
				Body:  b.renderer.RenderSchema(dbName, schemaName, b.SchemaDescriptions[SchemaKey(dbName, schemaName)]),
			}

			for _, kind := range metadata.GroupOrder {
				nodes := groups[kind]
				if len(nodes) == 0 {
					continue
				}
				sort.Slice(nodes, func(i, j int) bool {
					return strings.ToLower(nodes[i].Name.Name) < strings.ToLower(nodes[j].Name.Name)
				})

				groupPage := &PageNode{
					Key:   GroupKey(dbName, schemaName, kind),
					Title: GroupTitle(dbName, schemaName, kind),
					Body:  b.renderer.RenderGroup(dbName, schemaName, kind),
				}
				for _, node := range nodes {
					key := node.Name.Key()
					groupPage.Children = append(groupPage.Children, &PageNode{
						Key:   ObjectKey(node.Name),
						Title: ObjectTitle(node.Name),
						Body:  b.renderer.RenderObject(node, dependsOn[key], usedBy[key]),
					})
				}
				schemaPage.Children = append(schemaPage.Children, groupPage)
			}
			dbPage.Children = append(dbPage.Children, schemaPage)
		}
		roots = append(roots, dbPage)
	}
	return roots
}

// schemaGroups collects a schema's nodes bucketed by object kind.
type schemaGroups map[metadata.ObjectKind][]*graph.Node

// edgeIndex resolves graph edges into sorted name lists per node key.
func edgeIndex(g *graph.Graph, names map[string]graph.ObjectName) (dependsOn, usedBy map[string][]graph.ObjectName) {
	dependsOn = make(map[string][]graph.ObjectName)
	usedBy = make(map[string][]graph.ObjectName)
	for _, e := range g.Edges {
		dependsOn[e.Target] = append(dependsOn[e.Target], names[e.Source])
		usedBy[e.Source] = append(usedBy[e.Source], names[e.Target])
	}
	for _, m := range []map[string][]graph.ObjectName{dependsOn, usedBy} {
		for _, list := range m {
			sort.Slice(list, func(i, j int) bool {
				return list[i].Key() < list[j].Key()
			})
		}
	}
	return dependsOn, usedBy
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// displayDatabase recovers the original spelling of a database name
// from any node grouped under its lowercased key.
func displayDatabase(schemas map[string]schemaGroups) string {
	for _, groups := range schemas {
		for _, nodes := range groups {
			if len(nodes) > 0 {
				return nodes[0].Name.Database
			}
		}
	}
	return ""
}

func displaySchema(groups schemaGroups) string {
	for _, nodes := range groups {
		if len(nodes) > 0 {
			return nodes[0].Name.Schema
		}
	}
	return ""
}
