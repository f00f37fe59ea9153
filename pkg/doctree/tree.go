// Package doctree models the wiki page tree derived from a dependency
// graph: one page per database, schema, object group, and object, with
// stable keys that survive page renames on the remote side.
package doctree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/dbscribe/dbscribe/pkg/adapters/metadata"
	"github.com/dbscribe/dbscribe/pkg/graph"
)

// PageNode is one desired page. Children are ordered as they should
// appear on the remote side.
type PageNode struct {
	Key      string
	Title    string
	Body     string
	Children []*PageNode
}

// Remote is one existing page under the anchor, as observed on the
// wiki. Managed is false when the page carries no key marker, meaning
// it was not created by a documentation run and must be preserved.
type Remote struct {
	ID       string
	Key      string
	Title    string
	BodyHash string
	Version  int
	Managed  bool
	Children []*Remote
}

// Walk visits r and its descendants depth-first.
func (r *Remote) Walk(visit func(*Remote)) {
	visit(r)
	for _, c := range r.Children {
		c.Walk(visit)
	}
}

// BodyRenderer produces page bodies. The tree builder treats bodies as
// opaque strings so the wiki markup stays out of this package.
type BodyRenderer interface {
	RenderDatabase(database string) string
	RenderSchema(database, schema, description string) string
	RenderGroup(database, schema string, kind metadata.ObjectKind) string
	RenderObject(node *graph.Node, dependsOn, usedBy []graph.ObjectName) string
}

// DatabaseKey returns the stable key of a database page.
func DatabaseKey(database string) string {
	return "db:" + strings.ToLower(database)
}

// SchemaKey returns the stable key of a schema page.
func SchemaKey(database, schema string) string {
	return fmt.Sprintf("schema:%s.%s", strings.ToLower(database), strings.ToLower(schema))
}

// GroupKey returns the stable key of an object group page.
func GroupKey(database, schema string, kind metadata.ObjectKind) string {
	return fmt.Sprintf("group:%s.%s.%s", strings.ToLower(database), strings.ToLower(schema), inflection.Plural(string(kind)))
}

// ObjectKey returns the stable key of an object page.
func ObjectKey(name graph.ObjectName) string {
	return "object:" + name.Key()
}

// DatabaseTitle renders a database page title, e.g. "DATABASE: MY_DB".
func DatabaseTitle(database string) string {
	return "DATABASE: " + database
}

// SchemaTitle renders a schema page title, e.g. "MY_DB.dbo".
func SchemaTitle(database, schema string) string {
	return database + "." + schema
}

// GroupTitle renders a group page title, e.g. "Tables MY_DB.dbo".
func GroupTitle(database, schema string, kind metadata.ObjectKind) string {
	plural := inflection.Plural(string(kind))
	capitalized := strings.ToUpper(plural[:1]) + plural[1:]
	return fmt.Sprintf("%s %s.%s", capitalized, database, schema)
}

// ObjectTitle renders an object page title, e.g. "MY_DB.dbo.Clients".
func ObjectTitle(name graph.ObjectName) string {
	return name.String()
}

// HashBody returns the hex SHA-256 of a page body. Bodies are compared
// by hash so remote trees never hold full page content in memory.
func HashBody(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
