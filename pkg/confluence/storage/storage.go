// Package storage renders page bodies in Confluence storage format and
// handles the hidden key marker that tags pages as managed.
package storage

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/dbscribe/dbscribe/pkg/adapters/metadata"
	"github.com/dbscribe/dbscribe/pkg/doctree"
	"github.com/dbscribe/dbscribe/pkg/graph"
)

// markerPattern matches the hidden key marker anywhere in a body.
var markerPattern = regexp.MustCompile(`<span data-dbscribe-key="([^"]*)"></span>`)

// Marker renders the hidden span that carries a page's stable key.
// It is invisible in the rendered page but survives round-trips
// through the Confluence editor.
func Marker(key string) string {
	return fmt.Sprintf(`<span data-dbscribe-key="%s"></span>`, html.EscapeString(key))
}

// EmbedKey prepends the key marker to a body.
func EmbedKey(key, body string) string {
	return Marker(key) + body
}

// ExtractKey pulls the stable key out of a stored body. ok is false
// when the body carries no marker, meaning the page is foreign.
func ExtractKey(body string) (key string, ok bool) {
	m := markerPattern.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return html.UnescapeString(m[1]), true
}

// StripMarker removes every key marker from a body so bodies can be
// compared independently of the marker.
func StripMarker(body string) string {
	return markerPattern.ReplaceAllString(body, "")
}

// Renderer implements doctree.BodyRenderer with Confluence storage
// format markup: the children macro for listing pages, the excerpt
// macro for descriptions, and plain HTML tables for detail rows.
type Renderer struct{}

// NewRenderer returns a storage-format body renderer.
func NewRenderer() *Renderer { return &Renderer{} }

var _ doctree.BodyRenderer = (*Renderer)(nil)

func (r *Renderer) RenderDatabase(database string) string {
	var b strings.Builder
	b.WriteString(descriptionSection(fmt.Sprintf("Documentation of database %s.", database)))
	b.WriteString(childrenSection("Schemas"))
	return b.String()
}

func (r *Renderer) RenderSchema(database, schema, description string) string {
	var b strings.Builder
	if description == "" {
		description = fmt.Sprintf("Schema %s of database %s.", schema, database)
	}
	b.WriteString(descriptionSection(description))
	b.WriteString(childrenSection("Objects"))
	return b.String()
}

func (r *Renderer) RenderGroup(database, schema string, kind metadata.ObjectKind) string {
	return childrenSection("Objects")
}

func (r *Renderer) RenderObject(node *graph.Node, dependsOn, usedBy []graph.ObjectName) string {
	var b strings.Builder

	description := node.Description
	if description == "" {
		kind := string(node.Kind)
		description = fmt.Sprintf("%s %s.", strings.ToUpper(kind[:1])+kind[1:], node.Name)
	}
	b.WriteString(descriptionSection(description))

	if len(node.Columns) > 0 {
		b.WriteString(heading("Columns"))
		b.WriteString(columnTable(node.Columns))
	}
	if len(node.Indexes) > 0 {
		b.WriteString(heading("Indexes"))
		b.WriteString(indexTable(node.Indexes))
	}
	if len(node.Parameters) > 0 {
		b.WriteString(heading("Parameters"))
		b.WriteString(parameterTable(node.Parameters))
	}
	if len(dependsOn) > 0 {
		b.WriteString(heading("Depends on"))
		b.WriteString(nameTable(dependsOn))
	}
	if len(usedBy) > 0 {
		b.WriteString(heading("Used by"))
		b.WriteString(nameTable(usedBy))
	}
	return b.String()
}

func heading(title string) string {
	return fmt.Sprintf("<h1>%s</h1>", html.EscapeString(title))
}

// descriptionSection wraps the description in an excerpt macro so it
// shows up in the parent page's children listing.
func descriptionSection(description string) string {
	return heading("Description") +
		`<p><ac:structured-macro ac:name="excerpt" ac:schema-version="2">` +
		`<ac:rich-text-body>` + html.EscapeString(description) + `</ac:rich-text-body>` +
		`</ac:structured-macro></p>`
}

// childrenSection renders a heading followed by the children macro.
func childrenSection(title string) string {
	return heading(title) +
		`<p><ac:structured-macro ac:name="children" ac:schema-version="2">` +
		`<ac:parameter ac:name="all">true</ac:parameter>` +
		`<ac:parameter ac:name="excerptType">simple</ac:parameter>` +
		`</ac:structured-macro></p>`
}

func table(headers []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("<table><tbody><tr>")
	for _, h := range headers {
		b.WriteString("<th>" + html.EscapeString(h) + "</th>")
	}
	b.WriteString("</tr>")
	for _, row := range rows {
		b.WriteString("<tr>")
		for _, cell := range row {
			b.WriteString("<td>" + html.EscapeString(cell) + "</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table>")
	return b.String()
}

func columnTable(columns []metadata.ColumnRow) string {
	rows := make([][]string, 0, len(columns))
	for _, c := range columns {
		nullable := "NO"
		if c.Nullable {
			nullable = "YES"
		}
		rows = append(rows, []string{c.Name, c.DataType, nullable, c.Description})
	}
	return table([]string{"Column", "Type", "Nullable", "Description"}, rows)
}

func indexTable(indexes []metadata.IndexRow) string {
	rows := make([][]string, 0, len(indexes))
	for _, i := range indexes {
		flags := make([]string, 0, 2)
		if i.Primary {
			flags = append(flags, "primary key")
		}
		if i.Unique {
			flags = append(flags, "unique")
		}
		rows = append(rows, []string{
			i.Name, i.Type, strings.Join(flags, ", "), strings.Join(i.Columns, ", "),
		})
	}
	return table([]string{"Index", "Type", "Attributes", "Columns"}, rows)
}

func parameterTable(parameters []metadata.ParameterRow) string {
	rows := make([][]string, 0, len(parameters))
	for _, p := range parameters {
		direction := "IN"
		if p.Output {
			direction = "OUT"
		}
		rows = append(rows, []string{p.Name, p.DataType, direction})
	}
	return table([]string{"Parameter", "Type", "Direction"}, rows)
}

func nameTable(names []graph.ObjectName) string {
	rows := make([][]string, 0, len(names))
	for _, n := range names {
		rows = append(rows, []string{n.Database, n.Schema, n.Name})
	}
	return table([]string{"Database", "Schema", "Object"}, rows)
}
