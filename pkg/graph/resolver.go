package graph

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dbscribe/dbscribe/pkg/adapters/metadata"
	"github.com/dbscribe/dbscribe/pkg/apperrors"
)

// Resolver walks database metadata into a Graph. Seeds are the objects
// of the documented databases; the walk then follows dependency edges
// breadth-first, pulling in objects from the dependency databases as
// external nodes.
type Resolver struct {
	source metadata.Source
	logger *zap.Logger

	// Databases to document. Empty means every database the source reports.
	Databases []string
	// Schemas restricts the documented seeds. Empty means all schemas.
	Schemas []string
	// DependencyDatabases may contribute external nodes via edges.
	DependencyDatabases []string
	// DefaultSchema completes dependency references written without a
	// schema part ("dbo" on SQL Server).
	DefaultSchema string
}

// NewResolver creates a resolver over a metadata source.
func NewResolver(source metadata.Source, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		source:        source,
		logger:        logger.Named("resolver"),
		DefaultSchema: "dbo",
	}
}

// Resolve enumerates the documented objects, follows their recorded
// dependencies breadth-first, and returns the resulting graph.
//
// Metadata enumeration failures are fatal. A failing dependency query
// or detail query only degrades the result: the run continues with the
// edges or rows it could get.
func (r *Resolver) Resolve(ctx context.Context) (*Graph, error) {
	documented := r.Databases
	if len(documented) == 0 {
		all, err := r.source.Databases(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list databases: %v", apperrors.ErrMetadataUnavailable, err)
		}
		documented = all
	}
	if len(documented) == 0 {
		return nil, fmt.Errorf("%w: no databases to document", apperrors.ErrMetadataUnavailable)
	}

	universe, err := r.enumerateUniverse(ctx, documented)
	if err != nil {
		return nil, err
	}

	g := NewGraph()
	var queue []string
	seen := make(map[string]bool)

	// Seed with every documented object that passes the schema filter.
	for key, obj := range universe {
		if !obj.documented || !r.schemaSelected(obj.name.Schema) {
			continue
		}
		g.AddNode(&Node{Name: obj.name, Kind: obj.kind})
		queue = append(queue, key)
		seen[key] = true
	}

	depsByDB := make(map[string][]metadata.DependencyRow)

	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		node := g.Nodes[key]

		deps, err := r.dependenciesOf(ctx, node.Name.Database, depsByDB)
		if err != nil {
			// Already logged; dependency data for this database is lost
			// but the rest of the graph stands.
			continue
		}

		for _, d := range deps {
			if !strings.EqualFold(d.Schema, node.Name.Schema) || !strings.EqualFold(d.Object, node.Name.Name) {
				continue
			}
			ref := r.normalizeRef(node.Name.Database, d)
			refKey := ref.Key()

			obj, known := universe[refKey]
			if !known {
				g.Dangling = append(g.Dangling, ref.String())
				r.logger.Debug("reference excluded",
					zap.String("ref", ref.String()),
					zap.String("referencing", node.Name.String()),
					zap.Error(apperrors.ErrDependencyUnresolved))
				continue
			}

			if !seen[refKey] {
				g.AddNode(&Node{
					Name:     obj.name,
					Kind:     obj.kind,
					External: !obj.documented || !r.schemaSelected(obj.name.Schema),
				})
				seen[refKey] = true
				queue = append(queue, refKey)
			}
			g.AddEdge(refKey, key)
		}
	}

	r.loadDetails(ctx, g)

	r.logger.Info("dependency graph resolved",
		zap.Int("nodes", len(g.Nodes)),
		zap.Int("edges", len(g.Edges)),
		zap.Int("dangling_refs", len(g.Dangling)))
	return g, nil
}

type universeObject struct {
	name       ObjectName
	kind       metadata.ObjectKind
	documented bool
}

// enumerateUniverse lists every object of the documented and dependency
// databases so dependency references can be matched against real objects.
func (r *Resolver) enumerateUniverse(ctx context.Context, documented []string) (map[string]universeObject, error) {
	universe := make(map[string]universeObject)
	isDocumented := make(map[string]bool, len(documented))
	for _, db := range documented {
		isDocumented[strings.ToLower(db)] = true
	}

	all := append([]string{}, documented...)
	for _, db := range r.DependencyDatabases {
		if !isDocumented[strings.ToLower(db)] {
			all = append(all, db)
		}
	}

	for _, db := range all {
		schemas, err := r.source.Schemas(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("%w: list schemas of %s: %v", apperrors.ErrMetadataUnavailable, db, err)
		}
		for _, schema := range schemas {
			objects, err := r.source.Objects(ctx, db, schema)
			if err != nil {
				return nil, fmt.Errorf("%w: list objects of %s.%s: %v", apperrors.ErrMetadataUnavailable, db, schema, err)
			}
			for _, obj := range objects {
				name := ObjectName{Database: db, Schema: obj.Schema, Name: obj.Name}
				universe[name.Key()] = universeObject{
					name:       name,
					kind:       obj.Kind,
					documented: isDocumented[strings.ToLower(db)],
				}
			}
		}
	}
	return universe, nil
}

// dependenciesOf fetches the dependency rows of a database once and
// caches them for the rest of the walk.
func (r *Resolver) dependenciesOf(ctx context.Context, database string, cache map[string][]metadata.DependencyRow) ([]metadata.DependencyRow, error) {
	key := strings.ToLower(database)
	if rows, ok := cache[key]; ok {
		return rows, nil
	}
	rows, err := r.source.Dependencies(ctx, database)
	if err != nil {
		r.logger.Warn("dependency query failed, continuing without edges",
			zap.String("database", database), zap.Error(err))
		cache[key] = nil
		return nil, err
	}
	cache[key] = rows
	return rows, nil
}

// normalizeRef completes a dependency reference: a missing database
// means the referencing object's own database, a missing schema means
// the default schema.
func (r *Resolver) normalizeRef(currentDB string, d metadata.DependencyRow) ObjectName {
	db := d.RefDatabase
	if db == "" {
		db = currentDB
	}
	schema := d.RefSchema
	if schema == "" {
		schema = r.DefaultSchema
	}
	return ObjectName{Database: db, Schema: schema, Name: d.RefName}
}

// loadDetails fetches columns, indexes, parameters and descriptions
// for the documented nodes, a few objects at a time. External nodes
// stay bare. Each node is filled by exactly one goroutine, so no
// locking is needed.
func (r *Resolver) loadDetails(ctx context.Context, g *Graph) {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for _, node := range g.Nodes {
		if node.External {
			continue
		}
		node := node
		eg.Go(func() error {
			r.loadNodeDetails(ctx, node)
			return nil
		})
	}
	eg.Wait()
}

func (r *Resolver) loadNodeDetails(ctx context.Context, node *Node) {
	db, schema, name := node.Name.Database, node.Name.Schema, node.Name.Name

	if desc, err := r.source.ObjectDescription(ctx, db, schema, name); err != nil {
		r.logger.Warn("object description unavailable",
			zap.String("object", node.Name.String()), zap.Error(err))
	} else {
		node.Description = desc
	}

	switch node.Kind {
	case metadata.KindTable, metadata.KindView:
		if cols, err := r.source.Columns(ctx, db, schema, name); err != nil {
			r.logger.Warn("columns unavailable",
				zap.String("object", node.Name.String()), zap.Error(err))
		} else {
			node.Columns = cols
		}
		if idx, err := r.source.Indexes(ctx, db, schema, name); err != nil {
			r.logger.Warn("indexes unavailable",
				zap.String("object", node.Name.String()), zap.Error(err))
		} else {
			node.Indexes = idx
		}
	case metadata.KindProcedure, metadata.KindFunction:
		if params, err := r.source.Parameters(ctx, db, schema, name); err != nil {
			r.logger.Warn("parameters unavailable",
				zap.String("object", node.Name.String()), zap.Error(err))
		} else {
			node.Parameters = params
		}
	}
}

func (r *Resolver) schemaSelected(schema string) bool {
	if len(r.Schemas) == 0 {
		return true
	}
	for _, s := range r.Schemas {
		if strings.EqualFold(s, schema) {
			return true
		}
	}
	return false
}
