// Package sync computes and executes the operations that bring the
// remote page tree in line with the desired tree: a differ that emits
// creates, updates, reorders and deletes, and an executor that runs
// them concurrently in dependency order.
package sync

import "fmt"

// OpKind classifies a sync operation.
type OpKind string

const (
	OpCreate  OpKind = "create"
	OpUpdate  OpKind = "update"
	OpReorder OpKind = "reorder"
	OpDelete  OpKind = "delete"
)

// Operation is one unit of remote change. Fields are populated per
// kind: creates carry parent and content, updates carry the page id
// and version, reorders carry the ordered child keys of a parent, and
// deletes carry the page id.
type Operation struct {
	Kind OpKind `yaml:"kind"`
	// Key is the stable page key this operation concerns. For reorders
	// it is the parent's key, empty when the parent is the anchor.
	Key   string `yaml:"key,omitempty"`
	Title string `yaml:"title,omitempty"`
	// PageID is the remote id for updates and deletes.
	PageID string `yaml:"page_id,omitempty"`
	// Version is the version number an update must send, i.e. the
	// observed remote version plus one.
	Version int `yaml:"version,omitempty"`
	// ParentKey is the key of the parent page for creates. Empty means
	// the parent is the anchor.
	ParentKey string `yaml:"parent_key,omitempty"`
	// OrderedKeys is the desired order of a parent's managed children
	// for reorders.
	OrderedKeys []string `yaml:"ordered_keys,omitempty"`
	// Body is the page body without the key marker; the marker is
	// stamped on at write time.
	Body string `yaml:"-"`
}

func (o Operation) String() string {
	switch o.Kind {
	case OpReorder:
		return fmt.Sprintf("reorder children of %s", orAnchor(o.Key))
	case OpDelete:
		return fmt.Sprintf("delete %s (%s)", o.Key, o.PageID)
	default:
		return fmt.Sprintf("%s %s %q", o.Kind, o.Key, o.Title)
	}
}

func orAnchor(key string) string {
	if key == "" {
		return "anchor"
	}
	return key
}

// Conflict reports a desired page that was skipped because a foreign
// page already holds its title under the same parent.
type Conflict struct {
	Key       string `yaml:"key"`
	Title     string `yaml:"title"`
	ForeignID string `yaml:"foreign_id"`
}

// Orphan is a managed remote page whose key no longer appears in the
// desired tree. Orphans are only deleted when pruning is enabled;
// otherwise they are reported.
type Orphan struct {
	Key    string `yaml:"key"`
	Title  string `yaml:"title"`
	PageID string `yaml:"page_id"`
}

// Plan is the full set of changes a run would make, plus everything
// the executor needs to resolve keys to remote ids.
type Plan struct {
	Operations []Operation `yaml:"operations"`
	Conflicts  []Conflict  `yaml:"conflicts,omitempty"`
	Orphans    []Orphan    `yaml:"orphans,omitempty"`

	// KnownIDs maps managed keys that already exist remotely to their
	// page ids.
	KnownIDs map[string]string `yaml:"-"`
}

// Empty reports whether the plan changes nothing.
func (p *Plan) Empty() bool {
	return len(p.Operations) == 0
}
