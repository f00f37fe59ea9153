package sync

import (
	"strings"

	"go.uber.org/zap"

	"github.com/dbscribe/dbscribe/pkg/apperrors"
	"github.com/dbscribe/dbscribe/pkg/doctree"
)

// Differ compares the desired page forest against the remote tree and
// emits the minimal operation set. Diffing the result of a completed
// run against an unchanged database yields an empty plan.
type Differ struct {
	logger *zap.Logger

	// Prune turns managed orphans into delete operations. When off,
	// orphans are only reported.
	Prune bool
}

// NewDiffer creates a differ.
func NewDiffer(logger *zap.Logger) *Differ {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Differ{logger: logger.Named("differ")}
}

type remoteEntry struct {
	page   *doctree.Remote
	parent *doctree.Remote
}

// Diff computes the plan that transforms the remote tree under the
// anchor into the desired forest. remote is the fetched anchor root;
// desired are the pages that should live directly under it.
func (d *Differ) Diff(desired []*doctree.PageNode, remote *doctree.Remote) *Plan {
	plan := &Plan{KnownIDs: make(map[string]string)}

	managed := make(map[string]remoteEntry)
	d.indexManaged(remote, nil, managed)
	for key, entry := range managed {
		plan.KnownIDs[key] = entry.page.ID
	}

	desiredKeys := make(map[string]bool)
	d.diffLevel(plan, "", remote, desired, desiredKeys, managed)
	d.collectOrphans(plan, remote, desiredKeys)
	return plan
}

// indexManaged records every managed page of the remote tree by key.
// The first page found under a key wins; later duplicates are left
// untouched and logged.
func (d *Differ) indexManaged(page *doctree.Remote, parent *doctree.Remote, out map[string]remoteEntry) {
	if page.Managed {
		if prev, dup := out[page.Key]; dup {
			d.logger.Warn("duplicate managed key on remote, ignoring later page",
				zap.String("key", page.Key),
				zap.String("kept_id", prev.page.ID),
				zap.String("ignored_id", page.ID))
		} else {
			out[page.Key] = remoteEntry{page: page, parent: parent}
		}
	}
	for _, c := range page.Children {
		d.indexManaged(c, page, out)
	}
}

// diffLevel diffs one parent's desired children, then recurses.
// parentRemote is the current remote page the children live under,
// nil when the parent itself is yet to be created.
func (d *Differ) diffLevel(plan *Plan, parentKey string, parentRemote *doctree.Remote, nodes []*doctree.PageNode, desiredKeys map[string]bool, managed map[string]remoteEntry) {
	created := false
	var orderedKeys []string

	for _, node := range nodes {
		desiredKeys[node.Key] = true

		if entry, ok := managed[node.Key]; ok {
			if entry.page.Title != node.Title || entry.page.BodyHash != doctree.HashBody(node.Body) {
				plan.Operations = append(plan.Operations, Operation{
					Kind:    OpUpdate,
					Key:     node.Key,
					Title:   node.Title,
					PageID:  entry.page.ID,
					Version: entry.page.Version + 1,
					Body:    node.Body,
				})
			}
			orderedKeys = append(orderedKeys, node.Key)
			d.diffLevel(plan, node.Key, entry.page, node.Children, desiredKeys, managed)
			continue
		}

		if foreign := foreignByTitle(parentRemote, node.Title); foreign != nil {
			plan.Conflicts = append(plan.Conflicts, Conflict{
				Key:       node.Key,
				Title:     node.Title,
				ForeignID: foreign.ID,
			})
			d.logger.Warn("title held by a page from outside the documentation run, skipping subtree",
				zap.String("key", node.Key),
				zap.String("title", node.Title),
				zap.Error(apperrors.ErrForeignContentConflict))
			continue
		}

		plan.Operations = append(plan.Operations, Operation{
			Kind:      OpCreate,
			Key:       node.Key,
			Title:     node.Title,
			ParentKey: parentKey,
			Body:      node.Body,
		})
		created = true
		orderedKeys = append(orderedKeys, node.Key)
		d.diffLevel(plan, node.Key, nil, node.Children, desiredKeys, managed)
	}

	if len(orderedKeys) >= 2 && (created || d.orderDiffers(parentRemote, orderedKeys)) {
		plan.Operations = append(plan.Operations, Operation{
			Kind:        OpReorder,
			Key:         parentKey,
			OrderedKeys: orderedKeys,
		})
	}
}

// orderDiffers reports whether the managed children of parentRemote
// that remain in the desired set appear in an order other than the
// desired one. Pages unknown to the run are ignored, so foreign pages
// never trigger moves.
func (d *Differ) orderDiffers(parentRemote *doctree.Remote, orderedKeys []string) bool {
	if parentRemote == nil {
		return false
	}
	want := make(map[string]bool, len(orderedKeys))
	for _, k := range orderedKeys {
		want[k] = true
	}

	var current []string
	for _, c := range parentRemote.Children {
		if c.Managed && want[c.Key] {
			current = append(current, c.Key)
		}
	}

	i := 0
	for _, k := range orderedKeys {
		if i < len(current) && current[i] == k {
			i++
		}
	}
	return i != len(current)
}

func foreignByTitle(parent *doctree.Remote, title string) *doctree.Remote {
	if parent == nil {
		return nil
	}
	for _, c := range parent.Children {
		if !c.Managed && strings.EqualFold(c.Title, title) {
			return c
		}
	}
	return nil
}

// collectOrphans walks the remote tree bottom-up so delete operations
// come out child before parent.
func (d *Differ) collectOrphans(plan *Plan, page *doctree.Remote, desiredKeys map[string]bool) {
	for _, c := range page.Children {
		d.collectOrphans(plan, c, desiredKeys)
	}
	if !page.Managed || desiredKeys[page.Key] {
		return
	}
	if d.Prune {
		plan.Operations = append(plan.Operations, Operation{
			Kind:   OpDelete,
			Key:    page.Key,
			Title:  page.Title,
			PageID: page.ID,
		})
	} else {
		plan.Orphans = append(plan.Orphans, Orphan{Key: page.Key, Title: page.Title, PageID: page.ID})
	}
}
