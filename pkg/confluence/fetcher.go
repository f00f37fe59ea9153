package confluence

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dbscribe/dbscribe/pkg/confluence/storage"
	"github.com/dbscribe/dbscribe/pkg/doctree"
)

// TreeFetcher mirrors the subtree under an anchor page into a
// doctree.Remote tree. Child listings and page bodies are fetched
// concurrently, with at most MaxInFlight API requests at a time.
type TreeFetcher struct {
	client *Client
	logger *zap.Logger

	// MaxInFlight bounds concurrent API requests during the fetch.
	MaxInFlight int
}

// NewTreeFetcher creates a fetcher over a client.
func NewTreeFetcher(client *Client, logger *zap.Logger) *TreeFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TreeFetcher{
		client:      client,
		logger:      logger.Named("fetcher"),
		MaxInFlight: 8,
	}
}

// Fetch returns the remote tree rooted at the anchor page. The anchor
// itself is the root; its descendants carry the keys and body hashes
// the differ needs. Pages whose bodies hold no key marker come back
// with Managed set to false.
func (f *TreeFetcher) Fetch(ctx context.Context, anchorID string) (*doctree.Remote, error) {
	limit := int64(f.MaxInFlight)
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)

	root, err := f.fetchPage(ctx, sem, anchorID)
	if err != nil {
		return nil, fmt.Errorf("fetch anchor %s: %w", anchorID, err)
	}

	// The semaphore bounds in-flight API calls, so goroutines per page
	// are cheap to spawn unbounded.
	g, gctx := errgroup.WithContext(ctx)
	f.fetchChildren(gctx, g, sem, root)
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var pages int
	root.Walk(func(*doctree.Remote) { pages++ })
	f.logger.Info("remote tree fetched", zap.String("anchor", anchorID), zap.Int("pages", pages-1))
	return root, nil
}

// fetchChildren lists a page's children, fetches each child's body,
// and recurses. Children keep the order the API listed them in.
func (f *TreeFetcher) fetchChildren(ctx context.Context, g *errgroup.Group, sem *semaphore.Weighted, parent *doctree.Remote) {
	g.Go(func() error {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		children, err := f.client.ChildPages(ctx, parent.ID)
		sem.Release(1)
		if err != nil {
			return fmt.Errorf("list children of %s: %w", parent.ID, err)
		}
		if len(children) == 0 {
			return nil
		}

		parent.Children = make([]*doctree.Remote, len(children))
		var mu sync.Mutex

		for i, child := range children {
			i, child := i, child
			g.Go(func() error {
				remote, err := f.fetchPage(ctx, sem, child.ID)
				if err != nil {
					return fmt.Errorf("fetch page %s %q: %w", child.ID, child.Title, err)
				}
				mu.Lock()
				parent.Children[i] = remote
				mu.Unlock()
				f.fetchChildren(ctx, g, sem, remote)
				return nil
			})
		}
		return nil
	})
}

// fetchPage retrieves one page and condenses its body to key + hash.
func (f *TreeFetcher) fetchPage(ctx context.Context, sem *semaphore.Weighted, pageID string) (*doctree.Remote, error) {
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	page, err := f.client.GetPage(ctx, pageID)
	sem.Release(1)
	if err != nil {
		return nil, err
	}

	remote := &doctree.Remote{
		ID:      page.ID,
		Title:   page.Title,
		Version: page.Version,
	}
	if key, ok := storage.ExtractKey(page.Body); ok {
		remote.Key = key
		remote.Managed = true
		remote.BodyHash = doctree.HashBody(storage.StripMarker(page.Body))
	}
	return remote, nil
}
