package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dbscribe/dbscribe/pkg/confluence/storage"
	"github.com/dbscribe/dbscribe/pkg/doctree"
)

// fakeWiki serves a static page tree over the v2 API shape.
type fakeWiki struct {
	mu       sync.Mutex
	pages    map[string]fakePage // id -> page
	children map[string][]string // id -> ordered child ids

	inFlight    int32
	maxObserved int32
}

type fakePage struct {
	title   string
	body    string
	version int
}

func (f *fakeWiki) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt32(&f.inFlight, 1)
		defer atomic.AddInt32(&f.inFlight, -1)
		f.mu.Lock()
		if cur > f.maxObserved {
			f.maxObserved = cur
		}
		f.mu.Unlock()

		path := strings.TrimPrefix(r.URL.Path, "/wiki/api/v2/pages/")
		switch {
		case strings.HasSuffix(path, "/children"):
			id := strings.TrimSuffix(path, "/children")
			results := make([]map[string]string, 0)
			for _, cid := range f.children[id] {
				results = append(results, map[string]string{"id": cid, "title": f.pages[cid].title})
			}
			json.NewEncoder(w).Encode(map[string]any{"results": results, "_links": map[string]string{}})
		default:
			page, ok := f.pages[path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fmt.Fprintf(w, `{
				"id": %q, "title": %q,
				"version": {"number": %d},
				"body": {"storage": {"value": %q}}
			}`, path, page.title, page.version, page.body)
		}
	})
}

func newTestFetcher(t *testing.T, wiki *fakeWiki) *TreeFetcher {
	t.Helper()
	srv := httptest.NewServer(wiki.handler())
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "bot@example.com", "token", 0, zaptest.NewLogger(t))
	return NewTreeFetcher(client, zaptest.NewLogger(t))
}

func TestFetchBuildsRemoteTree(t *testing.T) {
	wiki := &fakeWiki{
		pages: map[string]fakePage{
			"1": {title: "Anchor", body: "<p>anchor</p>", version: 1},
			"2": {title: "DATABASE: MY_DB", body: storage.EmbedKey("db:my_db", "<p>db</p>"), version: 2},
			"3": {title: "MY_DB.dbo", body: storage.EmbedKey("schema:my_db.dbo", "<p>schema</p>"), version: 1},
			"4": {title: "Team notes", body: "<p>hand-written</p>", version: 7},
		},
		children: map[string][]string{
			"1": {"2", "4"},
			"2": {"3"},
		},
	}

	root, err := newTestFetcher(t, wiki).Fetch(context.Background(), "1")
	require.NoError(t, err)

	assert.Equal(t, "1", root.ID)
	require.Len(t, root.Children, 2)

	db := root.Children[0]
	assert.Equal(t, "db:my_db", db.Key)
	assert.True(t, db.Managed)
	assert.Equal(t, 2, db.Version)
	// Hash covers the body without the marker.
	assert.Equal(t, doctree.HashBody("<p>db</p>"), db.BodyHash)

	require.Len(t, db.Children, 1)
	assert.Equal(t, "schema:my_db.dbo", db.Children[0].Key)

	foreign := root.Children[1]
	assert.False(t, foreign.Managed)
	assert.Empty(t, foreign.Key)
	assert.Equal(t, "Team notes", foreign.Title)
}

func TestFetchPreservesChildOrder(t *testing.T) {
	wiki := &fakeWiki{
		pages: map[string]fakePage{
			"1": {title: "Anchor", body: "", version: 1},
			"5": {title: "C", body: storage.EmbedKey("object:c", ""), version: 1},
			"6": {title: "A", body: storage.EmbedKey("object:a", ""), version: 1},
			"7": {title: "B", body: storage.EmbedKey("object:b", ""), version: 1},
		},
		// Display order is not alphabetical; the fetcher must keep it.
		children: map[string][]string{"1": {"5", "6", "7"}},
	}

	root, err := newTestFetcher(t, wiki).Fetch(context.Background(), "1")
	require.NoError(t, err)

	require.Len(t, root.Children, 3)
	assert.Equal(t, "C", root.Children[0].Title)
	assert.Equal(t, "A", root.Children[1].Title)
	assert.Equal(t, "B", root.Children[2].Title)
}

func TestFetchBoundsConcurrency(t *testing.T) {
	pages := map[string]fakePage{"1": {title: "Anchor", body: "", version: 1}}
	var ids []string
	for i := 2; i < 40; i++ {
		id := fmt.Sprint(i)
		pages[id] = fakePage{title: "P" + id, body: storage.EmbedKey("object:"+id, ""), version: 1}
		ids = append(ids, id)
	}
	wiki := &fakeWiki{pages: pages, children: map[string][]string{"1": ids}}

	f := newTestFetcher(t, wiki)
	f.MaxInFlight = 3

	_, err := f.Fetch(context.Background(), "1")
	require.NoError(t, err)
	assert.LessOrEqual(t, wiki.maxObserved, int32(3))
}

func TestFetchAnchorNotFound(t *testing.T) {
	wiki := &fakeWiki{pages: map[string]fakePage{}}

	_, err := newTestFetcher(t, wiki).Fetch(context.Background(), "404")
	require.Error(t, err)
}
