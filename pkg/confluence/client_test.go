package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dbscribe/dbscribe/pkg/apperrors"
	"github.com/dbscribe/dbscribe/pkg/retry"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "bot@example.com", "token", 0, zaptest.NewLogger(t))
	return client, srv
}

func TestSpaceID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wiki/api/v2/spaces", r.URL.Path)
		assert.Equal(t, "DOCS", r.URL.Query().Get("keys"))

		user, token, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "bot@example.com", user)
		assert.Equal(t, "token", token)

		fmt.Fprint(w, `{"results":[{"id":"111"}]}`)
	}))

	id, err := client.SpaceID(context.Background(), "DOCS")
	require.NoError(t, err)
	assert.Equal(t, "111", id)
}

func TestSpaceIDNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	}))

	_, err := client.SpaceID(context.Background(), "NOPE")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetPage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wiki/api/v2/pages/42", r.URL.Path)
		assert.Equal(t, "storage", r.URL.Query().Get("body-format"))
		fmt.Fprint(w, `{
			"id": "42", "title": "MY_DB.dbo", "parentId": "41",
			"version": {"number": 3},
			"body": {"storage": {"value": "<p>hello</p>"}}
		}`)
	}))

	page, err := client.GetPage(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", page.ID)
	assert.Equal(t, "MY_DB.dbo", page.Title)
	assert.Equal(t, "41", page.ParentID)
	assert.Equal(t, 3, page.Version)
	assert.Equal(t, "<p>hello</p>", page.Body)
}

func TestChildPagesPagination(t *testing.T) {
	var srv *httptest.Server
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/wiki/api/v2/pages/1/children", r.URL.Path)
		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprintf(w, `{
				"results": [{"id":"2","title":"A"},{"id":"3","title":"B"}],
				"_links": {"next": "%s/wiki/api/v2/pages/1/children?cursor=abc&limit=250"}
			}`, srv.URL)
		case "abc":
			fmt.Fprint(w, `{"results": [{"id":"4","title":"C"}], "_links": {}}`)
		default:
			t.Fatalf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	})
	client, s := newTestClient(t, handler)
	srv = s

	children, err := client.ChildPages(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, children, 3)
	assert.Equal(t, []ChildPage{{"2", "A"}, {"3", "B"}, {"4", "C"}}, children)
}

func TestCreatePage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/wiki/api/v2/pages", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "111", payload["spaceId"])
		assert.Equal(t, "41", payload["parentId"])
		assert.Equal(t, "DATABASE: MY_DB", payload["title"])

		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"id":"99"}`)
	}))

	id, err := client.CreatePage(context.Background(), "111", "41", "DATABASE: MY_DB", "<p>x</p>")
	require.NoError(t, err)
	assert.Equal(t, "99", id)
}

func TestUpdatePageSendsNextVersion(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		var payload struct {
			Version struct {
				Number int `json:"number"`
			} `json:"version"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, 4, payload.Version.Number)
		fmt.Fprint(w, `{"id":"42"}`)
	}))

	err := client.UpdatePage(context.Background(), "42", 4, "title", "<p>x</p>")
	require.NoError(t, err)
}

func TestMovePage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/wiki/rest/api/content/5/move/after/4", r.URL.Path)
		fmt.Fprint(w, `{}`)
	}))

	require.NoError(t, client.MovePage(context.Background(), "5", "after", "4"))
}

func TestAPIErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
		sentinel  error
	}{
		{http.StatusTooManyRequests, true, nil},
		{http.StatusInternalServerError, true, nil},
		{http.StatusBadGateway, true, nil},
		{http.StatusServiceUnavailable, true, nil},
		{http.StatusNotFound, false, apperrors.ErrNotFound},
		{http.StatusForbidden, false, apperrors.ErrAccessDenied},
		{http.StatusBadRequest, false, nil},
		{http.StatusConflict, false, nil},
	}
	for _, tt := range tests {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		err := client.DeletePage(context.Background(), "1")
		require.Error(t, err, "status %d", tt.status)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr, "status %d", tt.status)
		assert.Equal(t, tt.status, apiErr.StatusCode)
		assert.Equal(t, tt.retryable, retry.IsRetryable(apiErr), "status %d", tt.status)
		if tt.sentinel != nil {
			assert.ErrorIs(t, err, tt.sentinel, "status %d", tt.status)
		}
	}
}
