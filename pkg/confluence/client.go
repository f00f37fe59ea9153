// Package confluence talks to the Confluence Cloud REST API: page
// CRUD, child listing, and page moves, plus the fetcher that mirrors
// an anchor subtree into a doctree.Remote tree.
package confluence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dbscribe/dbscribe/pkg/apperrors"
)

// APIError is a non-2xx response from the Confluence API.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("confluence: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsRetryable reports whether the request may succeed on retry.
func (e *APIError) IsRetryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Unwrap maps API status codes onto the shared sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return apperrors.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.ErrAccessDenied
	}
	return nil
}

// Page is a page as returned by the v2 API.
type Page struct {
	ID       string
	Title    string
	ParentID string
	Version  int
	Body     string
}

// ChildPage is one entry of a children listing.
type ChildPage struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Client is a Confluence Cloud API client authenticated with an API
// token. Every request passes the shared rate limiter first; the
// client itself never retries, callers decide the retry policy from
// the typed errors it returns.
type Client struct {
	baseURL  string
	username string
	apiToken string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewClient creates a Confluence client. ratePerSec bounds the request
// rate; zero or negative disables the limiter.
func NewClient(baseURL, username, apiToken string, ratePerSec float64, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		apiToken: apiToken,
		http:     &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger.Named("confluence"),
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.apiToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response of %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response of %s %s: %w", method, path, err)
		}
	}
	return nil
}

// SpaceID resolves a space key to its numeric id.
func (c *Client) SpaceID(ctx context.Context, spaceKey string) (string, error) {
	var result struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	query := url.Values{"keys": {spaceKey}}
	if err := c.do(ctx, http.MethodGet, "/wiki/api/v2/spaces", query, nil, &result); err != nil {
		return "", err
	}
	if len(result.Results) == 0 {
		return "", fmt.Errorf("%w: space %q", apperrors.ErrNotFound, spaceKey)
	}
	return result.Results[0].ID, nil
}

// PageIDByTitle finds a page by exact title within a space. Returns
// ErrNotFound when no page has the title.
func (c *Client) PageIDByTitle(ctx context.Context, spaceID, title string) (string, error) {
	var result struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	query := url.Values{"space-id": {spaceID}, "title": {title}}
	if err := c.do(ctx, http.MethodGet, "/wiki/api/v2/pages", query, nil, &result); err != nil {
		return "", err
	}
	if len(result.Results) == 0 {
		return "", fmt.Errorf("%w: page %q in space %s", apperrors.ErrNotFound, title, spaceID)
	}
	return result.Results[0].ID, nil
}

// GetPage fetches a page with its storage-format body and version.
func (c *Client) GetPage(ctx context.Context, pageID string) (*Page, error) {
	var result struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		ParentID string `json:"parentId"`
		Version  struct {
			Number int `json:"number"`
		} `json:"version"`
		Body struct {
			Storage struct {
				Value string `json:"value"`
			} `json:"storage"`
		} `json:"body"`
	}
	query := url.Values{"body-format": {"storage"}}
	if err := c.do(ctx, http.MethodGet, "/wiki/api/v2/pages/"+pageID, query, nil, &result); err != nil {
		return nil, err
	}
	return &Page{
		ID:       result.ID,
		Title:    result.Title,
		ParentID: result.ParentID,
		Version:  result.Version.Number,
		Body:     result.Body.Storage.Value,
	}, nil
}

// childPageLimit is the page size of children listings.
const childPageLimit = 250

// ChildPages lists the direct children of a page in display order,
// following pagination cursors until the listing is exhausted.
func (c *Client) ChildPages(ctx context.Context, pageID string) ([]ChildPage, error) {
	var children []ChildPage
	path := "/wiki/api/v2/pages/" + pageID + "/children"
	query := url.Values{"limit": {fmt.Sprint(childPageLimit)}}

	for {
		var result struct {
			Results []ChildPage `json:"results"`
			Links   struct {
				Next string `json:"next"`
			} `json:"_links"`
		}
		if err := c.do(ctx, http.MethodGet, path, query, nil, &result); err != nil {
			return nil, err
		}
		children = append(children, result.Results...)

		if result.Links.Next == "" {
			return children, nil
		}
		next, err := url.Parse(result.Links.Next)
		if err != nil {
			return nil, fmt.Errorf("parse pagination link %q: %w", result.Links.Next, err)
		}
		path = next.Path
		query = next.Query()
	}
}

// CreatePage creates a page under a parent and returns its id.
func (c *Client) CreatePage(ctx context.Context, spaceID, parentID, title, body string) (string, error) {
	payload := map[string]any{
		"spaceId":  spaceID,
		"status":   "current",
		"title":    title,
		"parentId": parentID,
		"body": map[string]string{
			"representation": "storage",
			"value":          body,
		},
	}
	var result struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/wiki/api/v2/pages", nil, payload, &result); err != nil {
		return "", err
	}
	c.logger.Debug("page created", zap.String("id", result.ID), zap.String("title", title))
	return result.ID, nil
}

// UpdatePage replaces a page's title and body. version must be the
// next version number, i.e. the current remote version plus one.
func (c *Client) UpdatePage(ctx context.Context, pageID string, version int, title, body string) error {
	payload := map[string]any{
		"id":     pageID,
		"status": "current",
		"title":  title,
		"body": map[string]string{
			"representation": "storage",
			"value":          body,
		},
		"version": map[string]int{"number": version},
	}
	return c.do(ctx, http.MethodPut, "/wiki/api/v2/pages/"+pageID, nil, payload, nil)
}

// DeletePage deletes a page.
func (c *Client) DeletePage(ctx context.Context, pageID string) error {
	return c.do(ctx, http.MethodDelete, "/wiki/api/v2/pages/"+pageID, nil, nil, nil)
}

// MovePage repositions a page relative to a sibling. position is
// "before" or "after". The move endpoint only exists in the v1 API.
func (c *Client) MovePage(ctx context.Context, pageID, position, targetID string) error {
	path := fmt.Sprintf("/wiki/rest/api/content/%s/move/%s/%s", pageID, position, targetID)
	return c.do(ctx, http.MethodPut, path, nil, nil, nil)
}
