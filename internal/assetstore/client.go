// Package assetstore is the HTTP client for the remote asset store. Assets
// live in folders, and the store exposes a token-based change feed so callers
// can sync incrementally instead of relisting whole folders.
package assetstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrTokenExpired signals that a change-feed cursor is no longer accepted by
// the asset store and the caller must bootstrap a fresh one.
var ErrTokenExpired = errors.New("change feed token expired")

// Client represents a client for the asset store API
type Client struct {
	baseURL   string
	parsedURL *url.URL
	token     string

	httpClient *http.Client

	// download retry policy
	downloadRetries int
	retryBaseDelay  time.Duration
}

// New creates a new asset store client.
func New(baseURL, token string, downloadRetries int) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("could not parse asset store URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid asset store URL: %q", baseURL)
	}
	if downloadRetries < 1 {
		downloadRetries = 1
	}

	return &Client{
		baseURL:         parsed.String(),
		parsedURL:       parsed,
		token:           token,
		httpClient:      &http.Client{Timeout: 60 * time.Second},
		downloadRetries: downloadRetries,
		retryBaseDelay:  time.Second,
	}, nil
}

// resolveURL builds a full URL from the base API URL and the given path segments.
// If the last segment contains a query string, it is split so JoinPath only
// receives the path portion and the query is appended.
func (c *Client) resolveURL(pathSegments ...string) string {
	if len(pathSegments) == 0 {
		return c.parsedURL.String()
	}
	last := pathSegments[len(pathSegments)-1]
	if pathPart, query, ok := strings.Cut(last, "?"); ok {
		pathSegments[len(pathSegments)-1] = pathPart
		result := c.parsedURL.JoinPath(pathSegments...)
		result.RawQuery = query
		return result.String()
	}
	return c.parsedURL.JoinPath(pathSegments...).String()
}

// doGetJSON performs a GET request and unmarshals the JSON response into the
// result type. The endpoint is the path after the base URL (e.g. "changes?token=x").
func doGetJSON[T any](ctx context.Context, c *Client, endpoint string) (*T, error) {
	reqURL := c.resolveURL(endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}

	return &result, nil
}

// readErrorBody reads up to 1KB of an error response body for error messages.
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 1024))
	if err != nil {
		return "<unreadable body>"
	}
	return strings.TrimSpace(string(body))
}

// ListAssets returns every non-trashed asset of a folder whose MIME type is
// in the accepted list, walking all listing pages.
func (c *Client) ListAssets(ctx context.Context, folderID string, mimeTypes []string) ([]AssetRef, error) {
	accepted := make(map[string]struct{}, len(mimeTypes))
	for _, mt := range mimeTypes {
		accepted[strings.ToLower(mt)] = struct{}{}
	}

	var assets []AssetRef
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("folder_id", folderID)
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}

		page, err := doGetJSON[assetPage](ctx, c, "assets?"+q.Encode())
		if err != nil {
			return nil, fmt.Errorf("could not list assets: %w", err)
		}

		for _, a := range page.Assets {
			if a.Trashed {
				continue
			}
			if _, ok := accepted[strings.ToLower(a.MimeType)]; !ok {
				continue
			}
			assets = append(assets, a)
		}

		if page.NextPageToken == "" {
			return assets, nil
		}
		pageToken = page.NextPageToken
	}
}

// GetStartToken fetches a fresh change-feed cursor scoped to a folder. The
// cursor represents "now": changes made after this call show up in GetChanges.
func (c *Client) GetStartToken(ctx context.Context, folderID string) (string, error) {
	q := url.Values{}
	q.Set("folder_id", folderID)

	resp, err := doGetJSON[startTokenResponse](ctx, c, "changes/start-token?"+q.Encode())
	if err != nil {
		return "", fmt.Errorf("could not get start token: %w", err)
	}
	if resp.StartToken == "" {
		return "", errors.New("asset store returned empty start token")
	}
	return resp.StartToken, nil
}

// GetChanges returns one page of the change feed for the given cursor.
// Returns ErrTokenExpired when the store no longer accepts the cursor.
func (c *Client) GetChanges(ctx context.Context, token string) (*ChangeList, error) {
	q := url.Values{}
	q.Set("token", token)
	reqURL := c.resolveURL("changes?" + q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	// Expired or malformed cursors come back as 400 or 410.
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("cursor rejected with status %d: %w", resp.StatusCode, ErrTokenExpired)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	var list ChangeList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("could not unmarshal changes: %w", err)
	}
	return &list, nil
}

// CollectChanges drains the change feed from the given cursor across all
// pages and returns the flattened changes plus the new cursor for the next
// poll.
func (c *Client) CollectChanges(ctx context.Context, token string) ([]Change, string, error) {
	var changes []Change
	cursor := token
	for {
		page, err := c.GetChanges(ctx, cursor)
		if err != nil {
			return nil, "", err
		}
		changes = append(changes, page.Changes...)

		if page.NextPageToken != "" {
			cursor = page.NextPageToken
			continue
		}
		if page.NewStartToken == "" {
			return nil, "", errors.New("change feed ended without a new start token")
		}
		return changes, page.NewStartToken, nil
	}
}

// Download fetches the content of one asset. Transient failures are retried
// with exponential backoff up to the configured attempt count.
func (c *Client) Download(ctx context.Context, assetID string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.downloadRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryBaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		data, err := c.downloadOnce(ctx, assetID)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("download failed after %d attempts: %w", c.downloadRetries, lastErr)
}

func (c *Client) downloadOnce(ctx context.Context, assetID string) ([]byte, error) {
	reqURL := c.resolveURL("assets", assetID, "content")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}
	return data, nil
}
