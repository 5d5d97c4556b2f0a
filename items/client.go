package items

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

// Doer is a minimal, local HTTP client abstraction.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// RequestError is returned for any non-success response from the platform,
// except the metadata not-found case, which is an explicit absence.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("items: request failed with %d: %s", e.StatusCode, e.Body)
}

// Client talks to the items platform. All calls are single requests, no
// retries; a failed call is the caller's problem.
type Client struct {
	BaseURL string
	Client  Doer
}

// New returns a client for the given API base URL with a default timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// get performs an authenticated GET and returns the response body for 2xx
// responses. Everything else comes back as *RequestError, so callers can
// inspect the status.
func (c *Client) get(ctx context.Context, token, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", link, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return b, nil
}

// listResponse wraps the wire format of listing and search responses.
type listResponse struct {
	Items []Item `json:"items"`
}

// ListItems returns all items owned by a publisher, in listing order.
func (c *Client) ListItems(ctx context.Context, token, publisherID string) ([]Item, error) {
	link := fmt.Sprintf("%s/publishers/%s/items", c.BaseURL, url.PathEscape(publisherID))
	b, err := c.get(ctx, token, link)
	if err != nil {
		return nil, err
	}
	var lr listResponse
	if err := json.Unmarshal(b, &lr); err != nil {
		return nil, err
	}
	return lr.Items, nil
}

// SearchItems returns publisher items matching a free text query.
func (c *Client) SearchItems(ctx context.Context, token, publisherID, query string) ([]Item, error) {
	link := fmt.Sprintf("%s/publishers/%s/items/search?q=%s",
		c.BaseURL, url.PathEscape(publisherID), url.QueryEscape(query))
	b, err := c.get(ctx, token, link)
	if err != nil {
		return nil, err
	}
	var lr listResponse
	if err := json.Unmarshal(b, &lr); err != nil {
		return nil, err
	}
	return lr.Items, nil
}

// GetItemMetadata returns the detail document for one item. An item deleted
// between listing and fetch answers 404; that case returns (nil, nil), it is
// an absence, not an error.
func (c *Client) GetItemMetadata(ctx context.Context, token, itemID string) (*ItemMetadata, error) {
	link := fmt.Sprintf("%s/items/%s/metadata", c.BaseURL, url.PathEscape(itemID))
	b, err := c.get(ctx, token, link)
	if err != nil {
		var re *RequestError
		if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	var m ItemMetadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Download streams one file reference payload into w and returns the number
// of bytes copied.
func (c *Client) Download(ctx context.Context, token, fileURL string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fileURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, &RequestError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return io.Copy(w, resp.Body)
}
