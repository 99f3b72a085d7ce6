package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/scanboard/realtime/internal/request"
)

// doRequest performs a single HTTP request. Statuses >= 400 are returned as
// *request.StatusError so the executor can classify them.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &request.StatusError{
			Code:    resp.StatusCode,
			Message: http.StatusText(resp.StatusCode),
			Body:    body,
		}
	}

	return body, nil
}

// get performs a GET request through the resilient executor.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := request.Do(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.doRequest(ctx, http.MethodGet, path, query)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
