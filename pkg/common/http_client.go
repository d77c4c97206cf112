package common

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPResult is a decoded JSON response. Body is nil when the payload was not JSON; Raw always holds the bytes.
type HTTPResult struct {
	StatusCode int
	Body       map[string]interface{}
	Raw        string
}

type HTTPClient struct {
	client *http.Client
}

func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Post sends a JSON POST request with the given headers.
func (c *HTTPClient) Post(ctx context.Context, url string, payload interface{}, headers map[string]string) (*HTTPResult, error) {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, headers)
}

// Get sends a GET request with the given headers.
func (c *HTTPClient) Get(ctx context.Context, url string, headers map[string]string) (*HTTPResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, headers)
}

func (c *HTTPClient) do(req *http.Request, headers map[string]string) (*HTTPResult, error) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	result := &HTTPResult{StatusCode: resp.StatusCode, Raw: string(body)}
	if len(body) > 0 {
		var decoded map[string]interface{}
		if err := json.Unmarshal(body, &decoded); err == nil {
			result.Body = decoded
		}
	}
	return result, nil
}
