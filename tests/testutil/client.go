package testutil

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// BuildConfig encodes an installation config blob wrapping the given
// manifest URL. Overrides are merged over the upstream field, so callers
// can flip any display option the wire format knows.
func BuildConfig(manifestURL string, overrides map[string]any) string {
	m := map[string]any{"upstream": manifestURL}
	for k, v := range overrides {
		m[k] = v
	}
	raw, _ := json.Marshal(m) //nolint:errcheck // test code
	return base64.RawURLEncoding.EncodeToString(raw)
}

// TestClient provides helper methods for making addon requests in tests.
type TestClient struct {
	baseURL    string
	httpClient *http.Client
	username   string
	password   string
}

// NewTestClient creates a new test client.
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithBasicAuth sets credentials for admin requests.
func (c *TestClient) WithBasicAuth(username, password string) *TestClient {
	c.username = username
	c.password = password
	return c
}

// BaseURL returns the client's base URL.
func (c *TestClient) BaseURL() string {
	return c.baseURL
}

// HTTPClient returns the underlying http.Client.
func (c *TestClient) HTTPClient() *http.Client {
	return c.httpClient
}

// GetManifest fetches the rewritten manifest for a config blob.
func (c *TestClient) GetManifest(ctx context.Context, blob string) (*http.Response, error) {
	return c.Get(ctx, fmt.Sprintf("/%s/manifest.json", blob))
}

// GetCatalog fetches an enriched catalog for a config blob.
func (c *TestClient) GetCatalog(ctx context.Context, blob, mediaType, catalogID string) (*http.Response, error) {
	return c.Get(ctx, fmt.Sprintf("/%s/catalog/%s/%s.json", blob, mediaType, catalogID))
}

// GetCatalogExtra fetches an enriched catalog page with a trailing extra
// segment, e.g. "skip=100" or "search=batman".
func (c *TestClient) GetCatalogExtra(ctx context.Context, blob, mediaType, catalogID, extra string) (*http.Response, error) {
	return c.Get(ctx, fmt.Sprintf("/%s/catalog/%s/%s/%s.json", blob, mediaType, catalogID, extra))
}

// GetMeta fetches an enriched meta document for a config blob.
func (c *TestClient) GetMeta(ctx context.Context, blob, mediaType, id string) (*http.Response, error) {
	return c.Get(ctx, fmt.Sprintf("/%s/meta/%s/%s.json", blob, mediaType, id))
}

// Get sends a GET request to the given path.
func (c *TestClient) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	return c.httpClient.Do(req)
}

// PostJSON sends a POST request with JSON body. A nil body posts empty.
func (c *TestClient) PostJSON(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	return c.httpClient.Do(req)
}

// GetMetrics fetches the metrics endpoint.
func (c *TestClient) GetMetrics(ctx context.Context) (string, error) {
	resp, err := c.Get(ctx, "/metrics")
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	return string(body), nil
}

// ReadBody drains and closes a response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
