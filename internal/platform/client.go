package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"trainhooks/internal/util/jsonutil"
)

// MetadataClient pushes run metadata to the platform. Repeated keys overwrite
// earlier values.
type MetadataClient interface {
	UpdateRunMetadata(ctx context.Context, runName string, metadata map[string]any) error
}

const updateRunMetadataMutation = `mutation UpdateRunMetadata($name: String!, $metadata: JSON!) {
  updateRunMetadata(name: $name, metadata: $metadata) { name }
}`

const maxErrorBody = 4 << 10

// HTTPClient talks to the platform GraphQL endpoint.
type HTTPClient struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

type HTTPOption func(*HTTPClient)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.httpClient = c
		}
	}
}

// NewHTTPClient resolves the bearer token from accessTokenFile, falling back
// to apiKey.
func NewHTTPClient(endpoint, accessTokenFile, apiKey string, opts ...HTTPOption) (*HTTPClient, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("platform endpoint is required")
	}
	token, err := resolveToken(accessTokenFile, apiKey)
	if err != nil {
		return nil, err
	}
	c := &HTTPClient{
		endpoint:   endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func resolveToken(accessTokenFile, apiKey string) (string, error) {
	if path := strings.TrimSpace(accessTokenFile); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read access token file: %w", err)
		}
		if tok := strings.TrimSpace(string(raw)); tok != "" {
			return tok, nil
		}
	}
	if tok := strings.TrimSpace(apiKey); tok != "" {
		return tok, nil
	}
	return "", fmt.Errorf("no platform credentials: set an access token file or API key")
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *HTTPClient) UpdateRunMetadata(ctx context.Context, runName string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	body, err := jsonutil.MarshalNoEscape(graphQLRequest{
		Query: updateRunMetadataMutation,
		Variables: map[string]any{
			"name":     runName,
			"metadata": metadata,
		},
	})
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/graphql", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("update run metadata: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("update run metadata: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out graphQLResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, 0, len(out.Errors))
		for _, e := range out.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("update run metadata: %s", strings.Join(msgs, "; "))
	}
	return nil
}
