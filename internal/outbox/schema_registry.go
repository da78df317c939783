package outbox

import (
	"bytes"
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

const registryContentType = "application/vnd.schemaregistry.v1+json"

var errSubjectNotFound = errors.New("schema subject not found")

// SchemaRegistryClient registers JSON schemas with a Confluent-compatible
// registry.
type SchemaRegistryClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSchemaRegistryClient returns a client for baseURL with a 10s timeout.
func NewSchemaRegistryClient(baseURL string) *SchemaRegistryClient {
	return &SchemaRegistryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type registeredSchema struct {
	ID     int    `json:"id"`
	Schema string `json:"schema"`
}

// EnsureSchema returns the id of schema under subject. A new version is
// registered unless the latest one is equal after whitespace compaction.
func (c *SchemaRegistryClient) EnsureSchema(ctx context.Context, subject, schema string) (int, error) {
	var latest registeredSchema
	err := c.do(ctx, http.MethodGet, c.versionsURL(subject)+"/latest", nil, &latest)
	switch {
	case err == nil && compactJSON(latest.Schema) == compactJSON(schema):
		return latest.ID, nil
	case err != nil && !errors.Is(err, errSubjectNotFound):
		return 0, fmt.Errorf("lookup %s: %w", subject, err)
	}

	body := map[string]string{"schemaType": "JSON", "schema": schema}
	var created registeredSchema
	if err := c.do(ctx, http.MethodPost, c.versionsURL(subject), body, &created); err != nil {
		return 0, fmt.Errorf("register %s: %w", subject, err)
	}
	return created.ID, nil
}

func (c *SchemaRegistryClient) versionsURL(subject string) string {
	return c.baseURL + "/subjects/" + url.PathEscape(subject) + "/versions"
}

func (c *SchemaRegistryClient) do(ctx context.Context, method, target string, in, out any) error {
	var reader io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", registryContentType)
	if in != nil {
		req.Header.Set("Content-Type", registryContentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errSubjectNotFound
	case resp.StatusCode >= http.StatusMultipleChoices:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("registry returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func compactJSON(s string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}
