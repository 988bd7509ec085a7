// Package lifeapi is the HTTP client for the life-trajectory embeddings API.
//
// The API lives behind two possible bases: a direct one (the API's own origin,
// for same-host deployments) and a proxied one (a path-prefixed origin fronted
// by the viewer's deployment). Versioned data endpoints hang off {base}/api/v1
// while the liveness probe lives separately at {base}/api/health.
package lifeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Mode selects which base the client targets.
type Mode string

const (
	// ModeAuto targets the API directly when its host looks like this
	// machine, otherwise goes through the proxy base.
	ModeAuto   Mode = "auto"
	ModeDirect Mode = "direct"
	ModeProxy  Mode = "proxy"
)

const (
	versionPrefix = "/api/v1"
	healthPath    = "/api/health"
)

// Config holds upstream connection settings.
type Config struct {
	DirectURL   string // API origin for same-host deployments, e.g. http://localhost:8080
	ProxyURL    string // path-prefixed origin for proxied deployments, e.g. https://viewer.example.com/life
	Mode        Mode   // auto, direct, or proxy
	TimeoutSecs int    // per-request timeout (default: 60)
}

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Client issues requests against the resolved base. It never retries: load
// failures are surfaced to the user, who decides whether to reload.
type Client struct {
	config Config
	base   string
	mode   Mode
	http   *http.Client
}

// NewClient resolves the base URL per Config.Mode and returns a ready client.
func NewClient(config Config) (*Client, error) {
	if config.TimeoutSecs <= 0 {
		config.TimeoutSecs = 60
	}
	if config.Mode == "" {
		config.Mode = ModeAuto
	}

	mode := resolveMode(config.Mode, config.DirectURL)
	var base string
	switch mode {
	case ModeDirect:
		base = config.DirectURL
	case ModeProxy:
		base = config.ProxyURL
	}
	if base == "" {
		return nil, fmt.Errorf("no upstream base configured for mode %q", mode)
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid upstream base %q: %w", base, err)
	}
	base = strings.TrimRight(base, "/")

	return &Client{
		config: config,
		base:   base,
		mode:   mode,
		http: &http.Client{
			Timeout: time.Duration(config.TimeoutSecs) * time.Second,
		},
	}, nil
}

// resolveMode turns ModeAuto into direct or proxy. Direct wins when the
// direct URL's host is loopback or this machine's hostname.
func resolveMode(mode Mode, directURL string) Mode {
	switch mode {
	case ModeDirect, ModeProxy:
		return mode
	}

	u, err := url.Parse(directURL)
	if err != nil || u.Hostname() == "" {
		return ModeProxy
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return ModeDirect
	}
	if hn, err := os.Hostname(); err == nil && strings.EqualFold(hn, host) {
		return ModeDirect
	}
	return ModeProxy
}

// Base returns the resolved origin the client targets.
func (c *Client) Base() string { return c.base }

// ResolvedMode reports whether the client ended up direct or proxied.
func (c *Client) ResolvedMode() Mode { return c.mode }

// Visualization fetches the full dataset with coordinates.
func (c *Client) Visualization(ctx context.Context) (*VisualizationData, error) {
	var out VisualizationData
	if err := c.getJSON(ctx, c.base+versionPrefix+"/visualization", &out); err != nil {
		return nil, fmt.Errorf("fetching visualization: %w", err)
	}
	return &out, nil
}

// Clusters fetches cluster metadata.
func (c *Client) Clusters(ctx context.Context) ([]ClusterInfo, error) {
	var out ClusterList
	if err := c.getJSON(ctx, c.base+versionPrefix+"/clusters", &out); err != nil {
		return nil, fmt.Errorf("fetching clusters: %w", err)
	}
	return out.Clusters, nil
}

// Person fetches one person's full detail record.
func (c *Client) Person(ctx context.Context, id string) (*PersonDetail, error) {
	if id == "" {
		return nil, fmt.Errorf("empty person id")
	}
	var out PersonDetail
	if err := c.getJSON(ctx, c.base+versionPrefix+"/person/"+url.PathEscape(id), &out); err != nil {
		return nil, fmt.Errorf("fetching person %s: %w", id, err)
	}
	return &out, nil
}

// Persons fetches a paginated listing.
func (c *Client) Persons(ctx context.Context, q PersonQuery) ([]PersonSummary, error) {
	vals := url.Values{}
	if q.Limit > 0 {
		vals.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		vals.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.ClusterID != nil {
		vals.Set("cluster_id", strconv.Itoa(*q.ClusterID))
	}
	u := c.base + versionPrefix + "/persons"
	if len(vals) > 0 {
		u += "?" + vals.Encode()
	}

	var out []PersonSummary
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("fetching persons: %w", err)
	}
	return out, nil
}

// Cluster fetches one cluster record.
func (c *Client) Cluster(ctx context.Context, id int) (*ClusterInfo, error) {
	var out ClusterInfo
	if err := c.getJSON(ctx, c.base+versionPrefix+"/cluster/"+strconv.Itoa(id), &out); err != nil {
		return nil, fmt.Errorf("fetching cluster %d: %w", id, err)
	}
	return &out, nil
}

// Health probes the upstream liveness endpoint on its separate base path.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.getJSON(ctx, c.base+healthPath, &out); err != nil {
		return nil, fmt.Errorf("fetching health: %w", err)
	}
	return &out, nil
}

// GenerateEmbedding submits life events for placement among the dataset.
func (c *Client) GenerateEmbedding(ctx context.Context, req EmbedRequest) (*EmbedResponse, error) {
	if len(req.LifeEvents) == 0 {
		return nil, fmt.Errorf("at least one life event is required")
	}
	var out EmbedResponse
	if err := c.postJSON(ctx, c.base+versionPrefix+"/generate-embedding", req, &out); err != nil {
		return nil, fmt.Errorf("generating embedding: %w", err)
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, u string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var retryAfter time.Duration
		if h := resp.Header.Get("Retry-After"); h != "" {
			if seconds, err := strconv.Atoi(h); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
			RetryAfter: retryAfter,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response JSON: %w", err)
	}
	return nil
}

// errorMessage extracts a displayable message from an error body. The
// upstream wraps errors as {"detail": ...} or {"error": ...}; anything else
// is used verbatim, truncated to keep messages readable.
func errorMessage(body []byte) string {
	var wrapped struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if wrapped.Detail != "" {
			return wrapped.Detail
		}
		if wrapped.Error != "" {
			return wrapped.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "upstream request failed"
	}
	return msg
}
