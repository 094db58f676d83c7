package zap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/ramjavii/nestsecure/internal/domain/scans"
	"github.com/ramjavii/nestsecure/internal/integration"
)

// Client wraps the ZAP REST API: spider each target, then run an active
// scan and collect alerts. The handle encodes the per-target active-scan
// IDs ("id@target" pairs), so polling and fetching survive a restart
// without any client-side registry.
type Client struct {
	baseURL       string
	apiKey        string
	http          *http.Client
	spiderTimeout time.Duration
	pollEvery     time.Duration
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		http:          &http.Client{Timeout: 60 * time.Second},
		spiderTimeout: 10 * time.Minute,
		pollEvery:     2 * time.Second,
	}
}

func (c *Client) Tool() domain.Tool { return domain.ToolZAP }

func (c *Client) Endpoint() string { return c.baseURL }

func (c *Client) Capabilities() integration.Capabilities {
	return integration.Capabilities{RemoteCancel: true}
}

func (c *Client) Connect(ctx context.Context) error {
	var out struct {
		Version string `json:"version"`
	}
	return c.get(ctx, "/JSON/core/view/version/", nil, &out)
}

func (c *Client) Launch(ctx context.Context, targets []string, params map[string]string) (string, map[string]string, error) {
	if len(targets) == 0 {
		return "", nil, fmt.Errorf("%w: no targets", integration.ErrInvalidTarget)
	}
	var parts []string
	for _, t := range targets {
		u, err := url.Parse(t)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "", nil, fmt.Errorf("%w: %q is not an absolute URL", integration.ErrInvalidTarget, t)
		}
		// the spider must finish before the active scan sees anything
		if err := c.spider(ctx, t); err != nil {
			return "", nil, err
		}
		scanID, err := c.startActiveScan(ctx, t)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, scanID+"@"+t)
	}
	return strings.Join(parts, ","), nil, nil
}

func (c *Client) Poll(ctx context.Context, handle string) (integration.JobState, error) {
	for _, scanID := range handleScanIDs(handle) {
		var out struct {
			Status string `json:"status"`
		}
		err := c.get(ctx, "/JSON/ascan/view/status/", url.Values{"scanId": {scanID}}, &out)
		if err != nil {
			return integration.JobStateFailed, err
		}
		if out.Status != "100" {
			return integration.JobStateRunning, nil
		}
	}
	return integration.JobStateCompleted, nil
}

func (c *Client) FetchResults(ctx context.Context, handle string) ([]byte, error) {
	var merged struct {
		Alerts []json.RawMessage `json:"alerts"`
	}
	for _, target := range handleTargets(handle) {
		var out struct {
			Alerts []json.RawMessage `json:"alerts"`
		}
		err := c.get(ctx, "/JSON/core/view/alerts/", url.Values{"baseurl": {target}}, &out)
		if err != nil {
			return nil, err
		}
		merged.Alerts = append(merged.Alerts, out.Alerts...)
	}
	return json.Marshal(merged)
}

func (c *Client) Cancel(ctx context.Context, handle string) error {
	var lastErr error
	for _, scanID := range handleScanIDs(handle) {
		var out struct {
			Result string `json:"Result"`
		}
		if err := c.get(ctx, "/JSON/ascan/action/stop/", url.Values{"scanId": {scanID}}, &out); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *Client) spider(ctx context.Context, target string) error {
	var started struct {
		Scan string `json:"scan"`
	}
	err := c.get(ctx, "/JSON/spider/action/scan/", url.Values{"url": {target}, "recurse": {"true"}}, &started)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.spiderTimeout)
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: spider of %s did not finish", integration.ErrTimeout, target)
		}
		var out struct {
			Status string `json:"status"`
		}
		if err := c.get(ctx, "/JSON/spider/view/status/", url.Values{"scanId": {started.Scan}}, &out); err != nil {
			return err
		}
		if out.Status == "100" {
			return nil
		}
	}
}

func (c *Client) startActiveScan(ctx context.Context, target string) (string, error) {
	var out struct {
		Scan string `json:"scan"`
	}
	err := c.get(ctx, "/JSON/ascan/action/scan/", url.Values{"url": {target}, "recurse": {"true"}}, &out)
	if err != nil {
		return "", err
	}
	if out.Scan == "" {
		return "", fmt.Errorf("%w: zap returned no scan id for %s", integration.ErrLaunch, target)
	}
	return out.Scan, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if q == nil {
		q = url.Values{}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("X-ZAP-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", integration.ErrConnection, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: zap rejected api key (%d)", integration.ErrAuth, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: zap returned %d for %s", integration.ErrToolBusy, resp.StatusCode, path)
	default:
		return fmt.Errorf("%w: zap returned %d for %s", integration.ErrLaunch, resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", integration.ErrConnection, path, err)
	}
	return nil
}

func handleScanIDs(handle string) []string {
	var ids []string
	for _, part := range strings.Split(handle, ",") {
		if id, _, ok := strings.Cut(part, "@"); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func handleTargets(handle string) []string {
	var targets []string
	for _, part := range strings.Split(handle, ",") {
		if _, t, ok := strings.Cut(part, "@"); ok && t != "" {
			targets = append(targets, t)
		}
	}
	return targets
}
