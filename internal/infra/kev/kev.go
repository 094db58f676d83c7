package kev

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultURL is the CISA Known Exploited Vulnerabilities catalog.
const DefaultURL = "https://raw.githubusercontent.com/cisagov/kev-data/main/known_exploited_vulnerabilities.json"

// DefaultTTL controls how long a fetched catalog is considered fresh.
const DefaultTTL = 24 * time.Hour

// Client fetches the CISA KEV catalog and answers exploited-status lookups
// against an in-memory copy. The catalog is refreshed lazily on first use
// after the TTL expires. Implements risk.ExploitLookup.
type Client struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client

	mu        sync.RWMutex
	catalog   map[string]bool
	fetchedAt time.Time
}

func New(url string, ttl time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Client{
		url:        url,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type catalogResponse struct {
	Title           string `json:"title"`
	CatalogVersion  string `json:"catalogVersion"`
	Count           int    `json:"count"`
	Vulnerabilities []struct {
		CVEID string `json:"cveID"`
	} `json:"vulnerabilities"`
}

// KnownExploited reports whether the identifier appears in the KEV catalog.
// Only CVE identifiers can match; anything else is trivially false.
func (c *Client) KnownExploited(ctx context.Context, vulnID string) (bool, error) {
	if !strings.HasPrefix(vulnID, "CVE-") {
		return false, nil
	}
	if err := c.ensureFresh(ctx); err != nil {
		return false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.catalog[vulnID], nil
}

func (c *Client) ensureFresh(ctx context.Context) error {
	c.mu.RLock()
	fresh := c.catalog != nil && time.Since(c.fetchedAt) < c.ttl
	c.mu.RUnlock()
	if fresh {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.catalog != nil && time.Since(c.fetchedAt) < c.ttl {
		return nil
	}
	catalog, err := c.fetch(ctx)
	if err != nil {
		// keep serving a stale catalog over failing every lookup
		if c.catalog != nil {
			return nil
		}
		return err
	}
	c.catalog = catalog
	c.fetchedAt = time.Now()
	return nil
}

func (c *Client) fetch(ctx context.Context) (map[string]bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching KEV catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("KEV catalog: unexpected status code %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading KEV catalog: %w", err)
	}

	var parsed catalogResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing KEV catalog: %w", err)
	}
	catalog := make(map[string]bool, len(parsed.Vulnerabilities))
	for _, v := range parsed.Vulnerabilities {
		catalog[v.CVEID] = true
	}
	return catalog, nil
}
