package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// World is one row of the public world list
type World struct {
	ID       int
	Region   string
	Type     string
	Activity string
	Players  int
}

// Fetcher pulls the two public player-count sources. The player-count
// endpoint reports the combined RS3+OSRS total; the world page carries the
// OSRS total plus one row per world.
type Fetcher interface {
	// CombinedCount fetches the combined RS3+OSRS online total
	CombinedCount(ctx context.Context) (int, error)

	// Worlds fetches the OSRS online total and the per-world populations
	Worlds(ctx context.Context) (int, []World, error)
}

// Config holds HTTP scraping settings
type Config struct {
	PlayerCountURL string
	WorldsURL      string
	Timeout        time.Duration
	UserAgent      string
}

// Client implements Fetcher against the live endpoints, reusing one
// http.Client for connection pooling
type Client struct {
	http           *http.Client
	playerCountURL string
	worldsURL      string
	userAgent      string
}

// NewClient creates a Client from config
func NewClient(cfg Config) *Client {
	return &Client{
		http:           &http.Client{Timeout: cfg.Timeout},
		playerCountURL: cfg.PlayerCountURL,
		worldsURL:      cfg.WorldsURL,
		userAgent:      cfg.UserAgent,
	}
}

// CombinedCount fetches and parses the JSONP player-count payload
func (c *Client) CombinedCount(ctx context.Context) (int, error) {
	body, err := c.get(ctx, c.playerCountURL)
	if err != nil {
		return 0, err
	}
	return ParseCombinedCount(body)
}

// Worlds fetches the world page once and parses the OSRS total and the
// world table from the same document, so both come from a single page load.
func (c *Client) Worlds(ctx context.Context) (int, []World, error) {
	body, err := c.get(ctx, c.worldsURL)
	if err != nil {
		return 0, nil, err
	}
	return ParseWorldPage(body)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s failed: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s failed: %w", url, err)
	}
	return body, nil
}
