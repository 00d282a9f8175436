// Package suggest queries the external relevance service for comic numbers
// matching a free-text search. The service owns the ranking; this client
// just fetches, parses, and caches it.
package suggest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/omholt/munroe"
)

// cacheSize covers a healthy typing session; queries repeat heavily as the
// user backspaces and retypes.
const cacheSize = 128

// Client talks to the relevance host. Safe for concurrent use.
type Client struct {
	http    *http.Client
	baseURL string
	cache   *lru.Cache[string, []int]
}

// New creates a client for the given relevance host, e.g.
// "https://relevantxkcd.appspot.com".
func New(baseURL string, timeout time.Duration) (*Client, error) {
	cache, err := lru.New[string, []int](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("error creating suggestion cache: %s", err)
	}

	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		cache:   cache,
	}, nil
}

// Query returns the candidate comic numbers for a free-text query, in
// relevance order. Results are cached per query text.
func (c *Client) Query(ctx context.Context, text string) ([]int, error) {
	text = strings.TrimSpace(text)
	if ids, ok := c.cache.Get(text); ok {
		return ids, nil
	}

	u := fmt.Sprintf("%s/process?action=xkcd&query=%s", c.baseURL, url.QueryEscape(text))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", munroe.ErrNetwork, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", munroe.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code %d", munroe.ErrNetwork, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading suggestion body: %v", munroe.ErrNetwork, err)
	}

	ids := parseRanking(body)
	c.cache.Add(text, ids)

	return ids, nil
}

// parseRanking extracts comic numbers from the service's whitespace-
// delimited tabular body: two header tokens, then (number, url) pairs.
// Non-numeric tokens in the number column are discarded.
func parseRanking(body []byte) []int {
	fields := strings.Fields(string(body))
	if len(fields) <= 2 {
		return nil
	}

	var ids []int
	for i := 2; i < len(fields); i += 2 {
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			continue
		}
		ids = append(ids, n)
	}

	return ids
}
