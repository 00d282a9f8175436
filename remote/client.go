// Package remote fetches comic metadata and images from the feed's public
// host. Every call is a single attempt: failures surface immediately and the
// caller decides whether a user-driven refresh tries again.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/omholt/munroe"
)

// Metadata is the wire shape of one comic's info document. The date
// components arrive as numeric strings.
type Metadata struct {
	Num   int    `json:"num"`
	Title string `json:"title"`
	Alt   string `json:"alt"`
	Img   string `json:"img"`

	Year  string `json:"year"`
	Month string `json:"month"`
	Day   string `json:"day"`
}

// PublishedDate assembles the calendar date from the component fields.
// Components that don't form a real date fail with munroe.ErrDecode.
func (m Metadata) PublishedDate() (time.Time, error) {
	year, err1 := strconv.Atoi(m.Year)
	month, err2 := strconv.Atoi(m.Month)
	day, err3 := strconv.Atoi(m.Day)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, fmt.Errorf("%w: non-numeric date components %q-%q-%q", munroe.ErrDecode, m.Year, m.Month, m.Day)
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes out-of-range components (Feb 30 becomes Mar 2),
	// so a round-trip mismatch means the components were invalid.
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, fmt.Errorf("%w: invalid calendar date %q-%q-%q", munroe.ErrDecode, m.Year, m.Month, m.Day)
	}

	return t, nil
}

// Comic converts the metadata into the persisted entity, stamping in the
// image dimensions measured by the caller.
func (m Metadata) Comic(width, height float64) (munroe.Comic, error) {
	published, err := m.PublishedDate()
	if err != nil {
		return munroe.Comic{}, err
	}

	return munroe.Comic{
		ID:            m.Num,
		Title:         m.Title,
		Caption:       m.Alt,
		PublishedDate: published,
		ImageWidth:    width,
		ImageHeight:   height,
	}, nil
}

// Client talks to the feed host. Safe for concurrent use.
type Client struct {
	http    *http.Client
	baseURL string
}

// New creates a client for the given feed host, e.g. "https://xkcd.com".
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Metadata fetches one comic's info document by number. An unpublished
// number comes back as munroe.ErrNotFound, transport trouble as
// munroe.ErrNetwork, and an unreadable body as munroe.ErrDecode.
func (c *Client) Metadata(ctx context.Context, id int) (Metadata, error) {
	url := fmt.Sprintf("%s/%d/info.0.json", c.baseURL, id)
	resp, err := c.get(ctx, url)
	if err != nil {
		return Metadata{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Metadata{}, fmt.Errorf("comic %d: %w", id, munroe.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return Metadata{}, fmt.Errorf("%w: unexpected status code %d", munroe.ErrNetwork, resp.StatusCode)
	}

	var m Metadata
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return Metadata{}, fmt.Errorf("%w: decoding comic %d: %v", munroe.ErrDecode, id, err)
	}

	m.Title = sanitize(m.Title)
	m.Alt = sanitize(m.Alt)

	return m, nil
}

// Image fetches the raw bytes at the image URL given by a comic's metadata.
func (c *Client) Image(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("image %s: %w", url, munroe.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code %d", munroe.ErrNetwork, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading image body: %v", munroe.ErrNetwork, err)
	}

	return data, nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", munroe.ErrNetwork, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", munroe.ErrNetwork, err)
	}

	return resp, nil
}

var stripPolicy = bluemonday.StrictPolicy()

// Removes all html tags from the string before it gets persisted.
//
// Also limits the length of the string so there's not a massive chunk of
// text being stored.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = stripPolicy.Sanitize(s)
	if len(s) > 2048 {
		s = s[:2048]
	}

	return s
}
