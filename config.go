package munroe

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config carries everything needed to assemble the engine. The zero value is
// not usable; build one with ConfigFromEnv or fill the fields directly.
type Config struct {
	// DatabasePath is the sqlite file holding the comic table.
	DatabasePath string `env:"MUNROE_DB, default=munroe.db"`

	// BlobDir is the directory holding one image file per comic.
	BlobDir string `env:"MUNROE_BLOB_DIR, default=blobs"`

	FeedURL    string `env:"MUNROE_FEED_URL, default=https://xkcd.com"`
	SuggestURL string `env:"MUNROE_SUGGEST_URL, default=https://relevantxkcd.appspot.com"`

	// PageSize is how many older comics one backward page covers.
	PageSize int `env:"MUNROE_PAGE_SIZE, default=15"`

	// MinComics is the row count under which a refresh also pulls one
	// backward page.
	MinComics int `env:"MUNROE_MIN_COMICS, default=15"`

	// FanOut bounds how many fetches a page or search runs concurrently.
	FanOut int `env:"MUNROE_FANOUT, default=4"`

	// AnchorID seeds the sync position when the store is empty: catch-up
	// starts above it and pagination below it.
	AnchorID int `env:"MUNROE_ANCHOR_ID, default=2278"`

	// HTTPTimeout bounds each single network attempt. There are no retries.
	HTTPTimeout time.Duration `env:"MUNROE_HTTP_TIMEOUT, default=10s"`

	// LogFormat selects the default logger's encoding, "text" or "json".
	// Ignored when the embedder injects its own logger.
	LogFormat string `env:"MUNROE_LOG_FORMAT, default=text"`
}

// ConfigFromEnv builds a Config from the MUNROE_* environment variables,
// falling back to the documented defaults.
func ConfigFromEnv(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}
