package syncer

import (
	"context"
	"log/slog"
	"os"

	"github.com/omholt/munroe"
	"github.com/omholt/munroe/blob"
	"github.com/omholt/munroe/logger"
	"github.com/omholt/munroe/remote"
	"github.com/omholt/munroe/store"
	"github.com/omholt/munroe/suggest"
)

// Engine bundles a fully wired replica: the syncer plus the store and blob
// handles the presentation layer reads through.
type Engine struct {
	*Syncer

	Store *store.Store
	Blobs *blob.Store
}

// Open assembles the whole engine from config: entity store (migrated), blob
// directory, and both network clients. Everything is constructed explicitly
// here and injected; nothing hangs off package globals.
func Open(ctx context.Context, cfg munroe.Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = logger.New(os.Stderr, cfg.LogFormat)
	}

	st, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		return nil, err
	}

	blobs, err := blob.New(cfg.BlobDir)
	if err != nil {
		st.Close()
		return nil, err
	}

	sugg, err := suggest.New(cfg.SuggestURL, cfg.HTTPTimeout)
	if err != nil {
		st.Close()
		return nil, err
	}

	feed := remote.New(cfg.FeedURL, cfg.HTTPTimeout)

	return &Engine{
		Syncer: New(st, blobs, feed, sugg, cfg, log),
		Store:  st,
		Blobs:  blobs,
	}, nil
}

// Close releases the engine's database handle.
func (e *Engine) Close() error {
	return e.Store.Close()
}
