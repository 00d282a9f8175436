// Package syncer reconciles the local replica against the remote feed:
// forward catch-up to the newest published comic, backward pagination into
// the archive, on-demand single fetches, and search-driven fetches.
//
// All network legs tolerate per-item failures; nothing retries. Merges go
// through the store's single-writer path, so concurrent legs commute.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/omholt/munroe"
	"github.com/omholt/munroe/blob"
	"github.com/omholt/munroe/logger"
	"github.com/omholt/munroe/remote"
	"github.com/omholt/munroe/store"
	"github.com/omholt/munroe/suggest"
)

// maxDirectID bounds the numeric-query shortcut: anything in [0, 9999] is
// treated as a comic number rather than search text.
const maxDirectID = 9999

// Syncer orchestrates fetch-and-merge against the remote feed.
type Syncer struct {
	store *store.Store
	blobs *blob.Store
	feed  *remote.Client
	sugg  *suggest.Client
	log   *slog.Logger

	anchorID  int
	pageSize  int
	minComics int
	fanOut    int
}

// New creates a syncer with injected dependencies. Zero or negative tuning
// values in cfg fall back to their defaults; AnchorID is taken as-is (zero
// is a meaningful anchor).
func New(st *store.Store, blobs *blob.Store, feed *remote.Client, sugg *suggest.Client, cfg munroe.Config, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 15
	}
	if cfg.MinComics <= 0 {
		cfg.MinComics = 15
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = 4
	}

	return &Syncer{
		store:     st,
		blobs:     blobs,
		feed:      feed,
		sugg:      sugg,
		log:       log,
		anchorID:  cfg.AnchorID,
		pageSize:  cfg.PageSize,
		minComics: cfg.MinComics,
		fanOut:    cfg.FanOut,
	}
}

// SearchResult carries the comics matching a query in presentation order,
// plus the originating query so a caller juggling in-flight searches can
// discard stale completions.
type SearchResult struct {
	Query  string
	Comics []munroe.Comic
}

// SyncForward catches up from the highest local comic number to the feed's
// newest publication. Each successful fetch is merged immediately before the
// next number is tried; the first fetch failure ends the chain. An empty
// result is a normal outcome meaning already caught up (or unreachable —
// the completion signal does not distinguish them).
func (s *Syncer) SyncForward(ctx context.Context) ([]munroe.Comic, error) {
	ctx = logger.Ctx(ctx, slog.String("op", "sync_forward"))

	maxID, ok, err := s.store.MaxID(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		maxID = s.anchorID
	}

	return s.syncForwardFrom(ctx, maxID)
}

// syncForwardFrom runs the catch-up chain starting just above maxID. Split
// out so Refresh can anchor both legs on the same pre-refresh bounds.
func (s *Syncer) syncForwardFrom(ctx context.Context, maxID int) ([]munroe.Comic, error) {
	merged := []munroe.Comic{}
	for next := maxID + 1; ; next++ {
		c, err := s.fetchOne(ctx, next)
		if err != nil {
			s.log.DebugContext(ctx, "catch-up stopped", "id", next, "merged", len(merged), "reason", err)
			return merged, nil
		}
		if err := s.store.Upsert(ctx, c); err != nil {
			return merged, fmt.Errorf("merging comic %d: %w", next, err)
		}
		merged = append(merged, c)
	}
}

// SyncBackward fetches one page of comics older than the lowest local
// number, concurrently with bounded fan-out, and merges the successes as a
// single batch. A page member that fails is logged and skipped. When the
// archive floor has been reached there is nothing older, and no fetch is
// issued.
func (s *Syncer) SyncBackward(ctx context.Context, pageSize int) ([]munroe.Comic, error) {
	ctx = logger.Ctx(ctx, slog.String("op", "sync_backward"))

	if pageSize <= 0 {
		pageSize = s.pageSize
	}

	first, ok, err := s.store.MinID(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		first = s.anchorID
	}

	return s.syncBackwardFrom(ctx, first, pageSize)
}

// syncBackwardFrom fetches the page of numbers strictly below first.
func (s *Syncer) syncBackwardFrom(ctx context.Context, first, pageSize int) ([]munroe.Comic, error) {
	if first <= 0 {
		return nil, nil
	}

	lo := first - pageSize
	if lo < 0 {
		lo = 0
	}

	var (
		pageMu sync.Mutex
		page   []munroe.Comic
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for id := lo; id < first; id++ {
		id := id
		g.Go(func() error {
			c, err := s.fetchOne(gctx, id)
			if err != nil {
				s.log.WarnContext(gctx, "skipping comic in page", "id", id, "error", err)
				return nil
			}
			pageMu.Lock()
			page = append(page, c)
			pageMu.Unlock()
			return nil
		})
	}
	// Page members swallow their own failures, so the join never errors;
	// partial results are never merged mid-flight.
	g.Wait()

	if len(page) == 0 {
		return nil, nil
	}

	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })
	if err := s.store.UpsertBatch(ctx, page); err != nil {
		return nil, fmt.Errorf("merging page: %w", err)
	}

	return page, nil
}

// LoadMore pulls one more page of older comics using the configured page
// size. The presentation layer calls it as the user nears the end of the
// list.
func (s *Syncer) LoadMore(ctx context.Context) ([]munroe.Comic, error) {
	return s.SyncBackward(ctx, s.pageSize)
}

// Ensure makes a comic present locally, fetching it only if absent. The
// existence check precedes any network call.
func (s *Syncer) Ensure(ctx context.Context, id int) error {
	_, err := s.store.Get(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, munroe.ErrNotFound) {
		return err
	}

	c, err := s.fetchOne(ctx, id)
	if err != nil {
		return err
	}

	return s.store.Upsert(ctx, c)
}

// Search resolves a query to comics. A numeric query in [0, 9999] is a
// direct lookup of that number. Free text goes to the relevance service; its
// candidates are ensured locally (failures tolerated individually) and the
// result is ordered by suggestion rank, not by comic number.
func (s *Syncer) Search(ctx context.Context, query string) (SearchResult, error) {
	ctx = logger.Ctx(ctx, slog.String("op", "search"))

	res := SearchResult{Query: query, Comics: []munroe.Comic{}}
	trimmed := strings.TrimSpace(query)

	if n, err := strconv.Atoi(trimmed); err == nil && n >= 0 && n <= maxDirectID {
		if err := s.Ensure(ctx, n); err != nil {
			s.log.WarnContext(ctx, "direct lookup failed", "id", n, "error", err)
		}
		c, err := s.store.Get(ctx, n)
		if errors.Is(err, munroe.ErrNotFound) {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res.Comics = []munroe.Comic{c}
		return res, nil
	}

	ids, err := s.sugg.Query(ctx, trimmed)
	if err != nil {
		return res, err
	}
	if len(ids) == 0 {
		return res, nil
	}

	// The service can repeat a candidate; only its best-ranked occurrence
	// counts. The cached slice stays untouched.
	seen := make(map[int]struct{}, len(ids))
	uniq := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	ids = uniq

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := s.Ensure(gctx, id); err != nil {
				s.log.WarnContext(gctx, "skipping search candidate", "id", id, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	comics, err := s.store.ByIDs(ctx, ids)
	if err != nil {
		return res, err
	}

	byID := make(map[int]munroe.Comic, len(comics))
	for _, c := range comics {
		byID[c.ID] = c
	}
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			res.Comics = append(res.Comics, c)
		}
	}

	return res, nil
}

// Refresh is the launch/pull-to-refresh policy: forward catch-up, plus one
// backward page when the local row count is below the configured minimum.
// The legs run concurrently; they touch disjoint number ranges and all
// writes serialize through the store. Refresh resolves whether the sync
// succeeded, partially succeeded, or failed — only a local merge failure is
// an error.
func (s *Syncer) Refresh(ctx context.Context) error {
	ctx = logger.Ctx(ctx, slog.String("op", "refresh"))

	count, err := s.store.Count(ctx)
	if err != nil {
		return err
	}

	// Anchor both legs on the pre-refresh bounds so their number ranges
	// stay disjoint no matter how the merges interleave.
	maxID, ok, err := s.store.MaxID(ctx)
	if err != nil {
		return err
	}
	if !ok {
		maxID = s.anchorID
	}
	minID, ok, err := s.store.MinID(ctx)
	if err != nil {
		return err
	}
	if !ok {
		minID = s.anchorID
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.syncForwardFrom(gctx, maxID)
		return err
	})
	if count < s.minComics {
		g.Go(func() error {
			_, err := s.syncBackwardFrom(gctx, minID, s.pageSize)
			return err
		})
	}

	return g.Wait()
}

// fetchOne runs the metadata -> image -> dimensions -> blob chain for a
// single comic and returns the merged entity ready to upsert. The blob is
// written before the row exists; the two writes are not atomic with each
// other.
func (s *Syncer) fetchOne(ctx context.Context, id int) (munroe.Comic, error) {
	m, err := s.feed.Metadata(ctx, id)
	if err != nil {
		return munroe.Comic{}, err
	}

	data, err := s.feed.Image(ctx, m.Img)
	if err != nil {
		return munroe.Comic{}, err
	}

	width, height, err := blob.Dimensions(data)
	if err != nil {
		return munroe.Comic{}, err
	}

	// The whole payload must validate before the blob lands; a rejected
	// merge must not strand an image with no row.
	c, err := m.Comic(width, height)
	if err != nil {
		return munroe.Comic{}, err
	}

	if err := s.blobs.Save(data, m.Num); err != nil {
		return munroe.Comic{}, err
	}

	return c, nil
}
