// Package store persists the comic table in sqlite and publishes live,
// filtered result sets with positional change diffs.
//
// The table has a single logical writer: every mutation funnels through one
// mutex-guarded transactional path, no matter how many concurrent fetches
// produced the rows. Reads are unrestricted.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/omholt/munroe"
)

// Store is the durable comic table.
type Store struct {
	db  *sqlx.DB
	log *slog.Logger

	// writeMu serializes the write path. Diff publication happens inside
	// the critical section so every subscriber sees mutation batches in
	// commit order.
	writeMu sync.Mutex

	viewMu sync.Mutex
	views  map[*ResultSet]struct{}
}

// Open opens (creating if needed) the sqlite file at path and migrates the
// schema. A nil log falls back to slog.Default.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating database directory: %v", munroe.ErrStorage, err)
		}
	}

	dbx, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", munroe.ErrStorage, err)
	}

	if err := runMigrations(dbx); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("%w: %v", munroe.ErrStorage, err)
	}

	return &Store{
		db:    dbx,
		log:   log,
		views: map[*ResultSet]struct{}{},
	}, nil
}

// Close closes the underlying database. Open result sets stop receiving
// changes; their subscriptions should be closed by their owners.
func (s *Store) Close() error {
	return s.db.Close()
}

const upsertQuery = `INSERT INTO comics (id, title, caption, published_date, image_width, image_height)
VALUES (:id, :title, :caption, :published_date, :image_width, :image_height)
ON CONFLICT(id) DO UPDATE SET
	title = excluded.title,
	caption = excluded.caption,
	published_date = excluded.published_date,
	image_width = excluded.image_width,
	image_height = excluded.image_height;`

// Upsert inserts or replaces the feed-owned fields of one comic. The
// user-owned is_saved/saved_at columns are never touched; upserting an
// unchanged row commits but emits no diff.
func (s *Store) Upsert(ctx context.Context, c munroe.Comic) error {
	return s.UpsertBatch(ctx, []munroe.Comic{c})
}

// UpsertBatch applies a set of upserts as one transaction and republishes
// every live result set exactly once.
func (s *Store) UpsertBatch(ctx context.Context, comics []munroe.Comic) error {
	if len(comics) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning upsert: %v", munroe.ErrStorage, err)
	}
	for _, c := range comics {
		if _, err := tx.NamedExecContext(ctx, upsertQuery, c); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: upserting comic %d: %v", munroe.ErrStorage, c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing upsert batch: %v", munroe.ErrConflict, err)
	}

	s.republish(ctx)

	return nil
}

// SetSaved is the presentation layer's only write path: it toggles the saved
// flag on an existing row, stamping saved_at on save and clearing it on
// unsave. Returns munroe.ErrNotFound if no row has the given id.
func (s *Store) SetSaved(ctx context.Context, id int, saved bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var (
		res sql.Result
		err error
	)
	if saved {
		const q = `UPDATE comics SET is_saved = 1, saved_at = ? WHERE id = ?;`
		res, err = s.db.ExecContext(ctx, q, time.Now().Unix(), id)
	} else {
		const q = `UPDATE comics SET is_saved = 0, saved_at = NULL WHERE id = ?;`
		res, err = s.db.ExecContext(ctx, q, id)
	}
	if err != nil {
		return fmt.Errorf("%w: updating saved flag: %v", munroe.ErrStorage, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("comic %d: %w", id, munroe.ErrNotFound)
	}

	s.republish(ctx)

	return nil
}

// Get fetches one comic by number.
func (s *Store) Get(ctx context.Context, id int) (munroe.Comic, error) {
	const q = `SELECT * FROM comics WHERE id = ?;`

	var c munroe.Comic
	err := s.db.GetContext(ctx, &c, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return munroe.Comic{}, fmt.Errorf("comic %d: %w", id, munroe.ErrNotFound)
	}
	if err != nil {
		return munroe.Comic{}, fmt.Errorf("error fetching comic: %s", err)
	}

	return c, nil
}

// ByIDs fetches the comics present locally out of the given set, in the
// store's natural id order. Missing ids are simply absent from the result.
func (s *Store) ByIDs(ctx context.Context, ids []int) ([]munroe.Comic, error) {
	return s.queryRows(ctx, munroe.ByIDs(ids...), munroe.OldestFirst)
}

// Count returns the number of rows in the table.
func (s *Store) Count(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM comics;`

	var count int
	if err := s.db.GetContext(ctx, &count, q); err != nil {
		return 0, fmt.Errorf("error counting comics: %s", err)
	}

	return count, nil
}

// MaxID returns the highest comic number present, with ok false when the
// table is empty. Derived by query; never stored redundantly.
func (s *Store) MaxID(ctx context.Context) (int, bool, error) {
	return s.boundID(ctx, `SELECT MAX(id) FROM comics;`)
}

// MinID returns the lowest comic number present, with ok false when the
// table is empty.
func (s *Store) MinID(ctx context.Context) (int, bool, error) {
	return s.boundID(ctx, `SELECT MIN(id) FROM comics;`)
}

func (s *Store) boundID(ctx context.Context, q string) (int, bool, error) {
	var v sql.NullInt64
	if err := s.db.GetContext(ctx, &v, q); err != nil {
		return 0, false, fmt.Errorf("error querying id bound: %s", err)
	}

	return int(v.Int64), v.Valid, nil
}

// Query returns a live result set over the given filter and sort. The handle
// stays registered with the store until closed, so close it when done.
func (s *Store) Query(filter munroe.Filter, sort munroe.Sort) *ResultSet {
	rs := &ResultSet{
		store:  s,
		filter: filter,
		sort:   sort,
		subs:   map[string]*Subscription{},
	}

	s.viewMu.Lock()
	s.views[rs] = struct{}{}
	s.viewMu.Unlock()

	return rs
}

func (s *Store) queryRows(ctx context.Context, filter munroe.Filter, sort munroe.Sort) ([]munroe.Comic, error) {
	query, args, err := buildQuery(filter, sort)
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	comics := []munroe.Comic{}
	if err := s.db.SelectContext(ctx, &comics, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting comics: %s", err)
	}

	return comics, nil
}

func buildQuery(filter munroe.Filter, sort munroe.Sort) (string, []any, error) {
	q := sq.Select("id", "title", "caption", "published_date", "image_width", "image_height", "is_saved", "saved_at").
		From("comics")

	if filter.Saved {
		q = q.Where(sq.Eq{"is_saved": true})
	}
	if filter.ID != nil {
		q = q.Where(sq.Eq{"id": *filter.ID})
	}
	if filter.IDs != nil {
		q = q.Where(sq.Eq{"id": filter.IDs})
	}

	dir := "ASC"
	if sort.Descending {
		dir = "DESC"
	}
	switch sort.Key {
	case munroe.SortBySavedAt:
		// Ties (rows saved in the same second) fall back to newest comic
		// first so the ordering stays deterministic.
		q = q.OrderBy("saved_at "+dir, "id DESC")
	default:
		q = q.OrderBy("id " + dir)
	}

	return q.ToSql()
}

// republish recomputes every live result set and pushes diffs. Called with
// writeMu held so batches publish in commit order.
func (s *Store) republish(ctx context.Context) {
	s.viewMu.Lock()
	views := make([]*ResultSet, 0, len(s.views))
	for rs := range s.views {
		views = append(views, rs)
	}
	s.viewMu.Unlock()

	for _, rs := range views {
		rs.refresh(ctx)
	}
}

func (s *Store) dropView(rs *ResultSet) {
	s.viewMu.Lock()
	delete(s.views, rs)
	s.viewMu.Unlock()
}
