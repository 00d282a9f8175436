package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/omholt/munroe"
)

// Change is one emission to a subscriber: the full ordered snapshot plus the
// positional diff against the previously emitted snapshot.
//
// Deleted positions index into the previous snapshot; Inserted and Modified
// positions index into Comics. Consumers apply them to an ordered list
// structure directly.
type Change struct {
	Comics []munroe.Comic

	Inserted []int
	Deleted  []int
	Modified []int

	// Initial marks the first emission of a subscription, which carries the
	// snapshot and no diff.
	Initial bool
}

// ResultSet is a live, ordered view over the comic table. All subscriptions
// on the same handle share its filter and sort but receive independent
// callback streams.
type ResultSet struct {
	store  *Store
	filter munroe.Filter
	sort   munroe.Sort

	mu     sync.Mutex
	last   []munroe.Comic
	primed bool
	subs   map[string]*Subscription
}

// Subscription is one observer of a result set. Owned by the subscriber and
// disposed with Close; the store holds no reference to presentation objects.
type Subscription struct {
	id string
	rs *ResultSet

	ch   chan Change
	done chan struct{}
	once sync.Once
}

// Snapshot runs the query once without subscribing.
func (rs *ResultSet) Snapshot(ctx context.Context) ([]munroe.Comic, error) {
	return rs.store.queryRows(ctx, rs.filter, rs.sort)
}

// Subscribe registers fn to be called once with the initial ordered snapshot
// and then on every committed mutation batch that changes this view. Each
// subscriber gets its own delivery goroutine, so callbacks for one
// subscription are serialized but never block the store's other consumers.
//
// A subscriber that stops draining eventually backpressures the write path
// until its subscription closes; close subscriptions that are no longer
// wanted.
func (rs *ResultSet) Subscribe(ctx context.Context, fn func(Change)) (*Subscription, error) {
	rs.mu.Lock()
	if !rs.primed {
		rows, err := rs.store.queryRows(ctx, rs.filter, rs.sort)
		if err != nil {
			rs.mu.Unlock()
			return nil, err
		}
		rs.last = rows
		rs.primed = true
	}

	sub := &Subscription{
		id:   uuid.NewString(),
		rs:   rs,
		ch:   make(chan Change, 32),
		done: make(chan struct{}),
	}
	rs.subs[sub.id] = sub
	sub.ch <- Change{Comics: rs.last, Initial: true}
	rs.mu.Unlock()

	go sub.deliver(fn)

	return sub, nil
}

// Close detaches the handle from the store and closes every remaining
// subscription.
func (rs *ResultSet) Close() {
	rs.store.dropView(rs)

	rs.mu.Lock()
	subs := make([]*Subscription, 0, len(rs.subs))
	for _, sub := range rs.subs {
		subs = append(subs, sub)
	}
	rs.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// refresh recomputes the view and broadcasts the diff, if any. Runs on the
// store's write path with writeMu held.
func (rs *ResultSet) refresh(ctx context.Context) {
	rows, err := rs.store.queryRows(ctx, rs.filter, rs.sort)
	if err != nil {
		rs.store.log.Error("refreshing result set", "error", err)
		return
	}

	rs.mu.Lock()

	// Nobody has taken an initial snapshot yet, so there is no baseline to
	// diff against.
	if !rs.primed {
		rs.mu.Unlock()
		return
	}

	inserted, deleted, modified := diffSnapshots(rs.last, rows)
	rs.last = rows
	if len(inserted)+len(deleted)+len(modified) == 0 {
		rs.mu.Unlock()
		return
	}

	subs := make([]*Subscription, 0, len(rs.subs))
	for _, sub := range rs.subs {
		subs = append(subs, sub)
	}
	rs.mu.Unlock()

	// Fan-out runs outside the lock so a callback can close its own
	// subscription mid-delivery; a subscription closed while its buffer is
	// full is abandoned rather than sent to. writeMu still serializes
	// refreshes, so emissions stay in commit order.
	change := Change{
		Comics:   rows,
		Inserted: inserted,
		Deleted:  deleted,
		Modified: modified,
	}
	for _, sub := range subs {
		select {
		case sub.ch <- change:
		case <-sub.done:
		}
	}
}

// diffSnapshots computes the minimal positional diff between two ordered
// row sets: a single pass over each list with an id -> previous-position
// map, per the keyed-list diff the consumers apply.
func diffSnapshots(prev, next []munroe.Comic) (inserted, deleted, modified []int) {
	prevPos := make(map[int]int, len(prev))
	for i, c := range prev {
		prevPos[c.ID] = i
	}

	nextIDs := make(map[int]struct{}, len(next))
	for i, c := range next {
		nextIDs[c.ID] = struct{}{}
		j, ok := prevPos[c.ID]
		if !ok {
			inserted = append(inserted, i)
			continue
		}
		if !c.Equal(prev[j]) {
			modified = append(modified, i)
		}
	}

	for i, c := range prev {
		if _, ok := nextIDs[c.ID]; !ok {
			deleted = append(deleted, i)
		}
	}

	return inserted, deleted, modified
}

func (s *Subscription) deliver(fn func(Change)) {
	for {
		select {
		case <-s.done:
			return
		case change := <-s.ch:
			fn(change)
		}
	}
}

// Close stops further callbacks. Idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.rs.mu.Lock()
		delete(s.rs.subs, s.id)
		s.rs.mu.Unlock()
		close(s.done)
	})
}
