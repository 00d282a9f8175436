package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omholt/munroe"
)

func collectChanges(t *testing.T, rs *ResultSet) (*Subscription, chan Change) {
	t.Helper()

	changes := make(chan Change, 32)
	sub, err := rs.Subscribe(context.Background(), func(c Change) { changes <- c })
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	return sub, changes
}

func waitChange(t *testing.T, changes chan Change) Change {
	t.Helper()

	select {
	case c := <-changes:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func assertNoChange(t *testing.T, changes chan Change) {
	t.Helper()

	select {
	case c := <-changes:
		t.Fatalf("unexpected change: %+v", c)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubscribe_InitialSnapshot(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.UpsertBatch(ctx, []munroe.Comic{testComic(1), testComic(2)}))

	rs := st.Query(munroe.All(), munroe.NewestFirst)
	defer rs.Close()

	_, changes := collectChanges(t, rs)

	initial := waitChange(t, changes)
	assert.True(t, initial.Initial)
	require.Len(t, initial.Comics, 2)
	assert.Equal(t, 2, initial.Comics[0].ID)
	assert.Empty(t, initial.Inserted)
	assert.Empty(t, initial.Deleted)
	assert.Empty(t, initial.Modified)
}

func TestDiff_InsertNewMaximum(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.UpsertBatch(ctx, []munroe.Comic{testComic(1), testComic(2), testComic(3)}))

	rs := st.Query(munroe.All(), munroe.NewestFirst)
	defer rs.Close()
	_, changes := collectChanges(t, rs)
	waitChange(t, changes) // initial

	require.NoError(t, st.Upsert(ctx, testComic(10)))

	change := waitChange(t, changes)
	assert.Equal(t, []int{0}, change.Inserted)
	assert.Empty(t, change.Deleted)
	assert.Empty(t, change.Modified)
	assert.Equal(t, 10, change.Comics[0].ID)
}

func TestDiff_InsertNewMinimum(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.UpsertBatch(ctx, []munroe.Comic{testComic(1), testComic(2), testComic(3)}))

	rs := st.Query(munroe.All(), munroe.NewestFirst)
	defer rs.Close()
	_, changes := collectChanges(t, rs)
	waitChange(t, changes)

	require.NoError(t, st.Upsert(ctx, testComic(0)))

	// Descending by id, a new minimum lands at the end: position equal to
	// the pre-mutation count.
	change := waitChange(t, changes)
	assert.Equal(t, []int{3}, change.Inserted)
	assert.Empty(t, change.Deleted)
	assert.Empty(t, change.Modified)
}

func TestDiff_ModifiedRow(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.UpsertBatch(ctx, []munroe.Comic{testComic(1), testComic(2), testComic(3)}))

	rs := st.Query(munroe.All(), munroe.NewestFirst)
	defer rs.Close()
	_, changes := collectChanges(t, rs)
	waitChange(t, changes)

	renamed := testComic(2)
	renamed.Title = "Renamed"
	require.NoError(t, st.Upsert(ctx, renamed))

	change := waitChange(t, changes)
	assert.Empty(t, change.Inserted)
	assert.Empty(t, change.Deleted)
	assert.Equal(t, []int{1}, change.Modified)
	assert.Equal(t, "Renamed", change.Comics[1].Title)
}

func TestDiff_UnsaveLeavesFilteredView(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.UpsertBatch(ctx, []munroe.Comic{testComic(1), testComic(2), testComic(3)}))
	require.NoError(t, st.SetSaved(ctx, 2, true))

	rs := st.Query(munroe.SavedOnly(), munroe.NewestFirst)
	defer rs.Close()
	_, changes := collectChanges(t, rs)

	initial := waitChange(t, changes)
	require.Len(t, initial.Comics, 1)

	require.NoError(t, st.SetSaved(ctx, 2, false))

	// The row no longer matches the filter: a deletion at its old position
	// and no insertion anywhere.
	change := waitChange(t, changes)
	assert.Equal(t, []int{0}, change.Deleted)
	assert.Empty(t, change.Inserted)
	assert.Empty(t, change.Modified)
	assert.Empty(t, change.Comics)
}

func TestDiff_NoOpUpsertEmitsNothing(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.Upsert(ctx, testComic(1)))

	rs := st.Query(munroe.All(), munroe.NewestFirst)
	defer rs.Close()
	_, changes := collectChanges(t, rs)
	waitChange(t, changes)

	require.NoError(t, st.Upsert(ctx, testComic(1)))

	assertNoChange(t, changes)
}

func TestDiff_PositionsFollowEachViewsSort(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.UpsertBatch(ctx, []munroe.Comic{testComic(1), testComic(3)}))

	desc := st.Query(munroe.All(), munroe.NewestFirst)
	defer desc.Close()
	asc := st.Query(munroe.All(), munroe.OldestFirst)
	defer asc.Close()

	_, descChanges := collectChanges(t, desc)
	_, ascChanges := collectChanges(t, asc)
	waitChange(t, descChanges)
	waitChange(t, ascChanges)

	require.NoError(t, st.Upsert(ctx, testComic(2)))

	// The same row lands at different positions in differently-sorted views.
	assert.Equal(t, []int{1}, waitChange(t, descChanges).Inserted)
	assert.Equal(t, []int{1}, waitChange(t, ascChanges).Inserted)

	require.NoError(t, st.Upsert(ctx, testComic(4)))

	assert.Equal(t, []int{0}, waitChange(t, descChanges).Inserted)
	assert.Equal(t, []int{3}, waitChange(t, ascChanges).Inserted)
}

func TestSubscribers_AreIndependent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.Upsert(ctx, testComic(1)))

	rs := st.Query(munroe.All(), munroe.NewestFirst)
	defer rs.Close()

	subA, changesA := collectChanges(t, rs)
	_, changesB := collectChanges(t, rs)
	waitChange(t, changesA)
	waitChange(t, changesB)

	subA.Close()
	subA.Close() // idempotent

	require.NoError(t, st.Upsert(ctx, testComic(2)))

	change := waitChange(t, changesB)
	assert.Equal(t, []int{0}, change.Inserted)
	assertNoChange(t, changesA)
}

func TestCloseUnblocksStalledWrite(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	rs := st.Query(munroe.All(), munroe.NewestFirst)
	defer rs.Close()

	// The callback never returns, so the subscription's buffer fills and
	// the write path stalls behind it.
	gate := make(chan struct{})
	sub, err := rs.Subscribe(ctx, func(Change) { <-gate })
	require.NoError(t, err)
	defer close(gate)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 40; i++ {
			if err := st.Upsert(ctx, testComic(i)); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	time.Sleep(200 * time.Millisecond)
	sub.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("write path stayed blocked after the subscription closed")
	}

	count, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, count)
}

func TestDiffSnapshots_BatchMix(t *testing.T) {
	prev := []munroe.Comic{testComic(5), testComic(3), testComic(1)}

	renamed := testComic(3)
	renamed.Title = "Renamed"
	next := []munroe.Comic{testComic(6), renamed, testComic(1)}

	inserted, deleted, modified := diffSnapshots(prev, next)
	assert.Equal(t, []int{0}, inserted)
	assert.Equal(t, []int{0}, deleted)
	assert.Equal(t, []int{1}, modified)
}
