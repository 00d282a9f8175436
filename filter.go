package munroe

// Filter narrows a result set. The zero value matches every row.
type Filter struct {
	// Saved keeps only rows the user has flagged.
	Saved bool

	// ID, when set, matches exactly one row.
	ID *int

	// IDs, when non-nil, matches rows whose id is in the set. An empty
	// non-nil slice matches nothing.
	IDs []int
}

// All matches every comic.
func All() Filter { return Filter{} }

// SavedOnly matches comics the user has saved.
func SavedOnly() Filter { return Filter{Saved: true} }

// ByID matches the single comic with the given number.
func ByID(id int) Filter { return Filter{ID: &id} }

// ByIDs matches comics whose number is in the given set.
func ByIDs(ids ...int) Filter {
	if ids == nil {
		ids = []int{}
	}
	return Filter{IDs: ids}
}

// SortKey selects the column a result set is ordered by.
type SortKey int

const (
	SortByID SortKey = iota
	SortBySavedAt
)

// Sort fixes the ordering of a result set. Every subscription's positional
// diff is computed against its own sort, so the same mutation can land at
// different positions in differently-sorted views.
type Sort struct {
	Key        SortKey
	Descending bool
}

var (
	// NewestFirst is the feed's natural presentation order.
	NewestFirst = Sort{Key: SortByID, Descending: true}

	// OldestFirst orders by ascending publication number.
	OldestFirst = Sort{Key: SortByID}

	// RecentlySaved orders the saved view by most recent save action.
	RecentlySaved = Sort{Key: SortBySavedAt, Descending: true}
)
