// Package munroe holds the domain types for the local xkcd replica: the
// comic entity, the result-set filter and sort descriptors, and the error
// taxonomy shared by the store, blob, and sync packages.
//
// The engine itself lives in the subpackages: store (durable table with live
// result sets), blob (on-disk images), remote and suggest (network clients),
// and syncer (the catch-up/pagination/search orchestration).
package munroe

import "time"

// Comic is the sole persisted entity. Its primary key is the feed's
// publication number and never changes once a row exists.
//
// Title, Caption, PublishedDate, ImageWidth, and ImageHeight are owned by
// the sync engine and written only through upserts. IsSaved and SavedAt are
// owned by the presentation layer and written only through the store's
// SetSaved path; an upsert never touches them.
type Comic struct {
	ID            int       `db:"id"`
	Title         string    `db:"title"`
	Caption       string    `db:"caption"`
	PublishedDate time.Time `db:"published_date"`

	// Pixel dimensions of the stored image. Zero until the image has been
	// fetched successfully.
	ImageWidth  float64 `db:"image_width"`
	ImageHeight float64 `db:"image_height"`

	IsSaved bool   `db:"is_saved"`
	SavedAt *int64 `db:"saved_at"`
}

// Equal reports whether two comics carry the same attributes, including the
// user-owned saved fields. The diff engine uses it to classify a row that
// survived a mutation as modified or untouched.
func (c Comic) Equal(o Comic) bool {
	if c.ID != o.ID || c.Title != o.Title || c.Caption != o.Caption {
		return false
	}
	if !c.PublishedDate.Equal(o.PublishedDate) {
		return false
	}
	if c.ImageWidth != o.ImageWidth || c.ImageHeight != o.ImageHeight {
		return false
	}
	if c.IsSaved != o.IsSaved {
		return false
	}
	if (c.SavedAt == nil) != (o.SavedAt == nil) {
		return false
	}
	if c.SavedAt != nil && *c.SavedAt != *o.SavedAt {
		return false
	}
	return true
}
