package projects

import "time"

// Record is a saved generation result.
type Record struct {
	ID        string    `db:"project_id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	AppKey    string    `db:"app_key" json:"app_key"`
	MediaURL  string    `db:"media_url" json:"media_url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Filter selects one page of a user's records, newest first.
type Filter struct {
	UserID   string
	PageSize int
	Cursor   *Cursor
}

// Cursor points just past the last record of the previous page.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}
