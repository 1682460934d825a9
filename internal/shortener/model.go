package shortener

import (
	"time"

	"github.com/google/uuid"
)

// Link is a snapshot of a stored record. Stores hand out copies, so mutating a
// Link never affects stored state.
type Link struct {
	ID             uuid.UUID
	OriginalURL    string
	ShortCode      string
	Clicks         int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt *time.Time
}

func (l Link) clone() Link {
	if l.LastAccessedAt != nil {
		t := *l.LastAccessedAt
		l.LastAccessedAt = &t
	}
	return l
}
