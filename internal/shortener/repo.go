package shortener

import "context"

// Repository defines the atomic persistence primitives for links. Implementations
// must be safe for concurrent use; every returned Link is a copy.
type Repository interface {
	// GetOrCreate returns the existing link for link.OriginalURL, or inserts link with
	// zero clicks when none exists. The check and the insert are one atomic step.
	// created reports whether this call inserted the record. If link.ShortCode is
	// already taken by a different URL the error has kind errx.Conflict.
	GetOrCreate(ctx context.Context, link Link) (got Link, created bool, err error)

	// GetByCode returns the link for a short code without touching its counter.
	GetByCode(ctx context.Context, code string) (Link, error)

	// ResolveAndBump increments the click counter by exactly one and returns the
	// updated link. Unknown codes fail with errx.NotFound.
	ResolveAndBump(ctx context.Context, code string) (Link, error)

	// ListByClicks returns every link ordered by clicks, highest first.
	ListByClicks(ctx context.Context) ([]Link, error)
}
