package shortener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sundayezeilo/qrlinks/internal/db"
	"github.com/sundayezeilo/qrlinks/internal/errx"
	"github.com/sundayezeilo/qrlinks/internal/idgen"
)

// querier is an internal interface that abstracts *db.Queries
type querier interface {
	InsertLinkIfAbsent(ctx context.Context, arg db.InsertLinkIfAbsentParams) (db.Link, error)
	GetLinkByOriginalURL(ctx context.Context, originalURL string) (db.Link, error)
	GetLinkByShortCode(ctx context.Context, shortCode string) (db.Link, error)
	IncrementLinkClicks(ctx context.Context, shortCode string) (db.Link, error)
	ListLinksByClicks(ctx context.Context) ([]db.Link, error)
}

type postgresRepo struct {
	q   querier
	ids idgen.Generator
}

// RepositoryConfig holds configuration shared by every Repository backend.
type RepositoryConfig struct {
	IDGenerator idgen.Generator
}

func (c *RepositoryConfig) idGenerator() idgen.Generator {
	if c == nil || c.IDGenerator == nil {
		return idgen.NewV7(idgen.WithRetries(1))
	}
	return c.IDGenerator
}

// NewPostgresRepository creates a Repository backed by PostgreSQL.
func NewPostgresRepository(q querier, config *RepositoryConfig) Repository {
	return &postgresRepo{
		q:   q,
		ids: config.idGenerator(),
	}
}

func mustTime(ts pgtype.Timestamptz, field string) (time.Time, error) {
	if !ts.Valid {
		return time.Time{}, fmt.Errorf("%s unexpectedly NULL", field)
	}
	return ts.Time, nil
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

func toDomainLink(x db.Link) (Link, error) {
	createdAt, err := mustTime(x.CreatedAt, "created_at")
	if err != nil {
		return Link{}, err
	}
	updatedAt, err := mustTime(x.UpdatedAt, "updated_at")
	if err != nil {
		return Link{}, err
	}

	return Link{
		ID:             x.ID,
		OriginalURL:    x.OriginalUrl,
		ShortCode:      x.ShortCode,
		Clicks:         x.Clicks,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		LastAccessedAt: timePtr(x.LastAccessedAt),
	}, nil
}

func mapRepoError(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errx.E(op, errx.NotFound, err)

	case isShortCodeUniqueViolation(err):
		return errx.E(op, errx.Conflict, err)

	default:
		return errx.E(op, errx.StoreKind(err), err)
	}
}

func (r *postgresRepo) GetOrCreate(ctx context.Context, link Link) (Link, bool, error) {
	const op = "shortener.postgres.GetOrCreate"

	if link.ID == uuid.Nil {
		id, err := r.ids.Generate()
		if err != nil {
			return Link{}, false, errx.E(op, errx.Internal, err)
		}
		link.ID = id
	}

	row, err := r.q.InsertLinkIfAbsent(ctx, db.InsertLinkIfAbsentParams{
		ID:          link.ID,
		OriginalUrl: link.OriginalURL,
		ShortCode:   link.ShortCode,
	})
	if err == nil {
		created, err := toDomainLink(row)
		if err != nil {
			return Link{}, false, errx.E(op, errx.Internal, err)
		}
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Link{}, false, mapRepoError(op, err)
	}

	// ON CONFLICT DO NOTHING returned no row: the URL is already stored.
	row, err = r.q.GetLinkByOriginalURL(ctx, link.OriginalURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Link{}, false, errx.E(op, errx.Internal,
				fmt.Errorf("link for %q vanished after insert conflict", link.OriginalURL))
		}
		return Link{}, false, mapRepoError(op, err)
	}
	existing, err := toDomainLink(row)
	if err != nil {
		return Link{}, false, errx.E(op, errx.Internal, err)
	}
	return existing, false, nil
}

func (r *postgresRepo) GetByCode(ctx context.Context, code string) (Link, error) {
	const op = "shortener.postgres.GetByCode"

	row, err := r.q.GetLinkByShortCode(ctx, code)
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}
	link, err := toDomainLink(row)
	if err != nil {
		return Link{}, errx.E(op, errx.Internal, err)
	}
	return link, nil
}

func (r *postgresRepo) ResolveAndBump(ctx context.Context, code string) (Link, error) {
	const op = "shortener.postgres.ResolveAndBump"

	row, err := r.q.IncrementLinkClicks(ctx, code)
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}
	link, err := toDomainLink(row)
	if err != nil {
		return Link{}, errx.E(op, errx.Internal, err)
	}
	return link, nil
}

func (r *postgresRepo) ListByClicks(ctx context.Context) ([]Link, error) {
	const op = "shortener.postgres.ListByClicks"

	rows, err := r.q.ListLinksByClicks(ctx)
	if err != nil {
		return nil, mapRepoError(op, err)
	}

	links := make([]Link, 0, len(rows))
	for _, row := range rows {
		link, err := toDomainLink(row)
		if err != nil {
			return nil, errx.E(op, errx.Internal, err)
		}
		links = append(links, link)
	}
	return links, nil
}
