// Package db holds the PostgreSQL query layer for the links table and its schema
// migrations.
package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Queries runs the link statements against a DBTX.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// Link mirrors a row of the links table.
type Link struct {
	ID             uuid.UUID
	OriginalUrl    string
	ShortCode      string
	Clicks         int64
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
	LastAccessedAt pgtype.Timestamptz
}

const linkColumns = `id, original_url, short_code, clicks, created_at, updated_at, last_accessed_at`

func scanLink(row pgx.Row) (Link, error) {
	var i Link
	err := row.Scan(
		&i.ID,
		&i.OriginalUrl,
		&i.ShortCode,
		&i.Clicks,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.LastAccessedAt,
	)
	return i, err
}

const insertLinkIfAbsent = `
INSERT INTO links (id, original_url, short_code)
VALUES ($1, $2, $3)
ON CONFLICT (original_url) DO NOTHING
RETURNING ` + linkColumns

type InsertLinkIfAbsentParams struct {
	ID          uuid.UUID
	OriginalUrl string
	ShortCode   string
}

// InsertLinkIfAbsent inserts a link unless one already exists for the URL, in which
// case it returns pgx.ErrNoRows. A short_code collision surfaces as a unique violation
// on links_short_code_unique.
func (q *Queries) InsertLinkIfAbsent(ctx context.Context, arg InsertLinkIfAbsentParams) (Link, error) {
	row := q.db.QueryRow(ctx, insertLinkIfAbsent, arg.ID, arg.OriginalUrl, arg.ShortCode)
	return scanLink(row)
}

const getLinkByOriginalURL = `SELECT ` + linkColumns + ` FROM links WHERE original_url = $1`

func (q *Queries) GetLinkByOriginalURL(ctx context.Context, originalUrl string) (Link, error) {
	row := q.db.QueryRow(ctx, getLinkByOriginalURL, originalUrl)
	return scanLink(row)
}

const getLinkByShortCode = `SELECT ` + linkColumns + ` FROM links WHERE short_code = $1`

func (q *Queries) GetLinkByShortCode(ctx context.Context, shortCode string) (Link, error) {
	row := q.db.QueryRow(ctx, getLinkByShortCode, shortCode)
	return scanLink(row)
}

const incrementLinkClicks = `
UPDATE links
SET clicks = clicks + 1,
    last_accessed_at = now()
WHERE short_code = $1
RETURNING ` + linkColumns

// IncrementLinkClicks bumps the counter in a single statement and returns the
// updated row.
func (q *Queries) IncrementLinkClicks(ctx context.Context, shortCode string) (Link, error) {
	row := q.db.QueryRow(ctx, incrementLinkClicks, shortCode)
	return scanLink(row)
}

const listLinksByClicks = `SELECT ` + linkColumns + ` FROM links ORDER BY clicks DESC, created_at ASC`

func (q *Queries) ListLinksByClicks(ctx context.Context) ([]Link, error) {
	rows, err := q.db.Query(ctx, listLinksByClicks)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Link
	for rows.Next() {
		i, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
