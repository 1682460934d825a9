package shortener

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	_ "modernc.org/sqlite"                               // Local SQLite driver

	"github.com/sundayezeilo/qrlinks/internal/errx"
	"github.com/sundayezeilo/qrlinks/internal/idgen"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS links (
	id               TEXT PRIMARY KEY,
	original_url     TEXT NOT NULL UNIQUE,
	short_code       TEXT NOT NULL,
	clicks           INTEGER NOT NULL DEFAULT 0 CHECK (clicks >= 0),
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL,
	last_accessed_at INTEGER,
	CONSTRAINT links_short_code_unique UNIQUE (short_code)
);
CREATE INDEX IF NOT EXISTS links_clicks_idx ON links (clicks DESC);
`

const sqliteLinkColumns = `id, original_url, short_code, clicks, created_at, updated_at, last_accessed_at`

// OpenSQLite opens the embedded store and applies the schema. libsql:// and wss://
// URLs go to a remote libSQL server; anything else is a local file for modernc sqlite.
func OpenSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	driverName := "sqlite"
	if strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "wss://") {
		driverName = "libsql"
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driverName, err)
	}

	if driverName == "sqlite" {
		// One writer at a time; SQLite serializes writes anyway and this avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driverName, err)
	}

	if driverName == "sqlite" {
		if _, err := sqlDB.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	if _, err := sqlDB.ExecContext(ctx, sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}

	return sqlDB, nil
}

type sqliteRepo struct {
	db  *sql.DB
	ids idgen.Generator
	now func() time.Time
}

// NewSQLiteRepository creates a Repository backed by an opened SQLite/libSQL database.
func NewSQLiteRepository(sqlDB *sql.DB, config *RepositoryConfig) Repository {
	return &sqliteRepo{
		db:  sqlDB,
		ids: config.idGenerator(),
		now: time.Now,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteLink(row rowScanner) (Link, error) {
	var (
		id             string
		link           Link
		createdAt      int64
		updatedAt      int64
		lastAccessedAt sql.NullInt64
	)
	if err := row.Scan(&id, &link.OriginalURL, &link.ShortCode, &link.Clicks,
		&createdAt, &updatedAt, &lastAccessedAt); err != nil {
		return Link{}, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return Link{}, fmt.Errorf("invalid link id %q: %w", id, err)
	}
	link.ID = parsed
	link.CreatedAt = time.UnixMilli(createdAt).UTC()
	link.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if lastAccessedAt.Valid {
		t := time.UnixMilli(lastAccessedAt.Int64).UTC()
		link.LastAccessedAt = &t
	}
	return link, nil
}

func mapSQLiteError(op string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return errx.E(op, errx.NotFound, err)
	case isSQLiteShortCodeViolation(err):
		return errx.E(op, errx.Conflict, err)
	default:
		return errx.E(op, errx.StoreKind(err), err)
	}
}

func (r *sqliteRepo) GetOrCreate(ctx context.Context, link Link) (Link, bool, error) {
	const op = "shortener.sqlite.GetOrCreate"

	if link.ID == uuid.Nil {
		id, err := r.ids.Generate()
		if err != nil {
			return Link{}, false, errx.E(op, errx.Internal, err)
		}
		link.ID = id
	}

	now := r.now().UnixMilli()
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO links (id, original_url, short_code, clicks, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT (original_url) DO NOTHING
		RETURNING `+sqliteLinkColumns,
		link.ID.String(), link.OriginalURL, link.ShortCode, now, now,
	)
	created, err := scanSQLiteLink(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Link{}, false, mapSQLiteError(op, err)
	}

	row = r.db.QueryRowContext(ctx,
		`SELECT `+sqliteLinkColumns+` FROM links WHERE original_url = ?`, link.OriginalURL)
	existing, err := scanSQLiteLink(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Link{}, false, errx.E(op, errx.Internal,
				fmt.Errorf("link for %q vanished after insert conflict", link.OriginalURL))
		}
		return Link{}, false, mapSQLiteError(op, err)
	}
	return existing, false, nil
}

func (r *sqliteRepo) GetByCode(ctx context.Context, code string) (Link, error) {
	const op = "shortener.sqlite.GetByCode"

	row := r.db.QueryRowContext(ctx,
		`SELECT `+sqliteLinkColumns+` FROM links WHERE short_code = ?`, code)
	link, err := scanSQLiteLink(row)
	if err != nil {
		return Link{}, mapSQLiteError(op, err)
	}
	return link, nil
}

func (r *sqliteRepo) ResolveAndBump(ctx context.Context, code string) (Link, error) {
	const op = "shortener.sqlite.ResolveAndBump"

	now := r.now().UnixMilli()
	row := r.db.QueryRowContext(ctx, `
		UPDATE links
		SET clicks = clicks + 1, last_accessed_at = ?, updated_at = ?
		WHERE short_code = ?
		RETURNING `+sqliteLinkColumns,
		now, now, code,
	)
	link, err := scanSQLiteLink(row)
	if err != nil {
		return Link{}, mapSQLiteError(op, err)
	}
	return link, nil
}

func (r *sqliteRepo) ListByClicks(ctx context.Context) ([]Link, error) {
	const op = "shortener.sqlite.ListByClicks"

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteLinkColumns+` FROM links ORDER BY clicks DESC, created_at ASC`)
	if err != nil {
		return nil, mapSQLiteError(op, err)
	}
	defer rows.Close()

	links := make([]Link, 0)
	for rows.Next() {
		link, err := scanSQLiteLink(rows)
		if err != nil {
			return nil, mapSQLiteError(op, err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteError(op, err)
	}
	return links, nil
}
