package shortener

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sundayezeilo/qrlinks/internal/errx"
	"github.com/sundayezeilo/qrlinks/internal/idgen"
)

// MemoryRepository is a thread-safe in-process Repository. Records live in one map
// keyed by short code with a secondary index by original URL.
type MemoryRepository struct {
	mu     sync.RWMutex
	byCode map[string]*Link
	byURL  map[string]*Link
	order  []*Link // insertion order
	ids    idgen.Generator
	now    func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository. Ids come from
// config.IDGenerator, UUID v7 when unset.
func NewMemoryRepository(config *RepositoryConfig) *MemoryRepository {
	return &MemoryRepository{
		byCode: make(map[string]*Link),
		byURL:  make(map[string]*Link),
		ids:    config.idGenerator(),
		now:    time.Now,
	}
}

func ctxErr(op string, ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errx.E(op, errx.StoreKind(err), err)
	}
	return nil
}

func (r *MemoryRepository) GetOrCreate(ctx context.Context, link Link) (Link, bool, error) {
	const op = "shortener.memory.GetOrCreate"
	if err := ctxErr(op, ctx); err != nil {
		return Link{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byURL[link.OriginalURL]; ok {
		return existing.clone(), false, nil
	}
	if _, taken := r.byCode[link.ShortCode]; taken {
		return Link{}, false, errx.E(op, errx.Conflict, errors.New("short code already in use"))
	}

	if link.ID == uuid.Nil {
		id, err := r.ids.Generate()
		if err != nil {
			return Link{}, false, errx.E(op, errx.Internal, err)
		}
		link.ID = id
	}
	now := r.now().UTC()
	record := &Link{
		ID:          link.ID,
		OriginalURL: link.OriginalURL,
		ShortCode:   link.ShortCode,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.byCode[record.ShortCode] = record
	r.byURL[record.OriginalURL] = record
	r.order = append(r.order, record)

	return record.clone(), true, nil
}

func (r *MemoryRepository) GetByCode(ctx context.Context, code string) (Link, error) {
	const op = "shortener.memory.GetByCode"
	if err := ctxErr(op, ctx); err != nil {
		return Link{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.byCode[code]
	if !ok {
		return Link{}, errx.E(op, errx.NotFound, errors.New("link not found"))
	}
	return record.clone(), nil
}

func (r *MemoryRepository) ResolveAndBump(ctx context.Context, code string) (Link, error) {
	const op = "shortener.memory.ResolveAndBump"
	if err := ctxErr(op, ctx); err != nil {
		return Link{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.byCode[code]
	if !ok {
		return Link{}, errx.E(op, errx.NotFound, errors.New("link not found"))
	}

	now := r.now().UTC()
	record.Clicks++
	record.UpdatedAt = now
	record.LastAccessedAt = &now
	return record.clone(), nil
}

func (r *MemoryRepository) ListByClicks(ctx context.Context) ([]Link, error) {
	const op = "shortener.memory.ListByClicks"
	if err := ctxErr(op, ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	links := make([]Link, 0, len(r.order))
	for _, record := range r.order {
		links = append(links, record.clone())
	}
	r.mu.RUnlock()

	// stable: equal counts stay oldest first
	sort.SliceStable(links, func(i, j int) bool {
		return links[i].Clicks > links[j].Clicks
	})
	return links, nil
}

// Len returns the number of stored links.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCode)
}
