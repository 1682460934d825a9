package shortener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/sundayezeilo/qrlinks/codegen"
	"github.com/sundayezeilo/qrlinks/internal/errx"
)

const (
	DefaultCodeLength     = 6
	MinCodeLength         = 4
	MaxCodeLength         = 8
	MaxURLLength          = 2048
	DefaultCodeMaxRetries = 5
	DefaultStoreTimeout   = 3 * time.Second
)

// reservedCodes are first path segments the server routes ahead of /{code}.
var reservedCodes = map[string]struct{}{
	"urls":    {},
	"history": {},
	"api":     {},
	"ws":      {},
	"x":       {},
}

// IsReservedCode reports whether code would be shadowed by a fixed route.
func IsReservedCode(code string) bool {
	_, ok := reservedCodes[code]
	return ok
}

// Broadcaster announces that stored counters changed. Implementations must not block.
type Broadcaster interface {
	Broadcast()
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast() {}

// Service is the link store as seen by callers: idempotent creation, counted
// resolution and the click-ordered listing.
type Service interface {
	// GetOrCreate returns the short code for originalURL, creating a record on first
	// use. created reports whether this call created it.
	GetOrCreate(ctx context.Context, originalURL string) (link Link, created bool, err error)
	// ResolveAndBump returns the original URL for code and counts one click.
	ResolveAndBump(ctx context.Context, code string) (string, error)
	// Lookup returns the record for code without counting a click.
	Lookup(ctx context.Context, code string) (Link, error)
	// ListByClicks returns a snapshot of all records, most clicked first.
	ListByClicks(ctx context.Context) ([]Link, error)
}

// service implements the Service interface.
type service struct {
	repo           Repository
	codeGenerator  codegen.Generator
	codeLength     int
	codeMaxRetries int
	timeout        time.Duration
	notifier       Broadcaster
	logger         *slog.Logger
}

// ServiceConfig holds configuration for the service.
type ServiceConfig struct {
	CodeGenerator  codegen.Generator
	CodeLength     int
	CodeMaxRetries int           // attempts when generating a unique code (default: 5)
	Timeout        time.Duration // per store call (default: 3s)
	Notifier       Broadcaster
	Logger         *slog.Logger
}

// NewService creates a new service instance.
func NewService(repo Repository, config *ServiceConfig) Service {
	if config == nil {
		config = &ServiceConfig{}
	}

	gen := config.CodeGenerator
	if gen == nil {
		gen = codegen.NewAlphanumeric()
	}

	codeLength := config.CodeLength
	if codeLength < MinCodeLength || codeLength > MaxCodeLength {
		codeLength = DefaultCodeLength
	}

	retries := config.CodeMaxRetries
	if retries <= 0 {
		retries = DefaultCodeMaxRetries
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}

	var notifier Broadcaster = nopBroadcaster{}
	if config.Notifier != nil {
		notifier = config.Notifier
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &service{
		repo:           repo,
		codeGenerator:  gen,
		codeLength:     codeLength,
		codeMaxRetries: retries,
		timeout:        timeout,
		notifier:       notifier,
		logger:         logger,
	}
}

// writeContext bounds a mutation by the store timeout but detaches it from caller
// cancellation: once started, a write either commits or fails on its own deadline.
func (s *service) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func (s *service) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *service) GetOrCreate(ctx context.Context, originalURL string) (Link, bool, error) {
	const op = "shortener.service.GetOrCreate"

	if err := ValidateURL(originalURL); err != nil {
		return Link{}, false, errx.E(op, errx.Invalid, err)
	}

	wctx, cancel := s.writeContext(ctx)
	defer cancel()

	for attempt := 1; attempt <= s.codeMaxRetries; attempt++ {
		code, err := s.codeGenerator.Generate(s.codeLength)
		if err != nil {
			return Link{}, false, errx.E(op, errx.Internal, err)
		}
		if IsReservedCode(code) {
			s.logger.DebugContext(ctx, "short code shadows a route, retrying",
				"attempt", attempt,
				"code", code,
			)
			continue
		}

		link, created, err := s.repo.GetOrCreate(wctx, Link{
			OriginalURL: originalURL,
			ShortCode:   code,
		})
		if err == nil {
			if created {
				s.notifier.Broadcast()
			}
			return link, created, nil
		}

		if errx.KindOf(err) != errx.Conflict {
			return Link{}, false, errx.E(op, errx.KindOf(err), err)
		}

		s.logger.DebugContext(ctx, "short code collision, retrying",
			"attempt", attempt,
			"code", code,
		)
	}

	err := fmt.Errorf("no free short code after %d attempts at length %d", s.codeMaxRetries, s.codeLength)
	s.logger.ErrorContext(ctx, "short code space exhausted",
		"error", err.Error(),
		"code_length", s.codeLength,
		"attempts", s.codeMaxRetries,
	)
	return Link{}, false, errx.E(op, errx.Exhausted, err)
}

func (s *service) ResolveAndBump(ctx context.Context, code string) (string, error) {
	const op = "shortener.service.ResolveAndBump"

	if code == "" {
		return "", errx.E(op, errx.Invalid, errors.New("short code cannot be empty"))
	}
	// Nothing outside the code alphabet/length was ever issued.
	if len(code) > MaxCodeLength || !codegen.IsAlphanumeric(code) {
		return "", errx.E(op, errx.NotFound, fmt.Errorf("no link for code %q", code))
	}

	wctx, cancel := s.writeContext(ctx)
	defer cancel()

	link, err := s.repo.ResolveAndBump(wctx, code)
	if err != nil {
		return "", errx.E(op, errx.KindOf(err), err)
	}

	s.notifier.Broadcast()
	return link.OriginalURL, nil
}

func (s *service) Lookup(ctx context.Context, code string) (Link, error) {
	const op = "shortener.service.Lookup"

	if code == "" {
		return Link{}, errx.E(op, errx.Invalid, errors.New("short code cannot be empty"))
	}
	if len(code) > MaxCodeLength || !codegen.IsAlphanumeric(code) {
		return Link{}, errx.E(op, errx.NotFound, fmt.Errorf("no link for code %q", code))
	}

	rctx, cancel := s.readContext(ctx)
	defer cancel()

	link, err := s.repo.GetByCode(rctx, code)
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}
	return link, nil
}

func (s *service) ListByClicks(ctx context.Context) ([]Link, error) {
	const op = "shortener.service.ListByClicks"

	rctx, cancel := s.readContext(ctx)
	defer cancel()

	links, err := s.repo.ListByClicks(rctx)
	if err != nil {
		return nil, errx.E(op, errx.KindOf(err), err)
	}
	return links, nil
}

// ValidateURL accepts absolute URLs only: a scheme and an authority are required.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("url cannot be empty")
	}
	if len(rawURL) > MaxURLLength {
		return fmt.Errorf("url too long (max %d characters)", MaxURLLength)
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid url format")
	}
	if parsedURL.Scheme == "" {
		return errors.New("url must include scheme")
	}
	if parsedURL.Host == "" {
		return errors.New("url must include host")
	}
	return nil
}
