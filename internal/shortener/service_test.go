package shortener

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sundayezeilo/qrlinks/internal/errx"
)

/***************
 * Mocks
 ***************/

// mockRepository implements Repository interface for testing.
type mockRepository struct {
	getOrCreateFunc    func(ctx context.Context, link Link) (Link, bool, error)
	getByCodeFunc      func(ctx context.Context, code string) (Link, error)
	resolveAndBumpFunc func(ctx context.Context, code string) (Link, error)
	listByClicksFunc   func(ctx context.Context) ([]Link, error)
}

func (m *mockRepository) GetOrCreate(ctx context.Context, link Link) (Link, bool, error) {
	if m.getOrCreateFunc != nil {
		return m.getOrCreateFunc(ctx, link)
	}
	link.ID = uuid.New()
	link.CreatedAt = time.Now()
	link.UpdatedAt = time.Now()
	return link, true, nil
}

func (m *mockRepository) GetByCode(ctx context.Context, code string) (Link, error) {
	if m.getByCodeFunc != nil {
		return m.getByCodeFunc(ctx, code)
	}
	return Link{}, errx.E("repo.GetByCode", errx.NotFound, errors.New("not found"))
}

func (m *mockRepository) ResolveAndBump(ctx context.Context, code string) (Link, error) {
	if m.resolveAndBumpFunc != nil {
		return m.resolveAndBumpFunc(ctx, code)
	}
	return Link{}, errx.E("repo.ResolveAndBump", errx.NotFound, errors.New("not found"))
}

func (m *mockRepository) ListByClicks(ctx context.Context) ([]Link, error) {
	if m.listByClicksFunc != nil {
		return m.listByClicksFunc(ctx)
	}
	return []Link{}, nil
}

// mockCodeGenerator hands out codes in order, then repeats "abc123".
type mockCodeGenerator struct {
	generateFunc func(length int) (string, error)
	codes        []string
	callCount    int
}

func (m *mockCodeGenerator) Generate(length int) (string, error) {
	m.callCount++

	if m.generateFunc != nil {
		return m.generateFunc(length)
	}
	if idx := m.callCount - 1; idx < len(m.codes) {
		return m.codes[idx], nil
	}
	return "abc123", nil
}

// countingBroadcaster records how often it was signalled.
type countingBroadcaster struct {
	calls atomic.Int64
}

func (b *countingBroadcaster) Broadcast() { b.calls.Add(1) }

func conflictErr() error {
	return errx.E("repo.GetOrCreate", errx.Conflict, errors.New("short code already in use"))
}

/***************
 * Constructor Tests
 ***************/

func TestNewService(t *testing.T) {
	t.Run("creates service with nil config", func(t *testing.T) {
		svc := NewService(&mockRepository{}, nil)
		if svc == nil {
			t.Fatal("NewService() returned nil")
		}
	})

	t.Run("uses default code length when out of range", func(t *testing.T) {
		for _, length := range []int{0, 2, 9, 100} {
			var gotLength int
			gen := &mockCodeGenerator{generateFunc: func(n int) (string, error) {
				gotLength = n
				return "abc123", nil
			}}

			svc := NewService(&mockRepository{}, &ServiceConfig{CodeGenerator: gen, CodeLength: length})
			if _, _, err := svc.GetOrCreate(context.Background(), "https://example.com"); err != nil {
				t.Fatalf("GetOrCreate() error = %v", err)
			}
			if gotLength != DefaultCodeLength {
				t.Errorf("CodeLength %d: generator asked for %d, want %d", length, gotLength, DefaultCodeLength)
			}
		}
	})

	t.Run("respects configured code length", func(t *testing.T) {
		var gotLength int
		gen := &mockCodeGenerator{generateFunc: func(n int) (string, error) {
			gotLength = n
			return "abcd1234", nil
		}}

		svc := NewService(&mockRepository{}, &ServiceConfig{CodeGenerator: gen, CodeLength: 8})
		if _, _, err := svc.GetOrCreate(context.Background(), "https://example.com"); err != nil {
			t.Fatalf("GetOrCreate() error = %v", err)
		}
		if gotLength != 8 {
			t.Errorf("generator asked for %d, want 8", gotLength)
		}
	})

	t.Run("respects CodeMaxRetries when provided", func(t *testing.T) {
		calls := 0
		svc := NewService(&mockRepository{
			getOrCreateFunc: func(ctx context.Context, link Link) (Link, bool, error) {
				calls++
				return Link{}, false, conflictErr()
			},
		}, &ServiceConfig{CodeMaxRetries: 2})

		_, _, err := svc.GetOrCreate(context.Background(), "https://example.com")
		if errx.KindOf(err) != errx.Exhausted {
			t.Fatalf("expected Exhausted, got %v", err)
		}
		if calls != 2 {
			t.Errorf("expected 2 attempts, got %d", calls)
		}
	})
}

/***************
 * GetOrCreate Tests
 ***************/

func TestServiceGetOrCreate_SkipsReservedCodes(t *testing.T) {
	t.Run("regenerates when a code matches a route", func(t *testing.T) {
		var stored []string
		gen := &mockCodeGenerator{codes: []string{"urls", "history", "Zx81qa"}}
		svc := NewService(&mockRepository{
			getOrCreateFunc: func(ctx context.Context, link Link) (Link, bool, error) {
				stored = append(stored, link.ShortCode)
				return link, true, nil
			},
		}, &ServiceConfig{CodeGenerator: gen})

		link, created, err := svc.GetOrCreate(context.Background(), "https://example.com/reserved")
		if err != nil {
			t.Fatalf("GetOrCreate() error = %v", err)
		}
		if !created || link.ShortCode != "Zx81qa" {
			t.Errorf("got code %q created=%v, want Zx81qa created=true", link.ShortCode, created)
		}
		if len(stored) != 1 {
			t.Errorf("reserved codes reached the store: %v", stored)
		}
		if gen.callCount != 3 {
			t.Errorf("expected 3 generations, got %d", gen.callCount)
		}
	})

	t.Run("reserved codes count against retries", func(t *testing.T) {
		gen := &mockCodeGenerator{generateFunc: func(int) (string, error) { return "urls", nil }}
		repoCalls := 0
		svc := NewService(&mockRepository{
			getOrCreateFunc: func(ctx context.Context, link Link) (Link, bool, error) {
				repoCalls++
				return link, true, nil
			},
		}, &ServiceConfig{CodeGenerator: gen, CodeLength: 4, CodeMaxRetries: 3})

		_, _, err := svc.GetOrCreate(context.Background(), "https://example.com/reserved")
		if errx.KindOf(err) != errx.Exhausted {
			t.Fatalf("expected Exhausted, got %v", err)
		}
		if repoCalls != 0 {
			t.Errorf("expected no store calls, got %d", repoCalls)
		}
		if gen.callCount != 3 {
			t.Errorf("expected 3 generations, got %d", gen.callCount)
		}
	})
}

func TestIsReservedCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"urls", true},
		{"history", true},
		{"api", true},
		{"ws", true},
		{"x", true},
		{"URLS", false},
		{"urls1", false},
		{"abc123", false},
	}
	for _, tt := range tests {
		if got := IsReservedCode(tt.code); got != tt.want {
			t.Errorf("IsReservedCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestServiceGetOrCreate(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		codes       []string
		repo        *mockRepository
		wantErr     bool
		wantKind    errx.Kind
		wantCode    string
		wantCreated bool
		wantSignals int64
	}{
		{
			name:        "creates new link",
			url:         "https://example.com/page",
			codes:       []string{"Ab3dE9"},
			repo:        &mockRepository{},
			wantCode:    "Ab3dE9",
			wantCreated: true,
			wantSignals: 1,
		},
		{
			name:  "returns existing link without signalling",
			url:   "https://example.com/page",
			codes: []string{"zzzzzz"},
			repo: &mockRepository{
				getOrCreateFunc: func(ctx context.Context, link Link) (Link, bool, error) {
					return Link{OriginalURL: link.OriginalURL, ShortCode: "old123", Clicks: 7}, false, nil
				},
			},
			wantCode:    "old123",
			wantCreated: false,
			wantSignals: 0,
		},
		{
			name:  "retries after code collision",
			url:   "https://example.com/page",
			codes: []string{"taken1", "taken2", "free99"},
			repo: &mockRepository{
				getOrCreateFunc: func(ctx context.Context, link Link) (Link, bool, error) {
					if strings.HasPrefix(link.ShortCode, "taken") {
						return Link{}, false, conflictErr()
					}
					return link, true, nil
				},
			},
			wantCode:    "free99",
			wantCreated: true,
			wantSignals: 1,
		},
		{
			name:  "exhausts code space",
			url:   "https://example.com/page",
			codes: []string{"a", "b", "c", "d", "e"},
			repo: &mockRepository{
				getOrCreateFunc: func(ctx context.Context, link Link) (Link, bool, error) {
					return Link{}, false, conflictErr()
				},
			},
			wantErr:  true,
			wantKind: errx.Exhausted,
		},
		{
			name:     "empty url",
			url:      "",
			repo:     &mockRepository{},
			wantErr:  true,
			wantKind: errx.Invalid,
		},
		{
			name:     "relative url",
			url:      "/just/a/path",
			repo:     &mockRepository{},
			wantErr:  true,
			wantKind: errx.Invalid,
		},
		{
			name:     "url without host",
			url:      "mailto:someone",
			repo:     &mockRepository{},
			wantErr:  true,
			wantKind: errx.Invalid,
		},
		{
			name:     "url too long",
			url:      "https://example.com/" + strings.Repeat("a", MaxURLLength),
			repo:     &mockRepository{},
			wantErr:  true,
			wantKind: errx.Invalid,
		},
		{
			name: "store unavailable",
			url:  "https://example.com/page",
			repo: &mockRepository{
				getOrCreateFunc: func(ctx context.Context, link Link) (Link, bool, error) {
					return Link{}, false, errx.E("repo.GetOrCreate", errx.Unavailable, errors.New("connection refused"))
				},
			},
			wantErr:  true,
			wantKind: errx.Unavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signals := &countingBroadcaster{}
			svc := NewService(tt.repo, &ServiceConfig{
				CodeGenerator: &mockCodeGenerator{codes: tt.codes},
				Notifier:      signals,
			})

			link, created, err := svc.GetOrCreate(context.Background(), tt.url)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if got := errx.KindOf(err); got != tt.wantKind {
					t.Errorf("expected error kind %v, got %v (%v)", tt.wantKind, got, err)
				}
				if signals.calls.Load() != 0 {
					t.Errorf("expected no broadcast on error, got %d", signals.calls.Load())
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if link.ShortCode != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, link.ShortCode)
			}
			if created != tt.wantCreated {
				t.Errorf("expected created=%v, got %v", tt.wantCreated, created)
			}
			if got := signals.calls.Load(); got != tt.wantSignals {
				t.Errorf("expected %d broadcasts, got %d", tt.wantSignals, got)
			}
		})
	}
}

func TestServiceGetOrCreate_GeneratorError(t *testing.T) {
	svc := NewService(&mockRepository{}, &ServiceConfig{
		CodeGenerator: &mockCodeGenerator{generateFunc: func(int) (string, error) {
			return "", errors.New("entropy source failed")
		}},
	})

	_, _, err := svc.GetOrCreate(context.Background(), "https://example.com")
	if errx.KindOf(err) != errx.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestServiceGetOrCreate_WriteSurvivesCallerCancellation(t *testing.T) {
	var storeCtxErr error
	svc := NewService(&mockRepository{
		getOrCreateFunc: func(ctx context.Context, link Link) (Link, bool, error) {
			storeCtxErr = ctx.Err()
			if _, ok := ctx.Deadline(); !ok {
				t.Error("expected store call to carry a deadline")
			}
			return link, true, nil
		},
	}, &ServiceConfig{Timeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := svc.GetOrCreate(ctx, "https://example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if storeCtxErr != nil {
		t.Errorf("store saw cancelled context: %v", storeCtxErr)
	}
}

/***************
 * ResolveAndBump Tests
 ***************/

func TestServiceResolveAndBump(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		repo        *mockRepository
		wantURL     string
		wantKind    errx.Kind
		wantErr     bool
		wantSignals int64
		wantCalls   int
	}{
		{
			name: "known code",
			code: "Ab3dE9",
			repo: &mockRepository{
				resolveAndBumpFunc: func(ctx context.Context, code string) (Link, error) {
					return Link{OriginalURL: "https://example.com/page", ShortCode: code, Clicks: 1}, nil
				},
			},
			wantURL:     "https://example.com/page",
			wantSignals: 1,
			wantCalls:   1,
		},
		{
			name:      "unknown code",
			code:      "doesnotexist",
			repo:      &mockRepository{},
			wantErr:   true,
			wantKind:  errx.NotFound,
			wantCalls: 0,
		},
		{
			name:      "unknown code within alphabet",
			code:      "zzzzzz",
			repo:      &mockRepository{},
			wantErr:   true,
			wantKind:  errx.NotFound,
			wantCalls: 1,
		},
		{
			name:      "code outside alphabet",
			code:      "ab-c_d",
			repo:      &mockRepository{},
			wantErr:   true,
			wantKind:  errx.NotFound,
			wantCalls: 0,
		},
		{
			name:      "empty code",
			code:      "",
			repo:      &mockRepository{},
			wantErr:   true,
			wantKind:  errx.Invalid,
			wantCalls: 0,
		},
		{
			name: "store timeout",
			code: "Ab3dE9",
			repo: &mockRepository{
				resolveAndBumpFunc: func(ctx context.Context, code string) (Link, error) {
					return Link{}, errx.E("repo.ResolveAndBump", errx.Timeout, context.DeadlineExceeded)
				},
			},
			wantErr:   true,
			wantKind:  errx.Timeout,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			inner := tt.repo.resolveAndBumpFunc
			tt.repo.resolveAndBumpFunc = func(ctx context.Context, code string) (Link, error) {
				calls++
				if inner != nil {
					return inner(ctx, code)
				}
				return Link{}, errx.E("repo.ResolveAndBump", errx.NotFound, errors.New("not found"))
			}

			signals := &countingBroadcaster{}
			svc := NewService(tt.repo, &ServiceConfig{Notifier: signals})

			got, err := svc.ResolveAndBump(context.Background(), tt.code)

			if calls != tt.wantCalls {
				t.Errorf("expected %d store calls, got %d", tt.wantCalls, calls)
			}
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if kind := errx.KindOf(err); kind != tt.wantKind {
					t.Errorf("expected error kind %v, got %v", tt.wantKind, kind)
				}
				if signals.calls.Load() != 0 {
					t.Errorf("expected no broadcast on error, got %d", signals.calls.Load())
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.wantURL {
				t.Errorf("expected url %q, got %q", tt.wantURL, got)
			}
			if n := signals.calls.Load(); n != tt.wantSignals {
				t.Errorf("expected %d broadcasts, got %d", tt.wantSignals, n)
			}
		})
	}
}

func TestServiceResolveAndBump_WriteSurvivesCallerCancellation(t *testing.T) {
	var storeCtxErr error
	svc := NewService(&mockRepository{
		resolveAndBumpFunc: func(ctx context.Context, code string) (Link, error) {
			storeCtxErr = ctx.Err()
			return Link{OriginalURL: "https://example.com"}, nil
		},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.ResolveAndBump(ctx, "Ab3dE9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if storeCtxErr != nil {
		t.Errorf("store saw cancelled context: %v", storeCtxErr)
	}
}

/***************
 * Lookup / ListByClicks Tests
 ***************/

func TestServiceLookup(t *testing.T) {
	bumped := false
	svc := NewService(&mockRepository{
		getByCodeFunc: func(ctx context.Context, code string) (Link, error) {
			return Link{ShortCode: code, OriginalURL: "https://example.com", Clicks: 4}, nil
		},
		resolveAndBumpFunc: func(ctx context.Context, code string) (Link, error) {
			bumped = true
			return Link{}, nil
		},
	}, nil)

	link, err := svc.Lookup(context.Background(), "Ab3dE9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if link.Clicks != 4 {
		t.Errorf("expected 4 clicks, got %d", link.Clicks)
	}
	if bumped {
		t.Error("Lookup must not count a click")
	}

	if _, err := svc.Lookup(context.Background(), ""); errx.KindOf(err) != errx.Invalid {
		t.Errorf("expected Invalid for empty code, got %v", err)
	}
	if _, err := svc.Lookup(context.Background(), "toolongcode"); errx.KindOf(err) != errx.NotFound {
		t.Errorf("expected NotFound for overlong code, got %v", err)
	}
}

func TestServiceListByClicks(t *testing.T) {
	want := []Link{
		{ShortCode: "aaaaaa", Clicks: 3},
		{ShortCode: "bbbbbb", Clicks: 1},
	}
	svc := NewService(&mockRepository{
		listByClicksFunc: func(ctx context.Context) ([]Link, error) {
			return want, nil
		},
	}, nil)

	got, err := svc.ListByClicks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != len(want) || got[0].ShortCode != "aaaaaa" {
		t.Errorf("unexpected listing: %+v", got)
	}

	failing := NewService(&mockRepository{
		listByClicksFunc: func(ctx context.Context) ([]Link, error) {
			return nil, errx.E("repo.ListByClicks", errx.Unavailable, errors.New("db down"))
		},
	}, nil)
	if _, err := failing.ListByClicks(context.Background()); errx.KindOf(err) != errx.Unavailable {
		t.Errorf("expected Unavailable, got %v", err)
	}
}

/***************
 * Validation Tests
 ***************/

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://example.com", false},
		{"http://example.com/a/b?c=d#e", false},
		{"ftp://files.example.com/x", false},
		{"", true},
		{"example.com", true},
		{"/relative", true},
		{"https://", true},
		{"http://[::1", true},
		{"https://example.com/" + strings.Repeat("x", MaxURLLength), true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
