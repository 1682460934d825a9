package shortener

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sundayezeilo/qrlinks/internal/errx"
	"github.com/sundayezeilo/qrlinks/internal/httpx"
)

// ShortenResponse is returned by GET /urls.
type ShortenResponse struct {
	ShortURL string `json:"shortUrl"`
	QRCode   string `json:"qrCode"`
}

// HistoryItem is one row of GET /history.
type HistoryItem struct {
	OriginalURL string `json:"org_url"`
	ShortURL    string `json:"short_url"`
	Clicks      int64  `json:"clicks"`
}

// QRRenderer turns a short URL into an embeddable image.
type QRRenderer interface {
	DataURI(content string) (string, error)
}

// Handler provides HTTP handlers for the URL shortener service.
type Handler struct {
	service Service
	qr      QRRenderer
	logger  *slog.Logger
	baseURL string
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service Service
	QR      QRRenderer
	Logger  *slog.Logger
	BaseURL string // public origin short links are built on, without trailing slash
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		service: cfg.Service,
		qr:      cfg.QR,
		logger:  logger,
		baseURL: cfg.BaseURL,
	}
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With(
		"request_id", httpx.GetRequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	)
}

func (h *Handler) shortURL(code string) string {
	return h.baseURL + "/" + code
}

// Shorten handles GET /urls?url=... and returns the short link with its QR code.
// Repeated calls for the same URL return the same short link.
func (h *Handler) Shorten(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		logger.WarnContext(ctx, "missing url parameter")
		httpx.WriteKindError(w, errx.Invalid, "url is required")
		return
	}

	link, created, err := h.service.GetOrCreate(ctx, rawURL)
	if err != nil {
		h.writeServiceError(ctx, logger, w, err, "shorten url")
		return
	}

	shortURL := h.shortURL(link.ShortCode)

	qr, err := h.qr.DataURI(shortURL)
	if err != nil {
		logger.ErrorContext(ctx, "failed to render qr code",
			"error", err.Error(),
			"code", link.ShortCode,
		)
		httpx.WriteKindError(w, errx.Internal, "Unable to render QR code at this time")
		return
	}

	logger.InfoContext(ctx, "url shortened",
		"code", link.ShortCode,
		"created", created,
	)

	httpx.WriteJSON(w, http.StatusOK, ShortenResponse{
		ShortURL: shortURL,
		QRCode:   qr,
	})
}

// History handles GET /history: every link, most clicked first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	links, err := h.service.ListByClicks(ctx)
	if err != nil {
		h.writeServiceError(ctx, logger, w, err, "list history")
		return
	}

	items := make([]HistoryItem, 0, len(links))
	for _, link := range links {
		items = append(items, h.historyItem(link))
	}

	httpx.WriteJSON(w, http.StatusOK, items)
}

// LinkStats handles GET /api/links/{code} without counting a click.
func (h *Handler) LinkStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.PathValue("code")
	logger := h.requestLogger(r).With("code", code)

	link, err := h.service.Lookup(ctx, code)
	if err != nil {
		h.writeServiceError(ctx, logger, w, err, "lookup link")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.historyItem(link))
}

// Redirect handles GET /{code}: counts the click and sends 302 to the original URL.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.PathValue("code")
	logger := h.requestLogger(r).With("code", code)

	originalURL, err := h.service.ResolveAndBump(ctx, code)
	if err != nil {
		h.writeServiceError(ctx, logger, w, err, "resolve link")
		return
	}

	logger.InfoContext(ctx, "link resolved",
		"user_agent", r.UserAgent(),
		"referer", r.Referer(),
	)

	http.Redirect(w, r, originalURL, http.StatusFound)
}

func (h *Handler) historyItem(link Link) HistoryItem {
	return HistoryItem{
		OriginalURL: link.OriginalURL,
		ShortURL:    h.shortURL(link.ShortCode),
		Clicks:      link.Clicks,
	}
}

// writeServiceError maps a service error to a JSON error response. Client
// errors keep their message; store failures are reported generically.
func (h *Handler) writeServiceError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error, action string) {
	kind := errx.KindOf(err)

	logAttrs := []any{
		"error", err.Error(),
		"error_kind", kind.String(),
		"operation", errx.OpOf(err),
	}

	switch kind {
	case errx.NotFound:
		logger.InfoContext(ctx, action+": not found", logAttrs...)
		httpx.WriteKindError(w, kind, "short link doesn't exist")

	case errx.Invalid:
		logger.WarnContext(ctx, action+": invalid input", logAttrs...)
		httpx.WriteKindError(w, kind, unwrapMessage(err))

	default:
		logger.ErrorContext(ctx, action+": failed", logAttrs...)
		httpx.WriteKindError(w, kind, "Unable to complete the request at this time. Please try again.")
	}
}

// unwrapMessage returns the innermost error text, without operation prefixes.
func unwrapMessage(err error) string {
	for {
		e, ok := err.(*errx.Error)
		if !ok || e.Err == nil {
			return err.Error()
		}
		err = e.Err
	}
}
