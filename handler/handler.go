// Package handler provides the HTTP API of the POS server: the
// document-store wire API used by client terminals plus the POS endpoints
// built on it.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stevemurr/pos-server/housekeeping"
	"github.com/stevemurr/pos-server/pos"
	"github.com/stevemurr/pos-server/schema"
	"github.com/stevemurr/pos-server/store"
)

// maxBodyBytes caps request bodies; imports are the largest.
const maxBodyBytes = 32 << 20

// Rescheduler is told when settings that drive periodic jobs change.
type Rescheduler interface {
	Reschedule()
}

// Options are the handler's dependencies. Store is required; the rest are
// optional and disable the endpoints that need them when nil.
type Options struct {
	Store          store.Store
	Schemas        *schema.Registry
	Backuper       *housekeeping.Backuper
	Scheduler      Rescheduler
	UploadDir      string
	AllowedOrigins []string
	RateLimit      RateLimit
	Logger         *slog.Logger
	Service        string // name reported by GET /
}

// Handler holds the server dependencies and registers routes.
type Handler struct {
	store     store.Store
	svc       *pos.Service
	schemas   *schema.Registry
	backuper  *housekeeping.Backuper
	scheduler Rescheduler
	uploadDir string
	logger    *slog.Logger
	service   string
	limiter   *Limiter

	router *chi.Mux
}

// New creates a Handler and wires up middleware and routes.
func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	service := opts.Service
	if service == "" {
		service = "POS Server"
	}
	h := &Handler{
		store:     opts.Store,
		svc:       pos.NewService(opts.Store, pos.WithLogger(logger)),
		schemas:   opts.Schemas,
		backuper:  opts.Backuper,
		scheduler: opts.Scheduler,
		uploadDir: opts.UploadDir,
		logger:    logger,
		service:   service,
		router:    chi.NewRouter(),
	}
	h.router.Use(middleware.RequestID)
	h.router.Use(middleware.RealIP)
	h.router.Use(requestLogger(logger))
	h.router.Use(middleware.Recoverer)
	h.router.Use(cors(opts.AllowedOrigins))
	if opts.RateLimit.RequestsPerMinute > 0 {
		h.limiter = NewLimiter(opts.RateLimit)
		h.router.Use(h.limiter.Middleware)
	}
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Close releases background resources.
func (h *Handler) Close() {
	if h.limiter != nil {
		h.limiter.Close()
	}
}

func (h *Handler) routes() {
	h.router.Get("/", h.root)
	h.router.Get("/health", h.health)

	h.router.Route("/api", func(r chi.Router) {
		r.Get("/collections", h.listCollections)
		r.Post("/db/{collection}/{op}", h.dispatch)

		r.Post("/order-number/{orderType}", h.orderNumber)
		r.Get("/settings", h.getSettings)
		r.Put("/settings", h.putSettings)
		r.Get("/items", h.listItems)
		r.Delete("/images/{filename}", h.deleteImage)
		r.Post("/import/{collection}", h.importCollection)

		r.Post("/backup", h.runBackup)
		r.Get("/backup/info", h.backupInfo)
	})
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Detail: msg})
}

// writeErr maps err to a status and writes it with its wire code, so a
// RemoteStore on the other end can rebuild the sentinel.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	code := store.ErrorCode(err)
	var re *store.RemoteError
	if errors.As(err, &re) && code == "" {
		code = re.Code
	}
	writeJSON(w, status, errorBody{Detail: err.Error(), Code: code})
}

func statusFor(err error) int {
	var re *store.RemoteError
	switch {
	case errors.Is(err, schema.ErrInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, pos.ErrImageNotFound):
		return http.StatusNotFound
	case store.IsClientError(err),
		errors.Is(err, pos.ErrBadOrderType),
		errors.Is(err, pos.ErrBadImageField),
		errors.Is(err, pos.ErrBadFilename),
		errors.Is(err, pos.ErrItemIDRequired),
		errors.Is(err, pos.ErrNotImportable),
		errors.Is(err, pos.ErrNoImportKey):
		return http.StatusBadRequest
	case errors.As(err, &re):
		return re.Status
	}
	return http.StatusInternalServerError
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}
