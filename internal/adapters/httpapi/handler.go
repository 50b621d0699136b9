package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const (
	timeFormat      = "2006-01-02T15:04:05.999999999Z07:00"
	maxJSONBodySize = 1 << 20
)

// Services are the use cases served over HTTP. Tokens, Metrics and
// Notifier are optional.
type Services struct {
	Lifecycle *usecase.LifecycleService
	Backups   *usecase.BackupService
	Resets    *usecase.PasswordResetService
	Records   *usecase.RecordService
	Auth      *usecase.AuthService
	Resolver  *usecase.TenantResolver
	Tokens    ports.TokenVerifier
	Metrics   http.Handler
	Notifier  ResetNotifier
}

type Handler struct {
	svc Services
	log zerolog.Logger
}

func NewHandler(svc Services, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: log.With().Str("component", "http").Logger()}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	if h.svc.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.svc.Metrics)
	}

	r.Post("/v1/password-reset/request", h.requestReset)
	r.Post("/v1/password-reset/confirm", h.confirmReset)

	r.Route("/v1/admin", func(ar chi.Router) {
		ar.Use(h.authenticate)
		ar.Use(requireAdmin)

		ar.Get("/tenants", h.listTenants)
		ar.Post("/tenants", h.registerTenant)
		ar.Get("/tenants/{id}", h.getTenant)
		ar.Post("/tenants/{id}/confirm-payment", h.confirmPayment)
		ar.Post("/tenants/{id}/suspend", h.suspendTenant)
		ar.Post("/tenants/{id}/reactivate", h.reactivateTenant)
		ar.Get("/tenants/{id}/domains", h.listDomains)
		ar.Post("/tenants/{id}/domains", h.bindDomain)
		ar.Get("/tenants/{id}/backups", h.listBackups)
		ar.Post("/tenants/{id}/backups", h.createBackup)

		ar.Get("/backups/{id}", h.getBackup)
		ar.Delete("/backups/{id}", h.deleteBackup)
		ar.Post("/backups/{id}/restore", h.restoreBackup)
	})

	r.Group(func(tr chi.Router) {
		tr.Use(h.authenticate)
		tr.Use(h.resolveTenant)

		tr.Get("/v1/collections/{collection}/records", h.listRecords)
		tr.Put("/v1/collections/{collection}/records/{id}", h.putRecord)
		tr.Get("/v1/collections/{collection}/records/{id}", h.getRecord)
		tr.Delete("/v1/collections/{collection}/records/{id}", h.deleteRecord)
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// decodeBody reads a single JSON value. Unknown fields are rejected when
// into is a struct.
func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func readRaw(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	var raw json.RawMessage
	if !decodeBody(w, r, &raw) {
		return nil, false
	}
	return raw, true
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be integer")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// handleDomainError maps the error taxonomy onto status codes. Internal
// details only reach the log.
func (h *Handler) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var violation *domain.SchemaViolation
	switch {
	case errors.As(err, &violation):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "details": violation.Errors})
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrUnknownTenant):
		writeError(w, http.StatusNotFound, "unknown tenant")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrExpired),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrCannotDelete),
		errors.Is(err, domain.ErrNotRestorable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrConnectionFailure):
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("tenant store unavailable")
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
