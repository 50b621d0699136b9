package httpapi

import (
	"errors"
	"net/http"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/rs/zerolog"
)

// ResetNotifier delivers a freshly issued reset token to its owner.
type ResetNotifier interface {
	NotifyReset(r *http.Request, email, tenantCode, token string) error
}

// requestReset always answers 202 so callers cannot probe which emails
// exist.
func (h *Handler) requestReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		TenantCode string `json:"tenant_code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	token, err := h.svc.Resets.RequestReset(r.Context(), req.Email, req.TenantCode)
	switch {
	case errors.Is(err, domain.ErrValidation):
		h.handleDomainError(w, r, err)
		return
	case err != nil:
		if !errors.Is(err, domain.ErrNotFound) {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("password reset request failed")
		}
	case h.svc.Notifier != nil:
		if err := h.svc.Notifier.NotifyReset(r, req.Email, req.TenantCode, token); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("deliver reset token")
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) confirmReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.svc.Resets.ResetPassword(r.Context(), req.Token, req.Password)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrExpired):
		writeError(w, http.StatusNotFound, "invalid or expired token")
	default:
		h.handleDomainError(w, r, err)
	}
}
