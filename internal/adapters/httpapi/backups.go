package httpapi

import (
	"net/http"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
)

type backupResponse struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenant_id"`
	Name           string `json:"name"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	Compress       bool   `json:"compress"`
	Protected      bool   `json:"protected"`
	SizeBytes      int64  `json:"size_bytes"`
	Size           string `json:"size,omitempty"`
	IsRestorable   bool   `json:"is_restorable"`
	Deleted        bool   `json:"deleted"`
	RestoreCount   int    `json:"restore_count"`
	ErrorMessage   string `json:"error_message,omitempty"`
	CreatedAt      string `json:"created_at"`
	CompletedAt    string `json:"completed_at,omitempty"`
	ExpiresAt      string `json:"expires_at,omitempty"`
	LastRestoredAt string `json:"last_restored_at,omitempty"`
}

func optionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func toBackupResponse(b *domain.TenantBackup) backupResponse {
	out := backupResponse{
		ID:             b.ID,
		TenantID:       b.TenantID,
		Name:           b.Name,
		Kind:           string(b.Kind),
		Status:         string(b.Status),
		Compress:       b.Compress,
		Protected:      b.Protected,
		SizeBytes:      b.SizeBytes,
		IsRestorable:   b.IsRestorable,
		Deleted:        b.Deleted,
		RestoreCount:   b.RestoreCount,
		ErrorMessage:   b.ErrorMessage,
		CreatedAt:      formatTime(b.CreatedAt),
		CompletedAt:    optionalTime(b.CompletedAt),
		ExpiresAt:      optionalTime(b.ExpiresAt),
		LastRestoredAt: optionalTime(b.LastRestoredAt),
	}
	if b.SizeBytes > 0 {
		out.Size = humanize.Bytes(uint64(b.SizeBytes))
	}
	return out
}

// createBackup records the request and runs it before answering. A failed
// run still answers with the failed backup.
func (h *Handler) createBackup(w http.ResponseWriter, r *http.Request) {
	raw, ok := readRaw(w, r)
	if !ok {
		return
	}
	b, err := h.svc.Backups.CreateFromJSON(r.Context(), chi.URLParam(r, "id"), raw)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	ran, err := h.svc.Backups.Run(r.Context(), b.ID)
	if ran == nil {
		h.handleDomainError(w, r, err)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, toBackupResponse(ran))
		return
	}
	writeJSON(w, http.StatusCreated, toBackupResponse(ran))
}

func (h *Handler) listBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.svc.Backups.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	out := make([]backupResponse, 0, len(backups))
	for _, b := range backups {
		out = append(out, toBackupResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) getBackup(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Backups.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBackupResponse(b))
}

func (h *Handler) deleteBackup(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Backups.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBackupResponse(b))
}

func (h *Handler) restoreBackup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	b, err := h.svc.Backups.Restore(r.Context(), chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBackupResponse(b))
}
