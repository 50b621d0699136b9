package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/go-chi/chi/v5"
)

type recordResponse struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  string          `json:"created_at"`
	CreatedBy  string          `json:"created_by"`
	UpdatedAt  string          `json:"updated_at"`
	UpdatedBy  string          `json:"updated_by"`
}

func toRecordResponse(rec *domain.Record) recordResponse {
	return recordResponse{
		ID:         rec.RecordID,
		Collection: rec.Collection,
		Data:       rec.Data,
		CreatedAt:  formatTime(rec.CreatedAt),
		CreatedBy:  rec.CreatedBy,
		UpdatedAt:  formatTime(rec.UpdatedAt),
		UpdatedBy:  rec.UpdatedBy,
	}
}

func (h *Handler) putRecord(w http.ResponseWriter, r *http.Request) {
	data, ok := readRaw(w, r)
	if !ok {
		return
	}
	rec, created, err := h.svc.Records.Put(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"), data)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toRecordResponse(rec))
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Records.Get(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Records.Delete(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id")); err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	records, err := h.svc.Records.List(r.Context(), domain.RecordFilter{
		Collection: chi.URLParam(r, "collection"),
		Prefix:     r.URL.Query().Get("prefix"),
		AfterID:    r.URL.Query().Get("after"),
		Limit:      limit,
	})
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}
