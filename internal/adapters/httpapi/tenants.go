package httpapi

import (
	"net/http"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/go-chi/chi/v5"
)

type tenantResponse struct {
	ID            string `json:"id"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	ContactEmail  string `json:"contact_email,omitempty"`
	Status        string `json:"status"`
	Active        bool   `json:"active"`
	SuspendReason string `json:"suspend_reason,omitempty"`
	ActivatedAt   string `json:"activated_at,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toTenantResponse(t *domain.Tenant) tenantResponse {
	out := tenantResponse{
		ID:            t.ID,
		Code:          t.Code,
		Name:          t.Name,
		ContactEmail:  t.ContactEmail,
		Status:        string(t.Status),
		Active:        t.Active,
		SuspendReason: t.SuspendReason,
		CreatedAt:     formatTime(t.CreatedAt),
		UpdatedAt:     formatTime(t.UpdatedAt),
	}
	if t.ActivatedAt != nil {
		out.ActivatedAt = formatTime(*t.ActivatedAt)
	}
	return out
}

type domainResponse struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Host     string `json:"host"`
	Primary  bool   `json:"primary"`
}

func toDomainResponse(d *domain.TenantDomain) domainResponse {
	return domainResponse{ID: d.ID, TenantID: d.TenantID, Host: d.Host, Primary: d.Primary}
}

func (h *Handler) registerTenant(w http.ResponseWriter, r *http.Request) {
	raw, ok := readRaw(w, r)
	if !ok {
		return
	}
	reg, err := h.svc.Lifecycle.Register(r.Context(), raw)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"tenant":        toTenantResponse(reg.Tenant),
		"admin_user_id": reg.AdminUserID,
		"primary_host":  reg.PrimaryHost,
	})
}

func (h *Handler) listTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.svc.Lifecycle.List(r.Context())
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	out := make([]tenantResponse, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, toTenantResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) getTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Lifecycle.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(t))
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference string `json:"reference"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := h.svc.Lifecycle.ConfirmPayment(r.Context(), chi.URLParam(r, "id"), req.Reference)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(t))
}

func (h *Handler) suspendTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := h.svc.Lifecycle.Suspend(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(t))
}

func (h *Handler) reactivateTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Lifecycle.Reactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(t))
}

func (h *Handler) listDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := h.svc.Lifecycle.Domains(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	out := make([]domainResponse, 0, len(domains))
	for _, d := range domains {
		out = append(out, toDomainResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) bindDomain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Host    string `json:"host"`
		Primary bool   `json:"primary"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := h.svc.Lifecycle.BindDomain(r.Context(), chi.URLParam(r, "id"), req.Host, req.Primary)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDomainResponse(d))
}
