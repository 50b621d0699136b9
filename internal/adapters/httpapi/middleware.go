package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/usecase"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type ctxKey string

const credentialCtxKey ctxKey = "credential"

// credential is what authenticate learned about the caller.
type credential struct {
	Principal string
	// TenantID is empty for operator credentials.
	TenantID string
}

func credentialFrom(ctx context.Context) (credential, bool) {
	c, ok := ctx.Value(credentialCtxKey).(credential)
	return c, ok
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		l := h.log.With().Str("request_id", reqID).Logger()
		ctx := l.WithContext(r.Context())
		ctx = domain.WithOperation(ctx, domain.OperationContext{
			Principal: domain.PrincipalAnonymous,
			RequestID: reqID,
			Source:    "http",
		})

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		l.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func bearerToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get("X-API-Key")); token != "" {
		return token
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func looksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}

// authenticate accepts an API key or, when a verifier is configured, a
// signed bearer token.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		var cred credential
		if h.svc.Tokens != nil && looksLikeJWT(token) {
			claims, err := h.svc.Tokens.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			cred = credential{Principal: claims.Subject, TenantID: claims.TenantID}
		} else {
			key, err := h.svc.Auth.Authenticate(r.Context(), token)
			if err != nil {
				h.handleDomainError(w, r, err)
				return
			}
			cred = credential{Principal: key.Name, TenantID: key.TenantID}
		}

		ctx := context.WithValue(r.Context(), credentialCtxKey, cred)
		op := domain.OperationFrom(ctx)
		op.Principal = cred.Principal
		ctx = domain.WithOperation(ctx, op)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred, ok := credentialFrom(r.Context())
		if !ok || cred.TenantID != "" {
			writeError(w, http.StatusForbidden, "operator credential required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// resolveTenant binds the request to one tenant. A tenant-bound credential
// wins over the X-Tenant-Code header, which wins over the Host header.
func (h *Handler) resolveTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred, _ := credentialFrom(r.Context())
		tenantID, err := h.svc.Resolver.Resolve(r.Context(), usecase.TenantHints{
			TenantID: cred.TenantID,
			Code:     strings.TrimSpace(r.Header.Get("X-Tenant-Code")),
			Host:     requestHost(r),
		})
		if err != nil {
			h.handleDomainError(w, r, err)
			return
		}
		if tenantID == "" {
			writeError(w, http.StatusBadRequest, "tenant could not be resolved")
			return
		}
		ctx := domain.WithTenantID(r.Context(), tenantID)
		l := zerolog.Ctx(ctx).With().Str("tenant_id", tenantID).Logger()
		next.ServeHTTP(w, r.WithContext(l.WithContext(ctx)))
	})
}

func requestHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}
