package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const (
	TenantHeader = "X-Tenant-ID"
	UserHeader   = "X-User-ID"
)

type ctxKey int

const (
	tenantKey ctxKey = iota
	userKey
)

// IdentityMiddleware copies tenant and user set by the upstream auth layer into the context
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if tenantID := r.Header.Get(TenantHeader); tenantID != "" {
			ctx = context.WithValue(ctx, tenantKey, tenantID)
		}
		if userID := r.Header.Get(UserHeader); userID != "" {
			ctx = context.WithValue(ctx, userKey, userID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggerMiddleware stores a request scoped zap logger and logs each response
func LoggerMiddleware(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			l := base.With(zap.String("request_id", middleware.GetReqID(r.Context())))
			if tenantID := getTenantID(r.Context()); tenantID != "" {
				l = l.With(zap.String("tenant_id", tenantID))
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), l)))

			l.Info("request handled",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

func getTenantID(ctx context.Context) string {
	if tenantID, ok := ctx.Value(tenantKey).(string); ok {
		return tenantID
	}
	return ""
}

func getUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(userKey).(string); ok {
		return userID
	}
	return ""
}
