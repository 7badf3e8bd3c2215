package http

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"math-quiz-service/internal/auth"
	"math-quiz-service/internal/domain"
)

// TokenParser validates bearer tokens.
type TokenParser interface {
	Parse(raw string) (auth.Claims, error)
}

// RateLimiter admits or rejects one request for key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type ctxKey int

const (
	loggerKey ctxKey = iota
	claimsKey
)

const requestIDHeader = "X-Request-ID"

func loggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func claimsFrom(ctx context.Context) (auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(auth.Claims)
	return c, ok
}

// statusRecorder keeps the status for the access log. It must stay
// hijackable so websocket upgrades pass through.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return hj.Hijack()
}

// withRequestLog assigns a request id and logs one line per request.
func withRequestLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		reqLogger := logger.With("request_id", id)
		ctx := context.WithValue(r.Context(), loggerKey, reqLogger)

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				reqLogger.ErrorContext(ctx, "panic serving request", "panic", p)
				if rec.status == 0 {
					writeJSON(rec, http.StatusInternalServerError, errorResponse{Error: http.StatusText(http.StatusInternalServerError)})
				}
			}
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			reqLogger.InfoContext(ctx, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start),
			)
		}()
		next.ServeHTTP(rec, r.WithContext(ctx))
	})
}

// requireRole rejects requests without a valid bearer token of the given role.
func (h *Handler) requireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, r, domain.ErrUnauthorized)
			return
		}
		claims, err := h.tokens.Parse(strings.TrimSpace(raw))
		if err != nil {
			writeError(w, r, domain.ErrUnauthorized)
			return
		}
		if claims.Role != role {
			writeError(w, r, domain.ErrForbidden)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	}
}

// rateLimited applies the limiter per route and client address. Limiter
// failures let the request through.
func (h *Handler) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	if h.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path + ":" + clientIP(r)
		allowed, err := h.limiter.Allow(r.Context(), key)
		if err != nil {
			loggerFrom(r.Context()).WarnContext(r.Context(), "rate limiter unavailable", "error", err)
			next(w, r)
			return
		}
		if !allowed {
			writeError(w, r, domain.ErrRateLimited)
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
