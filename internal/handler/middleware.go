package handler

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/google/uuid"

	"github.com/server-common/hermes/pkg/logger"
)

type requestIDKey struct{}

type groupKeyKey struct{}

// requestIDHeaders are checked in order for an upstream-assigned request id.
var requestIDHeaders = []string{"X-Request-ID", "X-Request-Id", "X-Correlation-ID"}

// GroupKeyHeader carries the tenant key on every API request.
const GroupKeyHeader = "X-Group-Key"

// DefaultGroupKey is the tenant used when the header is absent.
const DefaultGroupKey = "default"

// RequestID assigns each request an id, preserving an upstream one when a
// known header carries it, and echoes it back on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqID string
		for _, h := range requestIDHeaders {
			if v := r.Header.Get(h); v != "" {
				reqID = v
				break
			}
		}
		if reqID == "" {
			reqID = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GroupKey resolves the tenant key from the request header and stores it in
// the context for handlers and log extraction.
func GroupKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gk := r.Header.Get(GroupKeyHeader)
		if gk == "" {
			gk = DefaultGroupKey
		}
		ctx := context.WithValue(r.Context(), groupKeyKey{}, gk)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Recover converts handler panics into 500 responses, logging the stack.
func Recover(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					stack := make([]byte, 4096)
					stack = stack[:runtime.Stack(stack, false)]
					log.ErrorContext(r.Context(), "panic recovered",
						slog.Any("panic", rec),
						slog.String("stack", string(stack)))
					respondError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDExtractor exposes the request id to the logger's context chain.
func RequestIDExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
			return slog.String("request_id", id), true
		}
		return slog.Attr{}, false
	}
}

// GroupKeyExtractor exposes the tenant key to the logger's context chain.
func GroupKeyExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if gk, ok := ctx.Value(groupKeyKey{}).(string); ok && gk != "" {
			return slog.String("group_key", gk), true
		}
		return slog.Attr{}, false
	}
}

func groupKeyFrom(ctx context.Context) string {
	if gk, ok := ctx.Value(groupKeyKey{}).(string); ok && gk != "" {
		return gk
	}
	return DefaultGroupKey
}
