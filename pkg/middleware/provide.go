package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/sowflow/sowflow/pkg/composables"
	"github.com/sowflow/sowflow/pkg/constants"
)

// Provide stores a fixed value under key in every request context.
func Provide(key constants.ContextKey, value any) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), key, value)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithActor lifts the upstream-authenticated actor id from header into the
// request context.
func WithActor(header string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actor := strings.TrimSpace(r.Header.Get(header)); actor != "" {
				r = r.WithContext(composables.WithActor(r.Context(), actor))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func Cors(allowOrigins ...string) mux.MiddlewareFunc {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Actor-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id", "Content-Disposition"},
		AllowCredentials: true,
	})
	return c.Handler
}
