// ABOUTME: CORS middleware for browser clients of the HTTP API
// ABOUTME: Echoes allowed origins, exposes the Authorization header and answers preflights

package gateway

import (
	"net/http"
	"slices"
)

const (
	corsAllowHeaders  = "Content-Type, Authorization, X-Requested-With"
	corsAllowMethods  = "OPTIONS, GET, POST, PATCH, DELETE"
	corsExposeHeaders = "Location, Authorization"
)

// corsMiddleware sits in front of the gate so preflights never need a token.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(allowed, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			switch {
			case origin == "":
			case slices.Contains(allowed, origin):
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			case wildcard:
				h.Set("Access-Control-Allow-Origin", "*")
			}

			if h.Get("Access-Control-Allow-Origin") != "" {
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
