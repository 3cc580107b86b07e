package mw

import (
	"net/http"
	"strings"

	"github.com/bezaspace/rak4/pkg/gateway/config"
)

// The REST surface is read-only; websocket upgrades check Origin themselves.
const (
	corsAllowedMethods = "GET, OPTIONS"
	corsAllowedHeaders = "Content-Type, X-Request-ID"
	corsExposedHeaders = "X-Request-ID, Retry-After"
	corsMaxAge         = "600"
)

// CORS answers preflights for allowlisted origins and decorates their
// regular responses. Requests from other origins pass through untouched so
// the browser enforces the policy.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		allowed := cfg.OriginAllowed(origin)

		if isPreflight(r) {
			if !allowed {
				http.Error(w, "cors preflight not allowed", http.StatusForbidden)
				return
			}
			setOriginHeaders(w.Header(), origin)
			w.Header().Set("Access-Control-Allow-Methods", corsAllowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			w.Header().Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if allowed {
			setOriginHeaders(w.Header(), origin)
			w.Header().Set("Access-Control-Expose-Headers", corsExposedHeaders)
		}
		next.ServeHTTP(w, r)
	})
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != ""
}

func setOriginHeaders(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Add("Vary", "Origin")
}
