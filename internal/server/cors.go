package server

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	corsAllowedMethods = "GET, POST, HEAD"
	corsAllowedHeaders = "Accept, Accept-Language, Content-Language, Content-Type"
	corsMaxAge         = "600"
)

// withCORS restricts cross-origin HTTP access to the configured origins
func (h *HTTPServer) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Add("Vary", "Origin")
		allowed := h.isAllowedOrigin(origin)

		// Preflight
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !allowed || !corsMethodAllowed(r.Header.Get("Access-Control-Request-Method")) {
				writeError(w, http.StatusBadRequest, "Disallowed CORS request")
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", corsAllowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			w.Header().Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusOK)
			return
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPServer) isAllowedOrigin(origin string) bool {
	for _, allowed := range h.config.Server.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func corsMethodAllowed(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodHead:
		return true
	default:
		return false
	}
}

// sameOrigin reports whether origin points at the host serving the request
func sameOrigin(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}
