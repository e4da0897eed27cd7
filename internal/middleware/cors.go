package middleware

import (
	"net/http"
	"strings"
)

// CORS allows the widget page to call the API from the listed origins.
// "*" matches any origin but never enables credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				wildcard, explicit := matchOrigin(allowedOrigins, origin)
				if wildcard || explicit {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
					w.Header().Add("Vary", "Origin")
				}
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func matchOrigin(allowed []string, origin string) (wildcard, explicit bool) {
	for _, o := range allowed {
		switch {
		case o == "*":
			wildcard = true
		case strings.EqualFold(o, origin):
			explicit = true
		}
	}
	return wildcard, explicit
}

// OriginChecker builds a websocket.Upgrader CheckOrigin func from the same list.
// Requests without an Origin header are accepted.
func OriginChecker(allowedOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		wildcard, explicit := matchOrigin(allowedOrigins, origin)
		return wildcard || explicit
	}
}
