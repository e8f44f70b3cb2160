package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// Most-specific first so /v1/api is never split into /v1 + /api.
var strippedPrefixes = []string{"/v1/api", "/api", "/v1"}

// Normalize rewrites aliased path prefixes away before routing, so
// /v1/chat/completions, /api/chat/completions and /v1/api/chat/completions
// all reach the /chat/completions handler. At most one prefix is stripped.
// HEAD requests short-circuit to 204 regardless of path.
func Normalize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		path := r.URL.Path
		for _, prefix := range strippedPrefixes {
			if path == prefix {
				path = "/"
				break
			}
			if strings.HasPrefix(path, prefix+"/") {
				path = strings.TrimPrefix(path, prefix)
				break
			}
		}

		if path != r.URL.Path {
			r2 := new(http.Request)
			*r2 = *r
			r2.URL = new(url.URL)
			*r2.URL = *r.URL
			r2.URL.Path = path
			r = r2
		}
		next.ServeHTTP(w, r)
	})
}
