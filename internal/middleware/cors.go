package middleware

import "net/http"

// CORS adds the headers browsers need to call the API from another origin.
// origin is the allowed Origin, or "*" for any.
//
// PREFLIGHT REQUESTS:
// Before a cross-origin PATCH or DELETE (or any request with a JSON body)
// the browser sends an OPTIONS request asking for permission. We answer it
// here with 204 and never pass it on to the router.
func CORS(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
			h.Set("Access-Control-Expose-Headers", "X-Request-Id, Retry-After")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
