package middleware

import "net/http"

// BodyLimit caps the request body at limit bytes. Reads past the cap fail
// with *http.MaxBytesError. It must run ahead of anything that buffers the
// body, such as Idempotency.
func BodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
