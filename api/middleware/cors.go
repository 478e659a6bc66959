package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

var defaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

// CORS returns middleware that applies the configured allowed origin policy.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = defaultCORSOrigins
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", IdempotencyKeyHeader, RequestIDHeader, "X-Requested-With"},
		ExposedHeaders:   []string{RequestIDHeader, ReplayedHeader, "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler
}
