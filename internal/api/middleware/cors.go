package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS allows browser clients from allowedOrigins. The tenant header must be
// listed or preflights for tenant-scoped calls fail.
func CORS(allowedOrigins []string, tenantHeader string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", tenantHeader},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         3600,
	})
	return c.Handler
}
