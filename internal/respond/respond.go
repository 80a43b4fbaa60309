// Package respond writes the JSON bodies shared by handlers and middleware.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/tenantkit/internal/apperr"
)

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// Detail writes {"detail": msg}.
func Detail(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{"detail": msg})
}

// Error maps err through the apperr taxonomy. Errors outside it are logged
// and answered with fallbackStatus and a generic message.
func Error(w http.ResponseWriter, r *http.Request, err error, fallbackStatus int) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		msg := "Something went wrong, try again"
		if fallbackStatus >= http.StatusInternalServerError {
			msg = "internal server error"
		}
		Detail(w, fallbackStatus, msg)
		return
	}

	body := map[string]any{"detail": e.Message}
	if len(e.Fields) > 0 {
		body["errors"] = e.Fields
	}
	JSON(w, apperr.Status(e), body)
}
