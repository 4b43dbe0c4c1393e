package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/markdave123-py/Classmind/internal/core"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the shared sentinel errors onto distinct HTTP
// statuses so clients can tell validation, quota, missing-data and
// provider failures apart.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrUnsupportedType):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, core.ErrFileTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrQuotaExceeded):
		status = http.StatusPaymentRequired
	case errors.Is(err, core.ErrEmptyCorpus):
		status = http.StatusConflict
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrProviderUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func userIDFromContext(r *http.Request) (string, bool) {
	userID, ok := r.Context().Value("user_id").(string)
	return userID, ok
}

func roleFromContext(r *http.Request) string {
	role, _ := r.Context().Value("role").(string)
	return role
}
