package middleware

import (
	"encoding/json"
	"net/http"

	apperrors "statushub/internal/errors"
	"statushub/internal/tracing"
)

// WriteError renders err as the JSON error body with the status its code maps to.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	WriteJSON(w, apperrors.HTTPStatusCode(err), apperrors.ToHTTPResponse(err, tracing.GetRequestID(r.Context())))
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
