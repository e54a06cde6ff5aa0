package handler

import (
	"errors"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/dukkani/dukkani/internal/core/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.NewValidationError("body", "request body too large", tooLarge.Limit)
		}
		if errors.Is(err, io.EOF) {
			return domain.NewValidationError("body", "request body is empty", nil)
		}
		return domain.NewValidationError("body", "invalid JSON", nil)
	}
	return nil
}
