package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/ratelimit"
)

// httpError maps err to a status code and a message that is safe to show
// the client. Unknown errors become a 500 with a fixed message.
func httpError(err error) (int, ErrorResponse) {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		forbidden  *domain.ForbiddenError
		stock      *domain.InsufficientStockError
		limited    *ratelimit.LimitExceededError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: validation.Reason, Field: validation.Field}
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated", Message: "authentication required"}
	case errors.As(err, &forbidden):
		return http.StatusForbidden, ErrorResponse{Error: "forbidden", Message: forbidden.Error()}
	case errors.As(err, &notFound):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Message: notFound.Error()}
	case errors.Is(err, domain.ErrDuplicateRequest):
		return http.StatusConflict, ErrorResponse{Error: "duplicate_request", Message: "duplicate request"}
	case errors.As(err, &stock):
		return http.StatusConflict, ErrorResponse{Error: "insufficient_stock", Message: stock.Error()}
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, ErrorResponse{
			Error:   "rate_limited",
			Message: fmt.Sprintf("too many requests, try again in %d seconds", limited.RetryAfterSeconds),
		}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "internal error"}
	}
}

func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status, body := httpError(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, body)
}
