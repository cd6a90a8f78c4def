package handler

import (
	"errors"
	"net/http"
	"strconv"

	"stocksync/internal/service"
	"stocksync/internal/webhook"
	"stocksync/pkg/apierror"
)

// serviceError maps a service failure onto the API error envelope.
func serviceError(err error) *apierror.Error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch service.Kind(err) {
	case service.KindNotFound:
		return apierror.NotFound(err.Error())
	case service.KindConflict:
		return apierror.Conflict(err.Error())
	case service.KindPolicy:
		switch {
		case errors.Is(err, service.ErrUnknownStrategy):
			return apierror.BadRequest(err.Error())
		case errors.Is(err, webhook.ErrInvalidPayload):
			return apierror.Unprocessable("INVALID_PAYLOAD", err.Error())
		case errors.Is(err, service.ErrReplicaInactive):
			return apierror.Conflict(err.Error())
		}
		return apierror.Unprocessable("POLICY_VIOLATION", err.Error())
	case service.KindTransient, service.KindExhausted:
		return apierror.ServiceUnavailable(err.Error())
	default:
		return apierror.InternalError("")
	}
}

// pagination reads page and limit query parameters.
func pagination(r *http.Request, defaultLimit, maxLimit int) (page, limit, offset int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > maxLimit {
		limit = defaultLimit
	}
	return page, limit, (page - 1) * limit
}

// optionalID parses an optional numeric query parameter.
func optionalID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := service.ParseID(raw)
	if err != nil {
		return 0, apierror.ValidationError("invalid query parameter",
			apierror.FieldError{Field: name, Message: "must be a positive integer"})
	}
	return id, nil
}
