package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/dom/authsvc/internal/domain"
	"github.com/dom/authsvc/internal/logging"
	"github.com/dom/authsvc/internal/service"
)

type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeError is the single place where service errors become HTTP responses.
// Anything unrecognised is logged and reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, log logging.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		var fieldErrs validation.Errors
		if errors.As(err, &fieldErrs) {
			fields := make(map[string]string, len(fieldErrs))
			for name, fieldErr := range fieldErrs {
				fields[name] = fieldErr.Error()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: domain.ErrValidation.Error(), Fields: fields})
			return
		}
		writeErrorMessage(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, domain.ErrUsernameTaken):
		writeErrorMessage(w, http.StatusConflict, domain.ErrUsernameTaken.Error())
	case errors.Is(err, domain.ErrEmailTaken):
		writeErrorMessage(w, http.StatusConflict, domain.ErrEmailTaken.Error())
	case errors.Is(err, domain.ErrConflict):
		writeErrorMessage(w, http.StatusConflict, domain.ErrConflict.Error())

	case errors.Is(err, service.ErrInvalidCredentials):
		writeErrorMessage(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, domain.ErrUnauthorized):
		log.Debug(r.Context(), "request unauthorized", "error", err)
		writeErrorMessage(w, http.StatusUnauthorized, domain.ErrUnauthorized.Error())

	case errors.Is(err, domain.ErrStorageUnavailable):
		log.Error(r.Context(), "storage unavailable", "error", err, "path", r.URL.Path)
		writeErrorMessage(w, http.StatusServiceUnavailable, "service unavailable")

	default:
		log.Error(r.Context(), "unhandled error", "error", err, "path", r.URL.Path)
		writeErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func NotFound(w http.ResponseWriter, r *http.Request) {
	writeErrorMessage(w, http.StatusNotFound, "not found")
}

func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
}
