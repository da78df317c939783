package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"example.com/emissions/internal/domain"
	"example.com/emissions/internal/provenance"
)

// FieldError is one rejected request field.
type FieldError struct {
	Field   string   `json:"field,omitempty"`
	Message string   `json:"message"`
	Allowed []string `json:"allowed,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Type                string       `json:"type"`
	Detail              string       `json:"detail"`
	Errors              []FieldError `json:"errors,omitempty"`
	SupportedCurrencies []string     `json:"supported_currencies,omitempty"`

	FailedIndex           *int   `json:"failed_index,omitempty"`
	ActivityID            string `json:"activity_id,omitempty"`
	CalculationsPerformed *int   `json:"calculations_performed,omitempty"`
	Stage                 string `json:"stage,omitempty"`
}

// writeDomainError maps err to a status code and body. Unexpected errors are
// logged and rendered without internal detail.
func writeDomainError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var persistErr *domain.PersistenceError
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid bearer token")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "caller is not a member of the organization")
	case errors.Is(err, domain.ErrBatchInProgress):
		writeError(w, http.StatusConflict, "batch_in_progress", "a calculation batch is already running for this organization")
	case errors.Is(err, domain.ErrReferenceDataMissing):
		writeError(w, http.StatusBadRequest, "reference_data_missing", "no emission factors are available")
	case errors.Is(err, provenance.ErrInvalidProvenance):
		writeError(w, http.StatusNotFound, "not_found", "Invalid provenance_id")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &persistErr):
		logger.Error().Err(err).
			Int("index", persistErr.Index).
			Str("activity_id", persistErr.ActivityID).
			Str("stage", persistErr.Stage).
			Msg("calculation halted on persistence failure")
		resp := ErrorResponse{
			Type:       "persistence_error",
			Detail:     "failed to persist calculation; rerun to resume from the failed record",
			ActivityID: persistErr.ActivityID,
			Stage:      persistErr.Stage,
		}
		if persistErr.Index >= 0 {
			index := persistErr.Index
			resp.FailedIndex = &index
		}
		succeeded := persistErr.Succeeded
		resp.CalculationsPerformed = &succeeded
		writeJSON(w, http.StatusInternalServerError, resp)
	default:
		if fields := fieldErrors(err); len(fields) > 0 {
			resp := ErrorResponse{Type: "validation_error", Errors: fields}
			details := make([]string, 0, len(fields))
			for _, f := range fields {
				details = append(details, formatField(f))
				if f.Field == "activity_data.currency" && len(f.Allowed) > 0 {
					resp.SupportedCurrencies = f.Allowed
				}
			}
			resp.Detail = strings.Join(details, "; ")
			writeJSON(w, http.StatusBadRequest, resp)
			return
		}
		logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// fieldErrors flattens every *domain.ValidationError in err's tree.
func fieldErrors(err error) []FieldError {
	var verr *domain.ValidationError
	if errors.As(err, &verr) && !isJoined(err) {
		return []FieldError{{Field: verr.Field, Message: verr.Message, Allowed: verr.Allowed}}
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return nil
	}
	var out []FieldError
	for _, inner := range joined.Unwrap() {
		out = append(out, fieldErrors(inner)...)
	}
	return out
}

func isJoined(err error) bool {
	_, ok := err.(interface{ Unwrap() []error })
	return ok
}

func formatField(f FieldError) string {
	msg := f.Message
	if f.Field != "" {
		msg = f.Field + " " + msg
	}
	if len(f.Allowed) > 0 {
		msg += " (supported: " + strings.Join(f.Allowed, ", ") + ")"
	}
	return msg
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, ErrorResponse{Type: code, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
