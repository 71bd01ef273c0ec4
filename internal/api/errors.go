// internal/api/errors.go
package api

import (
	"encoding/json"
	"net/http"

	"github.com/solrelay/mixer/internal/apperrors"
)

// errorEnvelope is the body returned on any non-2xx response.
type errorEnvelope struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func statusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation, apperrors.KindInvalidRecovery, apperrors.KindRecoveryUnavail:
		return http.StatusBadRequest
	case apperrors.KindNotFound, apperrors.KindSourceTxMissing:
		return http.StatusNotFound
	case apperrors.KindInsufficient, apperrors.KindCannotPrime:
		return http.StatusUnprocessableEntity
	case apperrors.KindStatusConflict:
		return http.StatusConflict
	case apperrors.KindRPC:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a domain error to an HTTP status using apperrors.Kind when
// present, otherwise falls back to 500. No business logic lives in a
// handler's error path beyond this translation.
func writeError(w http.ResponseWriter, err error) {
	kind, ok := apperrors.KindOf(err)
	status := http.StatusInternalServerError
	if ok {
		status = statusForKind(kind)
	}
	writeJSON(w, status, errorEnvelope{Error: err.Error(), Kind: string(kind)})
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, apperrors.New(apperrors.KindValidation, message))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}
