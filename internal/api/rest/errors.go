package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// errorEnvelope is the wire shape of every error response.
type errorEnvelope struct {
	ErrorKind string                 `json:"error_kind"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func statusForKind(kind errors.ErrorKind) int {
	switch kind {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindAuth:
		return http.StatusUnauthorized
	case errors.KindPermission:
		return http.StatusForbidden
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindConflict:
		return http.StatusConflict
	case errors.KindRateLimited:
		return http.StatusTooManyRequests
	case errors.KindUpstream:
		return http.StatusBadGateway
	case errors.KindIntegrity:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders the structured envelope for any error. Internal causes
// are logged, never leaked to the client.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	envelope := errorEnvelope{
		ErrorKind: string(errors.KindInternal),
		Message:   "internal error",
		Timestamp: time.Now().UTC(),
	}
	status := http.StatusInternalServerError

	if appErr, ok := errors.AsAppError(err); ok {
		envelope.ErrorKind = string(appErr.Kind)
		envelope.Message = appErr.Message
		envelope.Code = appErr.Code
		envelope.Details = appErr.Details
		if appErr.StatusCode != 0 {
			status = appErr.StatusCode
		} else {
			status = statusForKind(appErr.Kind)
		}
		if appErr.Kind == errors.KindInternal {
			logger.Error("request failed", zap.Error(err))
		}
	} else {
		logger.Error("unclassified request failure", zap.Error(err))
	}

	writeJSON(w, status, envelope)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
