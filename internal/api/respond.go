package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/soaringjerry/goodenergy/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, fields map[string]string) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = http.StatusText(status)
	}
	body := map[string]any{"message": msg}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	writeJSON(w, status, map[string]any{"error": body})
}

// statusFor maps a service error code onto an HTTP status.
func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorForbidden:
		return http.StatusForbidden
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorConflict:
		return http.StatusConflict
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err. Configuration and unexpected errors are logged and hidden.
func fail(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	if se, ok := services.AsServiceError(err); ok {
		status := statusFor(se.Code)
		if status == http.StatusInternalServerError {
			log.WithError(err).Error("configuration error")
			writeError(w, status, "server misconfigured", nil)
			return
		}
		writeError(w, status, se.Message, se.Fields)
		return
	}
	if services.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "not found", nil)
		return
	}
	log.WithError(err).Error("request failed")
	writeError(w, http.StatusInternalServerError, "", nil)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return services.NewInvalidError("malformed JSON body")
	}
	return nil
}
