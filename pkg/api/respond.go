package api

import (
	"encoding/json"
	"net/http"

	"github.com/voltmesh/dlm-go/pkg/fault"
)

// envelope is the uniform reply shape.
type envelope struct {
	OK    bool      `json:"ok"`
	Data  any       `json:"data,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{OK: true, Data: data})
}

func respondError(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(kind))
	_ = json.NewEncoder(w).Encode(envelope{
		OK:    false,
		Error: &apiError{Code: kind.String(), Message: err.Error()},
	})
}

func respondNotFound(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(envelope{
		OK:    false,
		Error: &apiError{Code: "not_found", Message: msg},
	})
}

func respondBadRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(envelope{
		OK:    false,
		Error: &apiError{Code: "validation", Message: msg},
	})
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindNotDiscovered, fault.KindStateConflict:
		return http.StatusConflict
	case fault.KindConstraint:
		return http.StatusUnprocessableEntity
	case fault.KindCircuitOpen:
		return http.StatusServiceUnavailable
	case fault.KindTimeout:
		return http.StatusGatewayTimeout
	case fault.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decode parses a JSON request body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fault.Wrap(fault.KindValidation, err, "invalid request body")
	}
	return nil
}
