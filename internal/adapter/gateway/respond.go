package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"wasm-arena/internal/domain"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error    string   `json:"error"`
	Code     string   `json:"code"`
	Problems []string `json:"problems,omitempty"`
}

// statusByCode maps error codes to HTTP statuses. Codes not listed are 500.
var statusByCode = map[domain.ErrorCode]int{
	domain.CodeNotFound:         http.StatusNotFound,
	domain.CodeMatchNotFound:    http.StatusNotFound,
	domain.CodeGameNotFound:     http.StatusNotFound,
	domain.CodeProviderNotFound: http.StatusBadRequest,
	domain.CodeInvalidInput:     http.StatusBadRequest,
	domain.CodeInvalidMove:      http.StatusUnprocessableEntity,
	domain.CodeValidation:       http.StatusUnprocessableEntity,
	domain.CodeDuplicate:        http.StatusConflict,
	domain.CodeMatchActive:      http.StatusConflict,
	domain.CodeMatchStopped:     http.StatusConflict,
	domain.CodeMovePending:      http.StatusConflict,
	domain.CodeNoPendingMove:    http.StatusConflict,
	domain.CodeUnauthorized:     http.StatusUnauthorized,
	domain.CodeIntegration:      http.StatusBadGateway,
	domain.CodeWASMTimeout:      http.StatusGatewayTimeout,
	domain.CodeAgentTimeout:     http.StatusGatewayTimeout,
	domain.CodeRateLimit:        http.StatusTooManyRequests,
}

// statusFor returns the HTTP status for err.
func statusFor(err error) int {
	if status, ok := statusByCode[domain.ErrorCodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeJSON writes a JSON response with proper headers.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if s.version != "" {
		w.Header().Set("X-Arena-Version", s.version)
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("gateway: encode response", "error", err)
	}
}

// writeError writes err as {"error", "code"} with the status of its kind.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Code: string(domain.ErrorCodeOf(err))}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body.Problems = verr.Problems
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("gateway request failed",
			"path", r.URL.Path, "error", err, "request_id", middleware.GetReqID(r.Context()))
	}
	s.writeJSON(w, status, body)
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewSubSystemError("gateway", "decode", domain.ErrInvalidInput, err.Error())
	}
	return nil
}
