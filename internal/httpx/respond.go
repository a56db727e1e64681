package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-storefront/internal/apperr"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(k apperr.Kind) int {
	switch k {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInsufficientStock, apperr.KindTransactionConflict:
		return http.StatusConflict
	case apperr.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error", "code", ...details}. Only messages of
// classified errors reach the client; anything else is logged and hidden.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err)
	}
	body := map[string]any{}
	for k, v := range e.Details {
		body[k] = v
	}
	body["error"] = e.Message
	body["code"] = string(e.Kind)
	if e.Retryable() {
		body["retryable"] = true
	}
	code := statusOf(e.Kind)
	if code >= http.StatusInternalServerError {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else if e.Kind == apperr.KindTransactionConflict {
		logger.Warn("request conflicted", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, code, body)
}

const maxBody = 1 << 20

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("invalid json: " + err.Error())
	}
	return nil
}
