package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"switchboard.dev/internal/apperr"
	"switchboard.dev/internal/audit"
	"switchboard.dev/internal/obs"
)

type errorResponse struct {
	Code      string   `json:"code"`
	Error     string   `json:"error"`
	Details   []string `json:"details,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

type listResponse struct {
	TotalCount int `json:"total_count"`
	Data       any `json:"data"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// RequestIDFromContext returns the transaction id bound to the request.
func RequestIDFromContext(r *http.Request) string {
	return audit.TxID(r.Context())
}

// handleServiceError renders err with its stable code and a message in the
// language asked for by the lang query parameter. Causes of internal errors
// are logged, never sent.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.As(err)
	status := ae.Status()
	code := ae.Code
	if code == "" {
		code = apperr.CodeInternal
	}
	resp := errorResponse{
		Code:      code,
		Error:     apperr.Message(r.URL.Query().Get("lang"), code),
		RequestID: RequestIDFromContext(r),
	}
	if status == http.StatusInternalServerError {
		obs.Logger().Error().Err(err).
			Str("tx_id", resp.RequestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	} else {
		resp.Details = ae.Details
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="switchboard"`)
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	writeJSON(w, status, errorResponse{
		Code:      code,
		Error:     apperr.Message(r.URL.Query().Get("lang"), code),
		RequestID: RequestIDFromContext(r),
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, apperr.CodeMethodNotAllowed)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, apperr.CodeEntryNotFound)
}

// readBody returns the request body. An empty body is a bad request.
func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.BadRequest(apperr.CodeInvalidJSON, "request body too large")
		}
		return nil, apperr.BadRequest(apperr.CodeInvalidJSON, err.Error())
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, apperr.BadRequest(apperr.CodeInvalidJSON, "request body is required")
	}
	return data, nil
}

// decodeStrict decodes one JSON value and rejects unknown members and trailing data.
func decodeStrict(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return ae
		}
		return apperr.BadRequest(apperr.CodeInvalidJSON, err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperr.BadRequest(apperr.CodeInvalidJSON, "unexpected data after JSON body")
	}
	return nil
}

// decodeOneOrMany decodes a single object or an array of objects.
func decodeOneOrMany[D any](data []byte) (items []D, many bool, err error) {
	if data[0] == '[' {
		if err := decodeStrict(data, &items); err != nil {
			return nil, true, err
		}
		if len(items) == 0 {
			return nil, true, apperr.BadRequest(apperr.CodeInvalidJSON, "empty array")
		}
		return items, true, nil
	}
	var item D
	if err := decodeStrict(data, &item); err != nil {
		return nil, false, err
	}
	return []D{item}, false, nil
}
