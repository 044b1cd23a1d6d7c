package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// DecodeJSON decodes a strict JSON body into dst. Unknown fields are
// rejected. On failure it writes the 400 response itself and returns
// false; handlers only proceed on true.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}

	return true
}

// WriteJSON encodes v into a buffer before touching the response so an
// encoding failure can still produce a clean 500 instead of a truncated
// body.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// The client is gone; nothing left to write.
		return
	}
}

// ErrorParams carries the HTTP status, a machine-readable error code,
// and the underlying error for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError writes the standard error envelope: a stable code for
// clients to branch on plus the human-readable message.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, map[string]string{"error": p.ErrCode, "message": p.Err.Error()})
}
