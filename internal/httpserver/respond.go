package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/nairabridge/server/internal/errors"
	"github.com/nairabridge/server/internal/logger"
)

type errorResponse struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps a classified error onto the wire. Internal errors are
// never echoed verbatim; the client gets the code and a request id to
// quote, the log gets the detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	status := code.HTTPStatus()

	var resp errorResponse
	resp.Error.Code = string(code)
	resp.Error.RequestID = logger.GetRequestID(r.Context())
	if status >= 500 {
		lg := logger.FromContext(r.Context())
		lg.Error().
			Err(err).
			Str("code", string(code)).
			Msg("request.failed")
		resp.Error.Message = "internal error"
	} else {
		resp.Error.Message = err.Error()
	}

	writeJSON(w, status, resp)
}
