package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Envelope mirrors the {success, response, err, msg} shape document clients expect.
type Envelope struct {
	Success  bool   `json:"success"`
	Response any    `json:"response,omitempty"`
	Err      string `json:"err,omitempty"`
	Msg      string `json:"msg,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response failed", slog.Any("err", err))
	}
}

// OK writes a successful enveloped response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, Envelope{Success: true, Response: data})
}

// Error writes the uniform error envelope (err + msg).
func Error(w http.ResponseWriter, status int, errText, msg string) {
	JSON(w, status, Envelope{Err: errText, Msg: msg})
}
