package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/rushteam/reclearn/core"
)

// ErrorBody 是错误响应体。
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 描述一个错误。
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error().Err(err).Msg("marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logger.Debug().Err(err).Msg("write response")
	}
}

// statusFor 把领域错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case core.IsInvalidInput(err):
		return http.StatusBadRequest
	case core.IsNotFound(err):
		return http.StatusNotFound
	case core.IsNotSupported(err):
		return http.StatusNotImplemented
	case core.IsUnavailable(err), core.IsConflict(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := statusFor(err)
	code := core.ErrorCodeInternalError
	msg := "internal error"
	var de *core.DomainError
	if errors.As(err, &de) {
		code = de.Code
	}
	if status < http.StatusInternalServerError {
		msg = err.Error()
	} else {
		logger.Error().Err(err).Int("status", status).Msg("request failed")
	}
	if status == http.StatusServiceUnavailable {
		msg = "dependency unavailable, retry later"
	}
	writeJSON(w, logger, status, ErrorBody{Error: ErrorDetail{Code: code, Message: msg}})
}
