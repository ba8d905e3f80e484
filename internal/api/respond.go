package api

import (
	"log/slog"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/pkg/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// errorBody 是所有错误响应的统一格式。
type errorBody struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L().Warn("写入响应失败", slog.Any("error", err))
	}
}

// writeError 按错误码推导状态码，非统一错误一律视为 500。
func writeError(w http.ResponseWriter, _ *http.Request, err error) {
	err = xerrors.FromContext(err)
	code := xerrors.CodeOf(err)
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	status := xerrors.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败", slog.String("code", string(code)), slog.Any("error", err))
	}
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if e, ok := xerrors.From(err); ok {
			return e
		}
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid request body")
	}
	return nil
}
