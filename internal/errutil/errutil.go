// Package errutil holds the error codes shared across the application and
// helpers for inspecting and logging coded errors.
package errutil

import (
	"github.com/samber/oops"
	"go.uber.org/zap"
)

// Error codes attached to oops errors.
const (
	CodeEntropyUnavailable = "ENTROPY_UNAVAILABLE"
	CodeCreateFailed       = "USER_CREATE_FAILED"
	CodeUpdateFailed       = "USER_UPDATE_FAILED"
)

// HasCode reports whether err is an oops error carrying code.
func HasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == code
}

// Fields returns zap fields describing err. For oops errors the code and
// context are included alongside the message.
func Fields(err error) []zap.Field {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []zap.Field{zap.Error(err)}
	}
	fields := []zap.Field{zap.String("error", oopsErr.Error())}
	if code := oopsErr.Code(); code != nil {
		fields = append(fields, zap.Any("code", code))
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		fields = append(fields, zap.Any("context", ctx))
	}
	return fields
}

// LogError logs err at error level with its structured context.
func LogError(log *zap.Logger, msg string, err error) {
	log.Error(msg, Fields(err)...)
}
