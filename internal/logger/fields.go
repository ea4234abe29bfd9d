package logger

import (
	"strings"

	"go.uber.org/zap"
)

// Field keys shared by every package so that log queries stay stable.
const (
	FieldProvider = "ai_provider"
	FieldModel    = "ai_model"

	FieldRunID         = "run_id"
	FieldJobID         = "job_id"
	FieldApplicationID = "application_id"
	FieldStage         = "stage"
)

// appendString adds key=value unless value is blank.
func appendString(fields []zap.Field, key, value string) []zap.Field {
	if value = strings.TrimSpace(value); value == "" {
		return fields
	}
	return append(fields, zap.String(key, value))
}

func appendID(fields []zap.Field, key string, id int64) []zap.Field {
	if id <= 0 {
		return fields
	}
	return append(fields, zap.Int64(key, id))
}

// with attaches fields to l, replacing a nil logger with a no-op one.
func with(l *zap.Logger, fields []zap.Field) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// CommonFields describes the AI provider and model. Blank values are left out.
func CommonFields(provider, model string) []zap.Field {
	fields := appendString(nil, FieldProvider, provider)
	return appendString(fields, FieldModel, model)
}

func WithCommonFields(l *zap.Logger, provider, model string) *zap.Logger {
	return with(l, CommonFields(provider, model))
}

// ScreeningFields identifies a unit of screening work. Zero ids and an empty
// run id are omitted.
func ScreeningFields(runID string, jobID, applicationID int64) []zap.Field {
	fields := appendString(nil, FieldRunID, runID)
	fields = appendID(fields, FieldJobID, jobID)
	return appendID(fields, FieldApplicationID, applicationID)
}

func WithScreeningFields(l *zap.Logger, runID string, jobID, applicationID int64) *zap.Logger {
	return with(l, ScreeningFields(runID, jobID, applicationID))
}
