package otelhelper

import (
	"errors"

	"github.com/dukex/convoflow/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ErrorCodeKey      = "convoflow.error.code"
	ErrorRetryableKey = "convoflow.error.retryable"
)

// SetError marks span as failed. Execution failures also carry their code, node and retryability.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	var execErr *models.ExecutionError
	if errors.As(err, &execErr) {
		attrs = append(attrs,
			attribute.String(ErrorCodeKey, string(execErr.Code)),
			attribute.Bool(ErrorRetryableKey, execErr.Retryable),
		)

		if execErr.NodeID != "" {
			attrs = append(attrs, attribute.String(NodeIDKey, execErr.NodeID))
		}
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}
