package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds the worker's production logger. Every line carries
// the service name so aggregated logs stay attributable.
func NewLogger(serviceName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithRequestID tags a logger with the command's request id so every
// line of one command's handling correlates.
func WithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}
