package email

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// LogSender escribe los correos en el log. Útil en desarrollo sin SMTP.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, to string, kind Kind, payload Payload) error {
	if to == "" {
		return fmt.Errorf("to email is required")
	}
	subject, body, err := render(kind, payload)
	if err != nil {
		return err
	}
	s.logger.Info("email (log sender)",
		zap.String("to", to),
		zap.String("kind", string(kind)),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
