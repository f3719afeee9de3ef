package notify

import (
	"context"

	"condogate/internal/observability"
)

// LogSender is the development delivery path: it logs the code instead of
// sending it. Never wire it in production.
type LogSender struct {
	logger *observability.Logger
}

func NewLogSender(logger *observability.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendCode(ctx context.Context, email, code string) error {
	s.logger.Info("two_factor_code_issued", map[string]any{
		"email": email,
		"code":  code,
	})
	return nil
}
