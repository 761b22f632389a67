package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"harvest/internal/logging"
)

// Validator is implemented by messages with constraints beyond their JSON
// shape.
type Validator interface {
	Validate() error
}

// Decode adapts a typed message handler to a Handler. Payloads that do not
// decode as T, or fail Validate, are acknowledged and dropped: redelivery
// cannot fix them.
func Decode[T any](fn func(context.Context, T) Outcome, logger *slog.Logger) Handler {
	logger = logging.Default(logger)
	return func(ctx context.Context, body []byte) Outcome {
		var msg T
		if err := json.Unmarshal(body, &msg); err != nil {
			logger.Error("dropping message", "error", fmt.Errorf("%w: %w", ErrMalformed, err), "size", len(body))
			return Ack
		}
		var v any = &msg
		if _, ok := v.(Validator); !ok {
			v = msg
		}
		if val, ok := v.(Validator); ok {
			if err := val.Validate(); err != nil {
				logger.Error("dropping message", "error", fmt.Errorf("%w: %w", ErrMalformed, err))
				return Ack
			}
		}
		return fn(ctx, msg)
	}
}
