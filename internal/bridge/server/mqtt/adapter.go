package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
)

// HandlerFunc handles the raw payload of one message.
type HandlerFunc func(ctx context.Context, payload []byte) error

type TypedHandlerFunc[T any] func(ctx context.Context, msg *T) error

// JSONHandler decodes each payload into a fresh T before calling handler.
func JSONHandler[T any](handler TypedHandlerFunc[T]) HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		msg := new(T)
		if err := json.Unmarshal(payload, msg); err != nil {
			return fmt.Errorf("json unmarshal failed: %w", err)
		}
		return handler(ctx, msg)
	}
}
