package adapter

import "context"

// Alerter pushes operator-facing messages (stuck notifications, exhausted retries).
type Alerter interface {
	Alert(ctx context.Context, text string) error
}
