package alerts

import "context"

// Store persists alerts.
type Store interface {
	Create(ctx context.Context, a *Alert) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Alert, error)
}
