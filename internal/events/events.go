package events

import (
	"context"

	"posoffice/backend/internal/domain"
)

// Publisher delivers sale lifecycle events after the owning unit of work has
// committed. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, event domain.SaleEvent) error
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ domain.SaleEvent) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}
