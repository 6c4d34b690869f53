package processor

import (
	"context"

	"go.uber.org/zap"

	"mail-notifier/internal/models"
	"mail-notifier/internal/services/destination"
)

// LifecycleEvent selects the startup or shutdown notice.
type LifecycleEvent int

const (
	Started LifecycleEvent = iota
	Stopped
)

func (e LifecycleEvent) String() string {
	if e == Stopped {
		return "stopped"
	}
	return "started"
}

// NotifyLifecycle sends one notice per destination, listing the accounts
// routed to it.
func (m *Manager) NotifyLifecycle(ctx context.Context, event LifecycleEvent, routes []destination.Route) []models.DeliveryResult {
	results := make([]models.DeliveryResult, 0, len(routes))
	for _, route := range routes {
		text := m.formatter.Startup(route.Accounts)
		if event == Stopped {
			text = m.formatter.Shutdown(route.Accounts)
		}

		result := m.deliverer.Deliver(ctx, route.Destination, text)
		if !result.Success {
			m.logger.Warn("Failed to send lifecycle notice",
				zap.Stringer("event", event),
				zap.String("destination", route.Destination.Name),
				zap.Error(result.Err))
		}
		results = append(results, result)
	}
	return results
}
