package processor

import (
	"context"

	conciter "github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"mail-notifier/internal/models"
)

// Deliverer delivers one notification to one destination.
type Deliverer interface {
	Deliver(ctx context.Context, dest models.Destination, text string) models.DeliveryResult
}

// Manager formats messages and fans them out to their destinations.
type Manager struct {
	deliverer Deliverer
	formatter *Formatter
	logger    *zap.Logger
}

func NewManager(deliverer Deliverer, formatter *Formatter, logger *zap.Logger) *Manager {
	return &Manager{
		deliverer: deliverer,
		formatter: formatter,
		logger:    logger,
	}
}

// Process delivers msg to every destination concurrently. Results are
// returned in destination order; one destination failing does not affect
// the others.
func (m *Manager) Process(ctx context.Context, msg models.Message, dests []models.Destination) []models.DeliveryResult {
	text := m.formatter.Alert(msg)
	results := m.fanOut(ctx, text, dests)

	for _, r := range results {
		if r.Success {
			m.logger.Info("Notification delivered",
				zap.String("account", msg.AccountID),
				zap.String("message_id", msg.ID),
				zap.String("destination", r.Destination.Name),
				zap.Int("attempts", r.Attempts))
			continue
		}
		m.logger.Error("Notification failed",
			zap.String("account", msg.AccountID),
			zap.String("message_id", msg.ID),
			zap.String("destination", r.Destination.Name),
			zap.Int("attempts", r.Attempts),
			zap.Error(r.Err))
	}
	return results
}

func (m *Manager) fanOut(ctx context.Context, text string, dests []models.Destination) []models.DeliveryResult {
	if len(dests) == 0 {
		return nil
	}
	// Una goroutine por destino
	mapper := conciter.Mapper[models.Destination, models.DeliveryResult]{MaxGoroutines: len(dests)}
	return mapper.Map(dests, func(dest *models.Destination) models.DeliveryResult {
		return m.deliverer.Deliver(ctx, *dest, text)
	})
}
