package kitchen

import (
	"context"
	"log/slog"
	"time"

	"github.com/pedidoslab/pedidos/internal/domain"
)

// Poller fires persisted IN_KITCHEN to READY transitions once their prep time
// elapses. It runs independently of message consumption, so a transition for
// one order can fire while another order's event is being processed.
type Poller struct {
	store     scheduleStore
	publisher eventPublisher
	interval  time.Duration
	logger    *slog.Logger
}

func NewPoller(store scheduleStore, publisher eventPublisher, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		store:     store,
		publisher: publisher,
		interval:  interval,
		logger:    logger,
	}
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.fireDue(ctx)
		}
	}
}

func (p *Poller) fireDue(ctx context.Context) {
	orderIDs, err := p.store.DueOrders(ctx, time.Now())
	if err != nil {
		p.logger.Error("failed to read due orders", "error", err)
		return
	}

	for _, orderID := range orderIDs {
		transitioned, err := p.store.FinishPreparation(ctx, orderID)
		if err != nil {
			p.logger.Error("failed to finish preparation", "error", err, "order_id", orderID)
			continue
		}
		if !transitioned {
			p.logger.Info("schedule entry consumed without transition", "order_id", orderID)
			continue
		}

		p.logger.Info("order ready", "order_id", orderID)
		if p.publisher != nil {
			event := domain.OrderEvent{
				OrderID:   orderID,
				State:     domain.OrderStateReady,
				Timestamp: time.Now().UTC(),
			}
			if err := p.publisher.Publish(ctx, domain.EventOrderReady, event); err != nil {
				p.logger.Error("event publish failed", "error", err,
					"routing_key", domain.EventOrderReady, "order_id", orderID)
			}
		}
	}
}
