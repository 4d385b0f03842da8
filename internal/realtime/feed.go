package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/adeyemio/smart-meter-service/internal/mq"
)

// Notifier publishes change events to the changes exchange, from where every
// service instance's feed consumer picks them up.
type Notifier struct {
	publisher *mq.Publisher
	logger    *zap.Logger
}

// NewNotifier wraps a publisher bound to the changes exchange
func NewNotifier(publisher *mq.Publisher, logger *zap.Logger) *Notifier {
	return &Notifier{publisher: publisher, logger: logger}
}

// NotifyChange publishes one change event. Failures are logged and returned;
// callers treat change notification as best effort.
func (n *Notifier) NotifyChange(ctx context.Context, event ChangeEvent) error {
	if err := n.publisher.Publish(ctx, event.RoutingKey(), event); err != nil {
		n.logger.Error("failed to publish change event",
			zap.Error(err),
			zap.String("routing_key", event.RoutingKey()),
		)
		return err
	}
	return nil
}

// NotifyRowChange marshals a row and publishes it as a change event
func (n *Notifier) NotifyRowChange(ctx context.Context, table, action, deviceID string, row interface{}) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal row payload: %w", err)
	}
	return n.NotifyChange(ctx, ChangeEvent{
		Table:    table,
		Action:   action,
		DeviceID: deviceID,
		Payload:  payload,
	})
}

// NewFeedConsumer builds the MQ consumer that replays change events from the
// changes exchange into the local broker.
func NewFeedConsumer(conn *mq.Connection, broker *Broker, queue, exchange string, logger *zap.Logger) (*mq.Consumer, error) {
	return mq.NewConsumer(mq.ConsumerConfig{
		Connection: conn,
		Queue:      queue,
		Exchange:   exchange,
		BindingKey: "#",
		Logger:     logger,
		MessageProcessor: func(ctx context.Context, routingKey string, body []byte) error {
			var event ChangeEvent
			if err := json.Unmarshal(body, &event); err != nil {
				return fmt.Errorf("failed to unmarshal change event: %w", err)
			}
			broker.Publish(event)
			return nil
		},
	})
}
