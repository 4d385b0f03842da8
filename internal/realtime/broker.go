package realtime

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Change-feed tables and actions, mirroring the row events the dashboard
// subscribes to.
const (
	TableDeviceStatus  = "device_status"
	TableMeterReadings = "meter_readings"
	TableAlerts        = "alerts"

	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// ChangeEvent describes one row change on a watched table
type ChangeEvent struct {
	Table    string          `json:"table"`
	Action   string          `json:"action"`
	DeviceID string          `json:"device_id"`
	Payload  json.RawMessage `json:"payload"`
}

// RoutingKey returns the topic key the event travels under
func (e ChangeEvent) RoutingKey() string {
	return fmt.Sprintf("%s.%s.%s", e.Table, e.Action, e.DeviceID)
}

// subscriberBuffer bounds each subscription channel. A subscriber that falls
// this far behind starts losing events instead of blocking the feed.
const subscriberBuffer = 64

// Subscription is a live handle on the change feed for one device. Events
// arrive on C until Unsubscribe is called; Unsubscribe is idempotent and
// closes C.
type Subscription struct {
	C <-chan ChangeEvent

	broker *Broker
	sub    *subscriber
	once   sync.Once
}

// Unsubscribe releases the subscription and closes C
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.broker.remove(s.sub)
	})
}

type subscriber struct {
	deviceID string
	tables   map[string]bool // empty means all tables
	ch       chan ChangeEvent
}

// Broker fans change events out to per-device subscribers
type Broker struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	dropped uint64
	logger  *zap.Logger
}

// NewBroker creates an empty broker
func NewBroker(logger *zap.Logger) *Broker {
	return &Broker{
		subs:   make(map[*subscriber]struct{}),
		logger: logger,
	}
}

// Subscribe registers interest in change events for a device. With no tables
// given, events from every watched table are delivered.
func (b *Broker) Subscribe(deviceID string, tables ...string) *Subscription {
	sub := &subscriber{
		deviceID: deviceID,
		tables:   make(map[string]bool, len(tables)),
		ch:       make(chan ChangeEvent, subscriberBuffer),
	}
	for _, table := range tables {
		sub.tables[table] = true
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return &Subscription{C: sub.ch, broker: b, sub: sub}
}

// Publish delivers an event to every matching subscriber. Delivery never
// blocks: a full subscriber buffer drops the event for that subscriber.
func (b *Broker) Publish(event ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		if sub.deviceID != event.DeviceID {
			continue
		}
		if len(sub.tables) > 0 && !sub.tables[event.Table] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped++
			b.logger.Warn("subscriber buffer full, dropping change event",
				zap.String("device_id", event.DeviceID),
				zap.String("table", event.Table),
			)
		}
	}
}

// SubscriberCount returns the number of live subscriptions
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) remove(sub *subscriber) {
	b.mu.Lock()
	_, ok := b.subs[sub]
	if ok {
		delete(b.subs, sub)
	}
	b.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}
