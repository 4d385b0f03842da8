package meter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adeyemio/smart-meter-service/internal/db"
	"github.com/adeyemio/smart-meter-service/internal/realtime"
)

// Watcher keeps a per-device status cache current from two sources: periodic
// refreshes against the store and push events from the change feed. Every
// write to the cache carries an epoch; a refresh that completes after a
// newer write has landed is discarded, so a slow fetch can never clobber
// fresher state.
type Watcher struct {
	service  *Service
	sub      *realtime.Subscription
	deviceID string
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	epoch  uint64
	latest StatusResult
	loaded bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher for one device, subscribed to its
// device_status change events. Call Start to begin refreshing and Stop to
// release the subscription.
func NewWatcher(service *Service, broker *realtime.Broker, deviceID string, interval time.Duration, logger *zap.Logger) *Watcher {
	return &Watcher{
		service:  service,
		sub:      broker.Subscribe(deviceID, realtime.TableDeviceStatus),
		deviceID: deviceID,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the refresh loop
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		defer close(w.done)

		w.refresh(ctx)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.refresh(ctx)
			case event, ok := <-w.sub.C:
				if !ok {
					return
				}
				w.applyEvent(event)
			}
		}
	}()
}

// Stop cancels the loop and releases the change-feed subscription
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.sub.Unsubscribe()
	<-w.done
}

// Latest returns the cached status. ok is false until the first successful
// refresh or push event.
func (w *Watcher) Latest() (StatusResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest, w.loaded
}

func (w *Watcher) refresh(ctx context.Context) {
	epoch := w.currentEpoch()

	result, err := w.service.Status(ctx, w.deviceID)
	if err != nil {
		w.logger.Warn("watcher refresh failed", zap.Error(err), zap.String("device_id", w.deviceID))
		return
	}

	if !w.commit(epoch, result) {
		w.logger.Debug("discarding stale refresh", zap.String("device_id", w.deviceID))
	}
}

func (w *Watcher) applyEvent(event realtime.ChangeEvent) {
	var status db.DeviceStatus
	if err := json.Unmarshal(event.Payload, &status); err != nil {
		w.logger.Warn("failed to decode status event", zap.Error(err), zap.String("device_id", w.deviceID))
		return
	}

	w.mu.Lock()
	w.epoch++
	w.latest = StatusResult{Status: &status, Online: w.service.IsOnline(status.LastSeen)}
	w.loaded = true
	w.mu.Unlock()
}

func (w *Watcher) currentEpoch() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.epoch
}

// commit stores a refresh result unless a newer write landed since the
// refresh began.
func (w *Watcher) commit(epoch uint64, result StatusResult) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.epoch != epoch {
		return false
	}

	w.epoch++
	w.latest = result
	w.loaded = true
	return true
}
