package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

const DefaultPublishTimeout = 2 * time.Second

// Transport carries change events between service replicas.
type Transport interface {
	// Publish sends payload to every replica, including this one.
	Publish(ctx context.Context, payload []byte) error
	// Subscribe calls deliver once per received event until stop is called.
	Subscribe(ctx context.Context, deliver func()) (stop func() error, err error)
	Close() error
}

type RelayConfig struct {
	Event          string
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

// Relay is a Broadcaster that routes signals through a Transport so observers
// connected to other replicas see them too. Events received from the transport
// are delivered to the local Notifier. While Run is not active, signals go
// straight to the local Notifier.
type Relay struct {
	local          *Notifier
	transport      Transport
	running        atomic.Bool
	pending        chan struct{}
	payload        []byte
	publishTimeout time.Duration
	logger         *slog.Logger
}

type event struct {
	Event string `json:"event"`
}

func NewRelay(local *Notifier, transport Transport, config *RelayConfig) *Relay {
	if config == nil {
		config = &RelayConfig{}
	}

	name := config.Event
	if name == "" {
		name = "updateClicks"
	}
	payload, _ := json.Marshal(event{Event: name})

	timeout := config.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		local:          local,
		transport:      transport,
		pending:        make(chan struct{}, 1),
		payload:        payload,
		publishTimeout: timeout,
		logger:         logger.With("component", "notify_relay"),
	}
}

// Broadcast queues one outbound event. Signals raised while one is already
// queued are merged into it.
func (r *Relay) Broadcast() {
	select {
	case r.pending <- struct{}{}:
	default:
	}
	// Run stores false before its final drain, so a signal queued after that
	// drain is caught here.
	if !r.running.Load() {
		r.drainLocal()
	}
}

// Running reports whether Run is subscribed and publishing.
func (r *Relay) Running() bool {
	return r.running.Load()
}

func (r *Relay) drainLocal() {
	select {
	case <-r.pending:
		r.local.Broadcast()
	default:
	}
}

// Run subscribes to the transport and publishes queued events until ctx is done.
// Whenever Run is not active, Broadcast signals the local Notifier directly.
func (r *Relay) Run(ctx context.Context) error {
	stop, err := r.transport.Subscribe(ctx, r.local.Broadcast)
	if err != nil {
		r.drainLocal()
		return err
	}
	defer func() {
		if err := stop(); err != nil {
			r.logger.Warn("relay unsubscribe failed", "error", err)
		}
	}()

	r.running.Store(true)
	defer func() {
		r.running.Store(false)
		r.drainLocal()
	}()

	r.logger.Info("relay started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return nil
		case <-r.pending:
			r.publish(ctx)
		}
	}
}

func (r *Relay) publish(ctx context.Context) {
	pubCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()

	if err := r.transport.Publish(pubCtx, r.payload); err != nil {
		r.logger.Warn("relay publish failed, notifying local observers only", "error", err)
		r.local.Broadcast()
	}
}

func (r *Relay) Close() error {
	return r.transport.Close()
}
