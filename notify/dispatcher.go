// Package notify delivers engine events to warehouse staff. Delivery is fire-and-forget:
// callers never wait on it and failures are only logged.
package notify

import (
	"context"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/metrics"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
)

type Type string

const (
	TypeStockAlert   Type = "STOCK_ALERT"
	TypeBatchReceive Type = "BATCH_RECEIVE"
	TypeBatchIssue   Type = "BATCH_ISSUE"
	TypeAllocation   Type = "ALLOCATION"
	TypeConflict     Type = "CONFLICT"
	TypeRecovery     Type = "RECOVERY"
)

const defaultDeliveryTimeout = 10 * time.Second

type Event struct {
	Type          Type           `json:"type"`
	Recipients    []string       `json:"recipients"`
	Title         string         `json:"title"`
	Body          string         `json:"body"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CorrelationId string         `json:"correlation_id,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

type Channel interface {
	Name() string
	Deliver(ctx context.Context, evt Event) error
}

type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, timeout: defaultDeliveryTimeout}
}

// Dispatch hands evt to every channel in the background and returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) {
	if d == nil || len(d.channels) == 0 {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	if evt.CorrelationId == "" {
		evt.CorrelationId, _ = utils.GetCorrelationIdFromContext(ctx)
	}
	if len(evt.Recipients) == 0 {
		evt.Recipients = config.NotifyRecipients()
	}

	// the request may finish long before delivery does
	base := context.WithoutCancel(ctx)
	for _, ch := range d.channels {
		d.wg.Add(1)
		go func(ch Channel) {
			defer d.wg.Done()
			deliverCtx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()
			if err := ch.Deliver(deliverCtx, evt); err != nil {
				metrics.NotificationsTotal.WithLabelValues(ch.Name(), "error").Inc()
				config.LogError(config.GetLogger(), "notify", "Dispatch", "delivery failed on "+ch.Name(), evt, err)
				return
			}
			metrics.NotificationsTotal.WithLabelValues(ch.Name(), "success").Inc()
		}(ch)
	}
}

// Wait blocks until in-flight deliveries finish. Used on shutdown and in tests.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

var (
	defaultDispatcher   *Dispatcher
	defaultDispatcherMu sync.Mutex
)

// Default returns the process-wide dispatcher, building it from env on first use.
func Default() *Dispatcher {
	defaultDispatcherMu.Lock()
	defer defaultDispatcherMu.Unlock()
	if defaultDispatcher == nil {
		defaultDispatcher = FromEnv()
	}
	return defaultDispatcher
}

// SetDefault replaces the process-wide dispatcher and returns the previous one.
func SetDefault(d *Dispatcher) *Dispatcher {
	defaultDispatcherMu.Lock()
	defer defaultDispatcherMu.Unlock()
	prev := defaultDispatcher
	defaultDispatcher = d
	return prev
}

func Dispatch(ctx context.Context, evt Event) {
	Default().Dispatch(ctx, evt)
}

// FromEnv builds a dispatcher with the channels listed in NOTIFY_CHANNELS.
func FromEnv() *Dispatcher {
	logger := config.GetLogger()
	var channels []Channel
	for _, name := range config.NotifyChannels() {
		switch name {
		case "log":
			channels = append(channels, NewLogChannel(logger))
		case "pubsub":
			channels = append(channels, NewPubSubChannel())
		case "email":
			ch, err := NewEmailChannelFromEnv()
			if err != nil {
				config.LogError(logger, "notify", "FromEnv", "email channel disabled", nil, err)
				continue
			}
			channels = append(channels, ch)
		default:
			config.LogWarning(logger, "notify", "FromEnv", "unknown notification channel", name)
		}
	}
	return NewDispatcher(channels...)
}
