package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
)

// LogChannel writes notifications to the structured log.
type LogChannel struct {
	logger *logrus.Logger
}

func NewLogChannel(logger *logrus.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Deliver(_ context.Context, evt Event) error {
	c.logger.WithFields(logrus.Fields{
		"module":         "notify",
		"type":           evt.Type,
		"recipients":     evt.Recipients,
		"metadata":       evt.Metadata,
		"correlation_id": evt.CorrelationId,
	}).Warn(evt.Title)
	return nil
}

// PubSubChannel publishes notifications on NOTIFY_TOPIC for downstream consumers.
type PubSubChannel struct{}

func NewPubSubChannel() *PubSubChannel {
	return &PubSubChannel{}
}

func (c *PubSubChannel) Name() string { return "pubsub" }

func (c *PubSubChannel) Deliver(ctx context.Context, evt Event) error {
	_, err := config.PublishNotification(ctx, config.NotificationMessage{
		Type:          string(evt.Type),
		Recipients:    evt.Recipients,
		Title:         evt.Title,
		Body:          evt.Body,
		Metadata:      evt.Metadata,
		CorrelationId: evt.CorrelationId,
		OccurredAt:    evt.OccurredAt,
	})
	return err
}

// EmailChannel mails every recipient that looks like an address through SendGrid.
type EmailChannel struct {
	apiKey string
	from   string
}

func NewEmailChannel(apiKey string, from string) *EmailChannel {
	return &EmailChannel{apiKey: apiKey, from: from}
}

func NewEmailChannelFromEnv() (*EmailChannel, error) {
	apiKey := strings.TrimSpace(os.Getenv("SENDGRID_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("SENDGRID_API_KEY is required")
	}
	from := strings.TrimSpace(os.Getenv("NOTIFY_EMAIL_FROM"))
	if from == "" {
		return nil, errors.New("NOTIFY_EMAIL_FROM is required")
	}
	return NewEmailChannel(apiKey, from), nil
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(ctx context.Context, evt Event) error {
	client := sendgrid.NewSendClient(c.apiKey)
	fromEmail := mail.NewEmail("Thread Inventory", c.from)
	subject := fmt.Sprintf("[%s] %s", evt.Type, evt.Title)

	var errs []error
	for _, to := range evt.Recipients {
		if !strings.Contains(to, "@") {
			continue
		}
		message := mail.NewSingleEmail(fromEmail, subject, mail.NewEmail("", to), evt.Body, fmt.Sprintf("<pre>%s</pre>", evt.Body))
		response, err := client.SendWithContext(ctx, message)
		if err != nil {
			errs = append(errs, fmt.Errorf("sendgrid send error: %w", err))
			continue
		}
		if response.StatusCode >= 400 {
			errs = append(errs, fmt.Errorf("sendgrid send failed: status=%d, body=%s", response.StatusCode, response.Body))
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps delivered events in memory. Tests install it in place of real channels.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Deliver(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, evt := range r.Events() {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}
