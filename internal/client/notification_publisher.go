package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/aoba-mfg/be-kanban-approvals/internal/service"
)

// NotificationPublisher forwards domain events to NATS for the notification
// service to fan out to users.
//
// Subject convention: notifications.kanban.<event_kind>
// Event kinds: kanban_created, kanban_approved, kanban_rejected, status_change
//
// All publish operations are non-fatal — errors are logged but never
// propagated, so notification failures never interrupt a transition.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection disables publishing.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// Notify implements service.Subscriber.
func (p *NotificationPublisher) Notify(ctx context.Context, event service.Event) {
	if p.conn == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).
			Str("event_kind", string(event.Kind)).
			Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.kanban.%s", strings.ToLower(string(event.Kind)))
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("request_id", event.RequestID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("request_id", event.RequestID).
		Msg("notification: event published")
}
