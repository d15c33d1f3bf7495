// Package natsbus publishes alert notifications on NATS and relays them from
// NATS to another notifier.
//
// Subjects are <prefix>.<event>, e.g. watchpost.alert.broadcast. Each message
// carries the notification ID in the Nats-Msg-Id header so that JetStream
// streams de-duplicate retried publishes.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/linnemanlabs/go-core/log"
	"github.com/nats-io/nats.go"

	"github.com/linnemanlabs/watchpost/internal/alerting"
)

const (
	DefaultPrefix = "watchpost"

	maxPublishElapsed = 5 * time.Second
)

// MsgPublisher is the subset of *nats.Conn used for publishing.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// Publisher implements alerting.Notifier on NATS.
type Publisher struct {
	conn   MsgPublisher
	prefix string
}

// NewPublisher creates a publisher. An empty prefix uses DefaultPrefix.
func NewPublisher(conn MsgPublisher, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{conn: conn, prefix: prefix}
}

// Name implements notify.Named.
func (*Publisher) Name() string { return "nats" }

// Subject returns the subject a notification is published on.
func (p *Publisher) Subject(ev alerting.Event) string {
	return p.prefix + "." + string(ev)
}

// Notify publishes n, retrying transient failures with exponential backoff
// until ctx is done or the retry budget is spent.
func (p *Publisher) Notify(ctx context.Context, n alerting.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("nats: marshal notification: %w", err)
	}
	msg := &nats.Msg{Subject: p.Subject(n.Event), Data: data, Header: nats.Header{}}
	if n.ID != "" {
		msg.Header.Set(nats.MsgIdHdr, n.ID)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = maxPublishElapsed

	publish := func() error {
		err := p.conn.PublishMsg(msg)
		switch err {
		case nil:
			return nil
		case nats.ErrConnectionClosed, nats.ErrBadSubject, nats.ErrMaxPayload:
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(publish, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("nats: publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Relay hands notifications received from NATS to next.
type Relay struct {
	next   alerting.Notifier
	logger log.Logger
}

// NewRelay creates a relay.
func NewRelay(next alerting.Notifier, logger log.Logger) *Relay {
	return &Relay{next: next, logger: logger}
}

// Subscribe joins queue on every notification subject under prefix, so each
// message is relayed by exactly one member of the group.
func (r *Relay) Subscribe(conn *nats.Conn, prefix, queue string) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	sub, err := conn.QueueSubscribe(prefix+".>", queue, r.Handle)
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe %s.>: %w", prefix, err)
	}
	return sub, nil
}

// Handle decodes one message and forwards it. Malformed messages are dropped.
func (r *Relay) Handle(msg *nats.Msg) {
	ctx := context.Background()
	L := r.logger.With("subject", msg.Subject)

	var n alerting.Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		L.Warn(ctx, "dropping malformed notification", "error", err)
		return
	}
	if err := r.next.Notify(ctx, n); err != nil {
		L.Error(ctx, err, "failed to relay notification", "notification_id", n.ID, "alert_id", n.AlertID)
	}
}
