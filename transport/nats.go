package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/axiomesh/council/core"
	"github.com/axiomesh/council/repo"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Subjects under the configured prefix. The chat gateway publishes inbound
// messages on events, consumes replies and answers the two lookups.
const (
	eventsSubject    = "events"
	repliesSubject   = "replies"
	groupSizeSubject = "group.size"
	nameSubject      = "contact.name"
)

type OutboundMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type GroupSizeRequest struct {
	ScopeID string `json:"scope_id"`
}

type GroupSizeResponse struct {
	Size  int    `json:"size"`
	Error string `json:"error,omitempty"`
}

type NameRequest struct {
	UserID string `json:"user_id"`
}

type NameResponse struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

var _ core.Transport = (*NATS)(nil)

// NATS talks to the chat gateway over a NATS connection.
type NATS struct {
	Conn   *nats.Conn
	Logger logrus.FieldLogger

	prefix  string
	timeout time.Duration
}

// Connect dials the server, retrying with a fibonacci backoff.
func Connect(config repo.Transport, logger logrus.FieldLogger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name("council"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("nats disconnected: %s", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}

	var conn *nats.Conn
	action := func(attempt uint) error {
		var err error
		conn, err = nats.Connect(config.NatsURL, opts...)
		if err != nil {
			logger.WithField("attempt", attempt).Warnf("connect nats: %s", err)
			return err
		}
		return nil
	}

	retries := config.ConnectRetries
	if retries == 0 {
		retries = 1
	}
	if err := retry.Retry(action, strategy.Limit(retries), strategy.Backoff(backoff.Fibonacci(time.Second))); err != nil {
		return nil, errors.Wrapf(err, "connect nats at %s", config.NatsURL)
	}

	return New(conn, config, logger), nil
}

// New wraps an established connection.
func New(conn *nats.Conn, config repo.Transport, logger logrus.FieldLogger) *NATS {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATS{
		Conn:    conn,
		Logger:  logger,
		prefix:  config.SubjectPrefix,
		timeout: timeout,
	}
}

func (n *NATS) subject(name string) string {
	if n.prefix == "" {
		return name
	}
	return n.prefix + "." + name
}

// Subscribe forwards decoded events into the channel until ctx is done.
// Undecodable messages are logged and dropped.
func (n *NATS) Subscribe(ctx context.Context, events chan<- core.Event) (core.Subscription, error) {
	sub, err := n.Conn.Subscribe(n.subject(eventsSubject), func(msg *nats.Msg) {
		var ev core.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			n.Logger.Warnf("drop malformed event: %s", err)
			return
		}
		if ev.Kind == "" {
			ev.Kind = core.TextEvent
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "subscribe events")
	}
	return sub, nil
}

func (n *NATS) Send(ctx context.Context, chatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(&OutboundMessage{ChatID: chatID, Text: text})
	if err != nil {
		return err
	}
	return n.Conn.Publish(n.subject(repliesSubject), data)
}

func (n *NATS) GroupSize(ctx context.Context, scopeID string) (int, error) {
	var resp GroupSizeResponse
	if err := n.request(ctx, groupSizeSubject, &GroupSizeRequest{ScopeID: scopeID}, &resp); err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, errors.Errorf("group size of %s: %s", scopeID, resp.Error)
	}
	return resp.Size, nil
}

func (n *NATS) DisplayName(ctx context.Context, userID string) (string, error) {
	var resp NameResponse
	if err := n.request(ctx, nameSubject, &NameRequest{UserID: userID}, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", errors.Errorf("name of %s: %s", userID, resp.Error)
	}
	return resp.Name, nil
}

func (n *NATS) request(ctx context.Context, name string, req, resp any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	msg, err := n.Conn.RequestWithContext(ctx, n.subject(name), data)
	if err != nil {
		return errors.Wrapf(err, "request %s", n.subject(name))
	}
	return errors.Wrapf(json.Unmarshal(msg.Data, resp), "decode %s response", name)
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	if n.Conn == nil || n.Conn.IsClosed() {
		return nil
	}
	return n.Conn.Drain()
}
