// Package messaging keeps several bot replicas in sync over NATS: when one
// replica changes settings it announces the change, and the others reload
// from their settings file.
package messaging

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
)

// SubjectSettingsChanged carries SettingsChanged events.
const SubjectSettingsChanged = "ciabot.settings.changed"

// Config holds NATS connection settings.
type Config struct {
	URL            string
	Name           string        // client name shown by the server
	ConnectTimeout time.Duration // initial dial timeout
	ReconnectWait  time.Duration
	MaxReconnects  int // -1 retries forever
}

// DefaultConfig returns the settings used for a local NATS server.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		Name:           "ciabot",
		ConnectTimeout: 2 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
	}
}

// Client is a NATS connection that remembers one subscription per subject so
// they can be drained on Close.
type Client struct {
	conn   *nats.Conn
	logger *log.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Connect dials the server in cfg. It fails if the first connection attempt
// fails; later disconnects are retried according to cfg.
func Connect(cfg Config, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	logger = logger.WithPrefix("nats")

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("async error", "subject", subject, "err", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect %s: %w", cfg.URL, err)
	}
	logger.Info("connected", "url", nc.ConnectedUrl())

	return &Client{
		conn:   nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data on subject.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers every message on subject to handler. Subscribing to a
// subject again replaces the previous handler.
func (c *Client) Subscribe(subject string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	prev := c.subs[subject]
	c.subs[subject] = sub
	c.mu.Unlock()

	if prev != nil {
		if err := prev.Unsubscribe(); err != nil {
			c.logger.Warn("dropping replaced subscription failed", "subject", subject, "err", err)
		}
	}
	return nil
}

// Flush waits until the server has processed everything sent so far.
func (c *Client) Flush(timeout time.Duration) error {
	return c.conn.FlushTimeout(timeout)
}

// Close drains the subscriptions, then the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	var errs []error
	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("messaging: drain %s: %w", subject, err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	if err := c.conn.Drain(); err != nil {
		errs = append(errs, fmt.Errorf("messaging: drain connection: %w", err))
	}
	return errors.Join(errs...)
}
