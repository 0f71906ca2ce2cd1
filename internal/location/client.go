package location

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/skypro1111/mec-geofence-alert/internal/httpstream"
	"github.com/skypro1111/mec-geofence-alert/internal/transport"
)

var (
	// ErrUnexpectedMessage is returned when the service sends a message that
	// does not fit the exchange in progress.
	ErrUnexpectedMessage = errors.New("unexpected message from location service")

	// ErrNoSubscriptionID is returned when a creation response names no
	// subscription resource.
	ErrNoSubscriptionID = errors.New("subscription response carries no resource URL")

	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("location client closed")
)

const (
	userAgent          = "MEC-Geofence-Alert/1.0"
	readBufferSize     = 4096
	writeTimeout       = 10 * time.Second
	circleResourcePath = "subscriptions/area/circle"
	noContentResponse  = "HTTP/1.1 204 No Content\r\nContent-Length: 0\r\n\r\n"
)

// Config contains Location client configuration
type Config struct {
	Address          string
	BasePath         string
	DialTimeout      time.Duration
	ReadTimeout      time.Duration
	AckNotifications bool
}

// StatusError is a non-2xx answer from the Location service.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Reason     string
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("location service answered %s %s with %d %s", e.Method, e.Path, e.StatusCode, e.Reason)
}

// Client owns one TCP session with the Location service. It is driven by a
// single goroutine; only GetStatistics may be called concurrently.
type Client struct {
	config  Config
	conn    net.Conn
	logger  *slog.Logger
	buffer  []byte
	pending []*Notification
	closed  bool

	// Statistics
	requests      uint64
	failures      uint64
	notifications uint64
	mu            sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	Requests      uint64 `json:"requests"`
	Failures      uint64 `json:"failures"`
	Notifications uint64 `json:"notifications"`
}

// Dial connects to the Location service.
func Dial(ctx context.Context, config Config, logger *slog.Logger) (*Client, error) {
	if config.Address == "" {
		return nil, errors.New("location service address cannot be empty")
	}

	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 5 * time.Minute
	}

	if config.BasePath == "" {
		config.BasePath = "/example/location/v2"
	}

	dialer := net.Dialer{Timeout: config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", config.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to location service %s", config.Address)
	}

	logger.Info("Connected to location service",
		slog.String("address", config.Address),
		slog.String("local", conn.LocalAddr().String()))

	return &Client{
		config: config,
		conn:   conn,
		logger: logger,
		buffer: make([]byte, readBufferSize),
	}, nil
}

// Subscribe creates a circle subscription and returns its id.
func (c *Client) Subscribe(ctx context.Context, sub Subscription) (SubscriptionID, error) {
	body, err := EncodeSubscription(sub)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode subscription")
	}

	msg, err := c.roundTrip(ctx, http.MethodPost, c.circlePath(""), body)
	if err != nil {
		return "", errors.Wrap(err, "subscription request failed")
	}

	id, err := subscriptionIDFrom(msg.Body, msg.Header.Get("Location"))
	if err != nil {
		return "", err
	}

	c.logger.Info("Circle subscription created",
		slog.String("subscription_id", string(id)),
		slog.String("criterion", string(sub.Criterion)),
		slog.String("circle", sub.Circle.String()))

	return id, nil
}

// Modify replaces an existing subscription, typically to flip its criterion.
func (c *Client) Modify(ctx context.Context, id SubscriptionID, sub Subscription) error {
	body, err := EncodeSubscription(sub)
	if err != nil {
		return errors.Wrap(err, "failed to encode subscription")
	}

	if _, err := c.roundTrip(ctx, http.MethodPut, c.circlePath(id), body); err != nil {
		return errors.Wrapf(err, "modification of subscription %s failed", id)
	}

	c.logger.Info("Circle subscription modified",
		slog.String("subscription_id", string(id)),
		slog.String("criterion", string(sub.Criterion)))

	return nil
}

// Delete removes a subscription. The service must answer 204.
func (c *Client) Delete(ctx context.Context, id SubscriptionID) error {
	msg, err := c.roundTrip(ctx, http.MethodDelete, c.circlePath(id), nil)
	if err != nil {
		return errors.Wrapf(err, "deletion of subscription %s failed", id)
	}

	if msg.StatusCode != http.StatusNoContent {
		return &StatusError{
			Method:     http.MethodDelete,
			Path:       c.circlePath(id),
			StatusCode: msg.StatusCode,
			Reason:     msg.Reason,
			Body:       msg.Body,
		}
	}

	c.logger.Info("Circle subscription deleted", slog.String("subscription_id", string(id)))
	return nil
}

// NextNotification blocks until the service pushes the next notification.
func (c *Client) NextNotification(ctx context.Context) (*Notification, error) {
	if len(c.pending) > 0 {
		n := c.pending[0]
		c.pending = c.pending[1:]
		return n, nil
	}

	msg, err := c.readMessage(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to receive notification")
	}

	if !msg.IsRequest {
		return nil, errors.Wrapf(ErrUnexpectedMessage, "got response %d while waiting for a notification", msg.StatusCode)
	}

	return c.acceptNotification(msg)
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.conn.Close(); err != nil {
		return errors.Wrap(err, "failed to close location service connection")
	}

	c.logger.Debug("Location service connection closed", slog.String("address", c.config.Address))
	return nil
}

// GetStatistics returns current client statistics
func (c *Client) GetStatistics() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ClientStats{
		Requests:      c.requests,
		Failures:      c.failures,
		Notifications: c.notifications,
	}
}

func (c *Client) circlePath(id SubscriptionID) string {
	return path.Join(c.config.BasePath, circleResourcePath, string(id))
}

// roundTrip sends one request and waits for its final response. Notifications
// that arrive first are queued for NextNotification.
func (c *Client) roundTrip(ctx context.Context, method, target string, body []byte) (*httpstream.Message, error) {
	if c.closed {
		return nil, ErrClientClosed
	}

	c.incrementRequests()

	if err := c.writeRequest(ctx, method, target, body); err != nil {
		c.incrementFailures()
		return nil, err
	}

	for {
		msg, err := c.readMessage(ctx)
		if err != nil {
			c.incrementFailures()
			return nil, err
		}

		if msg.IsRequest {
			n, err := c.acceptNotification(msg)
			if err != nil {
				c.incrementFailures()
				return nil, err
			}
			c.logger.Debug("Notification arrived before response, queued", slog.String("notification", n.String()))
			c.pending = append(c.pending, n)
			continue
		}

		// Interim responses precede the final one
		if msg.StatusCode < 200 {
			continue
		}

		if msg.StatusCode >= 300 {
			c.incrementFailures()
			return nil, &StatusError{
				Method:     method,
				Path:       target,
				StatusCode: msg.StatusCode,
				Reason:     msg.Reason,
				Body:       msg.Body,
			}
		}

		c.logger.Debug("Location service response",
			slog.String("method", method),
			slog.String("path", target),
			slog.Int("status", msg.StatusCode))

		return msg, nil
	}
}

func (c *Client) writeRequest(ctx context.Context, method, target string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://"+c.config.Address+target, reader)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}

	if err := req.Write(c.conn); err != nil {
		return errors.Wrapf(err, "failed to send %s %s", method, target)
	}

	return nil
}

// readMessage feeds socket reads into a fresh parser until one message is
// complete. Every chunk must be consumed in full.
func (c *Client) readMessage(ctx context.Context) (*httpstream.Message, error) {
	if c.closed {
		return nil, ErrClientClosed
	}

	parser := httpstream.NewParser()
	for {
		n, err := transport.ReadStream(ctx, c.conn, c.buffer, c.config.ReadTimeout)
		if err != nil {
			return nil, err
		}

		res, err := parser.Feed(c.buffer[:n])
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse location service message")
		}

		if !res.ConsumedAll(n) {
			return nil, errors.Wrapf(httpstream.ErrProtocolDesync, "%d of %d received bytes left unconsumed", n-res.Consumed, n)
		}

		if res.Complete {
			return parser.Message(), nil
		}
	}
}

func (c *Client) acceptNotification(msg *httpstream.Message) (*Notification, error) {
	n, err := DecodeNotification(msg.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "bad notification %s %s", msg.Method, msg.URI)
	}

	if c.config.AckNotifications {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return nil, errors.Wrap(err, "failed to set write deadline")
		}
		if _, err := io.WriteString(c.conn, noContentResponse); err != nil {
			return nil, errors.Wrap(err, "failed to acknowledge notification")
		}
	}

	c.mu.Lock()
	c.notifications++
	c.mu.Unlock()

	c.logger.Info("Location notification received",
		slog.String("criterion", string(n.Criterion)),
		slog.String("position", n.Position.String()))

	return n, nil
}

// Statistics methods
func (c *Client) incrementRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
}

func (c *Client) incrementFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
}
