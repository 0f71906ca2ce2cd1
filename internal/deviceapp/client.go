package deviceapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/skypro1111/mec-geofence-alert/internal/transport"
	"github.com/skypro1111/mec-geofence-alert/internal/wire"
)

// ErrRegistrationRefused is returned when the registry has no instance of
// the requested application.
var ErrRegistrationRefused = errors.New("registration refused by device app registry")

// Registry resolves MEC application instances.
type Registry interface {
	// Register returns the "host:port" of an instance of app.
	Register(ctx context.Context, app string) (string, error)

	// Deregister releases the instance and waits for the confirmation.
	Deregister(ctx context.Context, app string) error
}

// Client is a Registry reached over UDP. It shares the caller's endpoint and
// must not be used while another loop receives on it.
type Client struct {
	endpoint *transport.Endpoint
	registry netip.AddrPort
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClient creates a registry client. timeout bounds each reply wait.
func NewClient(endpoint *transport.Endpoint, registry netip.AddrPort, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		registry: registry,
		timeout:  timeout,
		logger:   logger,
	}
}

// Address returns the registry address.
func (c *Client) Address() netip.AddrPort {
	return c.registry
}

// Register sends a code 0 request and waits for the endpoint reply.
func (c *Client) Register(ctx context.Context, app string) (string, error) {
	if err := c.endpoint.SendMessage(c.registry, wire.CodeRegister, []byte(app)); err != nil {
		return "", fmt.Errorf("failed to send register request: %w", err)
	}

	c.logger.Info("Register request sent",
		slog.String("app", app),
		slog.String("registry", c.registry.String()))

	msg, err := c.awaitReply(ctx, wire.CodeRegister)
	if err != nil {
		return "", fmt.Errorf("failed to receive register reply: %w", err)
	}

	endpoint, err := wire.ParseEndpoint(msg.Payload)
	if err != nil {
		return "", fmt.Errorf("invalid register reply: %w", err)
	}
	if endpoint == "" {
		return "", fmt.Errorf("%w: app %q", ErrRegistrationRefused, app)
	}

	c.logger.Info("Application registered",
		slog.String("app", app),
		slog.String("endpoint", endpoint))

	return endpoint, nil
}

// Deregister sends a code 1 request and waits for the code 1 confirmation.
func (c *Client) Deregister(ctx context.Context, app string) error {
	if err := c.endpoint.SendMessage(c.registry, wire.CodeDeregister, []byte(app)); err != nil {
		return fmt.Errorf("failed to send deregister request: %w", err)
	}

	c.logger.Info("Deregister request sent", slog.String("app", app))

	if _, err := c.awaitReply(ctx, wire.CodeDeregister); err != nil {
		return fmt.Errorf("failed to receive deregister confirmation: %w", err)
	}

	c.logger.Info("Application deregistered", slog.String("app", app))
	return nil
}

// awaitReply waits for a datagram with the given code from the registry.
// Everything else is logged and dropped.
func (c *Client) awaitReply(ctx context.Context, code uint8) (*wire.Message, error) {
	deadline := time.Now().Add(c.timeout)

	for {
		remaining := time.Until(deadline)
		if c.timeout > 0 && remaining <= 0 {
			return nil, transport.ErrTimeout
		}
		if c.timeout <= 0 {
			remaining = 0
		}

		dg, err := c.endpoint.Receive(ctx, remaining)
		if err != nil {
			return nil, err
		}

		if dg.From != c.registry {
			c.logger.Warn("Dropping datagram from unexpected sender while awaiting registry",
				slog.String("from", dg.From.String()))
			continue
		}

		msg, err := wire.Decode(dg.Data)
		if err != nil {
			c.logger.Warn("Dropping malformed registry datagram", slog.String("error", err.Error()))
			continue
		}

		if msg.Code != code {
			c.logger.Warn("Unexpected registry reply code",
				slog.Int("code", int(msg.Code)),
				slog.Int("expected", int(code)))
			continue
		}

		return msg, nil
	}
}
