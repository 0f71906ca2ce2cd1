package ue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/skypro1111/mec-geofence-alert/internal/deviceapp"
	"github.com/skypro1111/mec-geofence-alert/internal/transport"
	"github.com/skypro1111/mec-geofence-alert/internal/wire"
)

// ErrAlertTimeout is returned when monitoring saw no MEC traffic for the
// configured alert timeout.
var ErrAlertTimeout = errors.New("no alert received in time")

// Registry is the Device App registry as seen from the UE socket. Its
// address tells registry datagrams apart from MEC datagrams.
type Registry interface {
	deviceapp.Registry
	Address() netip.AddrPort
}

// Config contains UE client configuration
type Config struct {
	AppName string
	Circle  wire.Circle
	Layout  wire.AlertLayout

	// AlertTimeout bounds the silence of the MEC app while monitoring.
	// Zero waits until the context ends.
	AlertTimeout time.Duration

	// ReportInterval and Trajectory drive position reports for the direct
	// alert variant. Reports are off when either is unset.
	ReportInterval time.Duration
	Trajectory     []wire.Point
}

// Client runs the UE state machine.
type Client struct {
	config   Config
	endpoint *transport.Endpoint
	registry Registry
	logger   *slog.Logger

	mec          netip.AddrPort
	startPayload []byte
	nextReport   int

	state   State
	history []State
	alerts  []wire.Alert

	// Statistics
	resends      uint64
	unrecognized uint64
	dropped      uint64
	reports      uint64
	mu           sync.RWMutex
}

// ClientStats represents UE statistics
type ClientStats struct {
	State        string `json:"state"`
	Alerts       int    `json:"alerts"`
	Resends      uint64 `json:"resends"`
	Unrecognized uint64 `json:"unrecognized"`
	Dropped      uint64 `json:"dropped"`
	Reports      uint64 `json:"reports"`
}

// NewClient creates a UE client. It takes ownership of endpoint.
func NewClient(config Config, endpoint *transport.Endpoint, registry Registry, logger *slog.Logger) (*Client, error) {
	if config.AppName == "" {
		return nil, fmt.Errorf("app name cannot be empty")
	}
	if len(config.AppName) > wire.MaxPayloadSize {
		return nil, fmt.Errorf("app name exceeds %d bytes", wire.MaxPayloadSize)
	}
	if err := config.Circle.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circle: %w", err)
	}

	return &Client{
		config:       config,
		endpoint:     endpoint,
		registry:     registry,
		logger:       logger,
		startPayload: []byte(config.Circle.String()),
		state:        StateInit,
		history:      []State{StateInit},
	}, nil
}

// Run drives the client to TERMINATED and closes the endpoint. The returned
// state is the last one reached before termination.
func (c *Client) Run(ctx context.Context) (State, error) {
	last, err := c.run(ctx)

	c.setState(StateTerminated)
	if closeErr := c.endpoint.Close(); closeErr != nil {
		c.logger.Warn("Failed to close UE endpoint", slog.String("error", closeErr.Error()))
	}

	if err != nil {
		c.logger.Error("UE client terminated with error",
			slog.String("last_state", last.String()),
			slog.String("error", err.Error()))
	} else {
		c.logger.Info("UE client terminated", slog.String("last_state", last.String()))
	}

	return last, err
}

func (c *Client) run(ctx context.Context) (State, error) {
	endpoint, err := c.registry.Register(ctx, c.config.AppName)
	if err != nil {
		return StateInit, err
	}

	mec, err := transport.ResolveAddrPort(endpoint)
	if err != nil {
		return StateInit, err
	}
	c.mec = mec
	c.setState(StateRegistered)

	if err := c.sendStart(); err != nil {
		return StateRegistered, err
	}
	c.setState(StateMonitoring)

	return c.monitor(ctx)
}

// monitor is the MONITORING/ENTERED loop.
func (c *Client) monitor(ctx context.Context) (State, error) {
	var deadline time.Time
	resetDeadline := func() {
		if c.config.AlertTimeout > 0 {
			deadline = time.Now().Add(c.config.AlertTimeout)
		}
	}
	resetDeadline()

	reporting := c.config.ReportInterval > 0 && len(c.config.Trajectory) > 0

	for {
		var wait time.Duration
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				return c.State(), ErrAlertTimeout
			}
		}
		if reporting && (wait == 0 || c.config.ReportInterval < wait) {
			wait = c.config.ReportInterval
		}

		dg, err := c.endpoint.Receive(ctx, wait)
		if errors.Is(err, transport.ErrTimeout) {
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				return c.State(), ErrAlertTimeout
			}
			if reporting {
				if err := c.sendReport(); err != nil {
					return c.State(), err
				}
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				c.sendStop()
			}
			return c.State(), err
		}

		switch dg.From {
		case c.mec:
			resetDeadline()
			done, err := c.handleMEC(ctx, dg)
			if err != nil || done {
				return c.State(), err
			}

		case c.registry.Address():
			if _, err := wire.Decode(dg.Data); err != nil {
				c.drop(dg, err)
				continue
			}
			c.logger.Info("Deregistration confirmed by registry, terminating")
			return c.State(), nil

		default:
			c.drop(dg, fmt.Errorf("unexpected sender"))
		}
	}
}

// handleMEC applies one MEC datagram and reports whether the loop is done.
func (c *Client) handleMEC(ctx context.Context, dg *transport.Datagram) (bool, error) {
	msg, err := wire.Decode(dg.Data)
	if err != nil {
		c.drop(dg, err)
		return false, nil
	}

	switch msg.Code {
	case wire.CodeAlert:
		a, err := wire.DecodeAlert(c.config.Layout, dg.Data)
		if err != nil {
			c.drop(dg, err)
			return false, nil
		}

		c.mu.Lock()
		c.alerts = append(c.alerts, a)
		c.mu.Unlock()

		if a.Entered {
			c.logger.Info("Entered the monitored circle", slog.String("position", a.Position.String()))
			c.setState(StateEntered)
			return false, nil
		}

		c.logger.Info("Left the monitored circle", slog.String("position", a.Position.String()))
		c.setState(StateLeft)

		if err := c.registry.Deregister(ctx, c.config.AppName); err != nil {
			return true, fmt.Errorf("deregistration failed: %w", err)
		}
		return true, nil

	case wire.CodeStartAck:
		c.logger.Info("MEC app started monitoring", slog.String("mec", c.mec.String()))

	case wire.CodeResendStart:
		c.mu.Lock()
		c.resends++
		c.mu.Unlock()

		c.logger.Info("MEC app asked to resend start")
		if err := c.sendStart(); err != nil {
			return true, err
		}

	default:
		c.mu.Lock()
		c.unrecognized++
		c.mu.Unlock()

		c.logger.Warn("Unrecognized message code from MEC app",
			slog.Int("code", int(msg.Code)),
			slog.String("state", c.State().String()))
	}

	return false, nil
}

func (c *Client) sendStart() error {
	if err := c.endpoint.SendMessage(c.mec, wire.CodeStart, c.startPayload); err != nil {
		return fmt.Errorf("failed to send start: %w", err)
	}

	c.logger.Info("Start monitoring request sent",
		slog.String("mec", c.mec.String()),
		slog.String("circle", string(c.startPayload)))
	return nil
}

func (c *Client) sendReport() error {
	p := c.config.Trajectory[c.nextReport%len(c.config.Trajectory)]
	c.nextReport++

	if err := c.endpoint.SendMessage(c.mec, wire.CodePositionReport, []byte(p.String())); err != nil {
		return fmt.Errorf("failed to send position report: %w", err)
	}

	c.mu.Lock()
	c.reports++
	c.mu.Unlock()

	c.logger.Debug("Position report sent", slog.String("position", p.String()))
	return nil
}

// sendStop tells the MEC app that monitoring ends early.
func (c *Client) sendStop() {
	if err := c.endpoint.SendMessage(c.mec, wire.CodeStop, nil); err != nil {
		c.logger.Debug("Failed to send stop", slog.String("error", err.Error()))
	}
}

func (c *Client) drop(dg *transport.Datagram, reason error) {
	c.mu.Lock()
	c.dropped++
	c.mu.Unlock()

	c.logger.Warn("Dropping datagram",
		slog.String("from", dg.From.String()),
		slog.String("reason", reason.Error()))
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == s {
		return
	}
	c.logger.Debug("UE state transition",
		slog.String("from", c.state.String()),
		slog.String("to", s.String()))
	c.state = s
	c.history = append(c.history, s)
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// History returns every state entered so far, in order.
func (c *Client) History() []State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]State(nil), c.history...)
}

// Alerts returns the alerts received so far.
func (c *Client) Alerts() []wire.Alert {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]wire.Alert(nil), c.alerts...)
}

// GetStatistics returns current client statistics
func (c *Client) GetStatistics() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ClientStats{
		State:        c.state.String(),
		Alerts:       len(c.alerts),
		Resends:      c.resends,
		Unrecognized: c.unrecognized,
		Dropped:      c.dropped,
		Reports:      c.reports,
	}
}
