package deviceapp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"gopkg.in/tomb.v2"

	"github.com/skypro1111/mec-geofence-alert/internal/transport"
	"github.com/skypro1111/mec-geofence-alert/internal/wire"
)

// ServerConfig contains static registry configuration
type ServerConfig struct {
	BindAddress string
	Port        int

	// Apps maps application names to "host:port" of their MEC instance.
	Apps map[string]string
}

// Server answers register and deregister requests from a static table.
type Server struct {
	config   ServerConfig
	endpoint *transport.Endpoint
	logger   *slog.Logger
	t        *tomb.Tomb

	// Statistics
	registrations   uint64
	refusals        uint64
	deregistrations uint64
	unrecognized    uint64
	mu              sync.RWMutex
}

// ServerStats represents registry statistics
type ServerStats struct {
	Registrations   uint64 `json:"registrations"`
	Refusals        uint64 `json:"refusals"`
	Deregistrations uint64 `json:"deregistrations"`
	Unrecognized    uint64 `json:"unrecognized"`
}

// NewServer validates the table and binds the registry socket.
func NewServer(config ServerConfig, logger *slog.Logger) (*Server, error) {
	for app, endpoint := range config.Apps {
		if app == "" {
			return nil, fmt.Errorf("app name cannot be empty")
		}
		if len(app) > wire.MaxPayloadSize {
			return nil, fmt.Errorf("app name %q exceeds %d bytes", app, wire.MaxPayloadSize)
		}
		if _, err := wire.ParseEndpoint([]byte(endpoint)); err != nil || endpoint == "" {
			return nil, fmt.Errorf("invalid endpoint %q for app %q", endpoint, app)
		}
	}

	endpoint, err := transport.Listen(config.BindAddress, config.Port, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start device app registry: %w", err)
	}

	return &Server{
		config:   config,
		endpoint: endpoint,
		logger:   logger.With(slog.String("component", "device-app-registry")),
	}, nil
}

// Addr returns the bound registry address.
func (s *Server) Addr() netip.AddrPort {
	return s.endpoint.LocalAddr()
}

// Start begins serving in the background.
func (s *Server) Start() {
	if s.t != nil {
		return
	}

	s.t = &tomb.Tomb{}
	s.t.Go(s.serve)

	s.logger.Info("Device app registry started",
		slog.String("address", s.Addr().String()),
		slog.Int("apps", len(s.config.Apps)))
}

// Stop shuts the registry down and closes its socket.
func (s *Server) Stop() error {
	if s.t == nil {
		return s.endpoint.Close()
	}

	s.logger.Info("Stopping device app registry")

	s.t.Kill(nil)
	err := s.t.Wait()
	s.t = nil

	if closeErr := s.endpoint.Close(); err == nil {
		err = closeErr
	}
	return err
}

// GetStatistics returns current registry statistics
func (s *Server) GetStatistics() ServerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStats{
		Registrations:   s.registrations,
		Refusals:        s.refusals,
		Deregistrations: s.deregistrations,
		Unrecognized:    s.unrecognized,
	}
}

func (s *Server) serve() error {
	ctx := s.t.Context(nil)

	for {
		dg, err := s.endpoint.Receive(ctx, 0)
		if err != nil {
			select {
			case <-s.t.Dying():
				return nil
			default:
			}
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			s.logger.Error("Registry receive failed", slog.String("error", err.Error()))
			continue
		}

		s.handleDatagram(dg)
	}
}

func (s *Server) handleDatagram(dg *transport.Datagram) {
	msg, err := wire.Decode(dg.Data)
	if err != nil {
		s.logger.Warn("Dropping malformed datagram",
			slog.String("from", dg.From.String()),
			slog.String("error", err.Error()))
		return
	}

	app := string(msg.Payload)

	switch msg.Code {
	case wire.CodeRegister:
		endpoint, ok := s.config.Apps[app]

		s.mu.Lock()
		if ok {
			s.registrations++
		} else {
			s.refusals++
		}
		s.mu.Unlock()

		if !ok {
			s.logger.Warn("Unknown application, refusing registration",
				slog.String("app", app),
				slog.String("from", dg.From.String()))
		} else {
			s.logger.Info("Application registered",
				slog.String("app", app),
				slog.String("from", dg.From.String()),
				slog.String("endpoint", endpoint))
		}

		if err := s.endpoint.SendMessage(dg.From, wire.CodeRegister, []byte(endpoint)); err != nil {
			s.logger.Error("Failed to send register reply", slog.String("error", err.Error()))
		}

	case wire.CodeDeregister:
		s.mu.Lock()
		s.deregistrations++
		s.mu.Unlock()

		s.logger.Info("Application deregistered",
			slog.String("app", app),
			slog.String("from", dg.From.String()))

		if err := s.endpoint.SendMessage(dg.From, wire.CodeDeregister, nil); err != nil {
			s.logger.Error("Failed to send deregister confirmation", slog.String("error", err.Error()))
		}

	default:
		s.mu.Lock()
		s.unrecognized++
		s.mu.Unlock()

		s.logger.Warn("Unrecognized message code",
			slog.Int("code", int(msg.Code)),
			slog.String("from", dg.From.String()))
	}
}
