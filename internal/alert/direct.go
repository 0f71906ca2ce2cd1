package alert

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/skypro1111/mec-geofence-alert/internal/location"
	"github.com/skypro1111/mec-geofence-alert/internal/transport"
	"github.com/skypro1111/mec-geofence-alert/internal/wire"
)

// DirectConfig configures direct sources.
type DirectConfig struct {
	// ReportTimeout bounds the wait for the next position report.
	ReportTimeout time.Duration

	Layout wire.AlertLayout
}

// DirectSource evaluates UE position reports against the circle.
type DirectSource struct {
	config   DirectConfig
	endpoint *transport.Endpoint
	ue       netip.AddrPort
	circle   wire.Circle
	logger   *slog.Logger

	armed   location.Criterion
	reports uint64
}

// NewDirectSource creates a source reading reports from ue on endpoint. The
// endpoint stays owned by the caller.
func NewDirectSource(config DirectConfig, endpoint *transport.Endpoint, ue netip.AddrPort, circle wire.Circle, logger *slog.Logger) *DirectSource {
	return &DirectSource{
		config:   config,
		endpoint: endpoint,
		ue:       ue,
		circle:   circle,
		logger:   logger,
	}
}

// Watch arms the criterion.
func (s *DirectSource) Watch(_ context.Context, criterion location.Criterion) error {
	if !criterion.Valid() {
		return fmt.Errorf("invalid criterion %q", criterion)
	}
	s.armed = criterion
	return nil
}

// Next consumes position reports until one satisfies the armed criterion.
func (s *DirectSource) Next(ctx context.Context) (wire.Alert, error) {
	if s.armed == "" {
		return wire.Alert{}, fmt.Errorf("source is not watching")
	}

	for {
		dg, err := s.endpoint.Receive(ctx, s.config.ReportTimeout)
		if err != nil {
			return wire.Alert{}, err
		}

		if dg.From != s.ue {
			s.logger.Warn("Dropping datagram from unexpected sender",
				slog.String("from", dg.From.String()),
				slog.String("ue", s.ue.String()))
			continue
		}

		msg, err := wire.Decode(dg.Data)
		if err != nil {
			s.logger.Warn("Dropping malformed datagram",
				slog.String("from", dg.From.String()),
				slog.String("error", err.Error()))
			continue
		}

		switch msg.Code {
		case wire.CodePositionReport:
			pos, err := wire.ParsePoint(msg.Payload)
			if err != nil {
				s.logger.Warn("Dropping invalid position report", slog.String("error", err.Error()))
				continue
			}
			s.reports++

			inside := s.circle.Contains(pos)
			s.logger.Debug("Position report",
				slog.String("position", pos.String()),
				slog.Bool("inside", inside))

			if s.armed == location.Entering && inside {
				return wire.Alert{Entered: true, Position: pos}, nil
			}
			if s.armed == location.Leaving && !inside {
				return wire.Alert{Entered: false, Position: pos}, nil
			}

		case wire.CodeStop:
			return wire.Alert{}, ErrStopped

		case wire.CodeStart:
			// Retransmitted start, monitoring is already running
			s.logger.Debug("Ignoring repeated start", slog.String("from", dg.From.String()))

		default:
			s.logger.Warn("Unrecognized message code", slog.Int("code", int(msg.Code)))
		}
	}
}

// Layout returns the configured alert layout
func (s *DirectSource) Layout() wire.AlertLayout {
	return s.config.Layout
}

// Reports returns how many valid position reports were evaluated.
func (s *DirectSource) Reports() uint64 {
	return s.reports
}

// Close is a no-op, the endpoint belongs to the caller.
func (s *DirectSource) Close() error {
	return nil
}
