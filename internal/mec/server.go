package mec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/tomb.v2"

	"github.com/skypro1111/mec-geofence-alert/internal/alert"
	"github.com/skypro1111/mec-geofence-alert/internal/location"
	"github.com/skypro1111/mec-geofence-alert/internal/metrics"
	"github.com/skypro1111/mec-geofence-alert/internal/transport"
	"github.com/skypro1111/mec-geofence-alert/internal/wire"
)

const defaultHistorySize = 100

// Config contains MEC app configuration
type Config struct {
	BindAddress string
	Port        int

	// Source selects how alerts are produced.
	Source       alert.Kind
	Subscription alert.SubscriptionConfig
	Direct       alert.DirectConfig

	// UEAddress is the terminal address put in subscriptions. Empty uses
	// the IP the start datagram came from.
	UEAddress string

	// ReceiveTimeout bounds each wait while listening. Zero waits until
	// the context ends.
	ReceiveTimeout time.Duration

	// SessionTimeout bounds one session. Zero leaves it unbounded.
	SessionTimeout time.Duration

	// HistorySize is how many finished sessions are kept for monitoring.
	HistorySize int
}

// Server is the MEC app: it listens for start requests and runs one
// monitoring session at a time.
type Server struct {
	config   Config
	endpoint *transport.Endpoint
	metrics  *metrics.Metrics
	logger   *slog.Logger
	sessions *tracker
	t        *tomb.Tomb

	// Statistics
	datagrams    uint64
	dropped      uint64
	resends      uint64
	stopsIgnored uint64
	unrecognized uint64
	mu           sync.RWMutex
}

// ServerStats represents MEC app statistics
type ServerStats struct {
	Datagrams         uint64 `json:"datagrams"`
	Dropped           uint64 `json:"dropped"`
	ResendRequests    uint64 `json:"resend_requests"`
	StopsIgnored      uint64 `json:"stops_ignored"`
	Unrecognized      uint64 `json:"unrecognized"`
	SessionsCompleted uint64 `json:"sessions_completed"`
	SessionsAborted   uint64 `json:"sessions_aborted"`
	SessionsStopped   uint64 `json:"sessions_stopped"`
	SessionsCancelled uint64 `json:"sessions_cancelled"`
	Active            bool   `json:"active"`
	AlertSource       string `json:"alert_source"`
}

// NewServer validates the configuration and binds the MEC socket. m may be
// nil.
func NewServer(config Config, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	if config.Source == "" {
		config.Source = alert.KindSubscription
	}
	if !config.Source.Valid() {
		return nil, fmt.Errorf("unknown alert source %q", config.Source)
	}

	endpoint, err := transport.Listen(config.BindAddress, config.Port, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start MEC app: %w", err)
	}

	logger = logger.With(slog.String("component", "mec-app"))

	return &Server{
		config:   config,
		endpoint: endpoint,
		metrics:  m,
		logger:   logger,
		sessions: newTracker(config.HistorySize, logger),
	}, nil
}

// Addr returns the bound MEC address.
func (s *Server) Addr() netip.AddrPort {
	return s.endpoint.LocalAddr()
}

// Start runs Serve in the background.
func (s *Server) Start() {
	if s.t != nil {
		return
	}

	s.t = &tomb.Tomb{}
	s.t.Go(func() error {
		return s.Serve(s.t.Context(nil))
	})

	s.logger.Info("MEC app started",
		slog.String("address", s.Addr().String()),
		slog.String("alert_source", string(s.config.Source)))
}

// Stop cancels the running session, stops serving and closes the socket.
func (s *Server) Stop() error {
	if s.t == nil {
		return s.endpoint.Close()
	}

	s.logger.Info("Stopping MEC app...")

	s.t.Kill(nil)
	err := s.t.Wait()
	s.t = nil

	if closeErr := s.endpoint.Close(); err == nil {
		err = closeErr
	}

	stats := s.GetStatistics()
	s.logger.Info("MEC app stopped",
		slog.Uint64("datagrams", stats.Datagrams),
		slog.Uint64("sessions_completed", stats.SessionsCompleted),
		slog.Uint64("sessions_aborted", stats.SessionsAborted),
	)
	return err
}

// Serve listens for start requests until ctx ends. Sessions run inline, so
// a second UE waits until the current session is over.
func (s *Server) Serve(ctx context.Context) error {
	for {
		dg, err := s.endpoint.Receive(ctx, s.config.ReceiveTimeout)
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return fmt.Errorf("MEC receive failed: %w", err)
		}

		s.handleListening(ctx, dg)
	}
}

// handleListening handles one datagram received in LISTENING.
func (s *Server) handleListening(ctx context.Context, dg *transport.Datagram) {
	s.mu.Lock()
	s.datagrams++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordDatagramReceived()
	}

	msg, err := wire.Decode(dg.Data)
	if err != nil {
		s.drop(dg, "malformed", err)
		return
	}

	switch msg.Code {
	case wire.CodeStart:
		circle, err := wire.ParseCircle(msg.Payload)
		if err != nil {
			s.logger.Warn("Invalid start request",
				slog.String("from", dg.From.String()),
				slog.String("payload", string(msg.Payload)),
				slog.String("error", err.Error()))
			s.requestResend(dg.From)
			return
		}
		s.runSession(ctx, dg.From, circle)

	case wire.CodeStop:
		s.mu.Lock()
		s.stopsIgnored++
		s.mu.Unlock()

		s.logger.Info("Stop request while no session is running",
			slog.String("from", dg.From.String()))

	case wire.CodePositionReport:
		s.drop(dg, "no_session", fmt.Errorf("position report outside a session"))

	default:
		s.mu.Lock()
		s.unrecognized++
		s.mu.Unlock()

		s.logger.Warn("Unrecognized message code",
			slog.String("from", dg.From.String()),
			slog.Int("code", int(msg.Code)))
	}
}

func (s *Server) runSession(ctx context.Context, ue netip.AddrPort, circle wire.Circle) {
	sess := s.sessions.begin(ue, circle)
	if s.metrics != nil {
		s.metrics.RecordSessionStarted()
	}

	if s.config.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.SessionTimeout)
		defer cancel()
	}

	err := s.monitor(ctx, sess)

	outcome := OutcomeCompleted
	switch {
	case err == nil:
	case errors.Is(err, alert.ErrStopped):
		outcome = OutcomeStopped
		err = nil
	case errors.Is(err, context.Canceled):
		outcome = OutcomeCancelled
	default:
		outcome = OutcomeAborted
	}

	s.sessions.finish(sess, outcome, err)
	if s.metrics != nil {
		s.metrics.RecordSessionFinished(string(outcome), time.Since(sess.StartTime).Seconds())
	}
}

// monitor runs the enter and leave cycle of one session. The source is
// closed on every path.
func (s *Server) monitor(ctx context.Context, sess *Session) error {
	logger := s.logger.With(slog.String("session_id", sess.ID))

	// The UE is told monitoring started before the subscription exists
	if err := s.endpoint.SendMessage(sess.UE, wire.CodeStartAck, nil); err != nil {
		return fmt.Errorf("failed to acknowledge start: %w", err)
	}

	source := s.newSource(sess, logger)
	defer func() {
		if err := source.Close(); err != nil {
			logger.Warn("Failed to close alert source", slog.String("error", err.Error()))
		}
	}()

	sess.setState(StateSubscribing)
	if err := s.watch(ctx, source, location.Entering); err != nil {
		s.requestResend(sess.UE)
		return err
	}
	sess.setState(StateSubscribed)

	armedAt := time.Now()
	if err := s.forward(ctx, sess, source, armedAt); err != nil {
		return err
	}
	sess.setState(StateNotified)

	sess.setState(StateResubscribing)
	armedAt = time.Now()
	if err := s.watch(ctx, source, location.Leaving); err != nil {
		return err
	}

	if err := s.forward(ctx, sess, source, armedAt); err != nil {
		return err
	}
	sess.setState(StateNotifiedLeaving)
	sess.setState(StateDone)

	return nil
}

func (s *Server) newSource(sess *Session, logger *slog.Logger) alert.Source {
	if s.config.Source == alert.KindDirect {
		return alert.NewDirectSource(s.config.Direct, s.endpoint, sess.UE, sess.Circle, logger)
	}

	cfg := s.config.Subscription
	if cfg.Template.ClientCorrelator == "" {
		cfg.Template.ClientCorrelator = sess.ID
	}
	if cfg.Template.CallbackData == "" {
		cfg.Template.CallbackData = uuid.NewString()
	}

	address := s.config.UEAddress
	if address == "" {
		address = sess.UE.Addr().String()
	}
	return alert.NewSubscriptionSource(cfg, sess.Circle, address, logger)
}

func (s *Server) watch(ctx context.Context, source alert.Source, criterion location.Criterion) error {
	err := source.Watch(ctx, criterion)
	if s.metrics != nil {
		s.metrics.RecordSubscription(string(criterion), err != nil)
	}
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", criterion, err)
	}
	return nil
}

// forward waits for the next alert and sends it to the UE.
func (s *Server) forward(ctx context.Context, sess *Session, source alert.Source, armedAt time.Time) error {
	a, err := source.Next(ctx)
	if err != nil {
		if errors.Is(err, transport.ErrPeerClosed) {
			return fmt.Errorf("location service closed the connection: %w", err)
		}
		return err
	}

	data, err := wire.EncodeAlert(source.Layout(), a)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	if err := s.endpoint.Send(sess.UE, data); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}

	sess.recordAlert(a)
	if s.metrics != nil {
		s.metrics.RecordAlertSent(a.Entered, time.Since(armedAt).Seconds())
	}

	s.logger.Info("Alert sent",
		slog.String("session_id", sess.ID),
		slog.String("ue", sess.UE.String()),
		slog.Bool("entered", a.Entered),
		slog.String("position", a.Position.String()))
	return nil
}

// requestResend asks the UE to send its start request again.
func (s *Server) requestResend(ue netip.AddrPort) {
	if err := s.endpoint.SendMessage(ue, wire.CodeResendStart, nil); err != nil {
		s.logger.Warn("Failed to request start resend",
			slog.String("ue", ue.String()),
			slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	s.resends++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordResendRequest()
	}
}

func (s *Server) drop(dg *transport.Datagram, reason string, err error) {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordDatagramDropped(reason)
	}

	attrs := []any{
		slog.String("from", dg.From.String()),
		slog.String("reason", err.Error()),
	}
	if code, ok := wire.PeekCode(dg.Data); ok {
		attrs = append(attrs, slog.Int("code", int(code)))
	}
	s.logger.Warn("Dropping datagram", attrs...)
}

// CurrentSession returns the running session, if any.
func (s *Server) CurrentSession() (SessionInfo, bool) {
	return s.sessions.currentSession()
}

// RecentSessions returns finished sessions, newest first.
func (s *Server) RecentSessions() []SessionInfo {
	return s.sessions.recent()
}

// GetStatistics returns current server statistics
func (s *Server) GetStatistics() ServerStats {
	_, active := s.sessions.currentSession()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStats{
		Datagrams:         s.datagrams,
		Dropped:           s.dropped,
		ResendRequests:    s.resends,
		StopsIgnored:      s.stopsIgnored,
		Unrecognized:      s.unrecognized,
		SessionsCompleted: s.sessions.count(OutcomeCompleted),
		SessionsAborted:   s.sessions.count(OutcomeAborted),
		SessionsStopped:   s.sessions.count(OutcomeStopped),
		SessionsCancelled: s.sessions.count(OutcomeCancelled),
		Active:            active,
		AlertSource:       string(s.config.Source),
	}
}
