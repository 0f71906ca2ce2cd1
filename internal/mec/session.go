package mec

import (
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/mec-geofence-alert/internal/wire"
)

// Session is one UE monitoring session.
type Session struct {
	ID        string
	UE        netip.AddrPort
	Circle    wire.Circle
	StartTime time.Time

	state   State
	history []State
	alerts  []wire.Alert
	endTime time.Time
	outcome Outcome
	err     error

	mu sync.RWMutex
}

// SessionInfo is a session snapshot for monitoring and APIs
type SessionInfo struct {
	ID        string        `json:"id"`
	UE        string        `json:"ue"`
	Circle    string        `json:"circle"`
	State     string        `json:"state"`
	History   []string      `json:"history"`
	Alerts    []string      `json:"alerts"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time,omitempty"`
	Duration  time.Duration `json:"duration"`
	Outcome   Outcome       `json:"outcome,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func newSession(ue netip.AddrPort, circle wire.Circle) *Session {
	return &Session{
		ID:        uuid.NewString(),
		UE:        ue,
		Circle:    circle,
		StartTime: time.Now(),
		state:     StateListening,
		history:   []State{StateListening},
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == state {
		return
	}
	s.state = state
	s.history = append(s.history, state)
}

func (s *Session) recordAlert(a wire.Alert) {
	s.mu.Lock()
	s.alerts = append(s.alerts, a)
	s.mu.Unlock()
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// GetSessionInfo returns a snapshot of the session
func (s *Session) GetSessionInfo() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := SessionInfo{
		ID:        s.ID,
		UE:        s.UE.String(),
		Circle:    s.Circle.String(),
		State:     s.state.String(),
		History:   make([]string, 0, len(s.history)),
		Alerts:    make([]string, 0, len(s.alerts)),
		StartTime: s.StartTime,
		EndTime:   s.endTime,
		Outcome:   s.outcome,
	}
	for _, st := range s.history {
		info.History = append(info.History, st.String())
	}
	for _, a := range s.alerts {
		info.Alerts = append(info.Alerts, a.String())
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	if s.endTime.IsZero() {
		info.Duration = time.Since(s.StartTime)
	} else {
		info.Duration = s.endTime.Sub(s.StartTime)
	}
	return info
}

// tracker keeps the current session and a bounded history of finished ones.
type tracker struct {
	logger   *slog.Logger
	capacity int

	current  *Session
	finished []*Session
	counts   map[Outcome]uint64
	mu       sync.RWMutex
}

func newTracker(capacity int, logger *slog.Logger) *tracker {
	if capacity <= 0 {
		capacity = defaultHistorySize
	}
	return &tracker{
		logger:   logger,
		capacity: capacity,
		counts:   make(map[Outcome]uint64),
	}
}

func (t *tracker) begin(ue netip.AddrPort, circle wire.Circle) *Session {
	sess := newSession(ue, circle)

	t.mu.Lock()
	t.current = sess
	t.mu.Unlock()

	t.logger.Info("Monitoring session started",
		slog.String("session_id", sess.ID),
		slog.String("ue", ue.String()),
		slog.String("circle", circle.String()))
	return sess
}

func (t *tracker) finish(sess *Session, outcome Outcome, err error) {
	sess.mu.Lock()
	sess.endTime = time.Now()
	sess.outcome = outcome
	sess.err = err
	duration := sess.endTime.Sub(sess.StartTime)
	alerts := len(sess.alerts)
	last := sess.state
	sess.mu.Unlock()

	t.mu.Lock()
	if t.current == sess {
		t.current = nil
	}
	t.finished = append(t.finished, sess)
	if len(t.finished) > t.capacity {
		t.finished = t.finished[len(t.finished)-t.capacity:]
	}
	t.counts[outcome]++
	t.mu.Unlock()

	attrs := []any{
		slog.String("session_id", sess.ID),
		slog.String("outcome", string(outcome)),
		slog.String("last_state", last.String()),
		slog.Int("alerts", alerts),
		slog.Duration("duration", duration),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		t.logger.Warn("Monitoring session ended", attrs...)
		return
	}
	t.logger.Info("Monitoring session ended", attrs...)
}

func (t *tracker) currentSession() (SessionInfo, bool) {
	t.mu.RLock()
	sess := t.current
	t.mu.RUnlock()

	if sess == nil {
		return SessionInfo{}, false
	}
	return sess.GetSessionInfo(), true
}

// recent returns finished sessions, newest first.
func (t *tracker) recent() []SessionInfo {
	t.mu.RLock()
	sessions := append([]*Session(nil), t.finished...)
	t.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for i := len(sessions) - 1; i >= 0; i-- {
		infos = append(infos, sessions[i].GetSessionInfo())
	}
	return infos
}

func (t *tracker) count(outcome Outcome) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts[outcome]
}
