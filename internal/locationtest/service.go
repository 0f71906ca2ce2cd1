// Package locationtest provides an in-process Location service that speaks
// the circle subscription protocol over one TCP connection per client. Tests
// script which positions it reports for each criterion.
package locationtest

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/skypro1111/mec-geofence-alert/internal/httpstream"
	"github.com/skypro1111/mec-geofence-alert/internal/location"
	"github.com/skypro1111/mec-geofence-alert/internal/wire"
)

const (
	// DefaultBasePath matches the Location API root used by the MEC app.
	DefaultBasePath = "/example/location/v2"

	circleResource = "subscriptions/area/circle"
	pollInterval   = 200 * time.Millisecond
)

// Behavior scripts the service.
type Behavior struct {
	// BasePath of the Location API, DefaultBasePath when empty.
	BasePath string

	// Positions reported in the notification that follows a subscription
	// with the given criterion. No notification is pushed for a missing key.
	Positions map[location.Criterion]wire.Point

	// SubscribeStatus overrides the status of POST answers (default 201).
	SubscribeStatus int

	// CloseAfter closes the connection after answering this method.
	CloseAfter string

	// NotifyDelay separates a response from the notification that follows.
	NotifyDelay time.Duration

	// Chunked sends response bodies with chunked transfer encoding.
	Chunked bool

	// OmitResourceURL leaves resourceURL out of creation bodies so clients
	// must fall back to the Location header.
	OmitResourceURL bool
}

// Request is a recorded client request.
type Request struct {
	Method       string
	URI          string
	Subscription *location.Subscription
}

// Service is a scriptable Location service.
type Service struct {
	behavior Behavior
	listener net.Listener
	logger   *slog.Logger
	t        tomb.Tomb

	mu            sync.Mutex
	conns         map[net.Conn]struct{}
	requests      []Request
	subscriptions map[string]location.Subscription
	nextID        int
	acks          int
	connections   int
}

// Start listens on an ephemeral loopback port and serves until Stop.
func Start(behavior Behavior, logger *slog.Logger) (*Service, error) {
	if behavior.BasePath == "" {
		behavior.BasePath = DefaultBasePath
	}
	if behavior.SubscribeStatus == 0 {
		behavior.SubscribeStatus = http.StatusCreated
	}
	if behavior.NotifyDelay <= 0 {
		behavior.NotifyDelay = 50 * time.Millisecond
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	s := &Service{
		behavior:      behavior,
		listener:      listener,
		logger:        logger.With(slog.String("component", "location-test-service")),
		conns:         make(map[net.Conn]struct{}),
		subscriptions: make(map[string]location.Subscription),
	}

	s.t.Go(s.acceptLoop)
	return s, nil
}

// Addr returns the "host:port" the service listens on.
func (s *Service) Addr() string {
	return s.listener.Addr().String()
}

// Stop closes the listener and all connections and waits for the service.
func (s *Service) Stop() error {
	s.t.Kill(nil)
	s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	return s.t.Wait()
}

// Requests returns the requests received so far.
func (s *Service) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Acks returns how many notification acknowledgements were received.
func (s *Service) Acks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acks
}

// Connections returns how many connections were accepted.
func (s *Service) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// Subscriptions returns the number of live subscriptions.
func (s *Service) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscriptions)
}

func (s *Service) acceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.t.Dying():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.connections++
		s.mu.Unlock()

		s.t.Go(func() error {
			s.serveConn(conn)
			return nil
		})
	}
}

func (s *Service) serveConn(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	buf := make([]byte, 4096)
	var pending []byte
	parser := httpstream.NewParser()

	for {
		if len(pending) == 0 {
			conn.SetReadDeadline(time.Now().Add(pollInterval))
			n, err := conn.Read(buf)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					select {
					case <-s.t.Dying():
						return
					default:
						continue
					}
				}
				return
			}
			pending = buf[:n]
		}

		// Clients may pipeline an acknowledgement with their next request
		res, err := parser.Feed(pending)
		if err != nil {
			s.logger.Error("Failed to parse client message", slog.String("error", err.Error()))
			return
		}
		pending = pending[res.Consumed:]

		if !res.Complete {
			continue
		}

		msg := parser.Message()
		parser.Reset()

		if !s.handle(conn, msg) {
			return
		}
	}
}

// handle answers one message and reports whether the connection stays open.
func (s *Service) handle(conn net.Conn, msg *httpstream.Message) bool {
	if !msg.IsRequest {
		s.mu.Lock()
		s.acks++
		s.mu.Unlock()
		return true
	}

	base := path.Join(s.behavior.BasePath, circleResource)
	uri := msg.URI
	if u, err := url.Parse(uri); err == nil {
		uri = u.Path
	}

	req := Request{Method: msg.Method, URI: uri}

	var (
		status int
		header = map[string]string{}
		body   []byte
		notify *location.Subscription
	)

	switch {
	case msg.Method == http.MethodPost && uri == base:
		sub, err := location.DecodeSubscription(msg.Body)
		if err != nil {
			status = http.StatusBadRequest
			break
		}
		req.Subscription = &sub

		if s.behavior.SubscribeStatus != http.StatusCreated {
			status = s.behavior.SubscribeStatus
			break
		}

		s.mu.Lock()
		id := strconv.Itoa(s.nextID)
		s.nextID++
		s.subscriptions[id] = sub
		s.mu.Unlock()

		resourceURL := "http://" + s.Addr() + base + "/" + id
		header["Location"] = base + "/" + id

		createdURL := resourceURL
		if s.behavior.OmitResourceURL {
			createdURL = ""
		}
		body, _ = location.EncodeCreated(sub, createdURL)
		status = http.StatusCreated
		notify = &sub

	case msg.Method == http.MethodPut && strings.HasPrefix(uri, base+"/"):
		id := strings.TrimPrefix(uri, base+"/")
		sub, err := location.DecodeSubscription(msg.Body)
		if err != nil {
			status = http.StatusBadRequest
			break
		}
		req.Subscription = &sub

		s.mu.Lock()
		_, ok := s.subscriptions[id]
		if ok {
			s.subscriptions[id] = sub
		}
		s.mu.Unlock()

		if !ok {
			status = http.StatusNotFound
			break
		}
		body, _ = location.EncodeSubscription(sub)
		status = http.StatusOK
		notify = &sub

	case msg.Method == http.MethodDelete && strings.HasPrefix(uri, base+"/"):
		id := strings.TrimPrefix(uri, base+"/")

		s.mu.Lock()
		_, ok := s.subscriptions[id]
		delete(s.subscriptions, id)
		s.mu.Unlock()

		status = http.StatusNoContent
		if !ok {
			status = http.StatusNotFound
		}

	default:
		status = http.StatusNotFound
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if err := s.writeResponse(conn, status, header, body); err != nil {
		return false
	}

	if s.behavior.CloseAfter == msg.Method {
		return false
	}

	if notify != nil {
		pos, ok := s.behavior.Positions[notify.Criterion]
		if !ok {
			return true
		}

		select {
		case <-time.After(s.behavior.NotifyDelay):
		case <-s.t.Dying():
			return false
		}

		if err := s.writeNotification(conn, *notify, pos); err != nil {
			return false
		}
	}

	return true
}

func (s *Service) writeResponse(conn net.Conn, status int, header map[string]string, body []byte) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	for k, v := range header {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}

	switch {
	case status == http.StatusNoContent:
		b.WriteString("\r\n")
	case s.behavior.Chunked && len(body) > 0:
		b.WriteString("Content-Type: application/json\r\nTransfer-Encoding: chunked\r\n\r\n")
		half := len(body) / 2
		for _, part := range [][]byte{body[:half], body[half:]} {
			if len(part) == 0 {
				continue
			}
			fmt.Fprintf(&b, "%x\r\n", len(part))
			b.Write(part)
			b.WriteString("\r\n")
		}
		b.WriteString("0\r\n\r\n")
	default:
		if len(body) > 0 {
			b.WriteString("Content-Type: application/json\r\n")
		}
		fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", len(body))
		b.Write(body)
	}

	_, err := conn.Write(b.Bytes())
	return err
}

func (s *Service) writeNotification(conn net.Conn, sub location.Subscription, pos wire.Point) error {
	body, err := location.EncodeNotification(location.Notification{
		Criterion: sub.Criterion,
		Position:  pos,
		Link:      "http://" + s.Addr() + path.Join(s.behavior.BasePath, circleResource),
	})
	if err != nil {
		return err
	}

	notifyURL := sub.NotifyURL
	if notifyURL == "" {
		notifyURL = "localhost/notification"
	}
	if !strings.Contains(notifyURL, "://") {
		notifyURL = "http://" + notifyURL
	}

	req, err := http.NewRequest(http.MethodPost, notifyURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	s.logger.Debug("Pushing notification",
		slog.String("criterion", string(sub.Criterion)),
		slog.String("position", pos.String()))

	return req.Write(conn)
}
