package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/skypro1111/mec-geofence-alert/internal/wire"
)

var (
	// ErrTimeout is returned when no data arrived before the receive deadline.
	ErrTimeout = errors.New("receive timed out")

	// ErrPeerClosed is returned when a stream peer closed the connection.
	ErrPeerClosed = errors.New("peer closed connection")

	// ErrClosed is returned when the local endpoint has been closed.
	ErrClosed = errors.New("endpoint closed")
)

const (
	// DefaultBufferSize fits any datagram of the wire format with room for padding.
	DefaultBufferSize = 2048

	// pollInterval bounds a single socket wait so context cancellation is observed.
	pollInterval = 500 * time.Millisecond
)

// Datagram is a received UDP datagram with its sender.
type Datagram struct {
	Data       []byte
	From       netip.AddrPort
	ReceivedAt time.Time
}

// Endpoint is an owned UDP socket. It is not safe for concurrent receives;
// each participant drives its endpoint from a single loop.
type Endpoint struct {
	conn   *net.UDPConn
	logger *slog.Logger
	buffer []byte

	// Statistics
	received   uint64
	sent       uint64
	readErrors uint64
	mu         sync.RWMutex
}

// Statistics is a snapshot of endpoint counters.
type Statistics struct {
	DatagramsReceived uint64 `json:"datagrams_received"`
	DatagramsSent     uint64 `json:"datagrams_sent"`
	ReadErrors        uint64 `json:"read_errors"`
}

// Listen binds a UDP endpoint. Port 0 picks an ephemeral port.
func Listen(bindAddress string, port int, logger *slog.Logger) (*Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(bindAddress, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP: %w", err)
	}

	e := &Endpoint{
		conn:   conn,
		logger: logger,
		buffer: make([]byte, DefaultBufferSize),
	}

	logger.Debug("UDP endpoint bound", slog.String("address", e.LocalAddr().String()))
	return e, nil
}

// LocalAddr returns the bound address.
func (e *Endpoint) LocalAddr() netip.AddrPort {
	return normalize(e.conn.LocalAddr().(*net.UDPAddr).AddrPort())
}

// Receive blocks until a datagram arrives, timeout elapses (ErrTimeout) or
// ctx is done. A zero timeout waits until ctx is done.
func (e *Endpoint) Receive(ctx context.Context, timeout time.Duration) (*Datagram, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		wait := time.Now().Add(pollInterval)
		if !deadline.IsZero() && deadline.Before(wait) {
			wait = deadline
		}
		if err := e.conn.SetReadDeadline(wait); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}

		n, from, err := e.conn.ReadFromUDPAddrPort(e.buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if !deadline.IsZero() && !time.Now().Before(deadline) {
					return nil, ErrTimeout
				}
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil, ErrClosed
			}

			e.mu.Lock()
			e.readErrors++
			e.mu.Unlock()
			return nil, fmt.Errorf("failed to read UDP datagram: %w", err)
		}

		e.mu.Lock()
		e.received++
		e.mu.Unlock()

		// Copy out of the reused buffer
		data := make([]byte, n)
		copy(data, e.buffer[:n])

		return &Datagram{
			Data:       data,
			From:       normalize(from),
			ReceivedAt: time.Now(),
		}, nil
	}
}

// Send writes a raw datagram.
func (e *Endpoint) Send(to netip.AddrPort, data []byte) error {
	if _, err := e.conn.WriteToUDPAddrPort(data, to); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("failed to send datagram to %s: %w", to, err)
	}

	e.mu.Lock()
	e.sent++
	e.mu.Unlock()
	return nil
}

// SendMessage encodes and sends a wire message.
func (e *Endpoint) SendMessage(to netip.AddrPort, code uint8, payload []byte) error {
	data, err := wire.Encode(code, payload)
	if err != nil {
		return err
	}
	return e.Send(to, data)
}

// Close releases the socket.
func (e *Endpoint) Close() error {
	if err := e.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// GetStatistics returns current endpoint counters
func (e *Endpoint) GetStatistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Statistics{
		DatagramsReceived: e.received,
		DatagramsSent:     e.sent,
		ReadErrors:        e.readErrors,
	}
}

// ResolveAddrPort resolves "host:port" to a comparable UDP address.
func ResolveAddrPort(hostport string) (netip.AddrPort, error) {
	addr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("failed to resolve %q: %w", hostport, err)
	}
	return normalize(addr.AddrPort()), nil
}

// ReadStream reads from a stream connection with the same timeout and
// cancellation rules as Endpoint.Receive. A closed peer yields ErrPeerClosed.
func ReadStream(ctx context.Context, conn net.Conn, buf []byte, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		wait := time.Now().Add(pollInterval)
		if !deadline.IsZero() && deadline.Before(wait) {
			wait = deadline
		}
		if err := conn.SetReadDeadline(wait); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return 0, ErrClosed
			}
			return 0, fmt.Errorf("failed to set read deadline: %w", err)
		}

		n, err := conn.Read(buf)
		if n > 0 {
			return n, nil
		}
		if err == nil || errors.Is(err, io.EOF) {
			return 0, ErrPeerClosed
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				return 0, ErrTimeout
			}
			continue
		}
		if errors.Is(err, net.ErrClosed) {
			return 0, ErrClosed
		}
		return 0, fmt.Errorf("failed to read from %s: %w", conn.RemoteAddr(), err)
	}
}

// normalize unmaps IPv4-in-IPv6 addresses so sender comparisons are exact.
func normalize(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
