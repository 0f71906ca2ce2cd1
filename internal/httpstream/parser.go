package httpstream

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

var (
	// ErrProtocolDesync reports that a fed chunk was not fully consumed by the
	// message it belongs to. The stream cannot be trusted after this.
	ErrProtocolDesync = errors.New("protocol desynchronized")

	// ErrMessageComplete is returned when feeding a parser that already
	// assembled its message.
	ErrMessageComplete = errors.New("message already complete")

	// ErrHeaderTooLarge is returned when a line or the header block exceeds
	// its limit.
	ErrHeaderTooLarge = errors.New("header too large")

	// ErrMalformed is returned for syntactically invalid messages.
	ErrMalformed = errors.New("malformed HTTP message")
)

const (
	// MaxLineSize bounds a single start, header or chunk-size line.
	MaxLineSize = 8 << 10

	// MaxHeaderSize bounds the start line plus header block (and trailers).
	MaxHeaderSize = 64 << 10
)

type parseState int

const (
	stateStartLine parseState = iota
	stateHeaders
	stateBody
	stateChunkSize
	stateChunkData
	stateChunkDataEnd
	stateTrailers
	stateUntilClose
	stateComplete
)

// Message is an assembled HTTP request or response.
type Message struct {
	IsRequest bool

	// Request fields
	Method string
	URI    string

	// Response fields
	StatusCode int
	Reason     string

	Proto  string
	Header http.Header
	Body   []byte
}

// String returns a short description of the message
func (m *Message) String() string {
	if m.IsRequest {
		return fmt.Sprintf("%s %s %s (%d body bytes)", m.Method, m.URI, m.Proto, len(m.Body))
	}
	return fmt.Sprintf("%s %d %s (%d body bytes)", m.Proto, m.StatusCode, m.Reason, len(m.Body))
}

// Result describes the effect of one Feed call.
type Result struct {
	// Consumed is the number of bytes of the chunk that belong to the message.
	Consumed int

	// Fragment holds the body bytes decoded from this chunk, if any.
	Fragment []byte

	// Complete is true on the call that delivered the final byte.
	Complete bool
}

// ConsumedAll reports whether a chunk of n bytes was entirely consumed.
func (r Result) ConsumedAll(n int) bool {
	return r.Consumed == n
}

// Parser assembles one HTTP message from a sequence of chunks.
type Parser struct {
	state       parseState
	msg         *Message
	line        []byte
	headerBytes int
	remaining   int64
	err         error
}

// NewParser creates a parser ready for the start line of a message.
func NewParser() *Parser {
	return &Parser{
		msg: &Message{Header: make(http.Header)},
	}
}

// Reset prepares the parser for the next message on the stream.
func (p *Parser) Reset() {
	*p = Parser{
		msg:  &Message{Header: make(http.Header)},
		line: p.line[:0],
	}
}

// Message returns the assembled message, or nil while incomplete.
func (p *Parser) Message() *Message {
	if p.state != stateComplete {
		return nil
	}
	return p.msg
}

// Feed parses as much of chunk as belongs to the current message. Bytes past
// the end of the message are left unconsumed. After an error the parser keeps
// returning that error.
func (p *Parser) Feed(chunk []byte) (Result, error) {
	if p.err != nil {
		return Result{}, p.err
	}
	if p.state == stateComplete {
		return Result{}, ErrMessageComplete
	}

	var res Result
	for res.Consumed < len(chunk) && p.state != stateComplete {
		data := chunk[res.Consumed:]

		var n int
		var err error
		switch p.state {
		case stateBody, stateChunkData:
			n = p.consumeBody(data, &res)
		case stateUntilClose:
			n = len(data)
			res.Fragment = append(res.Fragment, data...)
			p.msg.Body = append(p.msg.Body, data...)
		default:
			n, err = p.consumeLine(data)
		}

		res.Consumed += n
		if err != nil {
			p.err = err
			return res, err
		}
	}

	res.Complete = p.state == stateComplete
	return res, nil
}

func (p *Parser) consumeLine(data []byte) (int, error) {
	idx := bytes.IndexByte(data, '\n')
	n := len(data)
	if idx >= 0 {
		n = idx + 1
	}

	if p.state == stateStartLine || p.state == stateHeaders || p.state == stateTrailers {
		p.headerBytes += n
		if p.headerBytes > MaxHeaderSize {
			return n, fmt.Errorf("%w: header block exceeds %d bytes", ErrHeaderTooLarge, MaxHeaderSize)
		}
	}

	if idx < 0 {
		if len(p.line)+len(data) > MaxLineSize {
			return n, fmt.Errorf("%w: line exceeds %d bytes", ErrHeaderTooLarge, MaxLineSize)
		}
		p.line = append(p.line, data...)
		return n, nil
	}

	if len(p.line)+idx > MaxLineSize {
		return n, fmt.Errorf("%w: line exceeds %d bytes", ErrHeaderTooLarge, MaxLineSize)
	}
	p.line = append(p.line, data[:idx]...)
	line := strings.TrimSuffix(string(p.line), "\r")
	p.line = p.line[:0]

	return n, p.handleLine(line)
}

func (p *Parser) consumeBody(data []byte, res *Result) int {
	n := len(data)
	if int64(n) > p.remaining {
		n = int(p.remaining)
	}

	res.Fragment = append(res.Fragment, data[:n]...)
	p.msg.Body = append(p.msg.Body, data[:n]...)
	p.remaining -= int64(n)

	if p.remaining == 0 {
		if p.state == stateChunkData {
			p.state = stateChunkDataEnd
		} else {
			p.state = stateComplete
		}
	}
	return n
}

func (p *Parser) handleLine(line string) error {
	switch p.state {
	case stateStartLine:
		if line == "" {
			// Tolerate stray CRLF between messages
			return nil
		}
		return p.parseStartLine(line)

	case stateHeaders:
		if line == "" {
			return p.finishHeaders()
		}
		return p.parseHeaderField(line)

	case stateChunkSize:
		return p.parseChunkSize(line)

	case stateChunkDataEnd:
		if line != "" {
			return fmt.Errorf("%w: missing CRLF after chunk data", ErrMalformed)
		}
		p.state = stateChunkSize
		return nil

	case stateTrailers:
		if line == "" {
			p.state = stateComplete
			return nil
		}
		return p.parseHeaderField(line)

	default:
		return fmt.Errorf("unexpected line in parser state %d", p.state)
	}
}

func (p *Parser) parseStartLine(line string) error {
	if strings.HasPrefix(line, "HTTP/") {
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 2 {
			return fmt.Errorf("%w: invalid status line %q", ErrMalformed, line)
		}
		if len(parts[1]) != 3 {
			return fmt.Errorf("%w: invalid status code %q", ErrMalformed, parts[1])
		}
		code, err := strconv.Atoi(parts[1])
		if err != nil || code < 100 {
			return fmt.Errorf("%w: invalid status code %q", ErrMalformed, parts[1])
		}

		p.msg.Proto = parts[0]
		p.msg.StatusCode = code
		if len(parts) == 3 {
			p.msg.Reason = parts[2]
		}
	} else {
		parts := strings.Split(line, " ")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || !strings.HasPrefix(parts[2], "HTTP/") {
			return fmt.Errorf("%w: invalid request line %q", ErrMalformed, line)
		}

		p.msg.IsRequest = true
		p.msg.Method = parts[0]
		p.msg.URI = parts[1]
		p.msg.Proto = parts[2]
	}

	p.state = stateHeaders
	return nil
}

func (p *Parser) parseHeaderField(line string) error {
	if line[0] == ' ' || line[0] == '\t' {
		return fmt.Errorf("%w: folded header lines are not supported", ErrMalformed)
	}

	key, value, ok := strings.Cut(line, ":")
	if !ok || key == "" || strings.ContainsAny(key, " \t") {
		return fmt.Errorf("%w: invalid header field %q", ErrMalformed, line)
	}

	p.msg.Header.Add(textproto.CanonicalMIMEHeaderKey(key), strings.TrimSpace(value))
	return nil
}

func (p *Parser) finishHeaders() error {
	if isChunked(p.msg.Header.Values("Transfer-Encoding")) {
		p.state = stateChunkSize
		return nil
	}

	if values := p.msg.Header.Values("Content-Length"); len(values) > 0 {
		length, err := contentLength(values)
		if err != nil {
			return err
		}
		if length == 0 {
			p.state = stateComplete
			return nil
		}
		p.remaining = length
		p.state = stateBody
		return nil
	}

	if p.msg.IsRequest || !responseHasBody(p.msg.StatusCode) {
		p.state = stateComplete
		return nil
	}

	p.state = stateUntilClose
	return nil
}

func (p *Parser) parseChunkSize(line string) error {
	size, _, _ := strings.Cut(line, ";")
	size = strings.TrimSpace(size)

	n, err := strconv.ParseInt(size, 16, 63)
	if err != nil || n < 0 {
		return fmt.Errorf("%w: invalid chunk size %q", ErrMalformed, size)
	}

	if n == 0 {
		p.state = stateTrailers
		return nil
	}
	p.remaining = n
	p.state = stateChunkData
	return nil
}

func isChunked(values []string) bool {
	if len(values) == 0 {
		return false
	}
	codings := strings.Split(values[len(values)-1], ",")
	last := strings.TrimSpace(codings[len(codings)-1])
	return strings.EqualFold(last, "chunked")
}

func contentLength(values []string) (int64, error) {
	var length int64 = -1
	for _, v := range values {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 63)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: invalid Content-Length %q", ErrMalformed, v)
		}
		if length >= 0 && n != length {
			return 0, fmt.Errorf("%w: conflicting Content-Length values", ErrMalformed)
		}
		length = n
	}
	return length, nil
}

func responseHasBody(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}
