// Package client implements the session driver: one logical connection to
// the system under test, with line-oriented send, blocking receive with a
// timeout bound, and non-blocking drain of already-buffered messages.
//
// A Conn has exactly one owning test at a time. Partial reads are
// reassembled in an internal buffer, and messages are surfaced in exact
// wire order per connection.
package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/sid3xyz/irctest/internal/ircmsg"
)

var (
	// ErrTimeout reports that a bounded wait elapsed with no full line
	// available.
	ErrTimeout = errors.New("timed out waiting for a message")
	// ErrClosed reports that the connection is closed, either locally
	// or because the peer terminated it.
	ErrClosed = errors.New("connection closed")
	// ErrLineTooLong reports that the peer sent more than the protocol
	// line limit without a line terminator.
	ErrLineTooLong = errors.New("line exceeds maximum length")
)

// writeTimeout bounds socket sends so a full peer write buffer cannot
// stall a test indefinitely.
const writeTimeout = 10 * time.Second

// Conn is one line-oriented connection to the system under test.
type Conn struct {
	conn net.Conn

	mu     sync.Mutex // guards buf, seq, closed
	buf    []byte
	seq    int
	closed bool

	wmu sync.Mutex // serializes writes
}

// Dial opens a plaintext connection.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Conn{conn: conn}, nil
}

// DialTLS opens a TLS connection. The config is the caller's; conformance
// runs against self-signed per-test material use InsecureSkipVerify.
func DialTLS(addr string, config *tls.Config, timeout time.Duration) (*Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s with TLS: %w", addr, err)
	}
	return &Conn{conn: conn}, nil
}

// SendLine appends the protocol line terminator and writes the line in one
// write call.
func (c *Conn) SendLine(line string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := c.conn.Write([]byte(line + "\r\n")); err != nil {
		return fmt.Errorf("failed to send %q: %w", line, err)
	}
	return nil
}

// ReadMessage blocks until a full line is available, then returns it
// parsed. It fails with ErrTimeout when the timeout elapses, ErrClosed when
// the peer closed the connection, and a *ircmsg.ParseError when the line
// does not form a message. Parse failures are recoverable: the offending
// line is consumed and subsequent reads proceed normally.
func (c *Conn) ReadMessage(timeout time.Duration) (*ircmsg.Message, error) {
	deadline := time.Now().Add(timeout)

	for {
		c.mu.Lock()
		if line, ok := c.takeLine(); ok {
			msg, err := c.parseCounted(line)
			c.mu.Unlock()
			return msg, err
		}
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		if len(c.buf) > ircmsg.MaxLineLen {
			n := len(c.buf)
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %d unterminated bytes buffered", ErrLineTooLong, n)
		}
		c.mu.Unlock()

		// The mutex is not held across the blocking read, so a
		// concurrent Close can always proceed; it unblocks the read.
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
		chunk := make([]byte, 4096)
		n, err := c.conn.Read(chunk)

		c.mu.Lock()
		c.buf = append(c.buf, chunk[:n]...)
		line, ok := c.takeLine()
		var msg *ircmsg.Message
		var perr error
		if ok {
			msg, perr = c.parseCounted(line)
		}
		c.mu.Unlock()

		if ok {
			// A line completed by this read is surfaced even when
			// the read also reported an error.
			return msg, perr
		}
		if err != nil {
			if isTimeout(err) {
				return nil, ErrTimeout
			}
			if errors.Is(err, io.EOF) || isConnReset(err) {
				return nil, fmt.Errorf("%w: peer terminated the connection", ErrClosed)
			}
			return nil, fmt.Errorf("read failed: %w", err)
		}
	}
}

// DrainBuffered returns every fully-buffered line without waiting for more
// I/O. It performs one zero-wait read so bytes already delivered by the
// kernel are included, then stops. Unparseable lines are skipped.
func (c *Conn) DrainBuffered() []*ircmsg.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		// Immediate deadline: collect pending bytes, never wait.
		if err := c.conn.SetReadDeadline(time.Now()); err == nil {
			chunk := make([]byte, 65536)
			n, _ := c.conn.Read(chunk)
			c.buf = append(c.buf, chunk[:n]...)
		}
	}

	var msgs []*ircmsg.Message
	for {
		line, ok := c.takeLine()
		if !ok {
			return msgs
		}
		msg, err := c.parseCounted(line)
		if err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
}

// Drain reads messages until the connection stays quiet for the grace
// period, and returns everything collected. Closure of the peer ends the
// drain without error; the messages read up to that point are returned.
func (c *Conn) Drain(grace time.Duration) []*ircmsg.Message {
	var msgs []*ircmsg.Message
	for {
		msg, err := c.ReadMessage(grace)
		if err != nil {
			return msgs
		}
		msgs = append(msgs, msg)
	}
}

// ReadCount returns the number of messages read on this connection so far.
// The counter is monotonic for the lifetime of the connection.
func (c *Conn) ReadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Close closes the transport and releases the read buffer. It is
// idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.buf = nil
	return c.conn.Close()
}

// takeLine removes and returns the first complete line from the buffer.
// Callers hold c.mu.
func (c *Conn) takeLine() (string, bool) {
	for i, b := range c.buf {
		if b == '\n' {
			line := string(c.buf[:i+1])
			c.buf = c.buf[i+1:]
			return line, true
		}
	}
	return "", false
}

// parseCounted parses a consumed line, counting it against the sequence
// counter whether or not it parses. Callers hold c.mu.
func (c *Conn) parseCounted(line string) (*ircmsg.Message, error) {
	c.seq++
	return ircmsg.ParseLine(line)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnReset(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, syscall.ECONNRESET)
}
