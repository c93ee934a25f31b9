package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// ErrNoData reports that the peer sent nothing before the read deadline.
// The raw transports return it instead of a timeout error because a silent
// peer is an expected protocol outcome, not a transport fault.
var ErrNoData = errors.New("no data received")

// maxFrameSize bounds a single read on raw transports.
const maxFrameSize = 256

// TCPTransport implements a TCP transport for Modbus TCP.
type TCPTransport struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewTCPTransport creates a new TCP transport.
func NewTCPTransport(addr string, timeout time.Duration) *TCPTransport {
	return &TCPTransport{
		addr:    addr,
		timeout: timeout,
	}
}

// Connect establishes a TCP connection.
func (t *TCPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil // Already connected
	}

	dialer := &net.Dialer{
		Timeout:   t.timeout,
		KeepAlive: 30 * time.Second, // Enable TCP keep-alive for industrial reliability
	}

	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("tcp connect: %w", err)
	}

	// Configure TCP options for industrial use
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
		tcpConn.SetNoDelay(true) // Disable Nagle's algorithm for low latency
	}

	t.conn = conn
	return nil
}

// Close closes the TCP connection.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	err := t.conn.Close()
	t.conn = nil
	return err
}

// IsConnected returns true if the transport is connected.
func (t *TCPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Send sends an MBAP-framed request and returns the complete response frame.
// This method is thread-safe and holds the lock during the entire transaction,
// so at most one request is in flight per connection.
func (t *TCPTransport) Send(ctx context.Context, data []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, errors.New("not connected")
	}

	if err := t.setDeadlineLocked(ctx); err != nil {
		return nil, err
	}

	if err := t.writeAllLocked(data); err != nil {
		t.closeConnLocked()
		return nil, fmt.Errorf("write: %w", err)
	}

	// Read MBAP header (7 bytes)
	header := make([]byte, 7)
	if err := t.readFullLocked(header); err != nil {
		t.closeConnLocked()
		return nil, fmt.Errorf("read header: %w", err)
	}

	// Validate protocol ID (bytes 2-3 must be 0x0000)
	protocolID := int(header[2])<<8 | int(header[3])
	if protocolID != 0 {
		t.closeConnLocked()
		return nil, fmt.Errorf("invalid protocol ID: %d", protocolID)
	}

	// Parse length from header (bytes 4-5)
	length := int(header[4])<<8 | int(header[5])
	if length < 1 || length > 254 {
		t.closeConnLocked()
		return nil, fmt.Errorf("invalid length: %d", length)
	}

	// Read PDU (length - 1 for unit ID which is in header)
	pduLen := length - 1
	response := make([]byte, 7+pduLen)
	copy(response, header)
	if pduLen > 0 {
		if err := t.readFullLocked(response[7:]); err != nil {
			t.closeConnLocked()
			return nil, fmt.Errorf("read pdu: %w", err)
		}
	}

	return response, nil
}

// SendRaw sends an unframed request and reads whatever the peer returns in a
// single read. The stream carries no length information, so after the settle
// delay one bounded read has to capture the whole reply. Used for
// RTU-over-TCP, where frames are small enough to arrive in one segment.
func (t *TCPTransport) SendRaw(ctx context.Context, data []byte, settle time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, errors.New("not connected")
	}

	if err := t.setDeadlineLocked(ctx); err != nil {
		return nil, err
	}

	if err := t.writeAllLocked(data); err != nil {
		t.closeConnLocked()
		return nil, fmt.Errorf("write: %w", err)
	}

	if settle > 0 {
		time.Sleep(settle)
	}

	buf := make([]byte, maxFrameSize)
	n, err := t.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, ErrNoData
		}
		t.closeConnLocked()
		return nil, fmt.Errorf("read: %w", err)
	}
	return nil, ErrNoData
}

// Conn returns the underlying connection.
func (t *TCPTransport) Conn() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// setDeadlineLocked applies the context deadline, or the default timeout.
// Must be called with mu held.
func (t *TCPTransport) setDeadlineLocked(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.timeout)
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	return nil
}

// writeAllLocked writes the whole buffer. Must be called with mu held.
func (t *TCPTransport) writeAllLocked(data []byte) error {
	written := 0
	for written < len(data) {
		n, err := t.conn.Write(data[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

// closeConnLocked closes the connection without acquiring the lock.
// Must be called with mu held.
func (t *TCPTransport) closeConnLocked() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

// readFullLocked reads exactly len(buf) bytes.
// Must be called with mu held.
func (t *TCPTransport) readFullLocked(buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := t.conn.Read(buf[total:])
		total += n
		if err != nil {
			if err == io.EOF && total == len(buf) {
				return nil
			}
			return err
		}
	}
	return nil
}
