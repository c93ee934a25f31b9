package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	serial "github.com/hootrhino/goserial"
)

// SerialParams describes how to open a serial line.
type SerialParams struct {
	Device   string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

// SerialTransport implements a half-duplex serial transport for Modbus RTU.
// The line is a shared bus, so every exchange is write, pause, one read.
type SerialTransport struct {
	params SerialParams

	mu   sync.Mutex
	port io.ReadWriteCloser
}

// NewSerialTransport creates a new serial transport. The port is opened by
// Connect, not here.
func NewSerialTransport(params SerialParams) *SerialTransport {
	return &SerialTransport{params: params}
}

// Connect opens the serial port. The read timeout is fixed at open time; the
// context only aborts before the open is attempted.
func (t *SerialTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		return nil // Already open
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	port, err := serial.Open(&serial.Config{
		Address:  t.params.Device,
		BaudRate: t.params.BaudRate,
		DataBits: t.params.DataBits,
		StopBits: t.params.StopBits,
		Parity:   t.params.Parity,
		Timeout:  t.params.Timeout,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", t.params.Device, err)
	}

	t.port = port
	return nil
}

// Close closes the serial port.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}

	err := t.port.Close()
	t.port = nil
	return err
}

// IsConnected returns true if the port is open.
func (t *SerialTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// SendRaw writes a frame, pauses for the line to settle, then performs one
// bounded read. A timeout with nothing received maps to ErrNoData; the slave
// may simply not exist on the bus.
func (t *SerialTransport) SendRaw(ctx context.Context, data []byte, settle time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil, errors.New("port not open")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	written := 0
	for written < len(data) {
		n, err := t.port.Write(data[written:])
		if err != nil {
			return nil, fmt.Errorf("write: %w", err)
		}
		written += n
	}

	if settle > 0 {
		time.Sleep(settle)
	}

	buf := make([]byte, maxFrameSize)
	n, err := t.port.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) || isTimeout(err) {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("read: %w", err)
	}
	return nil, ErrNoData
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
