// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/edgeo-scada/modbus-link/internal/transport"
)

// clientTransport is the exchange surface the client needs from a link:
// one request frame out, one response frame back.
type clientTransport interface {
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
	Exchange(ctx context.Context, frame []byte) ([]byte, error)
}

// mbapLink exchanges MBAP-framed data over TCP.
type mbapLink struct {
	*transport.TCPTransport
}

func (l mbapLink) Exchange(ctx context.Context, frame []byte) ([]byte, error) {
	return l.Send(ctx, frame)
}

// rawTCPLink exchanges length-unframed data over TCP with a settle pause.
type rawTCPLink struct {
	*transport.TCPTransport
	settle time.Duration
}

func (l rawTCPLink) Exchange(ctx context.Context, frame []byte) ([]byte, error) {
	return l.SendRaw(ctx, frame, l.settle)
}

// serialLink exchanges data over a serial line with a settle pause.
type serialLink struct {
	*transport.SerialTransport
	settle time.Duration
}

func (l serialLink) Exchange(ctx context.Context, frame []byte) ([]byte, error) {
	return l.SendRaw(ctx, frame, l.settle)
}

// Client is a Modbus master. The same client drives all three
// encapsulations; the codec and transport chosen by the constructor decide
// the wire format. The client is half-duplex: one request is in flight at a
// time, enforced by the transport lock.
type Client struct {
	endpoint string
	unitID   UnitID
	opts     *clientOptions

	codec     FrameCodec
	transport clientTransport
	txIDGen   TransactionIDGenerator

	// Only the MBAP encapsulation carries a transaction id to check.
	correlate bool

	mu      sync.Mutex
	state   ConnectionState
	closed  bool
	metrics *Metrics
	logger  *slog.Logger
}

// NewTCPClient creates a Modbus TCP client.
func NewTCPClient(addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("modbus: address cannot be empty")
	}
	options := applyOptions(opts)
	return newClient(addr, TCPCodec{},
		mbapLink{transport.NewTCPTransport(addr, options.timeout)},
		true, options), nil
}

// NewRTUOverTCPClient creates a client speaking RTU framing without CRC over
// a TCP stream.
func NewRTUOverTCPClient(addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("modbus: address cannot be empty")
	}
	options := applyOptions(opts)
	return newClient(addr, RTUOverTCPCodec{},
		rawTCPLink{transport.NewTCPTransport(addr, options.timeout), options.settleDelay},
		false, options), nil
}

// NewRTUClient creates a Modbus RTU client on a serial line.
func NewRTUClient(cfg SerialConfig, opts ...Option) (*Client, error) {
	if cfg.Device == "" {
		return nil, errors.New("modbus: serial device cannot be empty")
	}
	cfg.applyDefaults()
	options := applyOptions(opts)
	st := transport.NewSerialTransport(transport.SerialParams{
		Device:   cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  options.timeout,
	})
	return newClient(cfg.Device, RTUCodec{},
		serialLink{st, options.settleDelay}, false, options), nil
}

func applyOptions(opts []Option) *clientOptions {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func newClient(endpoint string, codec FrameCodec, link clientTransport, correlate bool, options *clientOptions) *Client {
	return &Client{
		endpoint:  endpoint,
		unitID:    options.unitID,
		opts:      options,
		codec:     codec,
		transport: link,
		correlate: correlate,
		state:     StateDisconnected,
		metrics:   NewMetrics(),
		logger:    options.logger,
	}
}

// Connect establishes the connection to the slave endpoint.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if c.state == StateConnected && c.transport.IsConnected() {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Debug("connecting", slog.String("endpoint", c.endpoint))

	if err := c.transport.Connect(ctx); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info("connected", slog.String("endpoint", c.endpoint))
	return nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateDisconnected
	c.mu.Unlock()

	c.logger.Debug("closing connection", slog.String("endpoint", c.endpoint))
	return c.transport.Close()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Metrics returns the client metrics.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// SetUnitID sets the default unit ID for subsequent requests.
func (c *Client) SetUnitID(id UnitID) {
	c.mu.Lock()
	c.unitID = id
	c.mu.Unlock()
}

// UnitID returns the current default unit ID.
func (c *Client) UnitID() UnitID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unitID
}

// Endpoint returns the slave endpoint (address or serial device).
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Do performs one request-response exchange. The request's UnitID field is
// used as-is; typed helpers fill it from the client default. A slave
// exception comes back as a *ModbusError, never as a Response.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.mu.Unlock()

	start := time.Now()
	c.metrics.RequestsTotal.Add(1)
	fm := c.metrics.ForFunction(req.FunctionCode)
	fm.Requests.Add(1)

	txID := c.txIDGen.Next()
	frame, err := c.codec.EncodeRequest(req, txID)
	if err != nil {
		c.fail(fm)
		return nil, err
	}

	c.logger.Debug("sending request",
		slog.Uint64("tx_id", uint64(txID)),
		slog.Uint64("unit_id", uint64(req.UnitID)),
		slog.String("func", req.FunctionCode.String()))

	respData, err := c.transport.Exchange(ctx, frame)
	if err != nil {
		c.fail(fm)
		return nil, c.mapTransportError(err)
	}

	respTx, resp, err := c.codec.DecodeResponse(respData)
	if err != nil {
		if errors.Is(err, ErrInvalidCRC) {
			c.metrics.CRCErrors.Add(1)
		}
		c.fail(fm)
		return nil, err
	}

	if c.correlate && respTx != txID {
		c.fail(fm)
		return nil, fmt.Errorf("%w: transaction ID mismatch (expected %d, got %d)",
			ErrInvalidResponse, txID, respTx)
	}

	if resp.UnitID != req.UnitID {
		c.fail(fm)
		return nil, fmt.Errorf("%w: unit ID mismatch (expected %d, got %d)",
			ErrInvalidResponse, req.UnitID, resp.UnitID)
	}

	if resp.IsException {
		c.fail(fm)
		return nil, resp.Err()
	}

	if resp.FunctionCode != req.FunctionCode {
		c.fail(fm)
		return nil, fmt.Errorf("%w: function code mismatch (expected %02X, got %02X)",
			ErrInvalidResponse, byte(req.FunctionCode), byte(resp.FunctionCode))
	}

	duration := time.Since(start)
	c.metrics.RequestsSuccess.Add(1)
	c.metrics.Latency.Observe(duration)
	fm.Latency.Observe(duration)

	c.logger.Debug("received response",
		slog.Uint64("tx_id", uint64(txID)),
		slog.Duration("duration", duration))

	return resp, nil
}

func (c *Client) fail(fm *FunctionMetrics) {
	c.metrics.RequestsErrors.Add(1)
	fm.Errors.Add(1)
}

// mapTransportError turns link-level outcomes into the protocol error
// vocabulary.
func (c *Client) mapTransportError(err error) error {
	switch {
	case errors.Is(err, transport.ErrNoData):
		c.metrics.Timeouts.Add(1)
		return ErrNoResponse
	case errors.Is(err, context.DeadlineExceeded):
		c.metrics.Timeouts.Add(1)
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		c.metrics.Timeouts.Add(1)
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// ReadCoils reads coil states from the slave (FC01).
func (c *Client) ReadCoils(ctx context.Context, addr, qty uint16) ([]bool, error) {
	return c.ReadCoilsWithUnit(ctx, c.UnitID(), addr, qty)
}

// ReadCoilsWithUnit reads coil states using a specific unit ID.
func (c *Client) ReadCoilsWithUnit(ctx context.Context, unitID UnitID, addr, qty uint16) ([]bool, error) {
	resp, err := c.Do(ctx, &Request{
		UnitID:       unitID,
		FunctionCode: FuncReadCoils,
		Address:      addr,
		Count:        qty,
	})
	if err != nil {
		return nil, err
	}
	return BytesToBools(resp.Data, int(qty)), nil
}

// ReadDiscreteInputs reads discrete input states from the slave (FC02).
func (c *Client) ReadDiscreteInputs(ctx context.Context, addr, qty uint16) ([]bool, error) {
	return c.ReadDiscreteInputsWithUnit(ctx, c.UnitID(), addr, qty)
}

// ReadDiscreteInputsWithUnit reads discrete inputs using a specific unit ID.
func (c *Client) ReadDiscreteInputsWithUnit(ctx context.Context, unitID UnitID, addr, qty uint16) ([]bool, error) {
	resp, err := c.Do(ctx, &Request{
		UnitID:       unitID,
		FunctionCode: FuncReadDiscreteInputs,
		Address:      addr,
		Count:        qty,
	})
	if err != nil {
		return nil, err
	}
	return BytesToBools(resp.Data, int(qty)), nil
}

// ReadHoldingRegisters reads holding registers from the slave (FC03).
func (c *Client) ReadHoldingRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	return c.ReadHoldingRegistersWithUnit(ctx, c.UnitID(), addr, qty)
}

// ReadHoldingRegistersWithUnit reads holding registers using a specific unit ID.
func (c *Client) ReadHoldingRegistersWithUnit(ctx context.Context, unitID UnitID, addr, qty uint16) ([]uint16, error) {
	resp, err := c.Do(ctx, &Request{
		UnitID:       unitID,
		FunctionCode: FuncReadHoldingRegisters,
		Address:      addr,
		Count:        qty,
	})
	if err != nil {
		return nil, err
	}
	return BytesToUint16s(resp.Data, OrderABCD)
}

// ReadInputRegisters reads input registers from the slave (FC04).
func (c *Client) ReadInputRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	return c.ReadInputRegistersWithUnit(ctx, c.UnitID(), addr, qty)
}

// ReadInputRegistersWithUnit reads input registers using a specific unit ID.
func (c *Client) ReadInputRegistersWithUnit(ctx context.Context, unitID UnitID, addr, qty uint16) ([]uint16, error) {
	resp, err := c.Do(ctx, &Request{
		UnitID:       unitID,
		FunctionCode: FuncReadInputRegisters,
		Address:      addr,
		Count:        qty,
	})
	if err != nil {
		return nil, err
	}
	return BytesToUint16s(resp.Data, OrderABCD)
}

// WriteSingleCoil writes a single coil (FC05).
func (c *Client) WriteSingleCoil(ctx context.Context, addr uint16, value bool) error {
	return c.WriteSingleCoilWithUnit(ctx, c.UnitID(), addr, value)
}

// WriteSingleCoilWithUnit writes a single coil using a specific unit ID.
func (c *Client) WriteSingleCoilWithUnit(ctx context.Context, unitID UnitID, addr uint16, value bool) error {
	// The count field carries the raw wire value for this function.
	count := CoilOff
	if value {
		count = CoilOn
	}
	resp, err := c.Do(ctx, &Request{
		UnitID:       unitID,
		FunctionCode: FuncWriteSingleCoil,
		Address:      addr,
		Count:        count,
	})
	if err != nil {
		return err
	}
	return checkWriteEcho(resp, addr, count)
}

// WriteSingleRegister writes a single holding register (FC06).
func (c *Client) WriteSingleRegister(ctx context.Context, addr, value uint16) error {
	return c.WriteSingleRegisterWithUnit(ctx, c.UnitID(), addr, value)
}

// WriteSingleRegisterWithUnit writes a single register using a specific unit ID.
func (c *Client) WriteSingleRegisterWithUnit(ctx context.Context, unitID UnitID, addr, value uint16) error {
	resp, err := c.Do(ctx, &Request{
		UnitID:       unitID,
		FunctionCode: FuncWriteSingleRegister,
		Address:      addr,
		Data:         []byte{byte(value >> 8), byte(value)},
	})
	if err != nil {
		return err
	}
	return checkWriteEcho(resp, addr, value)
}

// WriteMultipleCoils writes consecutive coils (FC15).
func (c *Client) WriteMultipleCoils(ctx context.Context, addr uint16, values []bool) error {
	return c.WriteMultipleCoilsWithUnit(ctx, c.UnitID(), addr, values)
}

// WriteMultipleCoilsWithUnit writes consecutive coils using a specific unit ID.
func (c *Client) WriteMultipleCoilsWithUnit(ctx context.Context, unitID UnitID, addr uint16, values []bool) error {
	if len(values) == 0 {
		return ErrInvalidQuantity
	}
	resp, err := c.Do(ctx, &Request{
		UnitID:       unitID,
		FunctionCode: FuncWriteMultipleCoils,
		Address:      addr,
		Count:        uint16(len(values)),
		Data:         BoolsToBytes(values),
	})
	if err != nil {
		return err
	}
	return checkWriteEcho(resp, addr, uint16(len(values)))
}

// WriteMultipleRegisters writes consecutive holding registers (FC16).
func (c *Client) WriteMultipleRegisters(ctx context.Context, addr uint16, values []uint16) error {
	return c.WriteMultipleRegistersWithUnit(ctx, c.UnitID(), addr, values)
}

// WriteMultipleRegistersWithUnit writes consecutive registers using a specific unit ID.
func (c *Client) WriteMultipleRegistersWithUnit(ctx context.Context, unitID UnitID, addr uint16, values []uint16) error {
	if len(values) == 0 {
		return ErrInvalidQuantity
	}
	resp, err := c.Do(ctx, &Request{
		UnitID:       unitID,
		FunctionCode: FuncWriteMultipleRegisters,
		Address:      addr,
		Count:        uint16(len(values)),
		Data:         Uint16sToBytes(values, OrderABCD),
	})
	if err != nil {
		return err
	}
	return checkWriteEcho(resp, addr, uint16(len(values)))
}

// checkWriteEcho validates the 4 echo bytes of a write response against the
// address and value (or quantity) that were sent.
func checkWriteEcho(resp *Response, addr, value uint16) error {
	if len(resp.Data) < 4 {
		return fmt.Errorf("%w: write echo truncated", ErrInvalidResponse)
	}
	gotAddr := uint16(resp.Data[0])<<8 | uint16(resp.Data[1])
	gotValue := uint16(resp.Data[2])<<8 | uint16(resp.Data[3])
	if gotAddr != addr {
		return fmt.Errorf("%w: echo address mismatch (expected %d, got %d)",
			ErrInvalidResponse, addr, gotAddr)
	}
	if gotValue != value {
		return fmt.Errorf("%w: echo value mismatch (expected %d, got %d)",
			ErrInvalidResponse, value, gotValue)
	}
	return nil
}
