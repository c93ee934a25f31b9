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
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	serial "github.com/hootrhino/goserial"
)

// dispatcher resolves a decoded request against the device registry and
// produces the response, or nil when the protocol calls for silence.
type dispatcher struct {
	registry *DeviceRegistry
	opts     *serverOptions
	metrics  *ServerMetrics
}

// process executes one request. A nil response means the frame was addressed
// to another unit in single-unit mode and is dropped without a reply, like a
// slave that simply does not see its neighbour's traffic.
func (d *dispatcher) process(req *Request) *Response {
	if d.opts.singleUnit != nil && req.UnitID != *d.opts.singleUnit {
		d.opts.logger.Debug("ignoring request for other unit",
			slog.Uint64("unit_id", uint64(req.UnitID)))
		d.metrics.RequestsDropped.Add(1)
		return nil
	}

	store, ok := d.registry.Lookup(req.UnitID)
	if !ok {
		// Unknown unit in multi-device mode answers with an exception so
		// the master fails fast instead of timing out.
		d.metrics.Exceptions.Add(1)
		return exceptionResponse(req, ExceptionIllegalDataAddress)
	}

	d.opts.logger.Debug("processing request",
		slog.Uint64("unit_id", uint64(req.UnitID)),
		slog.String("func", req.FunctionCode.String()),
		slog.Uint64("addr", uint64(req.Address)),
		slog.Uint64("count", uint64(req.Count)))

	resp := executeOnStore(store, req)
	if resp.IsException {
		d.metrics.Exceptions.Add(1)
	}
	return resp
}

// executeOnStore applies a request to a device store. A zero count on read
// and multiple-write operations is honored literally and yields an empty
// payload rather than an exception.
func executeOnStore(store *RegisterStore, req *Request) *Response {
	switch req.FunctionCode {
	case FuncReadCoils:
		return readBitsResponse(req, store.ReadCoils(req.Address, req.Count))

	case FuncReadDiscreteInputs:
		return readBitsResponse(req, store.ReadDiscreteInputs(req.Address, req.Count))

	case FuncReadHoldingRegisters:
		return readRegistersResponse(req, store.ReadHoldingRegisters(req.Address, req.Count))

	case FuncReadInputRegisters:
		return readRegistersResponse(req, store.ReadInputRegisters(req.Address, req.Count))

	case FuncWriteSingleCoil:
		switch req.Count {
		case CoilOn:
			store.SetCoil(req.Address, true)
		case CoilOff:
			store.SetCoil(req.Address, false)
		default:
			return exceptionResponse(req, ExceptionIllegalDataValue)
		}
		return echoResponse(req, req.Count)

	case FuncWriteSingleRegister:
		if len(req.Data) < 2 {
			return exceptionResponse(req, ExceptionIllegalDataValue)
		}
		value := uint16(req.Data[0])<<8 | uint16(req.Data[1])
		store.SetHoldingRegister(req.Address, value)
		return echoResponse(req, value)

	case FuncWriteMultipleCoils:
		store.WriteCoils(req.Address, BytesToBools(req.Data, int(req.Count)))
		return echoResponse(req, req.Count)

	case FuncWriteMultipleRegisters:
		values, err := BytesToUint16s(req.Data, OrderABCD)
		if err != nil || uint16(len(values)) != req.Count {
			return exceptionResponse(req, ExceptionIllegalDataValue)
		}
		store.WriteHoldingRegisters(req.Address, values)
		return echoResponse(req, req.Count)

	default:
		return exceptionResponse(req, ExceptionIllegalFunction)
	}
}

func readBitsResponse(req *Request, values []bool) *Response {
	return &Response{
		UnitID:       req.UnitID,
		FunctionCode: req.FunctionCode,
		Data:         BoolsToBytes(values),
	}
}

func readRegistersResponse(req *Request, values []uint16) *Response {
	return &Response{
		UnitID:       req.UnitID,
		FunctionCode: req.FunctionCode,
		Data:         Uint16sToBytes(values, OrderABCD),
	}
}

func echoResponse(req *Request, value uint16) *Response {
	return &Response{
		UnitID:       req.UnitID,
		FunctionCode: req.FunctionCode,
		Data: []byte{
			byte(req.Address >> 8), byte(req.Address),
			byte(value >> 8), byte(value),
		},
	}
}

func exceptionResponse(req *Request, ec ExceptionCode) *Response {
	return &Response{
		UnitID:        req.UnitID,
		FunctionCode:  req.FunctionCode,
		IsException:   true,
		ExceptionCode: ec,
	}
}

// Server is a Modbus slave listening on TCP. The codec decides whether it
// speaks MBAP framing or RTU framing over the stream.
type Server struct {
	codec      FrameCodec
	dispatcher dispatcher
	opts       *serverOptions

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   int32
	wg       sync.WaitGroup
	metrics  *ServerMetrics
}

// NewServer creates a Modbus slave server backed by the given registry.
func NewServer(codec FrameCodec, registry *DeviceRegistry, opts ...ServerOption) *Server {
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.singleUnit != nil {
		// Make sure the impersonated unit exists so it never answers
		// its own id with an exception.
		registry.Add(*options.singleUnit)
	}

	metrics := &ServerMetrics{}
	return &Server{
		codec: codec,
		dispatcher: dispatcher{
			registry: registry,
			opts:     options,
			metrics:  metrics,
		},
		opts:    options,
		conns:   make(map[net.Conn]struct{}),
		metrics: metrics,
	}
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *ServerMetrics {
	return s.metrics
}

// Registry returns the device registry backing the server.
func (s *Server) Registry() *DeviceRegistry {
	return s.dispatcher.registry
}

// ListenAndServe starts the server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// ListenAndServeContext starts the server and shuts it down when the context
// is canceled.
func (s *Server) ListenAndServeContext(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return s.Serve(listener)
}

// Serve starts serving connections on the given listener.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.opts.logger.Info("server started", slog.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closed) == 1 {
				return nil
			}
			s.opts.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		if len(s.conns) >= s.opts.maxConns {
			s.mu.Unlock()
			s.opts.logger.Warn("max connections reached, rejecting",
				slog.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.metrics.ActiveConns.Add(1)
		s.metrics.ConnsTotal.Add(1)
		s.mu.Unlock()

		// Configure TCP options
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(30 * time.Second)
			tcpConn.SetNoDelay(true)
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close shuts down the server gracefully.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.opts.logger.Info("server stopped")
	return err
}

// Addr returns the server's address.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ActiveConnections returns the number of active connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		// Recover from panic to prevent server crash
		if r := recover(); r != nil {
			s.opts.logger.Error("panic in connection handler",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}

		s.wg.Done()
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.metrics.ActiveConns.Add(-1)
		s.mu.Unlock()
	}()

	s.opts.logger.Debug("connection accepted",
		slog.String("remote", conn.RemoteAddr().String()))

	// One read per request. Modbus frames fit in 256 bytes and the master
	// is half-duplex, so each read carries at most one frame.
	buf := make([]byte, MaxFrameSize)

	for {
		if atomic.LoadInt32(&s.closed) == 1 {
			return
		}

		if s.opts.readTimeout > 0 {
			conn.SetReadDeadline(timeNow().Add(s.opts.readTimeout))
		}

		n, err := conn.Read(buf)
		if err != nil || n == 0 {
			if err != nil && err != io.EOF && atomic.LoadInt32(&s.closed) == 0 {
				// Don't log timeout errors as they're expected for idle connections
				if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
					s.opts.logger.Debug("read error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}
			return
		}

		s.metrics.RequestsTotal.Add(1)

		txID, req, err := s.codec.DecodeRequest(buf[:n])
		if err != nil {
			// A malformed frame gets no reply. Answering garbage risks
			// desynchronizing the master further.
			s.metrics.RequestsDropped.Add(1)
			s.opts.logger.Debug("dropping undecodable frame",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.String("error", err.Error()))
			continue
		}

		resp := s.dispatcher.process(req)
		if resp == nil {
			continue
		}

		frame, err := s.codec.EncodeResponse(resp, txID)
		if err != nil {
			s.opts.logger.Error("encode response",
				slog.String("func", req.FunctionCode.String()),
				slog.String("error", err.Error()))
			continue
		}

		if s.opts.readTimeout > 0 {
			conn.SetWriteDeadline(timeNow().Add(s.opts.readTimeout))
		}

		if _, err := conn.Write(frame); err != nil {
			s.opts.logger.Debug("write error",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.String("error", err.Error()))
			return
		}
	}
}

// timeNow is a variable for testing
var timeNow = time.Now

// SerialServer is a Modbus RTU slave on a serial line.
type SerialServer struct {
	cfg        SerialConfig
	codec      FrameCodec
	dispatcher dispatcher
	opts       *serverOptions

	mu      sync.Mutex
	port    io.ReadWriteCloser
	closed  int32
	metrics *ServerMetrics
}

// NewSerialServer creates a Modbus RTU slave on the given serial line.
func NewSerialServer(cfg SerialConfig, registry *DeviceRegistry, opts ...ServerOption) *SerialServer {
	cfg.applyDefaults()
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.singleUnit != nil {
		registry.Add(*options.singleUnit)
	}

	metrics := &ServerMetrics{}
	return &SerialServer{
		cfg:   cfg,
		codec: RTUCodec{},
		dispatcher: dispatcher{
			registry: registry,
			opts:     options,
			metrics:  metrics,
		},
		opts:    options,
		metrics: metrics,
	}
}

// Metrics returns the server metrics.
func (s *SerialServer) Metrics() *ServerMetrics {
	return s.metrics
}

// Serve opens the serial port and answers requests until Close is called.
func (s *SerialServer) Serve() error {
	port, err := serial.Open(&serial.Config{
		Address:  s.cfg.Device,
		BaudRate: s.cfg.BaudRate,
		DataBits: s.cfg.DataBits,
		StopBits: s.cfg.StopBits,
		Parity:   s.cfg.Parity,
		Timeout:  s.opts.readTimeout,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", s.cfg.Device, err)
	}

	s.mu.Lock()
	s.port = port
	s.mu.Unlock()

	s.opts.logger.Info("serial server started", slog.String("device", s.cfg.Device))

	buf := make([]byte, MaxFrameSize)
	for {
		if atomic.LoadInt32(&s.closed) == 1 {
			return nil
		}

		n, err := port.Read(buf)
		if err != nil {
			if atomic.LoadInt32(&s.closed) == 1 {
				return nil
			}
			if isTimeoutError(err) {
				continue
			}
			return fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			continue
		}

		s.metrics.RequestsTotal.Add(1)

		_, req, err := s.codec.DecodeRequest(buf[:n])
		if err != nil {
			// Line noise or another slave's reply. Stay silent.
			s.metrics.RequestsDropped.Add(1)
			s.opts.logger.Debug("dropping undecodable frame",
				slog.String("error", err.Error()))
			continue
		}

		resp := s.dispatcher.process(req)
		if resp == nil {
			continue
		}

		frame, err := s.codec.EncodeResponse(resp, 0)
		if err != nil {
			s.opts.logger.Error("encode response",
				slog.String("func", req.FunctionCode.String()),
				slog.String("error", err.Error()))
			continue
		}

		if _, err := port.Write(frame); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
}

// Close stops the serial server and closes the port.
func (s *SerialServer) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.opts.logger.Info("serial server stopped")
	return err
}

func isTimeoutError(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
