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

// Package modbus implements the Modbus master/slave protocol over three
// encapsulations: Modbus TCP, Modbus RTU over serial links, and Modbus RTU
// framing carried over TCP.
package modbus

import (
	"fmt"
	"time"
)

// UnitID identifies the addressed device (slave address).
type UnitID uint8

// FunctionCode is a Modbus function code.
type FunctionCode uint8

// Supported Modbus function codes. The numeric values are part of the wire
// contract.
const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10
)

// ParseFunctionCode validates a function code byte against the supported set.
func ParseFunctionCode(b byte) (FunctionCode, error) {
	switch fc := FunctionCode(b); fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters,
		FuncReadInputRegisters, FuncWriteSingleCoil, FuncWriteSingleRegister,
		FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		return fc, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X", ErrInvalidFunctionCode, b)
	}
}

// IsRead reports whether the function code is one of the four read
// operations.
func (fc FunctionCode) IsRead() bool {
	return fc >= FuncReadCoils && fc <= FuncReadInputRegisters
}

// String returns the string representation of the function code.
func (fc FunctionCode) String() string {
	switch fc {
	case FuncReadCoils:
		return "ReadCoils"
	case FuncReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncReadInputRegisters:
		return "ReadInputRegisters"
	case FuncWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", uint8(fc))
	}
}

// Protocol constants.
const (
	// MBAPHeaderSize is the size of the MBAP header in bytes.
	MBAPHeaderSize = 7

	// ProtocolID is the Modbus protocol identifier (always 0 for Modbus TCP).
	ProtocolID = 0

	// MaxFrameSize bounds a single request or response frame on every
	// encapsulation.
	MaxFrameSize = 256

	// DefaultTimeout is the default per-request response timeout.
	DefaultTimeout = 5 * time.Second

	// DefaultSettleDelay is the pause between writing a serial frame and
	// reading the response.
	DefaultSettleDelay = 10 * time.Millisecond

	// DefaultPort is the default Modbus TCP port.
	DefaultPort = 502
)

// Coil values for single-coil writes.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// Request is a decoded master-to-slave request.
//
/// Count is overloaded: for the read operations it is the quantity of coils or
// registers requested; for WriteSingleCoil it carries the coil value (CoilOn
// or CoilOff); for the multiple-write operations it is the quantity written.
// Register values for write operations travel in Data, big-endian.
type Request struct {
	UnitID       UnitID
	FunctionCode FunctionCode
	Address      uint16
	Count        uint16
	Data         []byte
}

// Response is a decoded slave-to-master response.
//
// For read operations Data holds the packed values with the byte-count
// prefix stripped; for write operations it holds the four echoed bytes
// (address + value, or address + quantity). When IsException is set, Data is
// empty and ExceptionCode identifies the failure.
type Response struct {
	UnitID        UnitID
	FunctionCode  FunctionCode
	Data          []byte
	IsException   bool
	ExceptionCode ExceptionCode
}

// Err returns the exception carried by the response, or nil for a normal
// response.
func (r *Response) Err() error {
	if !r.IsException {
		return nil
	}
	return NewModbusError(r.FunctionCode, r.ExceptionCode)
}

// FrameCodec encodes and decodes complete frames for one encapsulation.
//
// The transaction id is only meaningful for the TCP codec; the serial codecs
// ignore it on encode and report zero on decode.
type FrameCodec interface {
	EncodeRequest(req *Request, txID uint16) ([]byte, error)
	DecodeRequest(data []byte) (txID uint16, req *Request, err error)
	EncodeResponse(resp *Response, txID uint16) ([]byte, error)
	DecodeResponse(data []byte) (txID uint16, resp *Response, err error)
}

// ConnectionState represents the state of a client connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
