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
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// MBAPHeader represents the Modbus Application Protocol header for TCP.
type MBAPHeader struct {
	TransactionID uint16 // Transaction identifier
	ProtocolID    uint16 // Protocol identifier (always 0 for Modbus)
	Length        uint16 // Number of following bytes (Unit ID + PDU)
	UnitID        UnitID // Unit identifier (slave address)
}

// Encode encodes the MBAP header to bytes.
func (h *MBAPHeader) Encode() []byte {
	buf := make([]byte, MBAPHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = byte(h.UnitID)
	return buf
}

// Decode decodes the MBAP header from bytes.
func (h *MBAPHeader) Decode(data []byte) error {
	if len(data) < MBAPHeaderSize {
		return fmt.Errorf("%w: MBAP header too short", ErrInvalidFrame)
	}
	h.TransactionID = binary.BigEndian.Uint16(data[0:2])
	h.ProtocolID = binary.BigEndian.Uint16(data[2:4])
	h.Length = binary.BigEndian.Uint16(data[4:6])
	h.UnitID = UnitID(data[6])
	return nil
}

// TransactionIDGenerator generates transaction IDs, wrapping modulo 65536.
type TransactionIDGenerator struct {
	counter uint32
}

// Next returns the next transaction ID.
func (g *TransactionIDGenerator) Next() uint16 {
	return uint16(atomic.AddUint32(&g.counter, 1))
}

// TCPCodec frames PDUs with the MBAP header for Modbus TCP.
type TCPCodec struct{}

var _ FrameCodec = TCPCodec{}

// EncodeRequest builds a complete Modbus TCP request frame.
func (TCPCodec) EncodeRequest(req *Request, txID uint16) ([]byte, error) {
	pdu, err := encodeRequestPDU(req)
	if err != nil {
		return nil, err
	}
	return encodeMBAP(txID, req.UnitID, pdu), nil
}

// DecodeRequest parses a complete Modbus TCP request frame and returns the
// transaction id alongside the request.
func (TCPCodec) DecodeRequest(data []byte) (uint16, *Request, error) {
	header, pdu, err := decodeMBAP(data)
	if err != nil {
		return 0, nil, err
	}
	req, err := decodeRequestPDU(pdu)
	if err != nil {
		return 0, nil, err
	}
	req.UnitID = header.UnitID
	return header.TransactionID, req, nil
}

// EncodeResponse builds a complete Modbus TCP response frame.
func (TCPCodec) EncodeResponse(resp *Response, txID uint16) ([]byte, error) {
	pdu, err := encodeResponsePDU(resp)
	if err != nil {
		return nil, err
	}
	return encodeMBAP(txID, resp.UnitID, pdu), nil
}

// DecodeResponse parses a complete Modbus TCP response frame and returns the
// transaction id alongside the response so the caller can correlate it.
func (TCPCodec) DecodeResponse(data []byte) (uint16, *Response, error) {
	header, pdu, err := decodeMBAP(data)
	if err != nil {
		return 0, nil, err
	}
	resp, err := decodeResponsePDU(pdu)
	if err != nil {
		return 0, nil, err
	}
	resp.UnitID = header.UnitID
	return header.TransactionID, resp, nil
}

// encodeMBAP prepends the MBAP header to a PDU, with the length field set to
// the byte count following it (unit id + PDU).
func encodeMBAP(txID uint16, unitID UnitID, pdu []byte) []byte {
	header := MBAPHeader{
		TransactionID: txID,
		ProtocolID:    ProtocolID,
		Length:        uint16(len(pdu) + 1),
		UnitID:        unitID,
	}
	frame := make([]byte, 0, MBAPHeaderSize+len(pdu))
	frame = append(frame, header.Encode()...)
	return append(frame, pdu...)
}

// decodeMBAP validates the MBAP header and slices out the PDU.
func decodeMBAP(data []byte) (MBAPHeader, []byte, error) {
	var header MBAPHeader
	if len(data) < MBAPHeaderSize+2 {
		return header, nil, fmt.Errorf("%w: frame too short", ErrInvalidDataLength)
	}
	if err := header.Decode(data); err != nil {
		return header, nil, err
	}
	if header.ProtocolID != ProtocolID {
		return header, nil, fmt.Errorf("%w: invalid protocol ID %d", ErrInvalidFrame, header.ProtocolID)
	}
	if header.Length < 2 {
		return header, nil, fmt.Errorf("%w: invalid length field %d", ErrInvalidFrame, header.Length)
	}
	if len(data) < 6+int(header.Length) {
		return header, nil, fmt.Errorf("%w: declared length %d exceeds %d available bytes",
			ErrInvalidDataLength, header.Length, len(data)-6)
	}
	return header, data[MBAPHeaderSize : 6+int(header.Length)], nil
}
