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
)

// The PDU (function code + operation payload) is identical across all three
// encapsulations; the codecs differ only in the surrounding framing. Requests
// carry the address and quantity big-endian. The byte-count field of
// WriteMultipleRegisters requests is 16 bits wide while WriteMultipleCoils
// uses 8; both widths are fixed wire contract.

// encodeRequestPDU encodes a request PDU: function code, address and the
// operation-specific payload.
func encodeRequestPDU(req *Request) ([]byte, error) {
	pdu := make([]byte, 3, 8+len(req.Data))
	pdu[0] = byte(req.FunctionCode)
	binary.BigEndian.PutUint16(pdu[1:3], req.Address)

	switch req.FunctionCode {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
		pdu = binary.BigEndian.AppendUint16(pdu, req.Count)

	case FuncWriteSingleCoil:
		value := CoilOff
		if req.Count > 0 {
			value = CoilOn
		}
		pdu = binary.BigEndian.AppendUint16(pdu, value)

	case FuncWriteSingleRegister:
		if len(req.Data) < 2 {
			return nil, fmt.Errorf("%w: register value requires 2 bytes", ErrInvalidDataLength)
		}
		pdu = append(pdu, req.Data[0], req.Data[1])

	case FuncWriteMultipleCoils:
		byteCount := (int(req.Count) + 7) / 8
		if len(req.Data) < byteCount {
			return nil, fmt.Errorf("%w: %d coils need %d bytes, got %d",
				ErrInvalidDataLength, req.Count, byteCount, len(req.Data))
		}
		pdu = binary.BigEndian.AppendUint16(pdu, req.Count)
		pdu = append(pdu, byte(byteCount))
		pdu = append(pdu, req.Data[:byteCount]...)

	case FuncWriteMultipleRegisters:
		byteCount := int(req.Count) * 2
		if len(req.Data) < byteCount {
			return nil, fmt.Errorf("%w: %d registers need %d bytes, got %d",
				ErrInvalidDataLength, req.Count, byteCount, len(req.Data))
		}
		pdu = binary.BigEndian.AppendUint16(pdu, req.Count)
		pdu = binary.BigEndian.AppendUint16(pdu, uint16(byteCount))
		pdu = append(pdu, req.Data[:byteCount]...)

	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidFunctionCode, byte(req.FunctionCode))
	}

	return pdu, nil
}

// decodeRequestPDU decodes a request PDU. The caller fills in the unit id
// from the framing.
func decodeRequestPDU(pdu []byte) (*Request, error) {
	if len(pdu) < 3 {
		return nil, fmt.Errorf("%w: request PDU too short", ErrInvalidDataLength)
	}
	fc, err := ParseFunctionCode(pdu[0])
	if err != nil {
		return nil, err
	}

	req := &Request{
		FunctionCode: fc,
		Address:      binary.BigEndian.Uint16(pdu[1:3]),
	}
	body := pdu[3:]

	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters,
		FuncReadInputRegisters, FuncWriteSingleCoil:
		if len(body) < 2 {
			return nil, fmt.Errorf("%w: request PDU too short", ErrInvalidDataLength)
		}
		req.Count = binary.BigEndian.Uint16(body[:2])

	case FuncWriteSingleRegister:
		if len(body) < 2 {
			return nil, fmt.Errorf("%w: request PDU too short", ErrInvalidDataLength)
		}
		req.Data = []byte{body[0], body[1]}

	case FuncWriteMultipleCoils:
		if len(body) < 3 {
			return nil, fmt.Errorf("%w: request PDU too short", ErrInvalidDataLength)
		}
		req.Count = binary.BigEndian.Uint16(body[:2])
		byteCount := int(body[2])
		if len(body) < 3+byteCount {
			return nil, fmt.Errorf("%w: coil payload truncated", ErrInvalidDataLength)
		}
		req.Data = append([]byte(nil), body[3:3+byteCount]...)

	case FuncWriteMultipleRegisters:
		if len(body) < 4 {
			return nil, fmt.Errorf("%w: request PDU too short", ErrInvalidDataLength)
		}
		req.Count = binary.BigEndian.Uint16(body[:2])
		byteCount := int(binary.BigEndian.Uint16(body[2:4]))
		if len(body) < 4+byteCount {
			return nil, fmt.Errorf("%w: register payload truncated", ErrInvalidDataLength)
		}
		req.Data = append([]byte(nil), body[4:4+byteCount]...)
	}

	return req, nil
}

// encodeResponsePDU encodes a response PDU. Read responses get a byte-count
// prefix; write responses carry their echo bytes as-is; exception responses
// are the function code with the high bit set plus the exception code.
func encodeResponsePDU(resp *Response) ([]byte, error) {
	if resp.IsException {
		return []byte{byte(resp.FunctionCode) | 0x80, byte(resp.ExceptionCode)}, nil
	}

	switch resp.FunctionCode {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
		if len(resp.Data) > 255 {
			return nil, fmt.Errorf("%w: read payload exceeds 255 bytes", ErrInvalidDataLength)
		}
		pdu := make([]byte, 0, 2+len(resp.Data))
		pdu = append(pdu, byte(resp.FunctionCode), byte(len(resp.Data)))
		return append(pdu, resp.Data...), nil

	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		if len(resp.Data) < 4 {
			return nil, fmt.Errorf("%w: write echo requires 4 bytes", ErrInvalidDataLength)
		}
		pdu := make([]byte, 0, 1+len(resp.Data))
		pdu = append(pdu, byte(resp.FunctionCode))
		return append(pdu, resp.Data[:4]...), nil

	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidFunctionCode, byte(resp.FunctionCode))
	}
}

// decodeResponsePDU decodes a response PDU. The caller fills in the unit id
// from the framing.
func decodeResponsePDU(pdu []byte) (*Response, error) {
	if len(pdu) < 2 {
		return nil, fmt.Errorf("%w: response PDU too short", ErrInvalidDataLength)
	}

	if pdu[0]&0x80 != 0 {
		fc, err := ParseFunctionCode(pdu[0] & 0x7F)
		if err != nil {
			return nil, err
		}
		ec, err := ParseExceptionCode(pdu[1])
		if err != nil {
			return nil, err
		}
		return &Response{
			FunctionCode:  fc,
			IsException:   true,
			ExceptionCode: ec,
		}, nil
	}

	fc, err := ParseFunctionCode(pdu[0])
	if err != nil {
		return nil, err
	}
	resp := &Response{FunctionCode: fc}
	body := pdu[1:]

	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
		if len(body) < 1 {
			return nil, fmt.Errorf("%w: response PDU too short", ErrInvalidDataLength)
		}
		byteCount := int(body[0])
		if len(body) < 1+byteCount {
			return nil, fmt.Errorf("%w: read payload truncated", ErrInvalidDataLength)
		}
		resp.Data = append([]byte(nil), body[1:1+byteCount]...)

	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		if len(body) < 4 {
			return nil, fmt.Errorf("%w: write echo truncated", ErrInvalidDataLength)
		}
		resp.Data = append([]byte(nil), body[:4]...)
	}

	return resp, nil
}
