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

import "fmt"

// RTUCodec frames PDUs as [unit id][PDU][CRC16] for serial links. The CRC
// covers everything preceding it and is transmitted little-endian. Decode
// verifies the CRC before any interpretation of the frame.
type RTUCodec struct{}

var _ FrameCodec = RTUCodec{}

// EncodeRequest builds an RTU request frame with a freshly computed CRC.
// The transaction id is ignored.
func (RTUCodec) EncodeRequest(req *Request, txID uint16) ([]byte, error) {
	frame, err := RTUOverTCPCodec{}.EncodeRequest(req, txID)
	if err != nil {
		return nil, err
	}
	return appendCRC(frame), nil
}

// DecodeRequest verifies the trailing CRC and parses an RTU request frame.
func (RTUCodec) DecodeRequest(data []byte) (uint16, *Request, error) {
	body, err := stripCRC(data)
	if err != nil {
		return 0, nil, err
	}
	return RTUOverTCPCodec{}.DecodeRequest(body)
}

// EncodeResponse builds an RTU response frame with a freshly computed CRC.
// The transaction id is ignored.
func (RTUCodec) EncodeResponse(resp *Response, txID uint16) ([]byte, error) {
	frame, err := RTUOverTCPCodec{}.EncodeResponse(resp, txID)
	if err != nil {
		return nil, err
	}
	return appendCRC(frame), nil
}

// DecodeResponse verifies the trailing CRC and parses an RTU response frame.
func (RTUCodec) DecodeResponse(data []byte) (uint16, *Response, error) {
	body, err := stripCRC(data)
	if err != nil {
		return 0, nil, err
	}
	return RTUOverTCPCodec{}.DecodeResponse(body)
}

// appendCRC appends the little-endian CRC16 of the frame.
func appendCRC(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc), byte(crc>>8))
}

// stripCRC validates the trailing checksum and returns the preceding bytes.
func stripCRC(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: frame too short", ErrInvalidDataLength)
	}
	body := data[:len(data)-2]
	expected := uint16(data[len(data)-2]) | uint16(data[len(data)-1])<<8
	if !VerifyCRC16(body, expected) {
		return nil, fmt.Errorf("%w: computed 0x%04X, frame carries 0x%04X",
			ErrInvalidCRC, CRC16(body), expected)
	}
	return body, nil
}
