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

// RTUOverTCPCodec frames PDUs as [unit id][PDU] with no checksum. The
// carrying TCP stream already guarantees ordered, lossless delivery, so the
// RTU CRC is omitted on both paths.
type RTUOverTCPCodec struct{}

var _ FrameCodec = RTUOverTCPCodec{}

// EncodeRequest builds an RTU-over-TCP request frame. The transaction id is
// ignored.
func (RTUOverTCPCodec) EncodeRequest(req *Request, _ uint16) ([]byte, error) {
	pdu, err := encodeRequestPDU(req)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, 1+len(pdu))
	frame = append(frame, byte(req.UnitID))
	return append(frame, pdu...), nil
}

// DecodeRequest parses an RTU-over-TCP request frame.
func (RTUOverTCPCodec) DecodeRequest(data []byte) (uint16, *Request, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("%w: frame too short", ErrInvalidDataLength)
	}
	req, err := decodeRequestPDU(data[1:])
	if err != nil {
		return 0, nil, err
	}
	req.UnitID = UnitID(data[0])
	return 0, req, nil
}

// EncodeResponse builds an RTU-over-TCP response frame. The transaction id
// is ignored.
func (RTUOverTCPCodec) EncodeResponse(resp *Response, _ uint16) ([]byte, error) {
	pdu, err := encodeResponsePDU(resp)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, 1+len(pdu))
	frame = append(frame, byte(resp.UnitID))
	return append(frame, pdu...), nil
}

// DecodeResponse parses an RTU-over-TCP response frame.
func (RTUOverTCPCodec) DecodeResponse(data []byte) (uint16, *Response, error) {
	if len(data) < 2 {
		return 0, nil, fmt.Errorf("%w: frame too short", ErrInvalidDataLength)
	}
	resp, err := decodeResponsePDU(data[1:])
	if err != nil {
		return 0, nil, err
	}
	resp.UnitID = UnitID(data[0])
	return 0, resp, nil
}
