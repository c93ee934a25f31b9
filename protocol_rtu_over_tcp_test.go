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
	"bytes"
	"errors"
	"testing"
)

func TestRTUOverTCPCodec_EncodeRequest_NoCRC(t *testing.T) {
	req := &Request{
		UnitID:       0x11,
		FunctionCode: FuncReadHoldingRegisters,
		Address:      0x006B,
		Count:        3,
	}

	frame, err := RTUOverTCPCodec{}.EncodeRequest(req, 0)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	expected := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}
	if !bytes.Equal(frame, expected) {
		t.Errorf("Expected %x, got %x", expected, frame)
	}
}

func TestRTUOverTCPCodec_FrameIsRTUWithoutChecksum(t *testing.T) {
	req := &Request{UnitID: 4, FunctionCode: FuncReadCoils, Address: 2, Count: 8}

	bare, err := RTUOverTCPCodec{}.EncodeRequest(req, 0)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	withCRC, err := RTUCodec{}.EncodeRequest(req, 0)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if !bytes.Equal(withCRC[:len(withCRC)-2], bare) {
		t.Errorf("RTU body %x does not match bare frame %x", withCRC[:len(withCRC)-2], bare)
	}
}

func TestRTUOverTCPCodec_ResponseRoundTrip(t *testing.T) {
	resp := &Response{
		UnitID:       2,
		FunctionCode: FuncWriteSingleCoil,
		Data:         []byte{0x00, 0xAC, 0xFF, 0x00},
	}

	frame, err := RTUOverTCPCodec{}.EncodeResponse(resp, 0)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	txID, decoded, err := RTUOverTCPCodec{}.DecodeResponse(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if txID != 0 {
		t.Errorf("txID: expected 0, got %d", txID)
	}
	if decoded.UnitID != resp.UnitID {
		t.Errorf("unit ID mismatch: %d != %d", decoded.UnitID, resp.UnitID)
	}
	if !bytes.Equal(decoded.Data, resp.Data) {
		t.Errorf("data mismatch: %x != %x", decoded.Data, resp.Data)
	}
}

func TestRTUOverTCPCodec_DecodeRequest_TooShort(t *testing.T) {
	_, _, err := RTUOverTCPCodec{}.DecodeRequest([]byte{0x01, 0x03, 0x00})
	if !errors.Is(err, ErrInvalidDataLength) {
		t.Errorf("expected ErrInvalidDataLength, got %v", err)
	}
}
