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

func TestRTUCodec_EncodeRequest_AppendsCRC(t *testing.T) {
	req := &Request{
		UnitID:       0x11,
		FunctionCode: FuncReadHoldingRegisters,
		Address:      0x006B,
		Count:        3,
	}

	frame, err := RTUCodec{}.EncodeRequest(req, 0)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	body := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}
	if !bytes.Equal(frame[:len(body)], body) {
		t.Errorf("body: expected %x, got %x", body, frame[:len(body)])
	}

	crc := CRC16(body)
	if frame[len(frame)-2] != byte(crc) || frame[len(frame)-1] != byte(crc>>8) {
		t.Errorf("CRC: expected %02x %02x, got %02x %02x",
			byte(crc), byte(crc>>8), frame[len(frame)-2], frame[len(frame)-1])
	}
}

func TestRTUCodec_RequestRoundTrip(t *testing.T) {
	requests := []*Request{
		{UnitID: 1, FunctionCode: FuncReadCoils, Address: 0, Count: 16},
		{UnitID: 2, FunctionCode: FuncWriteSingleCoil, Address: 172, Count: CoilOn},
		{UnitID: 3, FunctionCode: FuncWriteMultipleCoils, Address: 19, Count: 10, Data: []byte{0xCD, 0x01}},
		{UnitID: 4, FunctionCode: FuncWriteMultipleRegisters, Address: 1, Count: 2, Data: []byte{0x00, 0x0A, 0x01, 0x02}},
	}

	for _, req := range requests {
		frame, err := RTUCodec{}.EncodeRequest(req, 0)
		if err != nil {
			t.Fatalf("%v: encode failed: %v", req.FunctionCode, err)
		}
		_, decoded, err := RTUCodec{}.DecodeRequest(frame)
		if err != nil {
			t.Fatalf("%v: decode failed: %v", req.FunctionCode, err)
		}
		if decoded.UnitID != req.UnitID || decoded.Address != req.Address || decoded.Count != req.Count {
			t.Errorf("%v: header fields mismatch after round trip", req.FunctionCode)
		}
		if len(req.Data) > 0 && !bytes.Equal(decoded.Data, req.Data) {
			t.Errorf("%v: data mismatch: %x != %x", req.FunctionCode, decoded.Data, req.Data)
		}
	}
}

func TestRTUCodec_ResponseRoundTrip(t *testing.T) {
	resp := &Response{
		UnitID:       7,
		FunctionCode: FuncReadInputRegisters,
		Data:         []byte{0x08, 0xF2},
	}

	frame, err := RTUCodec{}.EncodeResponse(resp, 0)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	_, decoded, err := RTUCodec{}.DecodeResponse(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.UnitID != resp.UnitID {
		t.Errorf("unit ID mismatch: %d != %d", decoded.UnitID, resp.UnitID)
	}
	if !bytes.Equal(decoded.Data, resp.Data) {
		t.Errorf("data mismatch: %x != %x", decoded.Data, resp.Data)
	}
}

func TestRTUCodec_DecodeRejectsCorruptedCRC(t *testing.T) {
	req := &Request{UnitID: 1, FunctionCode: FuncReadCoils, Address: 0, Count: 8}
	frame, err := RTUCodec{}.EncodeRequest(req, 0)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	// Flip one payload bit; the CRC no longer matches
	frame[2] ^= 0x01
	_, _, err = RTUCodec{}.DecodeRequest(frame)
	if !errors.Is(err, ErrInvalidCRC) {
		t.Errorf("expected ErrInvalidCRC, got %v", err)
	}
}

func TestRTUCodec_DecodeRejectsShortFrame(t *testing.T) {
	_, _, err := RTUCodec{}.DecodeResponse([]byte{0x01, 0x03})
	if !errors.Is(err, ErrInvalidDataLength) {
		t.Errorf("expected ErrInvalidDataLength, got %v", err)
	}
}

func TestRTUCodec_ExceptionRoundTrip(t *testing.T) {
	resp := &Response{
		UnitID:        3,
		FunctionCode:  FuncWriteSingleRegister,
		IsException:   true,
		ExceptionCode: ExceptionIllegalDataValue,
	}

	frame, err := RTUCodec{}.EncodeResponse(resp, 0)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	// [unit][fc|0x80][ec][crc lo][crc hi]
	if len(frame) != 5 {
		t.Fatalf("frame length: expected 5, got %d", len(frame))
	}

	_, decoded, err := RTUCodec{}.DecodeResponse(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !decoded.IsException || decoded.ExceptionCode != ExceptionIllegalDataValue {
		t.Error("exception not preserved through round trip")
	}
}
