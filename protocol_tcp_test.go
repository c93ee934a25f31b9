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

func TestMBAPHeader_Encode(t *testing.T) {
	header := MBAPHeader{
		TransactionID: 0x0001,
		ProtocolID:    0x0000,
		Length:        0x0006,
		UnitID:        0x01,
	}

	expected := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01}
	result := header.Encode()

	if !bytes.Equal(result, expected) {
		t.Errorf("Expected %x, got %x", expected, result)
	}
}

func TestMBAPHeader_Decode(t *testing.T) {
	data := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01}

	var header MBAPHeader
	if err := header.Decode(data); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if header.TransactionID != 0x0001 {
		t.Errorf("TransactionID: expected 0x0001, got 0x%04X", header.TransactionID)
	}
	if header.ProtocolID != 0x0000 {
		t.Errorf("ProtocolID: expected 0x0000, got 0x%04X", header.ProtocolID)
	}
	if header.Length != 0x0006 {
		t.Errorf("Length: expected 0x0006, got 0x%04X", header.Length)
	}
	if header.UnitID != 0x01 {
		t.Errorf("UnitID: expected 0x01, got 0x%02X", header.UnitID)
	}
}

func TestMBAPHeader_Decode_TooShort(t *testing.T) {
	var header MBAPHeader
	if err := header.Decode([]byte{0x00, 0x01, 0x00}); err == nil {
		t.Error("Expected error for short data")
	}
}

func TestTransactionIDGenerator(t *testing.T) {
	var gen TransactionIDGenerator

	first := gen.Next()
	second := gen.Next()
	if second != first+1 {
		t.Errorf("Expected sequential IDs, got %d then %d", first, second)
	}
}

func TestTCPCodec_EncodeRequest_Frame(t *testing.T) {
	req := &Request{
		UnitID:       0x11,
		FunctionCode: FuncReadHoldingRegisters,
		Address:      0x006B,
		Count:        3,
	}

	frame, err := TCPCodec{}.EncodeRequest(req, 0x0102)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	expected := []byte{
		0x01, 0x02, // transaction ID
		0x00, 0x00, // protocol ID
		0x00, 0x06, // length
		0x11,                         // unit ID
		0x03, 0x00, 0x6B, 0x00, 0x03, // PDU
	}
	if !bytes.Equal(frame, expected) {
		t.Errorf("Expected %x, got %x", expected, frame)
	}
}

func TestTCPCodec_RequestRoundTrip(t *testing.T) {
	req := &Request{
		UnitID:       5,
		FunctionCode: FuncWriteMultipleRegisters,
		Address:      0x0001,
		Count:        2,
		Data:         []byte{0x00, 0x0A, 0x01, 0x02},
	}

	frame, err := TCPCodec{}.EncodeRequest(req, 0xBEEF)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	txID, decoded, err := TCPCodec{}.DecodeRequest(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if txID != 0xBEEF {
		t.Errorf("txID: expected 0xBEEF, got 0x%04X", txID)
	}
	if decoded.UnitID != req.UnitID {
		t.Errorf("unit ID mismatch: %d != %d", decoded.UnitID, req.UnitID)
	}
	if decoded.Count != req.Count || decoded.Address != req.Address {
		t.Error("address or count mismatch after round trip")
	}
	if !bytes.Equal(decoded.Data, req.Data) {
		t.Errorf("data mismatch: %x != %x", decoded.Data, req.Data)
	}
}

func TestTCPCodec_ResponseRoundTrip(t *testing.T) {
	resp := &Response{
		UnitID:       9,
		FunctionCode: FuncReadCoils,
		Data:         []byte{0x55, 0x01},
	}

	frame, err := TCPCodec{}.EncodeResponse(resp, 0x0042)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	txID, decoded, err := TCPCodec{}.DecodeResponse(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if txID != 0x0042 {
		t.Errorf("txID: expected 0x0042, got 0x%04X", txID)
	}
	if decoded.UnitID != resp.UnitID {
		t.Errorf("unit ID mismatch: %d != %d", decoded.UnitID, resp.UnitID)
	}
	if !bytes.Equal(decoded.Data, resp.Data) {
		t.Errorf("data mismatch: %x != %x", decoded.Data, resp.Data)
	}
}

func TestTCPCodec_DecodeRejectsBadProtocolID(t *testing.T) {
	frame := []byte{0x00, 0x01, 0x00, 0x07, 0x00, 0x06, 0x01, 0x03, 0x00, 0x6B, 0x00, 0x03}
	_, _, err := TCPCodec{}.DecodeRequest(frame)
	if !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestTCPCodec_DecodeRejectsTruncatedBody(t *testing.T) {
	// Header declares 6 following bytes but only 3 are present
	frame := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00}
	_, _, err := TCPCodec{}.DecodeRequest(frame)
	if !errors.Is(err, ErrInvalidDataLength) {
		t.Errorf("expected ErrInvalidDataLength, got %v", err)
	}
}
