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
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDispatcher(registry *DeviceRegistry, opts ...ServerOption) *dispatcher {
	options := defaultServerOptions()
	options.logger = discardLogger()
	for _, opt := range opts {
		opt(options)
	}
	return &dispatcher{
		registry: registry,
		opts:     options,
		metrics:  &ServerMetrics{},
	}
}

func TestExecuteOnStore_ReadCoils(t *testing.T) {
	store := NewRegisterStore()
	store.SetCoil(0, true)
	store.SetCoil(2, true)
	store.SetCoil(4, true)
	store.SetCoil(6, true)

	resp := executeOnStore(store, &Request{
		UnitID:       1,
		FunctionCode: FuncReadCoils,
		Address:      0,
		Count:        8,
	})

	if resp.IsException {
		t.Fatalf("unexpected exception: %v", resp.ExceptionCode)
	}
	if !bytes.Equal(resp.Data, []byte{0x55}) {
		t.Errorf("Expected 55, got %x", resp.Data)
	}
}

func TestExecuteOnStore_ReadUnwrittenDefaultsToZero(t *testing.T) {
	store := NewRegisterStore()

	resp := executeOnStore(store, &Request{
		UnitID:       1,
		FunctionCode: FuncReadHoldingRegisters,
		Address:      1000,
		Count:        3,
	})

	if resp.IsException {
		t.Fatalf("unexpected exception: %v", resp.ExceptionCode)
	}
	if !bytes.Equal(resp.Data, []byte{0, 0, 0, 0, 0, 0}) {
		t.Errorf("Expected six zero bytes, got %x", resp.Data)
	}
}

func TestExecuteOnStore_ZeroCountYieldsEmptyPayload(t *testing.T) {
	store := NewRegisterStore()

	for _, fc := range []FunctionCode{FuncReadCoils, FuncReadDiscreteInputs,
		FuncReadHoldingRegisters, FuncReadInputRegisters} {
		resp := executeOnStore(store, &Request{UnitID: 1, FunctionCode: fc, Address: 0, Count: 0})
		if resp.IsException {
			t.Errorf("%v: unexpected exception %v", fc, resp.ExceptionCode)
		}
		if len(resp.Data) != 0 {
			t.Errorf("%v: expected empty payload, got %x", fc, resp.Data)
		}
	}
}

func TestExecuteOnStore_WriteSingleCoil(t *testing.T) {
	store := NewRegisterStore()

	resp := executeOnStore(store, &Request{
		UnitID:       1,
		FunctionCode: FuncWriteSingleCoil,
		Address:      172,
		Count:        CoilOn,
	})
	if resp.IsException {
		t.Fatalf("unexpected exception: %v", resp.ExceptionCode)
	}
	if !store.Coil(172) {
		t.Error("coil was not set")
	}
	// Echo carries address then the raw on value
	if !bytes.Equal(resp.Data, []byte{0x00, 0xAC, 0xFF, 0x00}) {
		t.Errorf("Expected echo 00ACFF00, got %x", resp.Data)
	}

	resp = executeOnStore(store, &Request{
		UnitID:       1,
		FunctionCode: FuncWriteSingleCoil,
		Address:      172,
		Count:        CoilOff,
	})
	if resp.IsException {
		t.Fatalf("unexpected exception: %v", resp.ExceptionCode)
	}
	if store.Coil(172) {
		t.Error("coil was not cleared")
	}
}

func TestExecuteOnStore_WriteSingleCoilRejectsOtherValues(t *testing.T) {
	store := NewRegisterStore()

	resp := executeOnStore(store, &Request{
		UnitID:       1,
		FunctionCode: FuncWriteSingleCoil,
		Address:      0,
		Count:        0x0001,
	})
	if !resp.IsException || resp.ExceptionCode != ExceptionIllegalDataValue {
		t.Errorf("expected illegal data value exception, got %+v", resp)
	}
}

func TestExecuteOnStore_WriteSingleRegister(t *testing.T) {
	store := NewRegisterStore()

	resp := executeOnStore(store, &Request{
		UnitID:       1,
		FunctionCode: FuncWriteSingleRegister,
		Address:      5,
		Data:         []byte{0x12, 0x34},
	})
	if resp.IsException {
		t.Fatalf("unexpected exception: %v", resp.ExceptionCode)
	}
	if store.HoldingRegister(5) != 0x1234 {
		t.Errorf("Expected 0x1234, got 0x%04X", store.HoldingRegister(5))
	}
	if !bytes.Equal(resp.Data, []byte{0x00, 0x05, 0x12, 0x34}) {
		t.Errorf("Expected echo 00051234, got %x", resp.Data)
	}
}

func TestExecuteOnStore_WriteMultipleRegisters(t *testing.T) {
	store := NewRegisterStore()

	resp := executeOnStore(store, &Request{
		UnitID:       1,
		FunctionCode: FuncWriteMultipleRegisters,
		Address:      1,
		Count:        2,
		Data:         []byte{0x00, 0x0A, 0x01, 0x02},
	})
	if resp.IsException {
		t.Fatalf("unexpected exception: %v", resp.ExceptionCode)
	}
	if store.HoldingRegister(1) != 0x000A || store.HoldingRegister(2) != 0x0102 {
		t.Error("registers not written")
	}
	// Echo carries address and quantity
	if !bytes.Equal(resp.Data, []byte{0x00, 0x01, 0x00, 0x02}) {
		t.Errorf("Expected echo 00010002, got %x", resp.Data)
	}
}

func TestExecuteOnStore_WriteMultipleRegistersLengthMismatch(t *testing.T) {
	store := NewRegisterStore()

	resp := executeOnStore(store, &Request{
		UnitID:       1,
		FunctionCode: FuncWriteMultipleRegisters,
		Address:      0,
		Count:        3,
		Data:         []byte{0x00, 0x0A, 0x01, 0x02},
	})
	if !resp.IsException || resp.ExceptionCode != ExceptionIllegalDataValue {
		t.Errorf("expected illegal data value exception, got %+v", resp)
	}
}

func TestExecuteOnStore_WriteMultipleCoils(t *testing.T) {
	store := NewRegisterStore()

	resp := executeOnStore(store, &Request{
		UnitID:       1,
		FunctionCode: FuncWriteMultipleCoils,
		Address:      19,
		Count:        10,
		Data:         []byte{0xCD, 0x01},
	})
	if resp.IsException {
		t.Fatalf("unexpected exception: %v", resp.ExceptionCode)
	}

	expected := []bool{true, false, true, true, false, false, true, true, true, false}
	for i, want := range expected {
		if store.Coil(19+uint16(i)) != want {
			t.Errorf("coil %d: expected %v", 19+i, want)
		}
	}
}

func TestExecuteOnStore_UnsupportedFunction(t *testing.T) {
	store := NewRegisterStore()

	resp := executeOnStore(store, &Request{
		UnitID:       1,
		FunctionCode: FunctionCode(0x07),
	})
	if !resp.IsException || resp.ExceptionCode != ExceptionIllegalFunction {
		t.Errorf("expected illegal function exception, got %+v", resp)
	}
}

func TestDispatcher_UnknownUnitAnswersException(t *testing.T) {
	registry := NewDeviceRegistry()
	registry.Add(1)
	d := testDispatcher(registry)

	resp := d.process(&Request{
		UnitID:       9,
		FunctionCode: FuncReadCoils,
		Address:      0,
		Count:        1,
	})
	if resp == nil {
		t.Fatal("expected a response")
	}
	if !resp.IsException || resp.ExceptionCode != ExceptionIllegalDataAddress {
		t.Errorf("expected illegal data address exception, got %+v", resp)
	}
	if d.metrics.Exceptions.Value() != 1 {
		t.Errorf("Expected 1 exception counted, got %d", d.metrics.Exceptions.Value())
	}
}

func TestDispatcher_SingleUnitDropsOtherIDs(t *testing.T) {
	registry := NewDeviceRegistry()
	registry.Add(5)
	d := testDispatcher(registry, WithSingleUnit(5))

	resp := d.process(&Request{
		UnitID:       9,
		FunctionCode: FuncReadCoils,
		Address:      0,
		Count:        1,
	})
	if resp != nil {
		t.Errorf("expected silence, got %+v", resp)
	}
	if d.metrics.RequestsDropped.Value() != 1 {
		t.Errorf("Expected 1 dropped, got %d", d.metrics.RequestsDropped.Value())
	}

	// The pinned unit itself still answers
	resp = d.process(&Request{
		UnitID:       5,
		FunctionCode: FuncReadCoils,
		Address:      0,
		Count:        1,
	})
	if resp == nil || resp.IsException {
		t.Errorf("expected normal response for pinned unit, got %+v", resp)
	}
}

func TestNewServer_SingleUnitRegistersItself(t *testing.T) {
	registry := NewDeviceRegistry()
	srv := NewServer(TCPCodec{}, registry,
		WithServerLogger(discardLogger()), WithSingleUnit(7))

	if _, ok := srv.Registry().Lookup(7); !ok {
		t.Error("pinned unit missing from registry")
	}
}
