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
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// RegisterStore holds the four addressable memory domains of one device:
// coils, discrete inputs, holding registers and input registers.
//
// Each domain is a sparse map guarded by its own lock, so a long
// multi-register write blocks concurrent register access but never coil
// access. Reading an address that was never written returns the domain's
// zero value; writes upsert unconditionally with no upper address bound.
// Memory therefore grows with the number of distinct addresses ever
// written, unlike a fixed hardware register bank.
type RegisterStore struct {
	coilMu sync.RWMutex
	coils  map[uint16]bool

	discreteMu     sync.RWMutex
	discreteInputs map[uint16]bool

	holdingMu   sync.RWMutex
	holdingRegs map[uint16]uint16

	inputMu   sync.RWMutex
	inputRegs map[uint16]uint16
}

// NewRegisterStore creates an empty store.
func NewRegisterStore() *RegisterStore {
	return &RegisterStore{
		coils:          make(map[uint16]bool),
		discreteInputs: make(map[uint16]bool),
		holdingRegs:    make(map[uint16]uint16),
		inputRegs:      make(map[uint16]uint16),
	}
}

// SetCoil sets a coil value.
func (s *RegisterStore) SetCoil(addr uint16, value bool) {
	s.coilMu.Lock()
	s.coils[addr] = value
	s.coilMu.Unlock()
}

// Coil returns a coil value, false if never written.
func (s *RegisterStore) Coil(addr uint16) bool {
	s.coilMu.RLock()
	defer s.coilMu.RUnlock()
	return s.coils[addr]
}

// SetDiscreteInput sets a discrete input value.
func (s *RegisterStore) SetDiscreteInput(addr uint16, value bool) {
	s.discreteMu.Lock()
	s.discreteInputs[addr] = value
	s.discreteMu.Unlock()
}

// DiscreteInput returns a discrete input value, false if never written.
func (s *RegisterStore) DiscreteInput(addr uint16) bool {
	s.discreteMu.RLock()
	defer s.discreteMu.RUnlock()
	return s.discreteInputs[addr]
}

// SetHoldingRegister sets a holding register value.
func (s *RegisterStore) SetHoldingRegister(addr, value uint16) {
	s.holdingMu.Lock()
	s.holdingRegs[addr] = value
	s.holdingMu.Unlock()
}

// HoldingRegister returns a holding register value, 0 if never written.
func (s *RegisterStore) HoldingRegister(addr uint16) uint16 {
	s.holdingMu.RLock()
	defer s.holdingMu.RUnlock()
	return s.holdingRegs[addr]
}

// SetInputRegister sets an input register value.
func (s *RegisterStore) SetInputRegister(addr, value uint16) {
	s.inputMu.Lock()
	s.inputRegs[addr] = value
	s.inputMu.Unlock()
}

// InputRegister returns an input register value, 0 if never written.
func (s *RegisterStore) InputRegister(addr uint16) uint16 {
	s.inputMu.RLock()
	defer s.inputMu.RUnlock()
	return s.inputRegs[addr]
}

// ReadCoils returns count coil values starting at addr. The lock is held for
// the whole range, so the result is a consistent snapshot of the coil domain.
func (s *RegisterStore) ReadCoils(addr, count uint16) []bool {
	s.coilMu.RLock()
	defer s.coilMu.RUnlock()
	values := make([]bool, count)
	for i := range values {
		values[i] = s.coils[addr+uint16(i)]
	}
	return values
}

// ReadDiscreteInputs returns count discrete input values starting at addr.
func (s *RegisterStore) ReadDiscreteInputs(addr, count uint16) []bool {
	s.discreteMu.RLock()
	defer s.discreteMu.RUnlock()
	values := make([]bool, count)
	for i := range values {
		values[i] = s.discreteInputs[addr+uint16(i)]
	}
	return values
}

// ReadHoldingRegisters returns count holding register values starting at addr.
func (s *RegisterStore) ReadHoldingRegisters(addr, count uint16) []uint16 {
	s.holdingMu.RLock()
	defer s.holdingMu.RUnlock()
	values := make([]uint16, count)
	for i := range values {
		values[i] = s.holdingRegs[addr+uint16(i)]
	}
	return values
}

// ReadInputRegisters returns count input register values starting at addr.
func (s *RegisterStore) ReadInputRegisters(addr, count uint16) []uint16 {
	s.inputMu.RLock()
	defer s.inputMu.RUnlock()
	values := make([]uint16, count)
	for i := range values {
		values[i] = s.inputRegs[addr+uint16(i)]
	}
	return values
}

// WriteCoils writes consecutive coil values starting at addr under one lock
// acquisition.
func (s *RegisterStore) WriteCoils(addr uint16, values []bool) {
	s.coilMu.Lock()
	for i, v := range values {
		s.coils[addr+uint16(i)] = v
	}
	s.coilMu.Unlock()
}

// WriteHoldingRegisters writes consecutive holding register values starting
// at addr under one lock acquisition.
func (s *RegisterStore) WriteHoldingRegisters(addr uint16, values []uint16) {
	s.holdingMu.Lock()
	for i, v := range values {
		s.holdingRegs[addr+uint16(i)] = v
	}
	s.holdingMu.Unlock()
}

// DeviceRegistry maps unit ids to their register stores for servers hosting
// multiple simulated devices. Membership is mutable while the server runs.
type DeviceRegistry struct {
	devices *xsync.MapOf[UnitID, *RegisterStore]
}

// NewDeviceRegistry creates an empty registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		devices: xsync.NewMapOf[UnitID, *RegisterStore](),
	}
}

// Add registers a device, creating its store if absent, and returns the
// store.
func (r *DeviceRegistry) Add(id UnitID) *RegisterStore {
	store, _ := r.devices.LoadOrCompute(id, NewRegisterStore)
	return store
}

// Remove deletes a device and its store.
func (r *DeviceRegistry) Remove(id UnitID) {
	r.devices.Delete(id)
}

// Lookup returns the store for a device. A miss returns (nil, false); it is
// the caller's decision whether that is an exception or a silent drop.
func (r *DeviceRegistry) Lookup(id UnitID) (*RegisterStore, bool) {
	return r.devices.Load(id)
}

// UnitIDs returns the currently registered unit ids.
func (r *DeviceRegistry) UnitIDs() []UnitID {
	ids := make([]UnitID, 0)
	r.devices.Range(func(id UnitID, _ *RegisterStore) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// Len returns the number of registered devices.
func (r *DeviceRegistry) Len() int {
	return r.devices.Size()
}
