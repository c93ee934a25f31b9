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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterStore_ZeroDefaults(t *testing.T) {
	store := NewRegisterStore()

	assert.False(t, store.Coil(0))
	assert.False(t, store.DiscreteInput(100))
	assert.Equal(t, uint16(0), store.HoldingRegister(65535))
	assert.Equal(t, uint16(0), store.InputRegister(42))
}

func TestRegisterStore_DomainsAreIndependent(t *testing.T) {
	store := NewRegisterStore()

	store.SetCoil(5, true)
	store.SetHoldingRegister(5, 1234)

	assert.True(t, store.Coil(5))
	assert.False(t, store.DiscreteInput(5))
	assert.Equal(t, uint16(1234), store.HoldingRegister(5))
	assert.Equal(t, uint16(0), store.InputRegister(5))
}

func TestRegisterStore_Upsert(t *testing.T) {
	store := NewRegisterStore()

	store.SetHoldingRegister(10, 1)
	store.SetHoldingRegister(10, 2)
	assert.Equal(t, uint16(2), store.HoldingRegister(10))

	store.SetCoil(10, true)
	store.SetCoil(10, false)
	assert.False(t, store.Coil(10))
}

func TestRegisterStore_BulkReadMixesWrittenAndDefault(t *testing.T) {
	store := NewRegisterStore()
	store.SetHoldingRegister(100, 7)
	store.SetHoldingRegister(102, 9)

	values := store.ReadHoldingRegisters(100, 4)
	assert.Equal(t, []uint16{7, 0, 9, 0}, values)
}

func TestRegisterStore_BulkWrite(t *testing.T) {
	store := NewRegisterStore()

	store.WriteHoldingRegisters(0, []uint16{1, 2, 3})
	assert.Equal(t, []uint16{1, 2, 3}, store.ReadHoldingRegisters(0, 3))

	store.WriteCoils(10, []bool{true, false, true})
	assert.Equal(t, []bool{true, false, true}, store.ReadCoils(10, 3))
}

func TestRegisterStore_ZeroCountRead(t *testing.T) {
	store := NewRegisterStore()
	assert.Empty(t, store.ReadCoils(0, 0))
	assert.Empty(t, store.ReadHoldingRegisters(0, 0))
}

func TestRegisterStore_ConcurrentAccess(t *testing.T) {
	store := NewRegisterStore()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(base uint16) {
			defer wg.Done()
			for j := uint16(0); j < 100; j++ {
				store.SetHoldingRegister(base+j, j)
				store.ReadHoldingRegisters(base, 10)
				store.SetCoil(base+j, j%2 == 0)
				store.Coil(base + j)
			}
		}(uint16(i * 1000))
	}
	wg.Wait()

	assert.Equal(t, uint16(99), store.HoldingRegister(99))
}

func TestDeviceRegistry(t *testing.T) {
	registry := NewDeviceRegistry()
	assert.Equal(t, 0, registry.Len())

	store := registry.Add(1)
	require.NotNil(t, store)

	// Add is idempotent and keeps the existing store
	store.SetHoldingRegister(0, 42)
	again := registry.Add(1)
	assert.Equal(t, uint16(42), again.HoldingRegister(0))

	found, ok := registry.Lookup(1)
	require.True(t, ok)
	assert.Same(t, store, found)

	_, ok = registry.Lookup(9)
	assert.False(t, ok)

	registry.Add(2)
	assert.Equal(t, 2, registry.Len())
	assert.ElementsMatch(t, []UnitID{1, 2}, registry.UnitIDs())

	registry.Remove(1)
	_, ok = registry.Lookup(1)
	assert.False(t, ok)
	assert.Equal(t, 1, registry.Len())
}
