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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegisterMap(t *testing.T) {
	data := `unit,domain,address,value
1,holding,0,42
1,coil,10,true
2,input,0x10,0x08F2
2,discrete,3,1
`
	entries, err := ParseRegisterMap(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, RegisterMapEntry{Unit: 1, Domain: "holding", Address: 0, Value: 42}, entries[0])
	assert.Equal(t, RegisterMapEntry{Unit: 1, Domain: "coil", Address: 10, Value: 1}, entries[1])
	assert.Equal(t, RegisterMapEntry{Unit: 2, Domain: "input", Address: 0x10, Value: 0x08F2}, entries[2])
	assert.Equal(t, RegisterMapEntry{Unit: 2, Domain: "discrete", Address: 3, Value: 1}, entries[3])
}

func TestParseRegisterMap_HeaderOrderAndCase(t *testing.T) {
	data := `Value, Address, Domain, Unit
7, 1, holding, 9
`
	entries, err := ParseRegisterMap(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, RegisterMapEntry{Unit: 9, Domain: "holding", Address: 1, Value: 7}, entries[0])
}

func TestParseRegisterMap_Errors(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"missing column", "unit,domain,address\n1,holding,0\n"},
		{"bad domain", "unit,domain,address,value\n1,flags,0,1\n"},
		{"bad unit", "unit,domain,address,value\n300,holding,0,1\n"},
		{"bad bit value", "unit,domain,address,value\n1,coil,0,maybe\n"},
		{"bad register value", "unit,domain,address,value\n1,holding,0,70000\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRegisterMap(strings.NewReader(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadRegisterMap(t *testing.T) {
	data := `unit,domain,address,value
1,holding,0,42
1,holding,0,43
1,coil,10,1
3,input,5,99
`
	registry := NewDeviceRegistry()
	require.NoError(t, LoadRegisterMap(strings.NewReader(data), registry))

	assert.Equal(t, 2, registry.Len())

	store, ok := registry.Lookup(1)
	require.True(t, ok)
	// Later rows win
	assert.Equal(t, uint16(43), store.HoldingRegister(0))
	assert.True(t, store.Coil(10))

	store, ok = registry.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, uint16(99), store.InputRegister(5))
}
