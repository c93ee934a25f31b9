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
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Register map CSV format. The header row names the columns; order does not
// matter. Required columns: unit, domain, address, value. Domain is one of
// coil, discrete, holding, input. Bit domains take 0/1 or true/false; the
// register domains take decimal or 0x-prefixed hex.

// RegisterMapEntry is one seeded data point of a simulated device.
type RegisterMapEntry struct {
	Unit    UnitID
	Domain  string
	Address uint16
	Value   uint16
}

// LoadRegisterMapFile reads a register map CSV from disk into the registry.
func LoadRegisterMapFile(path string, registry *DeviceRegistry) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open register map: %w", err)
	}
	defer f.Close()
	return LoadRegisterMap(f, registry)
}

// LoadRegisterMap parses register map CSV data and seeds the registry,
// creating device stores as units appear. Rows are applied in file order, so
// a later row for the same address wins.
func LoadRegisterMap(r io.Reader, registry *DeviceRegistry) error {
	entries, err := ParseRegisterMap(r)
	if err != nil {
		return err
	}
	for _, e := range entries {
		store := registry.Add(e.Unit)
		switch e.Domain {
		case "coil":
			store.SetCoil(e.Address, e.Value != 0)
		case "discrete":
			store.SetDiscreteInput(e.Address, e.Value != 0)
		case "holding":
			store.SetHoldingRegister(e.Address, e.Value)
		case "input":
			store.SetInputRegister(e.Address, e.Value)
		}
	}
	return nil
}

// ParseRegisterMap parses register map CSV data into entries without
// applying them.
func ParseRegisterMap(r io.Reader) ([]RegisterMapEntry, error) {
	csvReader := csv.NewReader(r)
	csvReader.TrimLeadingSpace = true

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty register map")
	}

	headerMap := make(map[string]int)
	for i, h := range records[0] {
		headerMap[strings.TrimSpace(strings.ToLower(h))] = i
	}
	for _, field := range []string{"unit", "domain", "address", "value"} {
		if _, ok := headerMap[field]; !ok {
			return nil, fmt.Errorf("missing required column %q", field)
		}
	}

	var entries []RegisterMapEntry
	for i, record := range records[1:] {
		entry, err := parseRegisterMapRecord(record, headerMap)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseRegisterMapRecord(record []string, headerMap map[string]int) (RegisterMapEntry, error) {
	var entry RegisterMapEntry

	getField := func(name string) string {
		if idx := headerMap[name]; idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	unit, err := strconv.ParseUint(getField("unit"), 10, 8)
	if err != nil {
		return entry, fmt.Errorf("invalid unit: %w", err)
	}
	entry.Unit = UnitID(unit)

	entry.Domain = strings.ToLower(getField("domain"))
	switch entry.Domain {
	case "coil", "discrete", "holding", "input":
	default:
		return entry, fmt.Errorf("unknown domain %q", entry.Domain)
	}

	addr, err := strconv.ParseUint(getField("address"), 0, 16)
	if err != nil {
		return entry, fmt.Errorf("invalid address: %w", err)
	}
	entry.Address = uint16(addr)

	value := getField("value")
	switch entry.Domain {
	case "coil", "discrete":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return entry, fmt.Errorf("invalid bit value %q: %w", value, err)
		}
		if b {
			entry.Value = 1
		}
	default:
		v, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return entry, fmt.Errorf("invalid register value %q: %w", value, err)
		}
		entry.Value = uint16(v)
	}

	return entry, nil
}
