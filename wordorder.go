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
	"fmt"
	"math"
)

// ByteOrder selects how register bytes compose into multi-byte values.
//
// The letters name byte positions from most to least significant of the
// composed value: ABCD is plain big-endian, DCBA plain little-endian, BADC
// big-endian with the two bytes of each 16-bit word swapped, CDAB
// little-endian with the word bytes swapped (word-swapped big-endian).
type ByteOrder int

const (
	OrderABCD ByteOrder = iota
	OrderDCBA
	OrderBADC
	OrderCDAB
)

// String returns the conventional name of the byte order.
func (o ByteOrder) String() string {
	switch o {
	case OrderABCD:
		return "ABCD"
	case OrderDCBA:
		return "DCBA"
	case OrderBADC:
		return "BADC"
	case OrderCDAB:
		return "CDAB"
	default:
		return "unknown"
	}
}

// ParseByteOrder maps a name like "ABCD" to its ByteOrder.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch s {
	case "ABCD", "abcd", "":
		return OrderABCD, nil
	case "DCBA", "dcba":
		return OrderDCBA, nil
	case "BADC", "badc":
		return OrderBADC, nil
	case "CDAB", "cdab":
		return OrderCDAB, nil
	default:
		return 0, fmt.Errorf("modbus: unknown byte order %q", s)
	}
}

// Uint16 composes two bytes into a 16-bit value.
func (o ByteOrder) Uint16(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("%w: need 2 bytes, got %d", ErrInvalidDataLength, len(b))
	}
	switch o {
	case OrderABCD:
		return uint16(b[0])<<8 | uint16(b[1]), nil
	case OrderDCBA:
		return uint16(b[1])<<8 | uint16(b[0]), nil
	case OrderBADC:
		return uint16(b[1])<<8 | uint16(b[0]), nil
	default: // OrderCDAB
		return uint16(b[0])<<8 | uint16(b[1]), nil
	}
}

// PutUint16 writes a 16-bit value into b[:2].
func (o ByteOrder) PutUint16(b []byte, v uint16) {
	hi, lo := byte(v>>8), byte(v)
	switch o {
	case OrderABCD, OrderCDAB:
		b[0], b[1] = hi, lo
	default: // OrderDCBA, OrderBADC
		b[0], b[1] = lo, hi
	}
}

// Uint32 composes four bytes into a 32-bit value.
func (o ByteOrder) Uint32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("%w: need 4 bytes, got %d", ErrInvalidDataLength, len(b))
	}
	i := o.index4()
	return uint32(b[i[0]])<<24 | uint32(b[i[1]])<<16 | uint32(b[i[2]])<<8 | uint32(b[i[3]]), nil
}

// PutUint32 writes a 32-bit value into b[:4].
func (o ByteOrder) PutUint32(b []byte, v uint32) {
	i := o.index4()
	b[i[0]] = byte(v >> 24)
	b[i[1]] = byte(v >> 16)
	b[i[2]] = byte(v >> 8)
	b[i[3]] = byte(v)
}

// Uint64 composes eight bytes into a 64-bit value.
func (o ByteOrder) Uint64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("%w: need 8 bytes, got %d", ErrInvalidDataLength, len(b))
	}
	i := o.index8()
	var v uint64
	for n := 0; n < 8; n++ {
		v |= uint64(b[i[n]]) << (56 - 8*n)
	}
	return v, nil
}

// PutUint64 writes a 64-bit value into b[:8].
func (o ByteOrder) PutUint64(b []byte, v uint64) {
	i := o.index8()
	for n := 0; n < 8; n++ {
		b[i[n]] = byte(v >> (56 - 8*n))
	}
}

// index4 maps significance position (most significant first) to the byte
// offset carrying it within a 4-byte group.
func (o ByteOrder) index4() [4]int {
	switch o {
	case OrderABCD:
		return [4]int{0, 1, 2, 3}
	case OrderDCBA:
		return [4]int{3, 2, 1, 0}
	case OrderBADC:
		return [4]int{1, 0, 3, 2}
	default: // OrderCDAB
		return [4]int{2, 3, 0, 1}
	}
}

func (o ByteOrder) index8() [8]int {
	switch o {
	case OrderABCD:
		return [8]int{0, 1, 2, 3, 4, 5, 6, 7}
	case OrderDCBA:
		return [8]int{7, 6, 5, 4, 3, 2, 1, 0}
	case OrderBADC:
		return [8]int{1, 0, 3, 2, 5, 4, 7, 6}
	default: // OrderCDAB
		return [8]int{6, 7, 4, 5, 2, 3, 0, 1}
	}
}

// BytesToUint16s converts register bytes to 16-bit values. The input length
// must be a multiple of 2.
func BytesToUint16s(data []byte, order ByteOrder) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes not a multiple of 2", ErrInvalidDataLength, len(data))
	}
	values := make([]uint16, len(data)/2)
	for i := range values {
		v, err := order.Uint16(data[i*2:])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// Uint16sToBytes converts 16-bit values to register bytes.
func Uint16sToBytes(values []uint16, order ByteOrder) []byte {
	data := make([]byte, len(values)*2)
	for i, v := range values {
		order.PutUint16(data[i*2:], v)
	}
	return data
}

// BytesToUint32s converts register bytes to 32-bit values. The input length
// must be a multiple of 4.
func BytesToUint32s(data []byte, order ByteOrder) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes not a multiple of 4", ErrInvalidDataLength, len(data))
	}
	values := make([]uint32, len(data)/4)
	for i := range values {
		v, err := order.Uint32(data[i*4:])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// Uint32sToBytes converts 32-bit values to register bytes.
func Uint32sToBytes(values []uint32, order ByteOrder) []byte {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		order.PutUint32(data[i*4:], v)
	}
	return data
}

// BytesToUint64s converts register bytes to 64-bit values. The input length
// must be a multiple of 8.
func BytesToUint64s(data []byte, order ByteOrder) ([]uint64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("%w: %d bytes not a multiple of 8", ErrInvalidDataLength, len(data))
	}
	values := make([]uint64, len(data)/8)
	for i := range values {
		v, err := order.Uint64(data[i*8:])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// Uint64sToBytes converts 64-bit values to register bytes.
func Uint64sToBytes(values []uint64, order ByteOrder) []byte {
	data := make([]byte, len(values)*8)
	for i, v := range values {
		order.PutUint64(data[i*8:], v)
	}
	return data
}

// BytesToFloat32s converts register bytes to IEEE 754 single-precision
// values by bit reinterpretation of the composed 32-bit integers.
func BytesToFloat32s(data []byte, order ByteOrder) ([]float32, error) {
	raw, err := BytesToUint32s(data, order)
	if err != nil {
		return nil, err
	}
	values := make([]float32, len(raw))
	for i, v := range raw {
		values[i] = math.Float32frombits(v)
	}
	return values, nil
}

// Float32sToBytes converts IEEE 754 single-precision values to register bytes.
func Float32sToBytes(values []float32, order ByteOrder) []byte {
	raw := make([]uint32, len(values))
	for i, v := range values {
		raw[i] = math.Float32bits(v)
	}
	return Uint32sToBytes(raw, order)
}

// BytesToFloat64s converts register bytes to IEEE 754 double-precision
// values by bit reinterpretation of the composed 64-bit integers.
func BytesToFloat64s(data []byte, order ByteOrder) ([]float64, error) {
	raw, err := BytesToUint64s(data, order)
	if err != nil {
		return nil, err
	}
	values := make([]float64, len(raw))
	for i, v := range raw {
		values[i] = math.Float64frombits(v)
	}
	return values, nil
}

// Float64sToBytes converts IEEE 754 double-precision values to register bytes.
func Float64sToBytes(values []float64, order ByteOrder) []byte {
	raw := make([]uint64, len(values))
	for i, v := range values {
		raw[i] = math.Float64bits(v)
	}
	return Uint64sToBytes(raw, order)
}

// BoolsToBytes packs booleans into coil bytes, least significant bit first,
// zero-padding the unused high bits of a final partial byte.
func BoolsToBytes(values []bool) []byte {
	data := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			data[i/8] |= 1 << (i % 8)
		}
	}
	return data
}

// BytesToBools unpacks coil bytes into count booleans, ignoring any padding
// bits beyond count.
func BytesToBools(data []byte, count int) []bool {
	values := make([]bool, 0, count)
	for i := 0; i < count && i/8 < len(data); i++ {
		values = append(values, data[i/8]&(1<<(i%8)) != 0)
	}
	return values
}
