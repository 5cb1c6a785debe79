// Copyright 2016 The Sandpass Authors
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

// Package varmap encodes and decodes the typed key/value dictionaries
// stored in KDBX 4 headers (KDF parameters and public custom data).
package varmap // import "zombiezen.com/go/kdbx/pkg/varmap"

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Type is the wire type of a value.
type Type byte

// Value types.
const (
	TypeUint32    Type = 0x04
	TypeUint64    Type = 0x05
	TypeBool      Type = 0x08
	TypeInt32     Type = 0x0c
	TypeInt64     Type = 0x0d
	TypeString    Type = 0x18
	TypeByteArray Type = 0x42

	typeEnd Type = 0
)

func (t Type) String() string {
	switch t {
	case TypeUint32:
		return "uint32"
	case TypeUint64:
		return "uint64"
	case TypeBool:
		return "bool"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeString:
		return "string"
	case TypeByteArray:
		return "bytes"
	default:
		return fmt.Sprintf("Type(%#02x)", byte(t))
	}
}

const (
	version      = 0x0100
	criticalMask = 0xff00
)

// ErrFormat is returned when a dictionary cannot be decoded.
var ErrFormat = errors.New("varmap: invalid format")

// An Item is a single typed value.
type Item struct {
	Name  string
	Type  Type
	Value []byte // little-endian encoding for numeric types
}

// A Map is an ordered dictionary.  The zero value is an empty map.
type Map struct {
	items []Item
}

// Len returns the number of items in m.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.items)
}

// Items returns the items in insertion order.
func (m *Map) Items() []Item {
	if m == nil {
		return nil
	}
	items := make([]Item, len(m.items))
	copy(items, m.items)
	return items
}

// Clone returns a deep copy of m.
func (m *Map) Clone() *Map {
	c := new(Map)
	if m == nil {
		return c
	}
	for _, it := range m.items {
		c.items = append(c.items, Item{
			Name:  it.Name,
			Type:  it.Type,
			Value: append([]byte(nil), it.Value...),
		})
	}
	return c
}

func (m *Map) find(name string) int {
	if m == nil {
		return -1
	}
	for i := range m.items {
		if m.items[i].Name == name {
			return i
		}
	}
	return -1
}

func (m *Map) set(name string, t Type, v []byte) {
	if i := m.find(name); i >= 0 {
		m.items[i].Type = t
		m.items[i].Value = v
		return
	}
	m.items = append(m.items, Item{Name: name, Type: t, Value: v})
}

func (m *Map) get(name string, t Type) ([]byte, bool) {
	i := m.find(name)
	if i < 0 || m.items[i].Type != t {
		return nil, false
	}
	return m.items[i].Value, true
}

// Delete removes name from m.
func (m *Map) Delete(name string) {
	if i := m.find(name); i >= 0 {
		m.items = append(m.items[:i], m.items[i+1:]...)
	}
}

// Has reports whether m has an item called name of any type.
func (m *Map) Has(name string) bool {
	return m.find(name) >= 0
}

// SetUint32 sets name to a uint32 value.
func (m *Map) SetUint32(name string, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	m.set(name, TypeUint32, b[:])
}

// Uint32 returns the uint32 value of name.
func (m *Map) Uint32(name string) (uint32, bool) {
	b, ok := m.get(name, TypeUint32)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

// SetUint64 sets name to a uint64 value.
func (m *Map) SetUint64(name string, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	m.set(name, TypeUint64, b[:])
}

// Uint64 returns the uint64 value of name.
func (m *Map) Uint64(name string) (uint64, bool) {
	b, ok := m.get(name, TypeUint64)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

// SetBool sets name to a boolean value.
func (m *Map) SetBool(name string, v bool) {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	m.set(name, TypeBool, b)
}

// Bool returns the boolean value of name.
func (m *Map) Bool(name string) (v, ok bool) {
	b, ok := m.get(name, TypeBool)
	if !ok {
		return false, false
	}
	return b[0] != 0, true
}

// SetInt32 sets name to an int32 value.
func (m *Map) SetInt32(name string, v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	m.set(name, TypeInt32, b[:])
}

// Int32 returns the int32 value of name.
func (m *Map) Int32(name string) (int32, bool) {
	b, ok := m.get(name, TypeInt32)
	if !ok {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(b)), true
}

// SetInt64 sets name to an int64 value.
func (m *Map) SetInt64(name string, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	m.set(name, TypeInt64, b[:])
}

// Int64 returns the int64 value of name.
func (m *Map) Int64(name string) (int64, bool) {
	b, ok := m.get(name, TypeInt64)
	if !ok {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(b)), true
}

// SetString sets name to a string value.
func (m *Map) SetString(name string, v string) {
	m.set(name, TypeString, []byte(v))
}

// StringValue returns the string value of name.
func (m *Map) StringValue(name string) (string, bool) {
	b, ok := m.get(name, TypeString)
	if !ok {
		return "", false
	}
	return string(b), true
}

// SetBytes sets name to a byte array value.  The map keeps its own copy.
func (m *Map) SetBytes(name string, v []byte) {
	m.set(name, TypeByteArray, append([]byte(nil), v...))
}

// Bytes returns the byte array value of name.  The caller must not
// modify the returned slice.
func (m *Map) Bytes(name string) ([]byte, bool) {
	return m.get(name, TypeByteArray)
}

func fixedSize(t Type) int {
	switch t {
	case TypeBool:
		return 1
	case TypeUint32, TypeInt32:
		return 4
	case TypeUint64, TypeInt64:
		return 8
	case TypeString, TypeByteArray:
		return -1
	default:
		return 0
	}
}

// Unmarshal decodes a dictionary.
func Unmarshal(data []byte) (*Map, error) {
	r := bytes.NewReader(data)
	var vbuf [2]byte
	if _, err := io.ReadFull(r, vbuf[:]); err != nil {
		return nil, fmt.Errorf("%w: missing version", ErrFormat)
	}
	if v := binary.LittleEndian.Uint16(vbuf[:]); v&criticalMask > version&criticalMask {
		return nil, fmt.Errorf("%w: unsupported version %#04x", ErrFormat, v)
	}
	m := new(Map)
	for {
		tb, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: missing terminator", ErrFormat)
		}
		t := Type(tb)
		if t == typeEnd {
			return m, nil
		}
		size := fixedSize(t)
		if size == 0 {
			return nil, fmt.Errorf("%w: unknown type %v", ErrFormat, t)
		}
		name, err := readChunk(r)
		if err != nil {
			return nil, err
		}
		val, err := readChunk(r)
		if err != nil {
			return nil, err
		}
		if size > 0 && len(val) != size {
			return nil, fmt.Errorf("%w: %s value %q has size %d", ErrFormat, t, name, len(val))
		}
		m.items = append(m.items, Item{Name: string(name), Type: t, Value: val})
	}
}

func readChunk(r *bytes.Reader) ([]byte, error) {
	var lbuf [4]byte
	if _, err := io.ReadFull(r, lbuf[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated length", ErrFormat)
	}
	n := int64(int32(binary.LittleEndian.Uint32(lbuf[:])))
	if n < 0 || n > int64(r.Len()) {
		return nil, fmt.Errorf("%w: bad length %d", ErrFormat, n)
	}
	b := make([]byte, n)
	io.ReadFull(r, b)
	return b, nil
}

// Marshal encodes m.
func (m *Map) Marshal() []byte {
	buf := new(bytes.Buffer)
	var scratch [4]byte
	binary.LittleEndian.PutUint16(scratch[:2], version)
	buf.Write(scratch[:2])
	for _, it := range m.Items() {
		buf.WriteByte(byte(it.Type))
		binary.LittleEndian.PutUint32(scratch[:], uint32(len(it.Name)))
		buf.Write(scratch[:])
		buf.WriteString(it.Name)
		binary.LittleEndian.PutUint32(scratch[:], uint32(len(it.Value)))
		buf.Write(scratch[:])
		buf.Write(it.Value)
	}
	buf.WriteByte(byte(typeEnd))
	return buf.Bytes()
}
