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

package kdbx

import (
	"encoding/binary"
	"fmt"
	"io"

	"zombiezen.com/go/kdbx/pkg/innerstream"
)

// Inner header field IDs
const (
	innerEndField             = 0
	innerHeaderStreamIDField  = 1
	innerHeaderStreamKeyField = 2
	innerBinaryField          = 3
)

const binaryProtectedFlag = 0x01

// innerHeader is the plaintext header that precedes the XML document in
// version 4 files.
type innerHeader struct {
	streamID  innerstream.ID
	streamKey []byte
}

// readInnerHeader reads the inner header from r, adding every binary to
// pool in order.  No field may be larger than max bytes.
func readInnerHeader(r io.Reader, pool *BinaryPool, max int64) (*innerHeader, error) {
	const op = "read inner header"
	rr := reader{r: r}
	ih := new(innerHeader)
	for {
		id := rr.readByte()
		size := int32(rr.readUint32())
		if rr.err == nil && size < 0 {
			return nil, formatError(op, "negative field size %d", size)
		}
		val := rr.readBytes(uint32(size), max)
		if rr.err != nil {
			if isTruncated(rr.err) {
				return nil, &FormatError{Op: op, Err: fmt.Errorf("truncated: %w", io.ErrUnexpectedEOF)}
			}
			if _, ok := rr.err.(fieldTooLargeError); ok {
				return nil, fmt.Errorf("%w: %v", ErrResourceExhausted, rr.err)
			}
			return nil, fmt.Errorf("kdbx: %s: %w", op, rr.err)
		}
		switch id {
		case innerEndField:
			if ih.streamKey == nil {
				return nil, formatError(op, "missing inner stream key")
			}
			return ih, nil
		case innerHeaderStreamIDField:
			if err := verifyFieldSize("inner stream ID", val, 4); err != nil {
				return nil, &FormatError{Op: op, Err: err}
			}
			ih.streamID = innerstream.ID(binary.LittleEndian.Uint32(val))
		case innerHeaderStreamKeyField:
			ih.streamKey = val
		case innerBinaryField:
			if len(val) == 0 {
				return nil, formatError(op, "empty binary field")
			}
			pool.Add(&Binary{
				Data:      val[1:],
				Protected: val[0]&binaryProtectedFlag != 0,
			})
		default:
			return nil, formatError(op, "unknown field %d", id)
		}
	}
}

// writeInnerHeader writes ih followed by every binary in pool.
func writeInnerHeader(w io.Writer, ih *innerHeader, pool *BinaryPool) error {
	ww := &writer{w: w}
	field := func(id byte, parts ...[]byte) {
		n := 0
		for _, p := range parts {
			n += len(p)
		}
		ww.writeByte(id)
		ww.writeUint32(uint32(n))
		for _, p := range parts {
			ww.write(p)
		}
	}
	field(innerHeaderStreamIDField, uint32Bytes(uint32(ih.streamID)))
	field(innerHeaderStreamKeyField, ih.streamKey)
	for _, b := range pool.Binaries() {
		var flags byte
		if b.Protected {
			flags |= binaryProtectedFlag
		}
		field(innerBinaryField, []byte{flags}, b.Data)
	}
	field(innerEndField)
	if ww.err != nil {
		return fmt.Errorf("kdbx: write inner header: %w", ww.err)
	}
	return nil
}
