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
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"zombiezen.com/go/kdbx/pkg/innerstream"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/uuids"
	"zombiezen.com/go/kdbx/pkg/varmap"
)

// File header magic numbers
const (
	signature1           = 0x9aa2d903
	signature2           = 0xb54bfb67
	signature2PreRelease = 0xb54bfb66
)

// maxFieldSize bounds a single outer header field.
const maxFieldSize = 16 << 20

// Outer header field IDs
const (
	endOfHeaderField      = 0
	commentField          = 1
	cipherIDField         = 2
	compressionFlagsField = 3
	masterSeedField       = 4
	transformSeedField    = 5
	transformRoundsField  = 6
	encryptionIVField     = 7
	innerStreamKeyField   = 8
	streamStartBytesField = 9
	innerStreamIDField    = 10
	kdfParametersField    = 11
	publicCustomDataField = 12
)

var endOfHeader = []byte("\r\n\r\n")

const (
	seedSize        = 32
	streamStartSize = 32
)

// Compression is the payload compression algorithm.
type Compression uint32

// Compression algorithms
const (
	NoCompression   Compression = 0
	GZipCompression Compression = 1
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case GZipCompression:
		return "gzip"
	default:
		return fmt.Sprintf("Compression(%d)", uint32(c))
	}
}

// header is the unencrypted outer header.  A new header is built for
// every load and every save.
type header struct {
	version          Version
	comment          []byte
	cipherID         uuids.UUID
	compression      Compression
	masterSeed       []byte
	iv               []byte
	kdfParams        *varmap.Map
	publicCustomData *varmap.Map

	// Used by version 3 only.
	transformSeed    []byte
	transformRounds  uint64
	innerStreamKey   []byte
	streamStartBytes []byte
	innerStreamID    innerstream.ID

	// raw holds the exact bytes of the header as read or written,
	// from the signature through the end field.
	raw []byte
}

func (h *header) sum() []byte {
	s := sha256.Sum256(h.raw)
	return s[:]
}

// mac computes the header HMAC used by version 4.
func (h *header) mac(hmacKey []byte) []byte {
	k := kdbcrypt.BlockHMACKey(hmacKey, kdbcrypt.HeaderIndex)
	defer kdbcrypt.Zero(k)
	m := hmac.New(sha256.New, k)
	m.Write(h.raw)
	return m.Sum(nil)
}

// readHeader reads the outer header from r, up to and including the end
// field.
func readHeader(r io.Reader) (*header, error) {
	var raw bytes.Buffer
	rr := reader{r: io.TeeReader(r, &raw)}
	sig1 := rr.readUint32()
	sig2 := rr.readUint32()
	if rr.err != nil {
		if isTruncated(rr.err) {
			return nil, ErrWrongSignature
		}
		return nil, fmt.Errorf("kdbx: read header: %w", rr.err)
	}
	if sig1 != signature1 || (sig2 != signature2 && sig2 != signature2PreRelease) {
		return nil, ErrWrongSignature
	}
	h := &header{version: Version(rr.readUint32())}
	if rr.err != nil {
		return nil, headerReadError(rr.err)
	}
	if !h.version.supported() {
		return nil, fmt.Errorf("%w %v", ErrUnsupportedVersion, h.version)
	}
	for {
		id := rr.readByte()
		var size uint32
		if h.version.isV4() {
			size = rr.readUint32()
		} else {
			size = uint32(rr.readUint16())
		}
		val := rr.readBytes(size, maxFieldSize)
		if rr.err != nil {
			return nil, headerReadError(rr.err)
		}
		if id == endOfHeaderField {
			break
		}
		if err := h.setField(id, val); err != nil {
			return nil, err
		}
	}
	h.raw = raw.Bytes()
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func headerReadError(err error) error {
	if isTruncated(err) {
		return &FormatError{Op: "read header", Err: fmt.Errorf("truncated: %w", io.ErrUnexpectedEOF)}
	}
	if _, ok := err.(fieldTooLargeError); ok {
		return &FormatError{Op: "read header", Err: err}
	}
	return fmt.Errorf("kdbx: read header: %w", err)
}

func (h *header) setField(id byte, val []byte) error {
	const op = "read header"
	v4 := h.version.isV4()
	switch id {
	case commentField:
		h.comment = val
	case cipherIDField:
		if err := verifyFieldSize("cipher ID", val, 16); err != nil {
			return &FormatError{Op: op, Err: err}
		}
		copy(h.cipherID[:], val)
	case compressionFlagsField:
		if err := verifyFieldSize("compression flags", val, 4); err != nil {
			return &FormatError{Op: op, Err: err}
		}
		h.compression = Compression(binary.LittleEndian.Uint32(val))
		if h.compression > GZipCompression {
			return unsupported(fmt.Errorf("compression %d", uint32(h.compression)))
		}
	case masterSeedField:
		if err := verifyFieldSize("master seed", val, seedSize); err != nil {
			return &FormatError{Op: op, Err: err}
		}
		h.masterSeed = val
	case encryptionIVField:
		h.iv = val
	case transformSeedField:
		if v4 {
			break
		}
		if err := verifyFieldSize("transform seed", val, seedSize); err != nil {
			return &FormatError{Op: op, Err: err}
		}
		h.transformSeed = val
	case transformRoundsField:
		if v4 {
			break
		}
		if err := verifyFieldSize("transform rounds", val, 8); err != nil {
			return &FormatError{Op: op, Err: err}
		}
		h.transformRounds = binary.LittleEndian.Uint64(val)
	case innerStreamKeyField:
		if !v4 {
			h.innerStreamKey = val
		}
	case streamStartBytesField:
		if v4 {
			break
		}
		if err := verifyFieldSize("stream start bytes", val, streamStartSize); err != nil {
			return &FormatError{Op: op, Err: err}
		}
		h.streamStartBytes = val
	case innerStreamIDField:
		if v4 {
			break
		}
		if err := verifyFieldSize("inner stream ID", val, 4); err != nil {
			return &FormatError{Op: op, Err: err}
		}
		h.innerStreamID = innerstream.ID(binary.LittleEndian.Uint32(val))
	case kdfParametersField:
		m, err := varmap.Unmarshal(val)
		if err != nil {
			return &FormatError{Op: "read KDF parameters", Err: err}
		}
		h.kdfParams = m
	case publicCustomDataField:
		m, err := varmap.Unmarshal(val)
		if err != nil {
			return &FormatError{Op: "read public custom data", Err: err}
		}
		h.publicCustomData = m
	default:
		return formatError(op, "unknown header field %d", id)
	}
	return nil
}

// validate checks that every field needed to decrypt the file is present.
func (h *header) validate() error {
	const op = "read header"
	switch {
	case h.cipherID.IsZero():
		return formatError(op, "missing cipher ID")
	case h.masterSeed == nil:
		return formatError(op, "missing master seed")
	case h.iv == nil:
		return formatError(op, "missing encryption IV")
	}
	if h.version.isV4() {
		if h.kdfParams == nil {
			return formatError(op, "missing KDF parameters")
		}
		return nil
	}
	switch {
	case h.transformSeed == nil:
		return formatError(op, "missing transform seed")
	case h.streamStartBytes == nil:
		return formatError(op, "missing stream start bytes")
	case len(h.innerStreamKey) == 0 && h.innerStreamID != innerstream.None:
		return formatError(op, "missing inner stream key")
	}
	return nil
}

// marshal serializes h in canonical field order and stores the result
// in h.raw.
func (h *header) marshal() []byte {
	var buf bytes.Buffer
	w := &writer{w: &buf}
	w.writeUint32(signature1)
	w.writeUint32(signature2)
	w.writeUint32(uint32(h.version))
	v4 := h.version.isV4()
	field := func(id byte, val []byte) {
		w.writeByte(id)
		if v4 {
			w.writeUint32(uint32(len(val)))
		} else {
			w.writeUint16(uint16(len(val)))
		}
		w.write(val)
	}
	field(cipherIDField, h.cipherID[:])
	field(compressionFlagsField, uint32Bytes(uint32(h.compression)))
	field(masterSeedField, h.masterSeed)
	if !v4 {
		field(transformSeedField, h.transformSeed)
		field(transformRoundsField, uint64Bytes(h.transformRounds))
	} else {
		field(kdfParametersField, h.kdfParams.Marshal())
	}
	field(encryptionIVField, h.iv)
	if !v4 {
		field(innerStreamKeyField, h.innerStreamKey)
		field(streamStartBytesField, h.streamStartBytes)
		field(innerStreamIDField, uint32Bytes(uint32(h.innerStreamID)))
	} else if h.publicCustomData.Len() > 0 {
		field(publicCustomDataField, h.publicCustomData.Marshal())
	}
	field(endOfHeaderField, endOfHeader)
	h.raw = buf.Bytes()
	return h.raw
}
