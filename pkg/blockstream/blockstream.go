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

// Package blockstream provides the integrity-checked block framing used
// by KDBX files: SHA-256 hashed blocks for version 3 and HMAC-SHA-256
// authenticated blocks for version 4.
//
// Readers verify each block before releasing any of its bytes.  Writers
// emit the terminating empty block on Close and do not close the
// underlying writer.
package blockstream // import "zombiezen.com/go/kdbx/pkg/blockstream"

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"

	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
)

// ErrCorruptBlock is returned when a block fails verification.
var ErrCorruptBlock = errors.New("blockstream: corrupt block")

// DefaultBlockSize is the payload size of every block but the last.
const DefaultBlockSize = 1 << 20

// maxBlockSize bounds the length prefix accepted from a file.
const maxBlockSize = 256 << 20

var errClosed = errors.New("blockstream: write to closed writer")

func truncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: %w", ErrCorruptBlock, io.ErrUnexpectedEOF)
	}
	return err
}

// blockReader releases one verified block at a time.
type blockReader struct {
	r     io.Reader
	next  func() ([]byte, error)
	buf   []byte
	off   int
	err   error
	index uint64
}

func (br *blockReader) Read(p []byte) (int, error) {
	for br.off == len(br.buf) {
		if br.err != nil {
			return 0, br.err
		}
		br.buf, br.off = br.buf[:0], 0
		var b []byte
		b, br.err = br.next()
		if br.err == nil {
			br.buf = b
			br.index++
		}
	}
	n := copy(p, br.buf[br.off:])
	br.off += n
	return n, nil
}

// readPayload reads a block body of the given size into the reader's
// buffer, reusing its storage.
func (br *blockReader) readPayload(size uint64) ([]byte, error) {
	if size > maxBlockSize {
		return nil, fmt.Errorf("%w: block %d has size %d", ErrCorruptBlock, br.index, size)
	}
	b := br.buf[:0]
	if uint64(cap(b)) < size {
		b = make([]byte, size)
	}
	b = b[:size]
	if _, err := io.ReadFull(br.r, b); err != nil {
		return nil, truncated(err)
	}
	return b, nil
}

// NewHashedReader returns a reader that verifies and unwraps the hashed
// block stream in r.
func NewHashedReader(r io.Reader) io.Reader {
	br := &blockReader{r: r}
	br.next = func() ([]byte, error) {
		var hdr [4 + sha256.Size + 4]byte
		if _, err := io.ReadFull(br.r, hdr[:]); err != nil {
			return nil, truncated(err)
		}
		if idx := binary.LittleEndian.Uint32(hdr[:4]); uint64(idx) != br.index {
			return nil, fmt.Errorf("%w: block index %d, want %d", ErrCorruptBlock, idx, br.index)
		}
		sum := hdr[4 : 4+sha256.Size]
		size := binary.LittleEndian.Uint32(hdr[4+sha256.Size:])
		if size == 0 {
			var zero [sha256.Size]byte
			if subtle.ConstantTimeCompare(sum, zero[:]) != 1 {
				return nil, fmt.Errorf("%w: final block %d has non-zero hash", ErrCorruptBlock, br.index)
			}
			return nil, io.EOF
		}
		b, err := br.readPayload(uint64(size))
		if err != nil {
			return nil, err
		}
		actual := sha256.Sum256(b)
		if subtle.ConstantTimeCompare(sum, actual[:]) != 1 {
			return nil, fmt.Errorf("%w: block %d hash mismatch", ErrCorruptBlock, br.index)
		}
		return b, nil
	}
	return br
}

// NewHMACReader returns a reader that authenticates and unwraps the HMAC
// block stream in r.  hmacKey is the 64-byte key from kdbcrypt.HMACKey.
func NewHMACReader(r io.Reader, hmacKey []byte) io.Reader {
	br := &blockReader{r: r}
	br.next = func() ([]byte, error) {
		var hdr [sha256.Size + 4]byte
		if _, err := io.ReadFull(br.r, hdr[:]); err != nil {
			return nil, truncated(err)
		}
		size := int32(binary.LittleEndian.Uint32(hdr[sha256.Size:]))
		if size < 0 {
			return nil, fmt.Errorf("%w: block %d has negative size", ErrCorruptBlock, br.index)
		}
		b, err := br.readPayload(uint64(size))
		if err != nil {
			return nil, err
		}
		mac := blockMAC(hmacKey, br.index, b)
		if !hmac.Equal(mac, hdr[:sha256.Size]) {
			return nil, fmt.Errorf("%w: block %d authentication failed", ErrCorruptBlock, br.index)
		}
		if size == 0 {
			return nil, io.EOF
		}
		return b, nil
	}
	return br
}

// blockMAC computes HMAC-SHA-256(index ‖ size ‖ data) keyed for index.
func blockMAC(hmacKey []byte, index uint64, data []byte) []byte {
	key := kdbcrypt.BlockHMACKey(hmacKey, index)
	defer kdbcrypt.Zero(key)
	m := hmac.New(sha256.New, key)
	writeMACPrefix(m, index, len(data))
	m.Write(data)
	return m.Sum(nil)
}

func writeMACPrefix(h hash.Hash, index uint64, size int) {
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[:8], index)
	binary.LittleEndian.PutUint32(buf[8:], uint32(size))
	h.Write(buf[:])
}

// blockWriter buffers a block's payload and hands full blocks to emit.
type blockWriter struct {
	w      io.Writer
	buf    []byte
	index  uint64
	err    error
	emit   func(data []byte) error
	closed bool
}

func newBlockWriter(w io.Writer, blockSize int) *blockWriter {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &blockWriter{w: w, buf: make([]byte, 0, blockSize)}
}

func (bw *blockWriter) Write(p []byte) (n int, err error) {
	if bw.closed {
		return 0, errClosed
	}
	if bw.err != nil {
		return 0, bw.err
	}
	for len(p) > 0 {
		k := copy(bw.buf[len(bw.buf):cap(bw.buf)], p)
		bw.buf = bw.buf[:len(bw.buf)+k]
		p = p[k:]
		n += k
		if len(bw.buf) == cap(bw.buf) {
			if err := bw.flush(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

func (bw *blockWriter) flush() error {
	if bw.err = bw.emit(bw.buf); bw.err != nil {
		return bw.err
	}
	bw.index++
	bw.buf = bw.buf[:0]
	return nil
}

// Close writes any buffered data followed by the terminating block.
func (bw *blockWriter) Close() error {
	if bw.closed {
		return bw.err
	}
	bw.closed = true
	if bw.err != nil {
		return bw.err
	}
	if len(bw.buf) > 0 {
		if err := bw.flush(); err != nil {
			return err
		}
	}
	bw.err = bw.emit(nil)
	return bw.err
}

// NewHashedWriter returns a writer that frames its input as hashed blocks
// of blockSize bytes.  A blockSize of zero selects DefaultBlockSize.
func NewHashedWriter(w io.Writer, blockSize int) io.WriteCloser {
	bw := newBlockWriter(w, blockSize)
	bw.emit = func(data []byte) error {
		var hdr [4 + sha256.Size + 4]byte
		binary.LittleEndian.PutUint32(hdr[:4], uint32(bw.index))
		if len(data) > 0 {
			sum := sha256.Sum256(data)
			copy(hdr[4:], sum[:])
		}
		binary.LittleEndian.PutUint32(hdr[4+sha256.Size:], uint32(len(data)))
		if _, err := bw.w.Write(hdr[:]); err != nil {
			return err
		}
		_, err := bw.w.Write(data)
		return err
	}
	return bw
}

// NewHMACWriter returns a writer that frames its input as HMAC-authenticated
// blocks of blockSize bytes.  A blockSize of zero selects DefaultBlockSize.
func NewHMACWriter(w io.Writer, hmacKey []byte, blockSize int) io.WriteCloser {
	bw := newBlockWriter(w, blockSize)
	key := append([]byte(nil), hmacKey...)
	bw.emit = func(data []byte) error {
		var hdr [sha256.Size + 4]byte
		copy(hdr[:], blockMAC(key, bw.index, data))
		binary.LittleEndian.PutUint32(hdr[sha256.Size:], uint32(len(data)))
		if _, err := bw.w.Write(hdr[:]); err != nil {
			return err
		}
		_, err := bw.w.Write(data)
		if data == nil {
			kdbcrypt.Zero(key)
		}
		return err
	}
	return bw
}
