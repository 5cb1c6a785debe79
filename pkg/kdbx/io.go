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
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

type reader struct {
	r   io.Reader
	err error
}

func (r *reader) readFull(p []byte) {
	if r.err != nil {
		return
	}
	_, r.err = io.ReadFull(r.r, p)
}

func (r *reader) readByte() byte {
	var buf [1]byte
	r.readFull(buf[:])
	return buf[0]
}

func (r *reader) readUint16() uint16 {
	var buf [2]byte
	r.readFull(buf[:])
	return binary.LittleEndian.Uint16(buf[:])
}

func (r *reader) readUint32() uint32 {
	var buf [4]byte
	r.readFull(buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

// readBytes reads a payload of at most max bytes.
func (r *reader) readBytes(size uint32, max int64) []byte {
	if r.err != nil {
		return nil
	}
	if int64(size) > max {
		r.err = fieldTooLargeError{size: int64(size), max: max}
		return nil
	}
	b := make([]byte, size)
	r.readFull(b)
	return b
}

type fieldTooLargeError struct {
	size int64
	max  int64
}

func (e fieldTooLargeError) Error() string {
	return fmt.Sprintf("field size %d exceeds limit %d", e.size, e.max)
}

type writer struct {
	w   io.Writer
	err error
}

func (w *writer) write(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

func (w *writer) writeByte(b byte) {
	w.write([]byte{b})
}

func (w *writer) writeUint16(i uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], i)
	w.write(buf[:])
}

func (w *writer) writeUint32(i uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], i)
	w.write(buf[:])
}

func uint32Bytes(i uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], i)
	return buf[:]
}

func uint64Bytes(i uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], i)
	return buf[:]
}

// limitReader returns ErrResourceExhausted once more than n bytes have
// been read from r.
type limitReader struct {
	r io.Reader
	n int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if l.n <= 0 {
		var probe [1]byte
		n, err := l.r.Read(probe[:])
		if n > 0 {
			return 0, ErrResourceExhausted
		}
		if err == nil {
			err = io.ErrNoProgress
		}
		return 0, err
	}
	if int64(len(p)) > l.n {
		p = p[:l.n]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	return n, err
}

// newDecompressor wraps r according to c, limiting the output to max bytes.
func newDecompressor(r io.Reader, c Compression, max int64) (io.Reader, error) {
	switch c {
	case NoCompression:
		return r, nil
	case GZipCompression:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("kdbx: decompress: %w", err)
		}
		return &limitReader{r: zr, n: max}, nil
	default:
		return nil, unsupported(fmt.Errorf("compression %d", uint32(c)))
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// newCompressor wraps w according to c.  Closing the returned writer
// flushes it but does not close w.
func newCompressor(w io.Writer, c Compression) io.WriteCloser {
	if c == GZipCompression {
		return gzip.NewWriter(w)
	}
	return nopWriteCloser{w}
}

// gunzip decompresses an inline blob.
func gunzip(data []byte, max int64) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	out, err := io.ReadAll(&limitReader{r: zr, n: max})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func gzipBytes(data []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(data)
	zw.Close()
	return buf.Bytes()
}

// isTruncated reports whether err means the input ended early.
func isTruncated(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
