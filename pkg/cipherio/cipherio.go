// Copyright 2016 Ross Light
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

// Package cipherio provides I/O interfaces for encryption streams.
//
// Block modes (CBC) are padded and unpadded at the stream boundaries.
// Stream ciphers (ChaCha20) are wrapped so that both kinds of cipher
// present the same io.Reader and io.WriteCloser shapes to callers.
package cipherio // import "zombiezen.com/go/kdbx/pkg/cipherio"

import (
	"crypto/cipher"
	"errors"
	"io"

	"zombiezen.com/go/kdbx/pkg/padding"
)

const defaultBufSize = 4096

type reader struct {
	r    io.Reader
	mode cipher.BlockMode
	pad  padding.Padding

	rbuf  []byte
	buf   []byte // ciphertext not yet decrypted
	dec   []byte // decryption scratch
	plain []byte // decrypted bytes not yet returned
	err   error
}

// NewReader creates a new reader that decrypts and strips padding from r.
// The final block is held back until r reports io.EOF, so padding errors
// are only ever reported at the end of the stream.
func NewReader(r io.Reader, mode cipher.BlockMode, pad padding.Padding) io.Reader {
	return &reader{
		r:    r,
		mode: mode,
		pad:  pad,
		rbuf: make([]byte, defaultBufSize),
	}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.plain) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		r.fill()
	}
	n := copy(p, r.plain)
	r.plain = r.plain[n:]
	return n, nil
}

func (r *reader) fill() {
	bs := r.mode.BlockSize()
	n, err := r.r.Read(r.rbuf)
	r.buf = append(r.buf, r.rbuf[:n]...)
	switch {
	case err == io.EOF:
		r.finish()
		return
	case err != nil:
		r.err = err
		return
	}
	whole := len(r.buf) - len(r.buf)%bs
	if whole <= bs {
		// Keep the last complete block: it may carry the padding.
		return
	}
	avail := whole - bs
	r.dec = append(r.dec[:0], r.buf[:avail]...)
	r.mode.CryptBlocks(r.dec, r.dec)
	r.buf = append(r.buf[:0], r.buf[avail:]...)
	r.plain = r.dec
}

func (r *reader) finish() {
	bs := r.mode.BlockSize()
	if len(r.buf) == 0 || len(r.buf)%bs != 0 {
		r.err = io.ErrUnexpectedEOF
		return
	}
	r.dec = append(r.dec[:0], r.buf...)
	r.buf = r.buf[:0]
	r.mode.CryptBlocks(r.dec, r.dec)
	plain, err := r.pad.Strip(r.dec, bs)
	if err != nil {
		r.err = err
		return
	}
	r.plain = plain
	r.err = io.EOF
}

type writer struct {
	w    io.Writer
	mode cipher.BlockMode
	pad  padding.Padding

	buf  []byte // always a whole number of blocks long
	nbuf int
	err  error
}

// NewWriter creates a new writer that encrypts its input and writes to w.
// Closing the writer adds the final padding but does not close w.
func NewWriter(w io.Writer, mode cipher.BlockMode, pad padding.Padding) io.WriteCloser {
	return newWriter(w, mode, pad, defaultBufSize)
}

func newWriter(w io.Writer, mode cipher.BlockMode, pad padding.Padding, bufSize int) io.WriteCloser {
	bs := mode.BlockSize()
	if bs > bufSize {
		panic("cipherio: block size larger than buffer")
	}
	bufSize -= bufSize % bs
	return &writer{
		w:    w,
		mode: mode,
		pad:  pad,
		buf:  make([]byte, bufSize),
	}
}

func (w *writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n := len(p)
	for len(p) > 0 {
		k := copy(w.buf[w.nbuf:], p)
		w.nbuf += k
		p = p[k:]
		if w.nbuf < len(w.buf) {
			continue
		}
		consumed := n - len(p) - w.nbuf
		if err := w.flush(w.buf); err != nil {
			return consumed, err
		}
		w.nbuf = 0
	}
	return n, nil
}

func (w *writer) flush(b []byte) error {
	w.mode.CryptBlocks(b, b)
	if _, err := w.w.Write(b); err != nil {
		w.err = err
		return err
	}
	return nil
}

func (w *writer) Close() error {
	if w.err == errClosed {
		return nil
	} else if w.err != nil {
		return w.err
	}
	last := w.pad.Pad(w.buf[:w.nbuf], w.mode.BlockSize())
	err := w.flush(last)
	w.nbuf = 0
	w.err = errClosed
	return err
}

var errClosed = errors.New("cipherio: write on closed writer")

// NewStreamReader returns a reader that decrypts r with the stream cipher s.
func NewStreamReader(r io.Reader, s cipher.Stream) io.Reader {
	return cipher.StreamReader{S: s, R: r}
}

type streamWriter struct {
	w   io.Writer
	s   cipher.Stream
	buf []byte
	err error
}

// NewStreamWriter returns a writer that encrypts its input with the stream
// cipher s and writes to w.  Unlike cipher.StreamWriter, closing the
// returned writer does not close w.
func NewStreamWriter(w io.Writer, s cipher.Stream) io.WriteCloser {
	return &streamWriter{w: w, s: s, buf: make([]byte, defaultBufSize)}
}

func (sw *streamWriter) Write(p []byte) (int, error) {
	if sw.err != nil {
		return 0, sw.err
	}
	var n int
	for len(p) > 0 {
		chunk := p
		if len(chunk) > len(sw.buf) {
			chunk = chunk[:len(sw.buf)]
		}
		out := sw.buf[:len(chunk)]
		sw.s.XORKeyStream(out, chunk)
		nn, err := sw.w.Write(out)
		n += nn
		if err != nil {
			sw.err = err
			return n, err
		}
		p = p[len(chunk):]
	}
	return n, nil
}

func (sw *streamWriter) Close() error {
	if sw.err == errClosed {
		return nil
	} else if sw.err != nil {
		return sw.err
	}
	sw.err = errClosed
	return nil
}
