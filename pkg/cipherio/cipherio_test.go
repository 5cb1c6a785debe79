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

package cipherio

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"zombiezen.com/go/kdbx/pkg/padding"
)

// A cipherTest is a single test case of a reader or writer.
// The block cipher mode is assumed to encrypt by adding one to all bytes.
type cipherTest struct {
	plain     []byte
	cipher    []byte
	blockSize int
	readErr   error
}

var tests = []cipherTest{
	{plain: []byte{}, cipher: []byte{}, blockSize: 4, readErr: io.ErrUnexpectedEOF},
	{plain: []byte{}, cipher: []byte{1}, blockSize: 4, readErr: io.ErrUnexpectedEOF},
	{plain: []byte{}, cipher: []byte{1, 2, 3, 4, 5}, blockSize: 4, readErr: io.ErrUnexpectedEOF},
	{plain: []byte{}, cipher: []byte{5, 5, 5, 5}, blockSize: 4},
	{plain: []byte{42}, cipher: []byte{43, 4, 4, 4}, blockSize: 4},
	{plain: []byte{0, 1, 2, 3}, cipher: []byte{1, 2, 3, 4, 5, 5, 5, 5}, blockSize: 4},
	{plain: []byte{0, 1, 2, 3, 42}, cipher: []byte{1, 2, 3, 4, 43, 4, 4, 4}, blockSize: 4},
	{plain: []byte{0, 1, 2, 3, 4, 5, 6, 7}, cipher: []byte{1, 2, 3, 4, 5, 6, 7, 8, 5, 5, 5, 5}, blockSize: 4},
	{plain: []byte{0, 1, 2, 3, 4, 5, 6, 7, 42}, cipher: []byte{1, 2, 3, 4, 5, 6, 7, 8, 43, 4, 4, 4}, blockSize: 4},
	{plain: []byte{}, cipher: []byte{1, 2, 3, 9}, blockSize: 4, readErr: padding.ErrWrongPadding},
}

func TestReader(t *testing.T) {
	wrappers := []struct {
		name string
		in   func(io.Reader) io.Reader
		out  func(io.Reader) io.Reader
	}{
		{"plain", identity, identity},
		{"one byte input", iotest.OneByteReader, identity},
		{"one byte output", identity, iotest.OneByteReader},
		{"data with EOF", iotest.DataErrReader, identity},
	}
	for _, wrap := range wrappers {
		for _, test := range tests {
			mode := fakeBlockMode{size: test.blockSize, delta: 255}
			r := wrap.out(NewReader(wrap.in(bytes.NewReader(test.cipher)), mode, padding.PKCS7))
			plain := new(bytes.Buffer)
			_, err := io.Copy(plain, r)
			if err != test.readErr {
				t.Errorf("%s: read %v error = %v; want %v", wrap.name, test.cipher, err, test.readErr)
			}
			if test.readErr == nil && !bytes.Equal(plain.Bytes(), test.plain) {
				t.Errorf("%s: read %v = %v; want %v", wrap.name, test.cipher, plain.Bytes(), test.plain)
			}
		}
	}
}

func TestWriter(t *testing.T) {
	writers := []struct {
		name string
		new  func(io.Writer, cipher.BlockMode) io.WriteCloser
		src  func(io.Reader) io.Reader
	}{
		{"default", func(w io.Writer, m cipher.BlockMode) io.WriteCloser { return NewWriter(w, m, padding.PKCS7) }, identity},
		{"one byte", func(w io.Writer, m cipher.BlockMode) io.WriteCloser { return NewWriter(w, m, padding.PKCS7) }, iotest.OneByteReader},
		{"tight buffer", func(w io.Writer, m cipher.BlockMode) io.WriteCloser {
			return newWriter(w, m, padding.PKCS7, m.BlockSize())
		}, identity},
	}
	for _, wr := range writers {
		for _, test := range tests {
			if test.readErr != nil {
				continue
			}
			out := new(bytes.Buffer)
			w := wr.new(out, fakeBlockMode{size: test.blockSize, delta: 1})
			_, err := io.Copy(w, wr.src(bytes.NewReader(test.plain)))
			cerr := w.Close()
			if err != nil {
				t.Errorf("%s: write %v error: %v", wr.name, test.plain, err)
			}
			if cerr != nil {
				t.Errorf("%s: write %v Close() error: %v", wr.name, test.plain, cerr)
			}
			if !bytes.Equal(out.Bytes(), test.cipher) {
				t.Errorf("%s: write %v = %v; want %v", wr.name, test.plain, out.Bytes(), test.cipher)
			}
		}
	}
}

func TestWriter_CloseTwice(t *testing.T) {
	out := new(bytes.Buffer)
	w := NewWriter(out, fakeBlockMode{size: 4, delta: 1}, padding.PKCS7)
	if err := w.Close(); err != nil {
		t.Fatalf("first Close() = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() = %v; want <nil>", err)
	}
	if out.Len() != 4 {
		t.Errorf("wrote %d bytes; want 4", out.Len())
	}
	if _, err := w.Write([]byte{1}); err == nil {
		t.Error("Write after Close succeeded")
	}
}

func TestWriter_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	w := newWriter(failWriter{boom}, fakeBlockMode{size: 4, delta: 1}, padding.PKCS7, 4)
	if _, err := w.Write([]byte{1, 2, 3, 4, 5}); err != boom {
		t.Errorf("Write error = %v; want %v", err, boom)
	}
	if err := w.Close(); err != boom {
		t.Errorf("Close error = %v; want %v", err, boom)
	}
}

func TestCBCRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	iv := bytes.Repeat([]byte{9}, aes.BlockSize)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	plain := bytes.Repeat([]byte("kdbx"), 3000)

	enc := new(bytes.Buffer)
	w := NewWriter(enc, cipher.NewCBCEncrypter(block, iv), padding.PKCS7)
	if _, err := w.Write(plain); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if enc.Len()%aes.BlockSize != 0 || enc.Len() <= len(plain) {
		t.Fatalf("ciphertext length = %d; want padded multiple of %d", enc.Len(), aes.BlockSize)
	}

	got := new(bytes.Buffer)
	r := NewReader(iotest.HalfReader(enc), cipher.NewCBCDecrypter(block, iv), padding.PKCS7)
	if _, err := io.Copy(got, r); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Bytes(), plain) {
		t.Error("decrypted data does not match input")
	}
}

func TestStreamRoundTrip(t *testing.T) {
	plain := bytes.Repeat([]byte("stream"), 2000)
	enc := new(bytes.Buffer)
	cw := &closeRecorder{Writer: enc}
	w := NewStreamWriter(cw, fakeStream{delta: 3})
	if _, err := w.Write(plain); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if cw.closed {
		t.Error("closing the stream writer closed the underlying writer")
	}
	got := new(bytes.Buffer)
	if _, err := io.Copy(got, NewStreamReader(enc, fakeStream{delta: 256 - 3})); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Bytes(), plain) {
		t.Error("stream round trip does not match input")
	}
}

type fakeBlockMode struct {
	delta byte
	size  int
}

func (mode fakeBlockMode) BlockSize() int {
	return mode.size
}

func (mode fakeBlockMode) CryptBlocks(dst, src []byte) {
	for i := range src {
		dst[i] = src[i] + mode.delta
	}
}

type fakeStream struct {
	delta int
}

func (s fakeStream) XORKeyStream(dst, src []byte) {
	for i := range src {
		dst[i] = src[i] + byte(s.delta)
	}
}

type failWriter struct {
	err error
}

func (fw failWriter) Write(p []byte) (int, error) {
	return 0, fw.err
}

type closeRecorder struct {
	io.Writer
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func identity(r io.Reader) io.Reader {
	return r
}
