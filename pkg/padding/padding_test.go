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

package padding

import (
	"bytes"
	"testing"
)

var padTests = []struct {
	unpadded  []byte
	padded    []byte
	blockSize int
}{
	{[]byte{}, []byte{3, 3, 3}, 3},
	{[]byte{0x41}, []byte{0x41, 2, 2}, 3},
	{[]byte{0x41, 0x64}, []byte{0x41, 0x64, 1}, 3},
	{[]byte{0x41, 0x64, 0x2a}, []byte{0x41, 0x64, 0x2a, 3, 3, 3}, 3},
	{[]byte{0x41, 0x64, 0x2a, 0x77, 0xee}, []byte{0x41, 0x64, 0x2a, 0x77, 0xee, 1}, 3},
	{[]byte{}, repeatByte(16, 16), 16},
	{[]byte("0123456789abcde"), append([]byte("0123456789abcde"), 1), 16},
	{[]byte{}, repeatByte(255, 255), 255},
}

func TestPKCS7_Pad(t *testing.T) {
	for _, test := range padTests {
		fitted := append([]byte(nil), test.unpadded...)
		if out := PKCS7.Pad(fitted, test.blockSize); !bytes.Equal(out, test.padded) {
			t.Errorf("PKCS7.Pad(%v, %d) = %v; want %v", test.unpadded, test.blockSize, out, test.padded)
		}

		extended := make([]byte, len(test.unpadded), len(test.padded))
		copy(extended, test.unpadded)
		out := PKCS7.Pad(extended, test.blockSize)
		if !bytes.Equal(out, test.padded) {
			t.Errorf("PKCS7.Pad(%v, %d) with spare capacity = %v; want %v", test.unpadded, test.blockSize, out, test.padded)
		}
		if &out[0] != &extended[:1][0] {
			t.Errorf("PKCS7.Pad(%v, %d) reallocated a buffer with enough capacity", test.unpadded, test.blockSize)
		}
	}
}

func TestPKCS7_Strip(t *testing.T) {
	for _, test := range padTests {
		b := append([]byte(nil), test.padded...)
		out, err := PKCS7.Strip(b, test.blockSize)
		if err != nil {
			t.Errorf("PKCS7.Strip(%v, %d) error: %v", test.padded, test.blockSize, err)
			continue
		}
		if !bytes.Equal(out, test.unpadded) {
			t.Errorf("PKCS7.Strip(%v, %d) = %v; want %v", test.padded, test.blockSize, out, test.unpadded)
		}
	}
}

func TestPKCS7_StripErrors(t *testing.T) {
	tests := []struct {
		padded    []byte
		blockSize int
		err       error
	}{
		{[]byte{}, 0, ErrBadBlockSize},
		{[]byte{1}, 1, ErrBadBlockSize},
		{make([]byte, 256), 256, ErrBadBlockSize},
		{[]byte{}, 3, ErrDataSize},
		{[]byte{2, 2}, 3, ErrDataSize},
		{[]byte{0x41, 3, 3}, 3, ErrWrongPadding},
		{[]byte{0x41, 2, 0}, 3, ErrWrongPadding},
		{[]byte{4, 4, 4}, 3, ErrWrongPadding},
		{[]byte{0, 0, 4, 4, 4, 4}, 3, ErrWrongPadding},
		{append(repeatByte(15, 7), 5, 5, 5, 5, 5, 5, 5, 5, 6), 16, ErrWrongPadding},
	}
	for _, test := range tests {
		out, err := PKCS7.Strip(test.padded, test.blockSize)
		if err != test.err {
			t.Errorf("PKCS7.Strip(%v, %d) error = %v; want %v", test.padded, test.blockSize, err, test.err)
		}
		if !bytes.Equal(out, test.padded) {
			t.Errorf("PKCS7.Strip(%v, %d) = %v; want input unchanged", test.padded, test.blockSize, out)
		}
	}
}

func repeatByte(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}
