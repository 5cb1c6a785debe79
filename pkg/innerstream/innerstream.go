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

// Package innerstream implements the keystream ciphers that protect
// individual values inside a KDBX document.
//
// A stream must see protected values in exactly the order they appear in
// the document: every call to XORKeyStream advances the keystream by the
// length of its input.
package innerstream // import "zombiezen.com/go/kdbx/pkg/innerstream"

import (
	"crypto/cipher"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/salsa20/salsa"
)

// ID identifies an inner stream algorithm in a file header.
type ID uint32

// Inner stream algorithms
const (
	None           ID = 0
	ArcFourVariant ID = 1
	Salsa20        ID = 2
	ChaCha20       ID = 3
)

// ErrUnsupported is returned for an unknown algorithm or one that cannot
// be used in the requested direction.
var ErrUnsupported = errors.New("innerstream: unsupported algorithm")

func (id ID) String() string {
	switch id {
	case None:
		return "none"
	case ArcFourVariant:
		return "arcfour"
	case Salsa20:
		return "salsa20"
	case ChaCha20:
		return "chacha20"
	default:
		return fmt.Sprintf("ID(%d)", uint32(id))
	}
}

// KeySize returns the size of a freshly generated key for id.
func (id ID) KeySize() int {
	switch id {
	case Salsa20:
		return 32
	case ChaCha20:
		return 64
	default:
		return 0
	}
}

// NewReader returns the keystream for reading values protected with id.
func NewReader(id ID, key []byte) (cipher.Stream, error) {
	if id == ArcFourVariant {
		return newArcFour(key)
	}
	return NewWriter(id, key)
}

// NewWriter returns the keystream for protecting values with id.
// Only Salsa20 and ChaCha20 can be written.
func NewWriter(id ID, key []byte) (cipher.Stream, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("innerstream: %v: empty key", id)
	}
	switch id {
	case Salsa20:
		return newSalsa20(key), nil
	case ChaCha20:
		h := sha512.Sum512(key)
		defer clear(h[:])
		s, err := chacha20.NewUnauthenticatedCipher(h[:chacha20.KeySize], h[chacha20.KeySize:chacha20.KeySize+chacha20.NonceSize])
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w %v", ErrUnsupported, id)
	}
}

const salsa20BlockSize = 64

var salsa20Nonce = [8]byte{0xe8, 0x30, 0x09, 0x4b, 0x97, 0x20, 0x5d, 0x2a}

// salsa20Stream buffers one 64-byte Salsa20 block of keystream at a time
// so that values of any length can be processed.
type salsa20Stream struct {
	key     [32]byte
	counter [16]byte
	block   [salsa20BlockSize]byte
	off     int
}

func newSalsa20(key []byte) *salsa20Stream {
	s := &salsa20Stream{
		key: sha256.Sum256(key),
		off: salsa20BlockSize,
	}
	copy(s.counter[:8], salsa20Nonce[:])
	return s
}

func (s *salsa20Stream) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("innerstream: output smaller than input")
	}
	for i := range src {
		if s.off == len(s.block) {
			s.refill()
		}
		dst[i] = src[i] ^ s.block[s.off]
		s.off++
	}
}

func (s *salsa20Stream) refill() {
	var zero [salsa20BlockSize]byte
	salsa.XORKeyStream(s.block[:], zero[:], &s.counter, &s.key)
	n := binary.LittleEndian.Uint64(s.counter[8:])
	binary.LittleEndian.PutUint64(s.counter[8:], n+1)
	s.off = 0
}

// arcFourDiscard is the number of initial keystream bytes dropped.
const arcFourDiscard = 512

func newArcFour(key []byte) (cipher.Stream, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("innerstream: arcfour: %w", err)
	}
	var drop [arcFourDiscard]byte
	c.XORKeyStream(drop[:], drop[:])
	return c, nil
}
