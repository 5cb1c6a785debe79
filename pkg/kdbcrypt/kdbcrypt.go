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

// Package kdbcrypt derives keys and encrypts and decrypts data using the
// KDBX encryption scheme.
package kdbcrypt // import "zombiezen.com/go/kdbx/pkg/kdbcrypt"

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/twofish"
	"zombiezen.com/go/kdbx/pkg/cipherio"
	"zombiezen.com/go/kdbx/pkg/padding"
	"zombiezen.com/go/kdbx/pkg/uuids"
)

// Errors
var (
	ErrUnknownCipher  = errors.New("kdbcrypt: unknown cipher")
	ErrUnsupportedKDF = errors.New("kdbcrypt: unsupported key derivation function")
	ErrKDFParams      = errors.New("kdbcrypt: invalid key derivation parameters")
	ErrNoCredentials  = errors.New("kdbcrypt: no password or key file given")
	ErrInvalidKeyFile = errors.New("kdbcrypt: invalid key file")
	ErrIVSize         = errors.New("kdbcrypt: wrong IV size")
)

// A Cipher is a bulk encryption algorithm identified in the file header
// by its UUID.
type Cipher struct {
	UUID    uuids.UUID
	Name    string
	KeySize int
	IVSize  int

	block  func(key []byte) (cipher.Block, error)
	stream func(key, iv []byte) (cipher.Stream, error)
}

// Available ciphers
var (
	AES256 = &Cipher{
		UUID:    uuids.MustParse("31c1f2e6-bf71-4350-be58-05216afc5aff"),
		Name:    "aes",
		KeySize: 32,
		IVSize:  aes.BlockSize,
		block:   aes.NewCipher,
	}
	Twofish256 = &Cipher{
		UUID:    uuids.MustParse("ad68f29f-576f-4bb9-a36a-d47af965346c"),
		Name:    "twofish",
		KeySize: 32,
		IVSize:  twofish.BlockSize,
		block: func(key []byte) (cipher.Block, error) {
			return twofish.NewCipher(key)
		},
	}
	ChaCha20 = &Cipher{
		UUID:    uuids.MustParse("d6038a2b-8b6f-4cb5-a524-339a31dbb59a"),
		Name:    "chacha20",
		KeySize: chacha20.KeySize,
		IVSize:  chacha20.NonceSize,
		stream: func(key, iv []byte) (cipher.Stream, error) {
			return chacha20.NewUnauthenticatedCipher(key, iv)
		},
	}
)

var ciphers = []*Cipher{AES256, Twofish256, ChaCha20}

// CipherByUUID returns the cipher with the given header identifier.
func CipherByUUID(id uuids.UUID) (*Cipher, error) {
	for _, c := range ciphers {
		if c.UUID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w %v", ErrUnknownCipher, id)
}

// CipherByName returns the cipher with the given short name
// ("aes", "twofish", or "chacha20").
func CipherByName(name string) (*Cipher, error) {
	for _, c := range ciphers {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownCipher, name)
}

func (c *Cipher) String() string {
	return c.Name
}

// IsBlock reports whether the cipher is a block cipher used in CBC mode.
func (c *Cipher) IsBlock() bool {
	return c.block != nil
}

func (c *Cipher) check(key, iv []byte) error {
	if len(key) != c.KeySize {
		return fmt.Errorf("kdbcrypt: %s key is %d bytes, want %d", c.Name, len(key), c.KeySize)
	}
	if len(iv) != c.IVSize {
		return fmt.Errorf("%w: %s IV is %d bytes, want %d", ErrIVSize, c.Name, len(iv), c.IVSize)
	}
	return nil
}

// NewEncrypter creates a new writer that encrypts to w.  Closing the
// new writer writes the final, padded block but does not close w.
func (c *Cipher) NewEncrypter(w io.Writer, key, iv []byte) (io.WriteCloser, error) {
	if err := c.check(key, iv); err != nil {
		return nil, err
	}
	if c.stream != nil {
		s, err := c.stream(key, iv)
		if err != nil {
			return nil, err
		}
		return cipherio.NewStreamWriter(w, s), nil
	}
	b, err := c.block(key)
	if err != nil {
		return nil, err
	}
	return cipherio.NewWriter(w, cipher.NewCBCEncrypter(b, iv), padding.PKCS7), nil
}

// NewDecrypter creates a new reader that decrypts and strips padding from r.
func (c *Cipher) NewDecrypter(r io.Reader, key, iv []byte) (io.Reader, error) {
	if err := c.check(key, iv); err != nil {
		return nil, err
	}
	if c.stream != nil {
		s, err := c.stream(key, iv)
		if err != nil {
			return nil, err
		}
		return cipherio.NewStreamReader(r, s), nil
	}
	b, err := c.block(key)
	if err != nil {
		return nil, err
	}
	return cipherio.NewReader(r, cipher.NewCBCDecrypter(b, iv), padding.PKCS7), nil
}

// FinalKey combines the per-file master seed with the transformed key
// to produce the bulk cipher key.
func FinalKey(masterSeed, transformed []byte) []byte {
	h := sha256.New()
	h.Write(masterSeed)
	h.Write(transformed)
	return h.Sum(nil)
}

// HMACKey derives the 64-byte key from which every block MAC key and the
// header MAC key are derived.
func HMACKey(masterSeed, transformed []byte) []byte {
	h := sha512.New()
	h.Write(masterSeed)
	h.Write(transformed)
	h.Write([]byte{1})
	return h.Sum(nil)
}

// HeaderIndex is the block index used to authenticate the file header.
const HeaderIndex = ^uint64(0)

// BlockHMACKey derives the MAC key for the block at index.
func BlockHMACKey(hmacKey []byte, index uint64) []byte {
	var ib [8]byte
	binary.LittleEndian.PutUint64(ib[:], index)
	h := sha512.New()
	h.Write(ib[:])
	h.Write(hmacKey)
	return h.Sum(nil)
}

// Zero overwrites b with zeroes.  Key material should be passed to Zero
// as soon as it is no longer needed.
func Zero(b []byte) {
	clear(b)
}
