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

// Package uuids provides the 128-bit identifiers used for groups, entries,
// ciphers, and key derivation functions, along with the base64 form that
// appears in KDBX XML documents.
package uuids // import "zombiezen.com/go/kdbx/pkg/uuids"

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// A UUID is a universally unique identifier: a 128-bit value.
type UUID [16]byte

// Parse parses a hex-encoded UUID string (that may contain dashes) into a UUID.
func Parse(s string) (UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, fmt.Errorf("uuids: parse %q: %w", s, err)
	}
	return UUID(u), nil
}

// MustParse is like Parse but panics if s cannot be parsed.
// It is intended for package-level identifiers.
func MustParse(s string) UUID {
	return UUID(uuid.MustParse(s))
}

// New generates a new random (version 4) UUID using r as the source of
// randomness.  If r is nil, crypto/rand.Reader is used.
func New(r io.Reader) (UUID, error) {
	if r == nil {
		r = rand.Reader
	}
	u, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return UUID{}, err
	}
	return UUID(u), nil
}

// FromBytes converts a 16-byte slice into a UUID.
func FromBytes(b []byte) (UUID, error) {
	var u UUID
	if len(b) != len(u) {
		return UUID{}, fmt.Errorf("uuids: %d bytes, want %d", len(b), len(u))
	}
	copy(u[:], b)
	return u, nil
}

// DecodeBase64 parses the base64 form used in KDBX documents.
// An empty string decodes to the zero UUID.
func DecodeBase64(s string) (UUID, error) {
	if s == "" {
		return UUID{}, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return UUID{}, fmt.Errorf("uuids: decode base64: %w", err)
	}
	return FromBytes(b)
}

// Base64 returns the standard base64 encoding of u's 16 bytes.
func (u UUID) Base64() string {
	return base64.StdEncoding.EncodeToString(u[:])
}

// IsZero reports whether this is the zero UUID.
func (u UUID) IsZero() bool {
	return u == UUID{}
}

// String returns the dash-separated hex representation of u as a string.
func (u UUID) String() string {
	return uuid.UUID(u).String()
}

// Version returns u's version or zero if this is not the RFC-specified UUID variant.
func (u UUID) Version() int {
	if uuid.UUID(u).Variant() != uuid.RFC4122 {
		return 0
	}
	return int(uuid.UUID(u).Version())
}
