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
	"errors"
	"fmt"

	"zombiezen.com/go/kdbx/pkg/blockstream"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
)

// Errors
var (
	ErrWrongSignature       = errors.New("kdbx: not a KDBX file")
	ErrUnsupportedVersion   = errors.New("kdbx: unsupported file version")
	ErrWrongPassword        = errors.New("kdbx: wrong password or key file")
	ErrCorruptHeader        = errors.New("kdbx: header checksum mismatch")
	ErrUnsupportedAlgorithm = errors.New("kdbx: unsupported algorithm")
	ErrResourceExhausted    = errors.New("kdbx: decompressed data exceeds limit")
	ErrClosed               = errors.New("kdbx: database is closed")

	// ErrMalformed is matched by every *FormatError.
	ErrMalformed = errors.New("kdbx: malformed database")

	ErrNoCredentials  = kdbcrypt.ErrNoCredentials
	ErrInvalidKeyFile = kdbcrypt.ErrInvalidKeyFile
	ErrCorruptBlock   = blockstream.ErrCorruptBlock
)

// errHeaderMismatch is returned when the stored header checksum does not
// match.  A tampered header is indistinguishable from a wrong key, so it
// matches both ErrWrongPassword and ErrCorruptHeader.
var errHeaderMismatch = fmt.Errorf("%w: %w", ErrWrongPassword, ErrCorruptHeader)

// A FormatError reports a structural problem in a file: a malformed
// header field, bad XML nesting, or an invalid value.
type FormatError struct {
	Op  string
	Err error
}

func formatError(op string, format string, args ...any) *FormatError {
	return &FormatError{Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *FormatError) Error() string {
	return "kdbx: " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns ErrMalformed and the underlying error.
func (e *FormatError) Unwrap() []error {
	return []error{ErrMalformed, e.Err}
}

// unsupported marks err as an unsupported algorithm error.
func unsupported(err error) error {
	return fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, err)
}

type fieldSizeError struct {
	name string
	size int
	want int
}

func (e fieldSizeError) Error() string {
	return fmt.Sprintf("%s field size is %d, should be %d", e.name, e.size, e.want)
}

func verifyFieldSize(name string, val []byte, want int) error {
	if n := len(val); n != want {
		return fieldSizeError{name, n, want}
	}
	return nil
}
