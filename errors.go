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

package main

import (
	"errors"
	"net/http"

	"zombiezen.com/go/kdbx/pkg/kdbx"
)

func userErrorMessage(e error) string {
	var ue interface {
		UserError() string
	}
	if !errors.As(e, &ue) {
		return ""
	}
	return ue.UserError()
}

func errorStatusCode(e error) int {
	var sc interface {
		StatusCode() int
	}
	if errors.As(e, &sc) {
		return sc.StatusCode()
	}
	var tooLarge *http.MaxBytesError
	if errors.As(e, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

type userError struct {
	msg    string
	err    error
	status int
}

func (ue userError) Error() string {
	return ue.err.Error()
}

func (ue userError) Unwrap() error {
	return ue.err
}

func (ue userError) UserError() string {
	return ue.msg
}

func (ue userError) StatusCode() int {
	if ue.status == 0 {
		return http.StatusInternalServerError
	}
	return ue.status
}

var errInvalidSession = userError{
	msg:    "Invalid session. Please unlock the database again.",
	err:    errors.New("invalid session"),
	status: http.StatusUnauthorized,
}

type notFoundError struct{}

func (notFoundError) Error() string {
	return "not found"
}

func (notFoundError) UserError() string {
	return "404 page not found"
}

func (notFoundError) StatusCode() int {
	return http.StatusNotFound
}

type methodNotAllowedError struct{}

func (methodNotAllowedError) Error() string {
	return "method not allowed"
}

func (methodNotAllowedError) UserError() string {
	return "method not allowed"
}

func (methodNotAllowedError) StatusCode() int {
	return http.StatusMethodNotAllowed
}

// codecError is a failure from loading or saving the database file.
type codecError struct {
	op  string
	err error
}

func (e codecError) Error() string {
	return e.op + ": " + e.err.Error()
}

func (e codecError) Unwrap() error {
	return e.err
}

// codecErrors maps codec failures to what the client is told.  The first
// match wins.
var codecErrors = []struct {
	err    error
	status int
	msg    string
}{
	{kdbx.ErrWrongPassword, http.StatusForbidden, "Could not decrypt database. This means either the credentials you entered are incorrect or the database is corrupt."},
	{kdbx.ErrNoCredentials, http.StatusBadRequest, "A password or key file is required."},
	{kdbx.ErrInvalidKeyFile, http.StatusBadRequest, "The key file could not be read."},
	{kdbx.ErrWrongSignature, http.StatusUnprocessableEntity, "The file is not a KDBX database."},
	{kdbx.ErrUnsupportedVersion, http.StatusUnprocessableEntity, "The database file version is not supported."},
	{kdbx.ErrUnsupportedAlgorithm, http.StatusUnprocessableEntity, "The database uses an unsupported algorithm."},
	{kdbx.ErrCorruptHeader, http.StatusUnprocessableEntity, "The database header is corrupt."},
	{kdbx.ErrCorruptBlock, http.StatusUnprocessableEntity, "The database is corrupt."},
	{kdbx.ErrMalformed, http.StatusUnprocessableEntity, "The database is malformed."},
	{kdbx.ErrResourceExhausted, http.StatusUnprocessableEntity, "The database is too large to open."},
}

func (e codecError) lookup() (int, string) {
	for _, ce := range codecErrors {
		if errors.Is(e.err, ce.err) {
			return ce.status, ce.msg
		}
	}
	return http.StatusInternalServerError, ""
}

func (e codecError) UserError() string {
	_, msg := e.lookup()
	return msg
}

func (e codecError) StatusCode() int {
	code, _ := e.lookup()
	return code
}
