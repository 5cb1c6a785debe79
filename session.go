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

package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
)

// sessionStorage holds the unlocked sessions.  Clients present the session
// token in an "Authorization: Bearer" header.
type sessionStorage struct {
	s         map[string]*session
	expiry    time.Duration
	tokenSize int

	now  func() time.Time // defaults to time.Now
	rand io.Reader        // defaults to crypto/rand.Reader
}

type session struct {
	token   string
	expires time.Time
	key     *kdbcrypt.CompositeKey
}

// new creates a session that owns key.
func (ss *sessionStorage) new(key *kdbcrypt.CompositeKey) (*session, error) {
	buf := make([]byte, ss.tokenSize)
	if _, err := io.ReadFull(ss.random(), buf); err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	s := &session{
		token:   base64.RawURLEncoding.EncodeToString(buf),
		expires: ss.clock().Add(ss.expiry),
		key:     key,
	}
	if ss.s == nil {
		ss.s = make(map[string]*session)
	}
	ss.s[s.token] = s
	return s, nil
}

// fromRequest returns the valid session named by the request or nil.
func (ss *sessionStorage) fromRequest(r *http.Request) *session {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || tok == "" {
		return nil
	}
	s := ss.s[tok]
	if !s.isValid(ss.clock()) {
		return nil
	}
	return s
}

func (ss *sessionStorage) remove(tok string) {
	if s := ss.s[tok]; s != nil {
		s.key.Close()
		delete(ss.s, tok)
	}
}

// clearInvalid removes expired sessions and returns how many were removed.
func (ss *sessionStorage) clearInvalid() int {
	now := ss.clock()
	n := 0
	for tok, s := range ss.s {
		if !s.isValid(now) {
			s.key.Close()
			delete(ss.s, tok)
			n++
		}
	}
	return n
}

func (ss *sessionStorage) clear() {
	for tok := range ss.s {
		ss.remove(tok)
	}
}

func (ss *sessionStorage) len() int {
	return len(ss.s)
}

func (ss *sessionStorage) clock() time.Time {
	if ss.now == nil {
		return time.Now()
	}
	return ss.now()
}

func (ss *sessionStorage) random() io.Reader {
	if ss.rand == nil {
		return rand.Reader
	}
	return ss.rand
}

func (s *session) isValid(now time.Time) bool {
	return s != nil && now.Before(s.expires)
}
