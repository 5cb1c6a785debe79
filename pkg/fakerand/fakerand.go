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

// Package fakerand provides a deterministic PRNG, suitable for testing.
package fakerand // import "zombiezen.com/go/kdbx/pkg/fakerand"

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
	"sync"
)

// New returns a new reader that returns the same sequence of bytes every time.
// The reader can be used from multiple goroutines.
func New() io.Reader {
	return NewSeeded("sandpass")
}

// NewSeeded returns a reader whose sequence is determined by seed.
// Readers with different seeds produce unrelated sequences.
func NewSeeded(seed string) io.Reader {
	return &reader{seed: sha256.Sum256([]byte(seed))}
}

type reader struct {
	mu      sync.Mutex
	seed    [sha256.Size]byte
	counter uint64
	block   [sha256.Size]byte
	off     int
}

func (r *reader) Read(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for n < len(p) {
		if r.counter == 0 || r.off == len(r.block) {
			r.next()
		}
		k := copy(p[n:], r.block[r.off:])
		r.off += k
		n += k
	}
	return n, nil
}

// next computes SHA-256(seed || counter) as the next block of output.
func (r *reader) next() {
	var buf [sha256.Size + 8]byte
	copy(buf[:], r.seed[:])
	binary.LittleEndian.PutUint64(buf[sha256.Size:], r.counter)
	r.block = sha256.Sum256(buf[:])
	r.counter++
	r.off = 0
}
