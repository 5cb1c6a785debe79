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
	"bytes"
	"fmt"

	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
)

// A Binary is an attachment blob.  Entries refer to binaries owned by
// their database's pool, so several entries may share one.
type Binary struct {
	Data      []byte
	Protected bool

	// Compressed reports whether the blob was stored compressed in the
	// file it was read from.
	Compressed bool
}

// maxBinaryRef bounds the keys accepted from binary references.
const maxBinaryRef = 1 << 20

// A BinaryPool is an indexed collection of binaries.  The key of a binary
// is its position in the pool.
type BinaryPool struct {
	items []*Binary
}

// Add appends b to the pool and returns its key.  No deduplication is
// performed.
func (p *BinaryPool) Add(b *Binary) int {
	p.items = append(p.items, b)
	return len(p.items) - 1
}

// Get returns the binary with the given key or nil if there is none.
func (p *BinaryPool) Get(key int) *Binary {
	if key < 0 || key >= len(p.items) {
		return nil
	}
	return p.items[key]
}

// Key returns the key of b.
func (p *BinaryPool) Key(b *Binary) (int, bool) {
	for i, bb := range p.items {
		if bb == b {
			return i, true
		}
	}
	return 0, false
}

// Len returns the number of binaries in the pool.
func (p *BinaryPool) Len() int {
	return len(p.items)
}

// Binaries returns the binaries in key order.
func (p *BinaryPool) Binaries() []*Binary {
	b := make([]*Binary, len(p.items))
	copy(b, p.items)
	return b
}

// Clear wipes and removes every binary.
func (p *BinaryPool) Clear() {
	for _, b := range p.items {
		kdbcrypt.Zero(b.Data)
		b.Data = nil
	}
	clear(p.items)
	p.items = p.items[:0]
}

// Deduplicate returns the pooled binary with the same content as b,
// adding b to the pool if there is none.
func (p *BinaryPool) Deduplicate(b *Binary) *Binary {
	for _, bb := range p.items {
		if bb == b || (bb.Protected == b.Protected && bytes.Equal(bb.Data, b.Data)) {
			return bb
		}
	}
	p.Add(b)
	return b
}

// ref returns the binary for key, creating empty placeholders for keys
// that have not been seen yet.  Older files may reference a binary before
// it is defined.
func (p *BinaryPool) ref(key int) (*Binary, error) {
	if key < 0 || key >= maxBinaryRef {
		return nil, fmt.Errorf("binary reference %d out of range", key)
	}
	for len(p.items) <= key {
		p.items = append(p.items, new(Binary))
	}
	return p.items[key], nil
}

// fill stores b under key, updating a placeholder in place so that
// existing references see the data.
func (p *BinaryPool) fill(key int, b Binary) error {
	dst, err := p.ref(key)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}
