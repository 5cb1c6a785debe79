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

// Package kdbx reads and writes KeePass 2 databases in the KDBX 3.1 and
// KDBX 4.x formats.
package kdbx // import "zombiezen.com/go/kdbx/pkg/kdbx"

import (
	"errors"
	"fmt"
	"io"

	"zombiezen.com/go/kdbx/pkg/innerstream"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/logger"
	"zombiezen.com/go/kdbx/pkg/uuids"
	"zombiezen.com/go/kdbx/pkg/varmap"
)

// Settings are the cryptographic and encoding parameters used when a
// database is saved.
type Settings struct {
	// Version is the minimum format version to save with.
	Version     Version
	Cipher      *kdbcrypt.Cipher
	Compression Compression
	KDFParams   *varmap.Map

	// InnerStream is the inner stream algorithm of the file the database
	// was read from.  Saving always uses Salsa20 for version 3 and
	// ChaCha20 for version 4.
	InnerStream innerstream.ID

	PublicCustomData *varmap.Map
}

func (s Settings) clone() Settings {
	s.KDFParams = s.KDFParams.Clone()
	if s.PublicCustomData != nil {
		s.PublicCustomData = s.PublicCustomData.Clone()
	}
	return s
}

// A Database represents a decrypted KDBX file.
type Database struct {
	Meta Meta

	root     *Group
	groups   map[uuids.UUID]*Group
	entries  map[uuids.UUID]*Entry
	deleted  []DeletedObject
	pool     *BinaryPool
	settings Settings

	key        *kdbcrypt.CompositeKey
	backupKey  *kdbcrypt.CompositeKey
	keyPending bool

	rand     io.Reader
	log      *logger.Logger
	progress Progress
	maxSize  int64
	closed   bool
}

func newDatabase(opts *Options) *Database {
	return &Database{
		groups:   make(map[uuids.UUID]*Group),
		entries:  make(map[uuids.UUID]*Entry),
		pool:     new(BinaryPool),
		rand:     opts.getRand(),
		log:      opts.getLogger(),
		progress: opts.getProgress(),
		maxSize:  opts.maxDecompressedSize(),
	}
}

// New creates a new empty database with a root group.  The credentials
// in opts may be left empty and set later with SetCredentials, but Write
// fails until they are.
func New(opts *Options) (*Database, error) {
	v := opts.getVersion()
	if !v.supported() {
		return nil, fmt.Errorf("%w %v", ErrUnsupportedVersion, v)
	}
	db := newDatabase(opts)
	key, err := opts.compositeKey()
	switch {
	case err == nil:
		db.key = key
	case !errors.Is(err, ErrNoCredentials):
		return nil, err
	}
	kdf := opts.getKDF()
	params := kdf.Params(opts.getCost())
	if err := kdf.Randomize(params, db.rand); err != nil {
		return nil, err
	}
	db.settings = Settings{
		Version:     v,
		Cipher:      opts.getCipher(),
		Compression: opts.getCompression(),
		KDFParams:   params,
		InnerStream: innerstream.ChaCha20,
	}
	db.Meta = newMeta(now())
	root, err := db.newGroup()
	if err != nil {
		return nil, err
	}
	root.Name = opts.rootName()
	db.root = root
	db.groups[root.uuid] = root
	return db, nil
}

// Root returns the root group.
func (db *Database) Root() *Group {
	return db.root
}

// Group returns the group with the given UUID or nil if not found.
func (db *Database) Group(id uuids.UUID) *Group {
	return db.groups[id]
}

// Entry returns the entry with the given UUID or nil if not found.
// History snapshots are not returned.
func (db *Database) Entry(id uuids.UUID) *Entry {
	return db.entries[id]
}

// Entries returns every entry in the database in document order.
func (db *Database) Entries() []*Entry {
	entries := make([]*Entry, 0, len(db.entries))
	stk := []*Group{db.root}
	for len(stk) > 0 {
		g := stk[len(stk)-1]
		stk = stk[:len(stk)-1]
		entries = append(entries, g.entries...)
		for i := len(g.groups) - 1; i >= 0; i-- {
			stk = append(stk, g.groups[i])
		}
	}
	return entries
}

// ParentOf returns the group containing g or nil if g is the root.
func (db *Database) ParentOf(g *Group) *Group {
	if g == db.root {
		return nil
	}
	return db.groups[g.parent]
}

// GroupOf returns the group containing e.  It returns nil for history
// snapshots and removed entries.
func (db *Database) GroupOf(e *Entry) *Group {
	if e.group.IsZero() {
		return nil
	}
	return db.groups[e.group]
}

// DeletedObjects returns the tombstones of removed groups and entries.
func (db *Database) DeletedObjects() []DeletedObject {
	d := make([]DeletedObject, len(db.deleted))
	copy(d, db.deleted)
	return d
}

// Binaries returns the attachment pool.
func (db *Database) Binaries() *BinaryPool {
	return db.pool
}

// Version returns the format version the database was read with or will
// be saved with at minimum.
func (db *Database) Version() Version {
	return db.settings.Version
}

// Settings returns a copy of the save settings.
func (db *Database) Settings() Settings {
	return db.settings.clone()
}

// SetSettings replaces the save settings.
func (db *Database) SetSettings(s Settings) error {
	if s.Cipher == nil {
		return unsupported(kdbcrypt.ErrUnknownCipher)
	}
	if _, err := kdbcrypt.KDFForParams(s.KDFParams); err != nil {
		return unsupported(err)
	}
	if s.Compression > GZipCompression {
		return unsupported(fmt.Errorf("compression %d", uint32(s.Compression)))
	}
	if !s.Version.supported() {
		return fmt.Errorf("%w %v", ErrUnsupportedVersion, s.Version)
	}
	db.settings = s.clone()
	return nil
}

// SetCredentials changes the key the database is saved with.  The previous
// key is kept until CommitCredentials or RollbackCredentials is called so
// that a failed save can be undone.
func (db *Database) SetCredentials(password string, keyFile io.Reader) error {
	if db.closed {
		return ErrClosed
	}
	key, err := kdbcrypt.NewCompositeKey([]byte(password), keyFile)
	if err != nil {
		return err
	}
	if db.keyPending {
		db.key.Close()
	} else {
		db.backupKey = db.key
		db.keyPending = true
	}
	db.key = key
	db.Meta.MasterKeyChanged = now()
	return nil
}

// CommitCredentials discards the key replaced by SetCredentials.
func (db *Database) CommitCredentials() {
	db.backupKey.Close()
	db.backupKey = nil
	db.keyPending = false
}

// RollbackCredentials restores the key replaced by SetCredentials.
func (db *Database) RollbackCredentials() {
	if !db.keyPending {
		return
	}
	db.key.Close()
	db.key = db.backupKey
	db.backupKey = nil
	db.keyPending = false
}

// Close wipes the key and all attachment and field data.  Write fails
// after Close.
func (db *Database) Close() error {
	if db.closed {
		return nil
	}
	db.closed = true
	db.key.Close()
	db.backupKey.Close()
	db.key, db.backupKey = nil, nil
	db.keyPending = false
	db.pool.Clear()
	db.walk(nil, func(e *Entry) {
		for _, v := range e.Fields {
			kdbcrypt.Zero(v.Value)
		}
	})
	return nil
}

// walk calls gf for every group and ef for every entry, including history
// snapshots, in document order.  Either function may be nil.
func (db *Database) walk(gf func(*Group), ef func(*Entry)) {
	if db.root == nil {
		return
	}
	stk := []*Group{db.root}
	for len(stk) > 0 {
		g := stk[len(stk)-1]
		stk = stk[:len(stk)-1]
		if gf != nil {
			gf(g)
		}
		if ef != nil {
			for _, e := range g.entries {
				ef(e)
				for _, h := range e.history {
					ef(h)
				}
			}
		}
		for i := len(g.groups) - 1; i >= 0; i-- {
			stk = append(stk, g.groups[i])
		}
	}
}

// index rebuilds the UUID indexes and parent handles from the tree.
func (db *Database) index() {
	clear(db.groups)
	clear(db.entries)
	db.walk(func(g *Group) {
		g.db = db
		db.groups[g.uuid] = g
		for _, sub := range g.groups {
			sub.parent = g.uuid
		}
		for _, e := range g.entries {
			e.db = db
			e.group = g.uuid
			db.entries[e.uuid] = e
			for _, h := range e.history {
				h.db = db
				h.group = uuids.UUID{}
			}
		}
	}, nil)
	db.root.parent = uuids.UUID{}
}

// collectBinaries builds a pool holding every binary referenced from the
// tree, deduplicated by content, in document order.
func (db *Database) collectBinaries() (*BinaryPool, map[*Binary]int) {
	pool := new(BinaryPool)
	refs := make(map[*Binary]int)
	db.walk(nil, func(e *Entry) {
		for _, name := range sortedKeys(e.Binaries) {
			b := e.Binaries[name]
			if _, ok := refs[b]; ok {
				continue
			}
			k, _ := pool.Key(pool.Deduplicate(b))
			refs[b] = k
		}
	})
	return pool, refs
}
