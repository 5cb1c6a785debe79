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
	"slices"

	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/uuids"
)

// Standard field names
const (
	TitleField    = "Title"
	UserNameField = "UserName"
	PasswordField = "Password"
	URLField      = "URL"
	NotesField    = "Notes"
)

// An Entry stores a set of named fields, usually including a username and
// password.
type Entry struct {
	IconID              uint32
	CustomIconUUID      uuids.UUID
	ForegroundColor     string
	BackgroundColor     string
	OverrideURL         string
	Tags                string
	QualityCheck        bool
	PreviousParentGroup uuids.UUID
	Times               Times

	Fields   map[string]ProtectedValue
	Binaries map[string]*Binary

	AutoType   AutoType
	CustomData CustomData

	uuid    uuids.UUID
	db      *Database
	group   uuids.UUID
	history []*Entry
}

func newEntry(db *Database) *Entry {
	return &Entry{
		QualityCheck: true,
		Times:        newTimes(now()),
		Fields:       make(map[string]ProtectedValue),
		Binaries:     make(map[string]*Binary),
		AutoType:     AutoType{Enabled: true},
		db:           db,
	}
}

// UUID returns the entry's identifier.  History snapshots share the UUID
// of their entry.
func (e *Entry) UUID() uuids.UUID {
	return e.uuid
}

// Get returns the value of the named field or the empty string.
func (e *Entry) Get(key string) string {
	return string(e.Fields[key].Value)
}

// Set stores value in the named field.  An existing field keeps its
// protection; a new standard field is protected if the database's memory
// protection settings say so.
func (e *Entry) Set(key, value string) {
	old, ok := e.Fields[key]
	protected := old.Protected
	if !ok && e.db != nil {
		protected = e.db.Meta.MemoryProtection.Protects(key)
	}
	e.store(key, value, protected)
}

// SetProtected stores value in the named field and marks it protected.
func (e *Entry) SetProtected(key, value string) {
	e.store(key, value, true)
}

func (e *Entry) store(key, value string, protected bool) {
	if e.Fields == nil {
		e.Fields = make(map[string]ProtectedValue)
	}
	kdbcrypt.Zero(e.Fields[key].Value)
	e.Fields[key] = ProtectedValue{Value: []byte(value), Protected: protected}
}

// Attach adds an attachment named name to the entry, sharing an existing
// binary in the database's pool when one has the same content.
func (e *Entry) Attach(name string, data []byte, protected bool) *Binary {
	b := &Binary{Data: data, Protected: protected}
	if e.db != nil {
		b = e.db.pool.Deduplicate(b)
	}
	if e.Binaries == nil {
		e.Binaries = make(map[string]*Binary)
	}
	e.Binaries[name] = b
	return b
}

// MoveTo moves e into g, recording its previous location.
func (e *Entry) MoveTo(g *Group) error {
	if g == nil || e.db.groups[g.uuid] != g {
		return ErrMoveForeign
	}
	old := e.db.GroupOf(e)
	if old == g {
		return nil
	}
	if old != nil {
		old.entries, _ = removeItem(old.entries, e)
		e.PreviousParentGroup = old.uuid
	}
	g.entries = append(g.entries, e)
	e.group = g.uuid
	e.db.entries[e.uuid] = e
	e.Times.LocationChanged = now()
	return nil
}

// History returns the entry's previous versions, oldest first.
func (e *Entry) History() []*Entry {
	h := make([]*Entry, len(e.history))
	copy(h, e.history)
	return h
}

// Backup appends a snapshot of the entry's current state to its history
// and then trims the history according to the database's limits.
func (e *Entry) Backup() {
	e.history = append(e.history, e.snapshot())
	if e.db != nil {
		e.MaintainHistory(&e.db.Meta)
	}
}

// MaintainHistory removes the oldest history snapshots until the history
// fits within m.HistoryMaxItems and m.HistoryMaxSize.
func (e *Entry) MaintainHistory(m *Meta) {
	if m.HistoryMaxItems >= 0 {
		for len(e.history) > m.HistoryMaxItems {
			e.dropOldest()
		}
	}
	if m.HistoryMaxSize >= 0 {
		for len(e.history) > 0 && e.historySize() > m.HistoryMaxSize {
			e.dropOldest()
		}
	}
}

func (e *Entry) dropOldest() {
	for _, v := range e.history[0].Fields {
		kdbcrypt.Zero(v.Value)
	}
	e.history[0] = nil
	e.history = e.history[1:]
}

func (e *Entry) historySize() int64 {
	var n int64
	for _, h := range e.history {
		n += h.size()
	}
	return n
}

// size approximates the memory used by the entry's fields and attachments.
func (e *Entry) size() int64 {
	var n int64
	for k, v := range e.Fields {
		n += int64(len(k) + len(v.Value))
	}
	for k, b := range e.Binaries {
		n += int64(len(k) + len(b.Data))
	}
	return n
}

// snapshot returns a copy of e suitable for its history.  Field values
// are copied; attachments are shared.
func (e *Entry) snapshot() *Entry {
	s := *e
	s.group = uuids.UUID{}
	s.history = nil
	s.Fields = make(map[string]ProtectedValue, len(e.Fields))
	for k, v := range e.Fields {
		s.Fields[k] = v.clone()
	}
	s.Binaries = make(map[string]*Binary, len(e.Binaries))
	for k, b := range e.Binaries {
		s.Binaries[k] = b
	}
	s.AutoType.Associations = slices.Clone(e.AutoType.Associations)
	s.CustomData = e.CustomData.clone()
	return &s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
