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
	"time"

	"zombiezen.com/go/kdbx/pkg/uuids"
)

// A Group is a hierarchical collection of entries.
type Group struct {
	Name                    string
	Notes                   string
	IconID                  uint32
	CustomIconUUID          uuids.UUID
	Times                   Times
	IsExpanded              bool
	DefaultAutoTypeSequence string

	// EnableAutoType and EnableSearching are nil when inherited from the
	// parent group.
	EnableAutoType  *bool
	EnableSearching *bool

	LastTopVisibleEntry uuids.UUID
	Tags                string
	PreviousParentGroup uuids.UUID
	CustomData          CustomData

	uuid    uuids.UUID
	db      *Database
	parent  uuids.UUID
	groups  []*Group
	entries []*Entry
}

// Move errors
var (
	ErrMoveCycle   = errors.New("kdbx: cannot move group into itself")
	ErrMoveForeign = errors.New("kdbx: destination group is not in the database")
)

func (db *Database) newGroup() (*Group, error) {
	id, err := uuids.New(db.rand)
	if err != nil {
		return nil, fmt.Errorf("kdbx: new group: %w", err)
	}
	return &Group{
		uuid:       id,
		db:         db,
		Times:      newTimes(now()),
		IsExpanded: true,
	}, nil
}

// UUID returns the group's identifier.
func (g *Group) UUID() uuids.UUID {
	return g.uuid
}

// Groups returns the groups as a slice.
func (g *Group) Groups() []*Group {
	gg := make([]*Group, len(g.groups))
	copy(gg, g.groups)
	return gg
}

// NGroups returns the number of subgroups this group has.
func (g *Group) NGroups() int {
	return len(g.groups)
}

// Group returns the group at index i.  If i is out of range,
// this method will panic.
func (g *Group) Group(i int) *Group {
	return g.groups[i]
}

// NewSubgroup creates a group inside g and returns it.
// An error is returned if the ID generation fails.
func (g *Group) NewSubgroup() (*Group, error) {
	sub, err := g.db.newGroup()
	if err != nil {
		return nil, err
	}
	sub.parent = g.uuid
	g.groups = append(g.groups, sub)
	g.db.groups[sub.uuid] = sub
	return sub, nil
}

// RemoveSubgroup removes sub and everything inside it from the group's
// children, recording a deletion for each removed group and entry.
func (g *Group) RemoveSubgroup(sub *Group) {
	var ok bool
	g.groups, ok = removeItem(g.groups, sub)
	if !ok {
		return
	}
	t := now()
	stk := []*Group{sub}
	for len(stk) > 0 {
		gg := stk[len(stk)-1]
		stk = stk[:len(stk)-1]
		for _, e := range gg.entries {
			g.db.forgetEntry(e, t)
		}
		stk = append(stk, gg.groups...)
		delete(g.db.groups, gg.uuid)
		g.db.deleted = append(g.db.deleted, DeletedObject{UUID: gg.uuid, DeletionTime: t})
	}
	sub.parent = uuids.UUID{}
}

// MoveTo moves g into parent, recording its previous location.
func (g *Group) MoveTo(parent *Group) error {
	if g == g.db.root {
		return fmt.Errorf("kdbx: cannot move root group")
	}
	if parent == nil || g.db.groups[parent.uuid] != parent {
		return ErrMoveForeign
	}
	for p := parent; p != nil; p = g.db.ParentOf(p) {
		if p == g {
			return ErrMoveCycle
		}
	}
	old := g.db.ParentOf(g)
	if old == parent {
		return nil
	}
	old.groups, _ = removeItem(old.groups, g)
	parent.groups = append(parent.groups, g)
	g.parent = parent.uuid
	g.PreviousParentGroup = old.uuid
	g.Times.LocationChanged = now()
	return nil
}

// Entries returns the entries in the group as a slice.
func (g *Group) Entries() []*Entry {
	e := make([]*Entry, len(g.entries))
	copy(e, g.entries)
	return e
}

// NEntries returns the number of entries this group has.
func (g *Group) NEntries() int {
	return len(g.entries)
}

// Entry returns the entry at index i.  If i is out of range,
// this method will panic.
func (g *Group) Entry(i int) *Entry {
	return g.entries[i]
}

// NewEntry creates a new entry inside the group and returns it.
// An error is returned if the ID generation fails.
func (g *Group) NewEntry() (*Entry, error) {
	id, err := uuids.New(g.db.rand)
	if err != nil {
		return nil, fmt.Errorf("kdbx: new entry: %w", err)
	}
	e := newEntry(g.db)
	e.uuid = id
	e.group = g.uuid
	g.entries = append(g.entries, e)
	g.db.entries[id] = e
	return e, nil
}

// RemoveEntry removes e from the group's entries and records its
// deletion.
func (g *Group) RemoveEntry(e *Entry) {
	var ok bool
	g.entries, ok = removeItem(g.entries, e)
	if ok {
		g.db.forgetEntry(e, now())
	}
}

func (db *Database) forgetEntry(e *Entry, t time.Time) {
	delete(db.entries, e.uuid)
	e.group = uuids.UUID{}
	db.deleted = append(db.deleted, DeletedObject{UUID: e.uuid, DeletionTime: t})
}

func removeItem[T comparable](items []T, x T) ([]T, bool) {
	i, n := 0, len(items)
	for ; i < n; i++ {
		if items[i] == x {
			break
		}
	}
	if i >= n {
		return items, false
	}
	copy(items[i:], items[i+1:])
	var zero T
	items[n-1] = zero
	return items[:n-1], true
}
