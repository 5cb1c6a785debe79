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
	"crypto/cipher"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"zombiezen.com/go/kdbx/pkg/uuids"
)

// parseState is the context of the XML element being read.
type parseState int

const (
	stateNull parseState = iota
	stateKeePassFile
	stateMeta
	stateRoot
	stateMemoryProtection
	stateCustomIcons
	stateCustomIcon
	stateCustomData
	stateCustomDataItem
	stateRootDeletedObjects
	stateDeletedObject
	stateGroup
	stateGroupTimes
	stateGroupCustomData
	stateGroupCustomDataItem
	stateEntry
	stateEntryTimes
	stateEntryString
	stateEntryBinary
	stateEntryAutoType
	stateEntryAutoTypeItem
	stateEntryHistory
	stateEntryCustomData
	stateEntryCustomDataItem
	stateBinaries
)

// element returns the name of the element that opens the context.
func (s parseState) element() string {
	switch s {
	case stateKeePassFile:
		return "KeePassFile"
	case stateMeta:
		return "Meta"
	case stateRoot:
		return "Root"
	case stateMemoryProtection:
		return "MemoryProtection"
	case stateCustomIcons:
		return "CustomIcons"
	case stateCustomIcon:
		return "Icon"
	case stateCustomData, stateGroupCustomData, stateEntryCustomData:
		return "CustomData"
	case stateCustomDataItem, stateGroupCustomDataItem, stateEntryCustomDataItem:
		return "Item"
	case stateRootDeletedObjects:
		return "DeletedObjects"
	case stateDeletedObject:
		return "DeletedObject"
	case stateGroup:
		return "Group"
	case stateGroupTimes, stateEntryTimes:
		return "Times"
	case stateEntry:
		return "Entry"
	case stateEntryString:
		return "String"
	case stateEntryBinary:
		return "Binary"
	case stateEntryAutoType:
		return "AutoType"
	case stateEntryAutoTypeItem:
		return "Association"
	case stateEntryHistory:
		return "History"
	case stateBinaries:
		return "Binaries"
	default:
		return "document"
	}
}

// xmlReader builds a database from a KDBX XML document in a single pass.
// Protected values must be read in document order, since each one
// advances the inner stream.
type xmlReader struct {
	d      *xml.Decoder
	db     *Database
	stream cipher.Stream
	v4     bool

	state   parseState
	groups  []*Group // open groups, innermost last
	entry   *Entry
	owner   *Entry // entry whose history is open
	sawRoot bool

	cur leafElement
}

// leafElement holds the element under construction for the innermost
// state.  Only the part matching that state is meaningful; it is reset
// each time such an element starts.
type leafElement struct {
	key     string
	value   ProtectedValue
	binary  *Binary
	item    CustomDataItem
	icon    CustomIcon
	deleted DeletedObject
	assoc   AutoTypeAssociation
}

// parseXML reads the document from r into db.  stream may be nil if the
// document has no protected values.
func parseXML(r io.Reader, db *Database, stream cipher.Stream, v4 bool) error {
	p := &xmlReader{
		d:      xml.NewDecoder(r),
		db:     db,
		stream: stream,
		v4:     v4,
	}
	if err := p.run(); err != nil {
		return err
	}
	db.index()
	return nil
}

func (p *xmlReader) run() error {
	for {
		tok, err := p.d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return p.tokenError(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			err = p.start(t)
		case xml.EndElement:
			err = p.end(t)
		}
		if err != nil {
			return err
		}
	}
	if p.state != stateNull || len(p.groups) > 0 {
		return formatError("parse", "document ended inside %s", p.state.element())
	}
	if p.db.root == nil {
		return formatError("parse", "missing root group")
	}
	return nil
}

func (p *xmlReader) tokenError(err error) error {
	var syntax *xml.SyntaxError
	if errors.As(err, &syntax) {
		return &FormatError{Op: "parse", Err: err}
	}
	return fmt.Errorf("kdbx: parse: %w", err)
}

func (p *xmlReader) start(t xml.StartElement) error {
	name := t.Name.Local
	switch p.state {
	case stateNull:
		if name == "KeePassFile" {
			p.state = stateKeePassFile
			return nil
		}
	case stateKeePassFile:
		switch name {
		case "Meta":
			p.state = stateMeta
			return nil
		case "Root":
			p.state = stateRoot
			return nil
		}
	case stateMeta:
		return p.startMeta(t)
	case stateMemoryProtection:
		mp := &p.db.Meta.MemoryProtection
		switch name {
		case "ProtectTitle":
			return p.readBool(t, &mp.ProtectTitle)
		case "ProtectUserName":
			return p.readBool(t, &mp.ProtectUserName)
		case "ProtectPassword":
			return p.readBool(t, &mp.ProtectPassword)
		case "ProtectURL":
			return p.readBool(t, &mp.ProtectURL)
		case "ProtectNotes":
			return p.readBool(t, &mp.ProtectNotes)
		}
	case stateCustomIcons:
		if name == "Icon" {
			p.cur = leafElement{}
			p.state = stateCustomIcon
			return nil
		}
	case stateCustomIcon:
		switch name {
		case "UUID":
			return p.readUUID(t, &p.cur.icon.UUID)
		case "Data":
			return p.readBase64(t, &p.cur.icon.Data)
		case "Name":
			return p.readString(&p.cur.icon.Name)
		case "LastModificationTime":
			return p.readTime(t, &p.cur.icon.LastModificationTime)
		}
	case stateBinaries:
		if name == "Binary" {
			return p.readPoolBinary(t)
		}
	case stateCustomData, stateGroupCustomData, stateEntryCustomData:
		if name == "Item" {
			p.cur = leafElement{}
			p.state++
			return nil
		}
	case stateCustomDataItem, stateGroupCustomDataItem, stateEntryCustomDataItem:
		switch name {
		case "Key":
			return p.readString(&p.cur.item.Key)
		case "Value":
			return p.readString(&p.cur.item.Value)
		case "LastModificationTime":
			return p.readTime(t, &p.cur.item.LastModificationTime)
		}
	case stateRoot:
		switch name {
		case "Group":
			if p.sawRoot {
				return formatError("parse", "more than one root group")
			}
			p.sawRoot = true
			p.groups = append(p.groups, &Group{db: p.db})
			p.state = stateGroup
			return nil
		case "DeletedObjects":
			p.state = stateRootDeletedObjects
			return nil
		}
	case stateRootDeletedObjects:
		if name == "DeletedObject" {
			p.cur = leafElement{}
			p.state = stateDeletedObject
			return nil
		}
	case stateDeletedObject:
		switch name {
		case "UUID":
			return p.readUUID(t, &p.cur.deleted.UUID)
		case "DeletionTime":
			return p.readTime(t, &p.cur.deleted.DeletionTime)
		}
	case stateGroup:
		return p.startGroup(t)
	case stateGroupTimes:
		return p.startTimes(t, &p.groups[len(p.groups)-1].Times)
	case stateEntry:
		return p.startEntry(t)
	case stateEntryTimes:
		return p.startTimes(t, &p.entry.Times)
	case stateEntryString:
		switch name {
		case "Key":
			return p.readString(&p.cur.key)
		case "Value":
			v, err := p.readProtected(t)
			if err != nil {
				return err
			}
			p.cur.value = v
			return nil
		}
	case stateEntryBinary:
		switch name {
		case "Key":
			return p.readString(&p.cur.key)
		case "Value":
			b, err := p.readEntryBinary(t)
			if err != nil {
				return err
			}
			p.cur.binary = b
			return nil
		}
	case stateEntryAutoType:
		at := &p.entry.AutoType
		switch name {
		case "Enabled":
			return p.readBool(t, &at.Enabled)
		case "DataTransferObfuscation":
			return p.readInt64(t, &at.Obfuscation)
		case "DefaultSequence":
			return p.readString(&at.DefaultSequence)
		case "Association":
			p.cur = leafElement{}
			p.state = stateEntryAutoTypeItem
			return nil
		}
	case stateEntryAutoTypeItem:
		switch name {
		case "Window":
			return p.readString(&p.cur.assoc.Window)
		case "KeystrokeSequence":
			return p.readString(&p.cur.assoc.KeystrokeSequence)
		}
	case stateEntryHistory:
		if name == "Entry" {
			p.entry = newParsedEntry(p.db)
			p.state = stateEntry
			return nil
		}
	}
	return p.skip(t)
}

func (p *xmlReader) startMeta(t xml.StartElement) error {
	m := &p.db.Meta
	switch t.Name.Local {
	case "Generator":
		return p.readString(&m.Generator)
	case "HeaderHash":
		return p.readBase64(t, &m.HeaderHash)
	case "SettingsChanged":
		return p.readTime(t, &m.SettingsChanged)
	case "DatabaseName":
		return p.readString(&m.DatabaseName)
	case "DatabaseNameChanged":
		return p.readTime(t, &m.DatabaseNameChanged)
	case "DatabaseDescription":
		return p.readString(&m.DatabaseDescription)
	case "DatabaseDescriptionChanged":
		return p.readTime(t, &m.DatabaseDescriptionChanged)
	case "DefaultUserName":
		return p.readString(&m.DefaultUserName)
	case "DefaultUserNameChanged":
		return p.readTime(t, &m.DefaultUserNameChanged)
	case "MaintenanceHistoryDays":
		return p.readUint32(t, &m.MaintenanceHistoryDays)
	case "Color":
		return p.readString(&m.Color)
	case "MasterKeyChanged":
		return p.readTime(t, &m.MasterKeyChanged)
	case "MasterKeyChangeRec":
		return p.readInt64(t, &m.MasterKeyChangeRec)
	case "MasterKeyChangeForce":
		return p.readInt64(t, &m.MasterKeyChangeForce)
	case "MasterKeyChangeForceOnce":
		return p.readBool(t, &m.MasterKeyChangeForceOnce)
	case "MemoryProtection":
		p.state = stateMemoryProtection
	case "CustomIcons":
		p.state = stateCustomIcons
	case "RecycleBinEnabled":
		return p.readBool(t, &m.RecycleBinEnabled)
	case "RecycleBinUUID":
		return p.readUUID(t, &m.RecycleBinUUID)
	case "RecycleBinChanged":
		return p.readTime(t, &m.RecycleBinChanged)
	case "EntryTemplatesGroup":
		return p.readUUID(t, &m.EntryTemplatesGroup)
	case "EntryTemplatesGroupChanged":
		return p.readTime(t, &m.EntryTemplatesGroupChanged)
	case "HistoryMaxItems":
		var n int64
		if err := p.readInt64(t, &n); err != nil {
			return err
		}
		m.HistoryMaxItems = int(n)
	case "HistoryMaxSize":
		return p.readInt64(t, &m.HistoryMaxSize)
	case "LastSelectedGroup":
		return p.readUUID(t, &m.LastSelectedGroup)
	case "LastTopVisibleGroup":
		return p.readUUID(t, &m.LastTopVisibleGroup)
	case "Binaries":
		p.state = stateBinaries
	case "CustomData":
		p.state = stateCustomData
	default:
		return p.skip(t)
	}
	return nil
}

func (p *xmlReader) startGroup(t xml.StartElement) error {
	g := p.groups[len(p.groups)-1]
	switch t.Name.Local {
	case "UUID":
		return p.readUUID(t, &g.uuid)
	case "Name":
		return p.readString(&g.Name)
	case "Notes":
		return p.readString(&g.Notes)
	case "IconID":
		return p.readUint32(t, &g.IconID)
	case "CustomIconUUID":
		return p.readUUID(t, &g.CustomIconUUID)
	case "Times":
		p.state = stateGroupTimes
	case "IsExpanded":
		return p.readBool(t, &g.IsExpanded)
	case "DefaultAutoTypeSequence":
		return p.readString(&g.DefaultAutoTypeSequence)
	case "EnableAutoType":
		return p.readOptBool(t, &g.EnableAutoType)
	case "EnableSearching":
		return p.readOptBool(t, &g.EnableSearching)
	case "LastTopVisibleEntry":
		return p.readUUID(t, &g.LastTopVisibleEntry)
	case "Tags":
		return p.readString(&g.Tags)
	case "PreviousParentGroup":
		return p.readUUID(t, &g.PreviousParentGroup)
	case "CustomData":
		p.state = stateGroupCustomData
	case "Group":
		p.groups = append(p.groups, &Group{db: p.db})
	case "Entry":
		p.entry = newParsedEntry(p.db)
		p.state = stateEntry
	case "History":
		return formatError("parse", "history outside of an entry")
	default:
		return p.skip(t)
	}
	return nil
}

func (p *xmlReader) startEntry(t xml.StartElement) error {
	e := p.entry
	switch t.Name.Local {
	case "UUID":
		return p.readUUID(t, &e.uuid)
	case "IconID":
		return p.readUint32(t, &e.IconID)
	case "CustomIconUUID":
		return p.readUUID(t, &e.CustomIconUUID)
	case "ForegroundColor":
		return p.readString(&e.ForegroundColor)
	case "BackgroundColor":
		return p.readString(&e.BackgroundColor)
	case "OverrideURL":
		return p.readString(&e.OverrideURL)
	case "Tags":
		return p.readString(&e.Tags)
	case "QualityCheck":
		return p.readBool(t, &e.QualityCheck)
	case "PreviousParentGroup":
		return p.readUUID(t, &e.PreviousParentGroup)
	case "Times":
		p.state = stateEntryTimes
	case "String":
		p.cur = leafElement{}
		p.state = stateEntryString
	case "Binary":
		p.cur = leafElement{}
		p.state = stateEntryBinary
	case "AutoType":
		p.state = stateEntryAutoType
	case "History":
		if p.owner != nil {
			return formatError("parse", "nested entry history")
		}
		p.owner = e
		p.state = stateEntryHistory
	case "CustomData":
		p.state = stateEntryCustomData
	default:
		return p.skip(t)
	}
	return nil
}

func (p *xmlReader) startTimes(t xml.StartElement, times *Times) error {
	switch t.Name.Local {
	case "CreationTime":
		return p.readTime(t, &times.CreationTime)
	case "LastModificationTime":
		return p.readTime(t, &times.LastModificationTime)
	case "LastAccessTime":
		return p.readTime(t, &times.LastAccessTime)
	case "ExpiryTime":
		return p.readTime(t, &times.ExpiryTime)
	case "Expires":
		return p.readBool(t, &times.Expires)
	case "UsageCount":
		return p.readUint64(t, &times.UsageCount)
	case "LocationChanged":
		return p.readTime(t, &times.LocationChanged)
	default:
		return p.skip(t)
	}
}

func (p *xmlReader) end(t xml.EndElement) error {
	if want := p.state.element(); t.Name.Local != want {
		return formatError("parse", "unexpected </%s> in %s", t.Name.Local, want)
	}
	switch p.state {
	case stateKeePassFile:
		p.state = stateNull
	case stateMeta, stateRoot:
		p.state = stateKeePassFile
	case stateMemoryProtection, stateCustomIcons, stateCustomData, stateBinaries:
		p.state = stateMeta
	case stateCustomIcon:
		p.db.Meta.CustomIcons = append(p.db.Meta.CustomIcons, p.cur.icon)
		p.state = stateCustomIcons
	case stateCustomDataItem:
		p.db.Meta.CustomData = append(p.db.Meta.CustomData, p.cur.item)
		p.state = stateCustomData
	case stateRootDeletedObjects:
		p.state = stateRoot
	case stateDeletedObject:
		p.db.deleted = append(p.db.deleted, p.cur.deleted)
		p.state = stateRootDeletedObjects
	case stateGroup:
		return p.endGroup()
	case stateGroupTimes, stateGroupCustomData:
		p.state = stateGroup
	case stateGroupCustomDataItem:
		g := p.groups[len(p.groups)-1]
		g.CustomData = append(g.CustomData, p.cur.item)
		p.state = stateGroupCustomData
	case stateEntry:
		return p.endEntry()
	case stateEntryTimes, stateEntryAutoType, stateEntryCustomData:
		p.state = stateEntry
	case stateEntryString:
		p.entry.Fields[p.cur.key] = p.cur.value
		p.state = stateEntry
	case stateEntryBinary:
		if p.cur.binary != nil {
			p.entry.Binaries[p.cur.key] = p.cur.binary
		}
		p.state = stateEntry
	case stateEntryAutoTypeItem:
		at := &p.entry.AutoType
		at.Associations = append(at.Associations, p.cur.assoc)
		p.state = stateEntryAutoType
	case stateEntryHistory:
		p.owner = nil
		p.state = stateEntry
	case stateEntryCustomDataItem:
		p.entry.CustomData = append(p.entry.CustomData, p.cur.item)
		p.state = stateEntryCustomData
	}
	return nil
}

func (p *xmlReader) endGroup() error {
	g := p.groups[len(p.groups)-1]
	p.groups = p.groups[:len(p.groups)-1]
	if err := p.backfill(&g.uuid, "group"); err != nil {
		return err
	}
	if len(p.groups) == 0 {
		p.db.root = g
		p.state = stateRoot
		return nil
	}
	parent := p.groups[len(p.groups)-1]
	parent.groups = append(parent.groups, g)
	return nil
}

func (p *xmlReader) endEntry() error {
	e := p.entry
	if p.owner != nil {
		if e.uuid.IsZero() {
			e.uuid = p.owner.uuid
		}
		p.owner.history = append(p.owner.history, e)
		p.entry = p.owner
		p.state = stateEntryHistory
		return nil
	}
	if err := p.backfill(&e.uuid, "entry"); err != nil {
		return err
	}
	// Snapshots closed before the owner had a UUID.
	for _, h := range e.history {
		if h.uuid.IsZero() {
			h.uuid = e.uuid
		}
	}
	g := p.groups[len(p.groups)-1]
	g.entries = append(g.entries, e)
	p.entry = nil
	p.state = stateGroup
	return nil
}

// backfill assigns a random UUID to an element that was written without one.
func (p *xmlReader) backfill(id *uuids.UUID, kind string) error {
	if !id.IsZero() {
		return nil
	}
	u, err := uuids.New(p.db.rand)
	if err != nil {
		return fmt.Errorf("kdbx: parse: %w", err)
	}
	*id = u
	p.db.log.Debug().Str("kind", kind).Stringer("uuid", u).Msg("assigned missing UUID")
	return nil
}

func newParsedEntry(db *Database) *Entry {
	return &Entry{
		QualityCheck: true,
		Fields:       make(map[string]ProtectedValue),
		Binaries:     make(map[string]*Binary),
		AutoType:     AutoType{Enabled: true},
		db:           db,
	}
}

// text returns the character data of the current element and consumes
// its end tag.  Child elements are skipped.
func (p *xmlReader) text() (string, error) {
	var sb strings.Builder
	for {
		tok, err := p.d.Token()
		if err != nil {
			return "", p.tokenError(err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			if err := p.skip(t); err != nil {
				return "", err
			}
		case xml.EndElement:
			return sb.String(), nil
		}
	}
}

// skip consumes an element that is not understood.  A protected value
// is still decrypted so that the inner stream stays aligned.
func (p *xmlReader) skip(t xml.StartElement) error {
	if attrBool(t, "Protected") {
		_, err := p.readProtected(t)
		return err
	}
	for {
		tok, err := p.d.Token()
		if err != nil {
			return p.tokenError(err)
		}
		switch tt := tok.(type) {
		case xml.StartElement:
			if err := p.skip(tt); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

func (p *xmlReader) valueError(t xml.StartElement, err error) error {
	return &FormatError{Op: "parse " + t.Name.Local, Err: err}
}

func (p *xmlReader) xor(b []byte) error {
	if p.stream == nil {
		return formatError("parse", "protected value without inner stream")
	}
	p.stream.XORKeyStream(b, b)
	return nil
}

func (p *xmlReader) readString(dst *string) error {
	s, err := p.text()
	if err != nil {
		return err
	}
	*dst = s
	return nil
}

func (p *xmlReader) readBool(t xml.StartElement, dst *bool) error {
	s, err := p.text()
	if err != nil {
		return err
	}
	b, err := parseBool(strings.TrimSpace(s))
	if err != nil {
		return p.valueError(t, err)
	}
	*dst = b
	return nil
}

func (p *xmlReader) readOptBool(t xml.StartElement, dst **bool) error {
	s, err := p.text()
	if err != nil {
		return err
	}
	b, err := parseOptBool(strings.TrimSpace(s))
	if err != nil {
		return p.valueError(t, err)
	}
	*dst = b
	return nil
}

func (p *xmlReader) readInt64(t xml.StartElement, dst *int64) error {
	s, err := p.text()
	if err != nil {
		return err
	}
	n, err := parseInt(s, 64)
	if err != nil {
		return p.valueError(t, err)
	}
	*dst = n
	return nil
}

func (p *xmlReader) readUint32(t xml.StartElement, dst *uint32) error {
	s, err := p.text()
	if err != nil {
		return err
	}
	n, err := parseUint(s, 32)
	if err != nil {
		return p.valueError(t, err)
	}
	*dst = uint32(n)
	return nil
}

func (p *xmlReader) readUint64(t xml.StartElement, dst *uint64) error {
	s, err := p.text()
	if err != nil {
		return err
	}
	n, err := parseUint(s, 64)
	if err != nil {
		return p.valueError(t, err)
	}
	*dst = n
	return nil
}

func (p *xmlReader) readUUID(t xml.StartElement, dst *uuids.UUID) error {
	s, err := p.text()
	if err != nil {
		return err
	}
	u, err := parseUUID(s)
	if err != nil {
		return p.valueError(t, err)
	}
	*dst = u
	return nil
}

func (p *xmlReader) readTime(t xml.StartElement, dst *time.Time) error {
	s, err := p.text()
	if err != nil {
		return err
	}
	tm, err := parseTime(s, p.v4)
	if err != nil {
		return p.valueError(t, err)
	}
	*dst = tm
	return nil
}

func (p *xmlReader) readBase64(t xml.StartElement, dst *[]byte) error {
	s, err := p.text()
	if err != nil {
		return err
	}
	b, err := decodeBase64(s)
	if err != nil {
		return p.valueError(t, err)
	}
	*dst = b
	return nil
}

// readProtected reads a field value, decrypting it if it is protected.
func (p *xmlReader) readProtected(t xml.StartElement) (ProtectedValue, error) {
	s, err := p.text()
	if err != nil {
		return ProtectedValue{}, err
	}
	if !attrBool(t, "Protected") {
		return ProtectedValue{
			Value:     []byte(s),
			Protected: attrBool(t, "ProtectInMemory"),
		}, nil
	}
	b, err := decodeBase64(s)
	if err != nil {
		return ProtectedValue{}, p.valueError(t, err)
	}
	if err := p.xor(b); err != nil {
		return ProtectedValue{}, err
	}
	return ProtectedValue{Value: b, Protected: true}, nil
}

// readInline reads an attachment stored in the document, undoing
// protection and then compression.
func (p *xmlReader) readInline(t xml.StartElement) (*Binary, error) {
	v, err := p.readProtected(t)
	if err != nil {
		return nil, err
	}
	b := &Binary{Protected: v.Protected && attrBool(t, "Protected")}
	if b.Protected {
		b.Data = v.Value
	} else if b.Data, err = decodeBase64(string(v.Value)); err != nil {
		return nil, p.valueError(t, err)
	}
	if attrBool(t, "Compressed") {
		b.Compressed = true
		b.Data, err = gunzip(b.Data, p.db.maxSize)
		if errors.Is(err, ErrResourceExhausted) {
			return nil, err
		}
		if err != nil {
			return nil, p.valueError(t, err)
		}
	}
	return b, nil
}

func (p *xmlReader) readPoolBinary(t xml.StartElement) error {
	key, err := strconv.Atoi(attr(t, "ID"))
	if err != nil {
		return p.valueError(t, err)
	}
	b, err := p.readInline(t)
	if err != nil {
		return err
	}
	if err := p.db.pool.fill(key, *b); err != nil {
		return p.valueError(t, err)
	}
	return nil
}

func (p *xmlReader) readEntryBinary(t xml.StartElement) (*Binary, error) {
	ref, ok := attrValue(t, "Ref")
	if !ok {
		b, err := p.readInline(t)
		if err != nil {
			return nil, err
		}
		return p.db.pool.Deduplicate(b), nil
	}
	if _, err := p.text(); err != nil {
		return nil, err
	}
	key, err := strconv.Atoi(ref)
	if err != nil {
		return nil, p.valueError(t, err)
	}
	if p.v4 {
		b := p.db.pool.Get(key)
		if b == nil {
			return nil, p.valueError(t, fmt.Errorf("binary reference %d out of range", key))
		}
		return b, nil
	}
	b, err := p.db.pool.ref(key)
	if err != nil {
		return nil, p.valueError(t, err)
	}
	return b, nil
}

func attrValue(t xml.StartElement, name string) (string, bool) {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func attr(t xml.StartElement, name string) string {
	v, _ := attrValue(t, name)
	return v
}

func attrBool(t xml.StartElement, name string) bool {
	return strings.EqualFold(attr(t, name), valTrue)
}
