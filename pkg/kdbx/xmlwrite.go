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
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"

	"zombiezen.com/go/kdbx/pkg/uuids"
)

// xmlWriter serializes a database as a KDBX XML document.  The first
// error is kept and every later call is a no-op.
type xmlWriter struct {
	enc     *xml.Encoder
	db      *Database
	version Version
	stream  cipher.Stream

	pool       *BinaryPool
	refs       map[*Binary]int
	compress   bool
	headerHash []byte

	err error
}

func (x *xmlWriter) v4() bool  { return x.version.isV4() }
func (x *xmlWriter) v41() bool { return x.version >= V4_1 }

// write emits the whole document to w.
func (x *xmlWriter) write(w io.Writer) error {
	x.enc = xml.NewEncoder(w)
	x.enc.Indent("", "\t")
	x.token(xml.ProcInst{Target: "xml", Inst: []byte(`version="1.0" encoding="utf-8" standalone="yes"`)})
	x.start("KeePassFile")
	x.meta()
	x.start("Root")
	x.group(x.db.root)
	x.deletedObjects()
	x.end("Root")
	x.end("KeePassFile")
	if x.err == nil {
		x.err = x.enc.Flush()
	}
	if x.err != nil {
		return fmt.Errorf("kdbx: write XML: %w", x.err)
	}
	return nil
}

func (x *xmlWriter) token(t xml.Token) {
	if x.err == nil {
		x.err = x.enc.EncodeToken(t)
	}
}

func (x *xmlWriter) start(name string, attrs ...xml.Attr) {
	x.token(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (x *xmlWriter) end(name string) {
	x.token(xml.EndElement{Name: xml.Name{Local: name}})
}

func (x *xmlWriter) text(name, s string, attrs ...xml.Attr) {
	x.start(name, attrs...)
	if s != "" {
		x.token(xml.CharData(safeXMLString(s)))
	}
	x.end(name)
}

func (x *xmlWriter) bool(name string, b bool) {
	x.text(name, formatBool(b))
}

func (x *xmlWriter) int(name string, n int64) {
	x.text(name, strconv.FormatInt(n, 10))
}

func (x *xmlWriter) uint(name string, n uint64) {
	x.text(name, strconv.FormatUint(n, 10))
}

func (x *xmlWriter) uuid(name string, u uuids.UUID) {
	x.text(name, formatUUID(u))
}

func (x *xmlWriter) time(name string, t time.Time) {
	x.text(name, formatTime(t, x.v4()))
}

func (x *xmlWriter) base64(name string, b []byte, attrs ...xml.Attr) {
	x.text(name, base64.StdEncoding.EncodeToString(b), attrs...)
}

// protect returns a copy of b encrypted with the inner stream.
func (x *xmlWriter) protect(b []byte) []byte {
	out := make([]byte, len(b))
	x.stream.XORKeyStream(out, b)
	return out
}

func xmlAttr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func (x *xmlWriter) meta() {
	m := &x.db.Meta
	x.start("Meta")
	x.text("Generator", m.Generator)
	if !x.v4() {
		x.base64("HeaderHash", x.headerHash)
	}
	x.time("SettingsChanged", m.SettingsChanged)
	x.text("DatabaseName", m.DatabaseName)
	x.time("DatabaseNameChanged", m.DatabaseNameChanged)
	x.text("DatabaseDescription", m.DatabaseDescription)
	x.time("DatabaseDescriptionChanged", m.DatabaseDescriptionChanged)
	x.text("DefaultUserName", m.DefaultUserName)
	x.time("DefaultUserNameChanged", m.DefaultUserNameChanged)
	x.uint("MaintenanceHistoryDays", uint64(m.MaintenanceHistoryDays))
	x.text("Color", m.Color)
	x.time("MasterKeyChanged", m.MasterKeyChanged)
	x.int("MasterKeyChangeRec", m.MasterKeyChangeRec)
	x.int("MasterKeyChangeForce", m.MasterKeyChangeForce)
	if m.MasterKeyChangeForceOnce {
		x.bool("MasterKeyChangeForceOnce", true)
	}

	mp := m.MemoryProtection
	x.start("MemoryProtection")
	x.bool("ProtectTitle", mp.ProtectTitle)
	x.bool("ProtectUserName", mp.ProtectUserName)
	x.bool("ProtectPassword", mp.ProtectPassword)
	x.bool("ProtectURL", mp.ProtectURL)
	x.bool("ProtectNotes", mp.ProtectNotes)
	x.end("MemoryProtection")

	if len(m.CustomIcons) > 0 {
		x.start("CustomIcons")
		for _, icon := range m.CustomIcons {
			x.start("Icon")
			x.uuid("UUID", icon.UUID)
			x.base64("Data", icon.Data)
			if x.v41() {
				if icon.Name != "" {
					x.text("Name", icon.Name)
				}
				if !icon.LastModificationTime.IsZero() {
					x.time("LastModificationTime", icon.LastModificationTime)
				}
			}
			x.end("Icon")
		}
		x.end("CustomIcons")
	}

	x.bool("RecycleBinEnabled", m.RecycleBinEnabled)
	x.uuid("RecycleBinUUID", m.RecycleBinUUID)
	x.time("RecycleBinChanged", m.RecycleBinChanged)
	x.uuid("EntryTemplatesGroup", m.EntryTemplatesGroup)
	x.time("EntryTemplatesGroupChanged", m.EntryTemplatesGroupChanged)
	x.int("HistoryMaxItems", int64(m.HistoryMaxItems))
	x.int("HistoryMaxSize", m.HistoryMaxSize)
	x.uuid("LastSelectedGroup", m.LastSelectedGroup)
	x.uuid("LastTopVisibleGroup", m.LastTopVisibleGroup)

	if !x.v4() && x.pool.Len() > 0 {
		x.binaries()
	}
	if len(m.CustomData) > 0 {
		x.customData(m.CustomData)
	}
	x.end("Meta")
}

// binaries writes the version 3 attachment pool.
func (x *xmlWriter) binaries() {
	x.start("Binaries")
	for i, b := range x.pool.Binaries() {
		id := xmlAttr("ID", strconv.Itoa(i))
		switch {
		case b.Protected:
			x.base64("Binary", x.protect(b.Data), id, xmlAttr("Protected", valTrue))
		case x.compress:
			x.base64("Binary", gzipBytes(b.Data), id, xmlAttr("Compressed", valTrue))
		default:
			x.base64("Binary", b.Data, id)
		}
	}
	x.end("Binaries")
}

func (x *xmlWriter) customData(cd CustomData) {
	x.start("CustomData")
	for _, item := range cd {
		x.start("Item")
		x.text("Key", item.Key)
		x.text("Value", item.Value)
		if x.v41() && !item.LastModificationTime.IsZero() {
			x.time("LastModificationTime", item.LastModificationTime)
		}
		x.end("Item")
	}
	x.end("CustomData")
}

func (x *xmlWriter) times(t *Times) {
	x.start("Times")
	x.time("CreationTime", t.CreationTime)
	x.time("LastModificationTime", t.LastModificationTime)
	x.time("LastAccessTime", t.LastAccessTime)
	x.time("ExpiryTime", t.ExpiryTime)
	x.bool("Expires", t.Expires)
	x.uint("UsageCount", t.UsageCount)
	x.time("LocationChanged", t.LocationChanged)
	x.end("Times")
}

func (x *xmlWriter) group(g *Group) {
	x.start("Group")
	x.uuid("UUID", g.uuid)
	x.text("Name", g.Name)
	x.text("Notes", g.Notes)
	x.uint("IconID", uint64(g.IconID))
	if !g.CustomIconUUID.IsZero() {
		x.uuid("CustomIconUUID", g.CustomIconUUID)
	}
	if x.v41() {
		if g.Tags != "" {
			x.text("Tags", g.Tags)
		}
		if !g.PreviousParentGroup.IsZero() {
			x.uuid("PreviousParentGroup", g.PreviousParentGroup)
		}
	}
	x.times(&g.Times)
	x.bool("IsExpanded", g.IsExpanded)
	x.text("DefaultAutoTypeSequence", g.DefaultAutoTypeSequence)
	x.text("EnableAutoType", formatOptBool(g.EnableAutoType))
	x.text("EnableSearching", formatOptBool(g.EnableSearching))
	x.uuid("LastTopVisibleEntry", g.LastTopVisibleEntry)
	if len(g.CustomData) > 0 {
		x.customData(g.CustomData)
	}
	for _, e := range g.entries {
		x.entry(e, true)
	}
	for _, sub := range g.groups {
		x.group(sub)
	}
	x.end("Group")
}

func (x *xmlWriter) entry(e *Entry, withHistory bool) {
	x.start("Entry")
	x.uuid("UUID", e.uuid)
	x.uint("IconID", uint64(e.IconID))
	if !e.CustomIconUUID.IsZero() {
		x.uuid("CustomIconUUID", e.CustomIconUUID)
	}
	x.text("ForegroundColor", e.ForegroundColor)
	x.text("BackgroundColor", e.BackgroundColor)
	x.text("OverrideURL", e.OverrideURL)
	if x.v41() && !e.QualityCheck {
		x.bool("QualityCheck", false)
	}
	x.text("Tags", e.Tags)
	if x.v41() && !e.PreviousParentGroup.IsZero() {
		x.uuid("PreviousParentGroup", e.PreviousParentGroup)
	}
	x.times(&e.Times)

	mp := x.db.Meta.MemoryProtection
	for _, key := range sortedKeys(e.Fields) {
		v := e.Fields[key]
		x.start("String")
		x.text("Key", key)
		if v.Protected || mp.Protects(key) {
			x.base64("Value", x.protect(v.Value), xmlAttr("Protected", valTrue))
		} else {
			x.text("Value", string(v.Value))
		}
		x.end("String")
	}
	for _, key := range sortedKeys(e.Binaries) {
		x.start("Binary")
		x.text("Key", key)
		x.text("Value", "", xmlAttr("Ref", strconv.Itoa(x.refs[e.Binaries[key]])))
		x.end("Binary")
	}

	at := &e.AutoType
	x.start("AutoType")
	x.bool("Enabled", at.Enabled)
	x.int("DataTransferObfuscation", at.Obfuscation)
	if at.DefaultSequence != "" {
		x.text("DefaultSequence", at.DefaultSequence)
	}
	for _, assoc := range at.Associations {
		x.start("Association")
		x.text("Window", assoc.Window)
		x.text("KeystrokeSequence", assoc.KeystrokeSequence)
		x.end("Association")
	}
	x.end("AutoType")

	if len(e.CustomData) > 0 {
		x.customData(e.CustomData)
	}
	if withHistory {
		x.start("History")
		for _, h := range e.history {
			x.entry(h, false)
		}
		x.end("History")
	}
	x.end("Entry")
}

func (x *xmlWriter) deletedObjects() {
	x.start("DeletedObjects")
	for _, d := range x.db.deleted {
		x.start("DeletedObject")
		x.uuid("UUID", d.UUID)
		x.time("DeletionTime", d.DeletionTime)
		x.end("DeletedObject")
	}
	x.end("DeletedObjects")
}
