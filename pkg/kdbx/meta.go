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
	"time"

	"zombiezen.com/go/kdbx/pkg/uuids"
)

// Meta holds database-wide settings.
type Meta struct {
	Generator       string
	SettingsChanged time.Time

	DatabaseName               string
	DatabaseNameChanged        time.Time
	DatabaseDescription        string
	DatabaseDescriptionChanged time.Time
	DefaultUserName            string
	DefaultUserNameChanged     time.Time
	MaintenanceHistoryDays     uint32
	Color                      string

	MasterKeyChanged         time.Time
	MasterKeyChangeRec       int64
	MasterKeyChangeForce     int64
	MasterKeyChangeForceOnce bool

	MemoryProtection MemoryProtection
	CustomIcons      []CustomIcon

	RecycleBinEnabled          bool
	RecycleBinUUID             uuids.UUID
	RecycleBinChanged          time.Time
	EntryTemplatesGroup        uuids.UUID
	EntryTemplatesGroupChanged time.Time

	// HistoryMaxItems and HistoryMaxSize limit each entry's history.
	// -1 means unlimited.
	HistoryMaxItems int
	HistoryMaxSize  int64

	LastSelectedGroup   uuids.UUID
	LastTopVisibleGroup uuids.UUID

	CustomData CustomData

	// HeaderHash is the header checksum found in an older file.  It is
	// recomputed on every save.
	HeaderHash []byte
}

// Defaults for new databases
const (
	DefaultHistoryMaxItems        = 10
	DefaultHistoryMaxSize         = 6 << 20
	DefaultMaintenanceHistoryDays = 365
)

const generatorName = "kdbx"

func newMeta(t time.Time) Meta {
	return Meta{
		Generator:                  generatorName,
		SettingsChanged:            t,
		DatabaseNameChanged:        t,
		DatabaseDescriptionChanged: t,
		DefaultUserNameChanged:     t,
		MaintenanceHistoryDays:     DefaultMaintenanceHistoryDays,
		MasterKeyChanged:           t,
		MasterKeyChangeRec:         -1,
		MasterKeyChangeForce:       -1,
		MemoryProtection:           MemoryProtection{ProtectPassword: true},
		RecycleBinEnabled:          true,
		RecycleBinChanged:          t,
		EntryTemplatesGroupChanged: t,
		HistoryMaxItems:            DefaultHistoryMaxItems,
		HistoryMaxSize:             DefaultHistoryMaxSize,
	}
}

// MemoryProtection lists the standard fields that are always written
// protected.
type MemoryProtection struct {
	ProtectTitle    bool
	ProtectUserName bool
	ProtectPassword bool
	ProtectURL      bool
	ProtectNotes    bool
}

// Protects reports whether the standard field key is protected.
func (mp MemoryProtection) Protects(key string) bool {
	switch key {
	case TitleField:
		return mp.ProtectTitle
	case UserNameField:
		return mp.ProtectUserName
	case PasswordField:
		return mp.ProtectPassword
	case URLField:
		return mp.ProtectURL
	case NotesField:
		return mp.ProtectNotes
	default:
		return false
	}
}

// A CustomIcon is an image that groups and entries may use instead of
// a standard icon.
type CustomIcon struct {
	UUID                 uuids.UUID
	Data                 []byte
	Name                 string
	LastModificationTime time.Time
}

// A CustomDataItem is a plugin-defined key/value pair.
type CustomDataItem struct {
	Key                  string
	Value                string
	LastModificationTime time.Time
}

// CustomData is an ordered list of custom data items with unique keys.
type CustomData []CustomDataItem

// Get returns the value for key.
func (cd CustomData) Get(key string) (string, bool) {
	for _, item := range cd {
		if item.Key == key {
			return item.Value, true
		}
	}
	return "", false
}

// Set adds or replaces the value for key.
func (cd *CustomData) Set(key, value string) {
	for i := range *cd {
		if (*cd)[i].Key == key {
			(*cd)[i].Value = value
			return
		}
	}
	*cd = append(*cd, CustomDataItem{Key: key, Value: value})
}

func (cd CustomData) hasTimes() bool {
	for _, item := range cd {
		if !item.LastModificationTime.IsZero() {
			return true
		}
	}
	return false
}

func (cd CustomData) clone() CustomData {
	if cd == nil {
		return nil
	}
	return append(CustomData(nil), cd...)
}

// Times holds all of the temporal data for a group or entry.
type Times struct {
	CreationTime         time.Time
	LastModificationTime time.Time
	LastAccessTime       time.Time
	ExpiryTime           time.Time
	Expires              bool
	UsageCount           uint64
	LocationChanged      time.Time
}

func newTimes(t time.Time) Times {
	return Times{
		CreationTime:         t,
		LastModificationTime: t,
		LastAccessTime:       t,
		ExpiryTime:           t,
		LocationChanged:      t,
	}
}

// now returns the current time at the resolution stored in files.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// A ProtectedValue is a field value.  Protected values are encrypted
// with the inner stream when written; in memory they are plaintext.
type ProtectedValue struct {
	Value     []byte
	Protected bool
}

func (v ProtectedValue) String() string {
	return string(v.Value)
}

func (v ProtectedValue) clone() ProtectedValue {
	return ProtectedValue{Value: append([]byte(nil), v.Value...), Protected: v.Protected}
}

// AutoType holds an entry's auto-type configuration.
type AutoType struct {
	Enabled         bool
	Obfuscation     int64
	DefaultSequence string
	Associations    []AutoTypeAssociation
}

// An AutoTypeAssociation binds a keystroke sequence to a window title.
type AutoTypeAssociation struct {
	Window            string
	KeystrokeSequence string
}

// A DeletedObject records the removal of a group or entry so that
// synchronization can propagate it.
type DeletedObject struct {
	UUID         uuids.UUID
	DeletionTime time.Time
}
