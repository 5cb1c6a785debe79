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
	"fmt"
	"strconv"
	"strings"

	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
)

// Version is a KDBX file format version: the major version in the high
// 16 bits and the minor version in the low 16 bits.
type Version uint32

// Known versions
const (
	V3_1 Version = 0x00030001
	V4_0 Version = 0x00040000
	V4_1 Version = 0x00040001
)

// Major returns the major version number.
func (v Version) Major() uint16 {
	return uint16(v >> 16)
}

// Minor returns the minor version number.
func (v Version) Minor() uint16 {
	return uint16(v)
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}

// ParseVersion parses a version of the form "4.1".
func ParseVersion(s string) (Version, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedVersion, s)
	}
	x, err1 := strconv.ParseUint(major, 10, 16)
	y, err2 := strconv.ParseUint(minor, 10, 16)
	if err1 != nil || err2 != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedVersion, s)
	}
	v := Version(x<<16 | y)
	if !v.supported() {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedVersion, v)
	}
	return v, nil
}

func (v Version) supported() bool {
	switch v.Major() {
	case 3:
		return v >= 0x00030000
	case 4:
		return true
	default:
		return false
	}
}

func (v Version) isV4() bool {
	return v.Major() >= 4
}

// MinVersion returns the oldest format version able to represent
// everything in db.
func (db *Database) MinVersion() Version {
	if db.needs41() {
		return V4_1
	}
	if kdf, err := kdbcrypt.KDFForParams(db.settings.KDFParams); err != nil || kdf != kdbcrypt.AESKDF {
		return V4_0
	}
	if db.settings.Cipher == kdbcrypt.ChaCha20 || db.settings.PublicCustomData.Len() > 0 {
		return V4_0
	}
	if len(db.Meta.CustomData) > 0 {
		return V4_0
	}
	v := V3_1
	db.walk(func(g *Group) {
		if len(g.CustomData) > 0 {
			v = V4_0
		}
	}, func(e *Entry) {
		if len(e.CustomData) > 0 {
			v = V4_0
		}
	})
	return v
}

func (db *Database) needs41() bool {
	for _, icon := range db.Meta.CustomIcons {
		if icon.Name != "" || !icon.LastModificationTime.IsZero() {
			return true
		}
	}
	if db.Meta.CustomData.hasTimes() {
		return true
	}
	found := false
	db.walk(func(g *Group) {
		if g.Tags != "" || !g.PreviousParentGroup.IsZero() || g.CustomData.hasTimes() {
			found = true
		}
	}, func(e *Entry) {
		if !e.QualityCheck || !e.PreviousParentGroup.IsZero() || e.CustomData.hasTimes() {
			found = true
		}
	})
	return found
}
