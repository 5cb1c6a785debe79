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
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"zombiezen.com/go/kdbx/pkg/uuids"
)

const (
	valTrue  = "True"
	valFalse = "False"
	valNull  = "null"
)

// v3TimeFormat is the text form of times in older files.
const v3TimeFormat = "2006-01-02T15:04:05Z"

// secondsToUnixEpoch is the number of seconds from 0001-01-01T00:00:00Z
// to the Unix epoch.  Newer files count seconds from the former.
const secondsToUnixEpoch = 62135596800

func formatBool(b bool) string {
	if b {
		return valTrue
	}
	return valFalse
}

func parseBool(s string) (bool, error) {
	switch {
	case strings.EqualFold(s, valTrue):
		return true, nil
	case strings.EqualFold(s, valFalse), s == "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

func formatOptBool(b *bool) string {
	if b == nil {
		return valNull
	}
	return formatBool(*b)
}

func parseOptBool(s string) (*bool, error) {
	if s == "" || strings.EqualFold(s, valNull) {
		return nil, nil
	}
	b, err := parseBool(s)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func formatTime(t time.Time, v4 bool) string {
	t = t.UTC()
	if !v4 {
		return t.Format(v3TimeFormat)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(t.Unix()+secondsToUnixEpoch))
	return base64.StdEncoding.EncodeToString(buf[:])
}

// parseTime accepts both time encodings regardless of version, since
// some writers emit text times in newer files.
func parseTime(s string, v4 bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if v4 {
		if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == 8 {
			secs := int64(binary.LittleEndian.Uint64(b))
			return time.Unix(secs-secondsToUnixEpoch, 0).UTC(), nil
		}
	}
	if t, err := time.Parse(v3TimeFormat, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return t.UTC(), nil
}

func formatUUID(u uuids.UUID) string {
	return u.Base64()
}

func parseUUID(s string) (uuids.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuids.UUID{}, nil
	}
	return uuids.DecodeBase64(s)
}

func parseInt(s string, bitSize int) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, bitSize)
}

func parseUint(s string, bitSize int) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, bitSize)
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

// safeXMLString drops characters that are not allowed in XML documents.
func safeXMLString(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r >= 0x20 && r <= 0xd7ff:
			return r
		case r >= 0xe000 && r <= 0xfffd:
			return r
		case r >= 0x10000 && r <= 0x10ffff:
			return r
		default:
			return -1
		}
	}, s)
}
