// Copyright 2016 Ross Light
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

package kdbcrypt

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// A CompositeKey is the hash of a user's credentials before key
// derivation.  Its bytes are wiped by Close.
type CompositeKey struct {
	key [sha256.Size]byte
}

// NewCompositeKey combines a password and a key file into a composite key.
// An empty password is only used as a credential when there is no key file.
// keyFile may be nil.
func NewCompositeKey(password []byte, keyFile io.Reader) (*CompositeKey, error) {
	var keyFileHash []byte
	if keyFile != nil {
		var err error
		keyFileHash, err = ReadKeyFile(keyFile)
		if err != nil {
			return nil, err
		}
		defer Zero(keyFileHash)
	}
	return NewCompositeKeyFromHash(password, keyFileHash)
}

// NewCompositeKeyFromHash is like NewCompositeKey, but takes a key file
// hash as returned by ReadKeyFile.
func NewCompositeKeyFromHash(password, keyFileHash []byte) (*CompositeKey, error) {
	if len(password) == 0 && len(keyFileHash) == 0 {
		return nil, ErrNoCredentials
	}
	h := sha256.New()
	if len(password) > 0 {
		p := sha256.Sum256(password)
		h.Write(p[:])
		Zero(p[:])
	}
	h.Write(keyFileHash)
	k := new(CompositeKey)
	h.Sum(k.key[:0])
	return k, nil
}

// Bytes returns a copy of the key.  The caller should Zero the copy when
// done with it.
func (k *CompositeKey) Bytes() []byte {
	b := make([]byte, len(k.key))
	copy(b, k.key[:])
	return b
}

// Clone returns an independent copy of k.
func (k *CompositeKey) Clone() *CompositeKey {
	k2 := new(CompositeKey)
	*k2 = *k
	return k2
}

// Equal reports whether two keys hold the same bytes.
func (k *CompositeKey) Equal(k2 *CompositeKey) bool {
	if k == nil || k2 == nil {
		return k == k2
	}
	return k.key == k2.key
}

// Close wipes the key.
func (k *CompositeKey) Close() {
	if k != nil {
		Zero(k.key[:])
	}
}

// maxKeyFileSniff is the amount of a key file examined for one of the
// structured formats before falling back to hashing.
const maxKeyFileSniff = 64 << 10

// ReadKeyFile reads a key file and returns its 32-byte hash for use in a
// CompositeKey.  XML key files (versions 1.0 and 2.0), 32 raw bytes, and 64
// hex digits are decoded; anything else is hashed with SHA-256.
func ReadKeyFile(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxKeyFileSniff+1))
	if err != nil {
		return nil, fmt.Errorf("kdbcrypt: read key file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKeyFile)
	}
	if len(data) <= maxKeyFileSniff {
		if isXMLKeyFile(data) {
			return parseXMLKeyFile(data)
		}
		switch len(data) {
		case 32:
			return data, nil
		case 64:
			h := make([]byte, hex.DecodedLen(len(data)))
			if _, err := hex.Decode(h, data); err == nil {
				return h, nil
			}
		}
	}
	s := sha256.New()
	s.Write(data)
	Zero(data)
	if _, err := io.Copy(s, r); err != nil {
		return nil, fmt.Errorf("kdbcrypt: read key file: %w", err)
	}
	return s.Sum(nil), nil
}

type xmlKeyFile struct {
	XMLName xml.Name `xml:"KeyFile"`
	Meta    struct {
		Version string `xml:"Version"`
	} `xml:"Meta"`
	Key struct {
		Data struct {
			Hash  string `xml:"Hash,attr"`
			Value string `xml:",chardata"`
		} `xml:"Data"`
	} `xml:"Key"`
}

func isXMLKeyFile(data []byte) bool {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	data = bytes.TrimLeft(data, " \t\r\n")
	if !bytes.HasPrefix(data, []byte("<")) {
		return false
	}
	var probe struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.XMLName.Local == "KeyFile"
}

func parseXMLKeyFile(data []byte) ([]byte, error) {
	var kf xmlKeyFile
	if err := xml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
	}
	version := strings.TrimSpace(kf.Meta.Version)
	switch {
	case strings.HasPrefix(version, "1."):
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(kf.Key.Data.Value))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
		}
		if len(key) != sha256.Size {
			return nil, fmt.Errorf("%w: key data is %d bytes", ErrInvalidKeyFile, len(key))
		}
		return key, nil
	case strings.HasPrefix(version, "2."):
		digits := strings.Map(func(r rune) rune {
			switch r {
			case ' ', '\t', '\r', '\n':
				return -1
			}
			return r
		}, kf.Key.Data.Value)
		key, err := hex.DecodeString(digits)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
		}
		if len(key) != sha256.Size {
			return nil, fmt.Errorf("%w: key data is %d bytes", ErrInvalidKeyFile, len(key))
		}
		if kf.Key.Data.Hash != "" {
			sum := sha256.Sum256(key)
			want, err := hex.DecodeString(strings.TrimSpace(kf.Key.Data.Hash))
			if err != nil || len(want) != 4 || !bytes.Equal(sum[:4], want) {
				return nil, fmt.Errorf("%w: key data hash mismatch", ErrInvalidKeyFile)
			}
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unknown version %q", ErrInvalidKeyFile, version)
	}
}
