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
	"crypto/rand"
	"fmt"
	"io"

	"zombiezen.com/go/kdbx/pkg/config"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/logger"
)

// DefaultMaxDecompressedSize is the limit on decompressed data used when
// Options.MaxDecompressedSize is zero.
const DefaultMaxDecompressedSize = 512 << 20

// Options is the set of parameters for creating or opening a database.
// Nil is treated the same as the zero value.
type Options struct {
	// Password is an optional textual password to encrypt/decrypt
	// the database.
	Password string

	// KeyFile is an optional key file to encrypt/decrypt the database.
	KeyFile io.Reader

	// If Key is non-nil, a copy of it will be used instead of
	// Password/KeyFile.
	Key *kdbcrypt.CompositeKey

	// Random number source, used for seeds, IVs, and ID generation.
	// Defaults to crypto/rand.Reader.
	Rand io.Reader

	// Cipher to encrypt with.  Defaults to AES-256.  Only used for creation.
	Cipher *kdbcrypt.Cipher

	// KDF to derive keys with.  Defaults to Argon2id.  Only used for
	// creation.
	KDF kdbcrypt.KDF

	// Work factors for the KDF.  KeyRounds is the AES-KDF round count or the
	// Argon2 iteration count.  Zero values select the KDF's defaults.
	// Only used for creation.
	KeyRounds   uint64
	Memory      uint64
	Parallelism uint32

	// NoCompression disables gzip compression of new databases.
	NoCompression bool

	// Version is the format version new databases are saved with.
	// Defaults to 4.0.  Saving may pick a newer version if the database
	// uses features that need it.
	Version Version

	// Progress receives phase notifications.  May be nil.
	Progress Progress

	// Logger receives debug output.  Defaults to discarding everything.
	Logger *logger.Logger

	// MaxDecompressedSize bounds every decompressed stream and inline
	// attachment.  Defaults to DefaultMaxDecompressedSize.
	MaxDecompressedSize int64

	// RootName is the name of the root group of a new database.
	// Defaults to "Root".
	RootName string
}

// OptionsFromConfig returns creation options for the given codec
// configuration.  Credentials are not set.
func OptionsFromConfig(cfg config.Codec) (*Options, error) {
	c, err := kdbcrypt.CipherByName(cfg.Cipher)
	if err != nil {
		return nil, fmt.Errorf("kdbx: options from config: %w", err)
	}
	kdf, err := kdbcrypt.KDFByName(cfg.KDF)
	if err != nil {
		return nil, fmt.Errorf("kdbx: options from config: %w", err)
	}
	v, err := ParseVersion(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("kdbx: options from config: %w", err)
	}
	return &Options{
		Cipher:              c,
		KDF:                 kdf,
		KeyRounds:           cfg.Rounds,
		Memory:              cfg.Memory,
		Parallelism:         cfg.Parallelism,
		NoCompression:       cfg.Compression == "none",
		Version:             v,
		MaxDecompressedSize: cfg.MaxDecompressedSize,
	}, nil
}

// compositeKey returns a key owned by the caller.
func (opts *Options) compositeKey() (*kdbcrypt.CompositeKey, error) {
	if opts == nil {
		return nil, ErrNoCredentials
	}
	if opts.Key != nil {
		return opts.Key.Clone(), nil
	}
	// TODO(light): try non-UTF8 encodings
	return kdbcrypt.NewCompositeKey([]byte(opts.Password), opts.KeyFile)
}

func (opts *Options) getRand() io.Reader {
	if opts == nil || opts.Rand == nil {
		return rand.Reader
	}
	return opts.Rand
}

func (opts *Options) getCipher() *kdbcrypt.Cipher {
	if opts == nil || opts.Cipher == nil {
		return kdbcrypt.AES256
	}
	return opts.Cipher
}

func (opts *Options) getKDF() kdbcrypt.KDF {
	if opts == nil || opts.KDF == nil {
		return kdbcrypt.Argon2id
	}
	return opts.KDF
}

func (opts *Options) getCost() kdbcrypt.Cost {
	if opts == nil {
		return kdbcrypt.Cost{}
	}
	return kdbcrypt.Cost{
		Rounds:      opts.KeyRounds,
		Memory:      opts.Memory,
		Parallelism: opts.Parallelism,
	}
}

func (opts *Options) getCompression() Compression {
	if opts != nil && opts.NoCompression {
		return NoCompression
	}
	return GZipCompression
}

func (opts *Options) getVersion() Version {
	if opts == nil || opts.Version == 0 {
		return V4_0
	}
	return opts.Version
}

func (opts *Options) getProgress() Progress {
	if opts == nil || opts.Progress == nil {
		return nopProgress{}
	}
	return opts.Progress
}

func (opts *Options) getLogger() *logger.Logger {
	if opts == nil || opts.Logger == nil {
		return logger.Nop()
	}
	return opts.Logger.Component("kdbx")
}

func (opts *Options) maxDecompressedSize() int64 {
	if opts == nil || opts.MaxDecompressedSize <= 0 {
		return DefaultMaxDecompressedSize
	}
	return opts.MaxDecompressedSize
}

func (opts *Options) rootName() string {
	if opts == nil || opts.RootName == "" {
		return "Root"
	}
	return opts.RootName
}
