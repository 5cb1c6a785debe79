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

// Package config loads codec and server settings from defaults, the
// environment (variables prefixed with KDBX_), and command-line flags,
// in increasing order of precedence.
package config // import "zombiezen.com/go/kdbx/pkg/config"

import (
	"errors"
	"fmt"
	"os"
	"time"

	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/logger"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "KDBX_"

// Config is the complete set of settings.
type Config struct {
	Codec  Codec  `envPrefix:"CODEC_"`
	Server Server `envPrefix:"SERVER_"`
	Log    Log    `envPrefix:"LOG_"`
}

// Codec holds the settings used when creating or saving databases.
type Codec struct {
	// Cipher is "aes", "twofish", or "chacha20".
	Cipher string `env:"CIPHER"`
	// KDF is "aes", "argon2d", or "argon2id".
	KDF         string `env:"KDF"`
	Rounds      uint64 `env:"ROUNDS"`
	Memory      uint64 `env:"MEMORY"`
	Parallelism uint32 `env:"PARALLELISM"`
	// Compression is "gzip" or "none".
	Compression string `env:"COMPRESSION"`
	// Version is "3.1", "4.0", or "4.1".
	Version             string `env:"VERSION"`
	MaxDecompressedSize int64  `env:"MAX_DECOMPRESSED_SIZE"`
}

// Server holds the HTTP front end settings.
type Server struct {
	Listen         string        `env:"LISTEN"`
	DBPath         string        `env:"DB"`
	SessionExpiry  time.Duration `env:"SESSION_EXPIRY"`
	SessionGC      time.Duration `env:"SESSION_GC"`
	MaxRequestSize int64         `env:"MAX_REQUEST_SIZE"`
	TokenSize      int           `env:"TOKEN_SIZE"`
	WordsFile      string        `env:"WORDS_FILE"`
}

// Log holds the logger settings.
type Log struct {
	Level string `env:"LEVEL"`
	Role  string `env:"ROLE"`
}

// Validation errors
var (
	ErrInvalidCodecConfig  = errors.New("config: invalid codec configuration")
	ErrInvalidServerConfig = errors.New("config: invalid server configuration")
	ErrInvalidLogConfig    = errors.New("config: invalid log configuration")
)

// Defaults returns the built-in settings.
func Defaults() *Config {
	return &Config{
		Codec: Codec{
			Cipher:              "aes",
			KDF:                 "argon2id",
			Compression:         "gzip",
			Version:             "4.0",
			MaxDecompressedSize: 512 << 20,
		},
		Server: Server{
			Listen:         "[::]:8080",
			SessionExpiry:  15 * time.Minute,
			SessionGC:      1 * time.Minute,
			MaxRequestSize: 10 << 20,
			TokenSize:      33,
			WordsFile:      "/usr/share/dict/words",
		},
		Log: Log{
			Level: "info",
			Role:  "kdbx",
		},
	}
}

// Load builds the configuration for a program invoked with args (not
// including the program name) in the current process environment.
func Load(args []string) (*Config, error) {
	return newBuilder().
		withEnv(nil).
		withFlags(args).
		build()
}

func (cfg *Config) validate() error {
	var errs []error
	if _, err := kdbcrypt.CipherByName(cfg.Codec.Cipher); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidCodecConfig, err))
	}
	if _, err := kdbcrypt.KDFByName(cfg.Codec.KDF); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidCodecConfig, err))
	}
	switch cfg.Codec.Compression {
	case "gzip", "none":
	default:
		errs = append(errs, fmt.Errorf("%w: compression %q", ErrInvalidCodecConfig, cfg.Codec.Compression))
	}
	switch cfg.Codec.Version {
	case "3.1", "4.0", "4.1":
	default:
		errs = append(errs, fmt.Errorf("%w: version %q", ErrInvalidCodecConfig, cfg.Codec.Version))
	}
	if cfg.Codec.MaxDecompressedSize < 0 {
		errs = append(errs, fmt.Errorf("%w: negative max decompressed size", ErrInvalidCodecConfig))
	}
	if cfg.Server.SessionExpiry <= 0 || cfg.Server.SessionGC <= 0 {
		errs = append(errs, fmt.Errorf("%w: session durations must be positive", ErrInvalidServerConfig))
	}
	if cfg.Server.MaxRequestSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: max request size must be positive", ErrInvalidServerConfig))
	}
	if cfg.Server.TokenSize < 16 {
		errs = append(errs, fmt.Errorf("%w: token size must be at least 16 bytes", ErrInvalidServerConfig))
	}
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidLogConfig, err))
	}
	return errors.Join(errs...)
}

// NewLogger returns a logger writing to standard error at the configured
// level.
func (cfg *Config) NewLogger() *logger.Logger {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		level, _ = logger.ParseLevel("")
	}
	return logger.New(cfg.Log.Role, os.Stderr, level)
}
