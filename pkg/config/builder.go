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

package config

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v11"
)

// builder layers partial configurations over the defaults.  Later layers
// win for every field they set to a non-zero value.
type builder struct {
	layers []*Config
	err    error
}

func newBuilder() *builder {
	return &builder{layers: []*Config{Defaults()}}
}

func (b *builder) build() (*Config, error) {
	if b.err != nil {
		return nil, fmt.Errorf("config: %w", b.err)
	}
	cfg := new(Config)
	for _, layer := range b.layers {
		if err := mergo.Merge(cfg, layer, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("config: merge: %w", err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withEnv adds the layer read from environ, or from the process
// environment if environ is nil.
func (b *builder) withEnv(environ map[string]string) *builder {
	layer := new(Config)
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(layer, opts); err != nil {
		b.err = errors.Join(b.err, fmt.Errorf("environment: %w", err))
		return b
	}
	b.layers = append(b.layers, layer)
	return b
}

// withFlags adds the layer parsed from command-line arguments.
func (b *builder) withFlags(args []string) *builder {
	layer, err := parseFlags(args)
	if err != nil {
		b.err = errors.Join(b.err, err)
		return b
	}
	b.layers = append(b.layers, layer)
	return b
}

func parseFlags(args []string) (*Config, error) {
	cfg := new(Config)
	fs := flag.NewFlagSet("kdbx", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.Server.Listen, "listen", "", "address to listen on")
	fs.StringVar(&cfg.Server.DBPath, "db", "", "path to database")
	fs.DurationVar(&cfg.Server.SessionGC, "session_gc", 0, "frequency at which sessions are to be cleared from memory after expiring")
	fs.DurationVar(&cfg.Server.SessionExpiry, "session_expiry", 0, "how long a session stays unlocked")
	fs.Int64Var(&cfg.Server.MaxRequestSize, "max_request_size", 0, "maximum request body size in bytes")
	fs.IntVar(&cfg.Server.TokenSize, "token_size", 0, "size of the session tokens sent to the client (in bytes)")
	fs.StringVar(&cfg.Server.WordsFile, "words_file", "", "file with words, one per line, for passphrase generation")
	fs.StringVar(&cfg.Codec.Cipher, "cipher", "", "cipher for saved databases: aes, twofish, or chacha20")
	fs.StringVar(&cfg.Codec.KDF, "kdf", "", "key derivation function for saved databases: aes, argon2d, or argon2id")
	fs.Uint64Var(&cfg.Codec.Rounds, "kdf_rounds", 0, "AES-KDF rounds or Argon2 iterations")
	fs.Uint64Var(&cfg.Codec.Memory, "kdf_memory", 0, "Argon2 memory in bytes")
	fs.StringVar(&cfg.Codec.Compression, "compression", "", "gzip or none")
	fs.StringVar(&cfg.Codec.Version, "format_version", "", "minimum file format version: 3.1, 4.0, or 4.1")
	fs.StringVar(&cfg.Log.Level, "log_level", "", "minimum log level")
	parallelism := fs.Uint("kdf_parallelism", 0, "Argon2 parallelism")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("flags: %w", err)
	}
	cfg.Codec.Parallelism = uint32(*parallelism)
	return cfg, nil
}
