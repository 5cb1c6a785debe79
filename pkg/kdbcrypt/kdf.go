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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	argon2d "github.com/tobischo/argon2"
	"golang.org/x/crypto/argon2"
	"zombiezen.com/go/kdbx/pkg/uuids"
	"zombiezen.com/go/kdbx/pkg/varmap"
)

// Parameter names shared by the key derivation functions.
const (
	ParamUUID        = "$UUID"
	ParamSeed        = "S" // AES-KDF seed, Argon2 salt
	ParamRounds      = "R" // AES-KDF
	ParamParallelism = "P" // Argon2
	ParamMemory      = "M" // Argon2, in bytes
	ParamIterations  = "I" // Argon2
	ParamVersion     = "V" // Argon2
	ParamSecret      = "K" // Argon2
	ParamAssocData   = "A" // Argon2
)

const seedSize = 32

// Cost holds the tunable work factors of a key derivation function.
// Zero fields select the function's default.
type Cost struct {
	Rounds      uint64 // AES-KDF rounds or Argon2 iterations
	Memory      uint64 // bytes, Argon2 only
	Parallelism uint32 // Argon2 only
}

// A KDF stretches a composite key.  Its parameters are carried in a
// variant map stored in the file header.
type KDF interface {
	UUID() uuids.UUID
	Name() string

	// Params returns a new parameter set with the given cost and a zero
	// seed.  Call Randomize before using it to save a file.
	Params(c Cost) *varmap.Map

	// Randomize replaces the seed in p with bytes read from rand.
	Randomize(p *varmap.Map, rand io.Reader) error

	// Transform derives the 32-byte transformed key.
	Transform(key *CompositeKey, p *varmap.Map) ([]byte, error)
}

// Available key derivation functions
var (
	AESKDF   KDF = aesKDF{}
	Argon2d  KDF = argon2KDF{id: uuids.MustParse("ef636ddf-8c29-444b-91f7-a9a403e30a0c"), name: "argon2d"}
	Argon2id KDF = argon2KDF{id: uuids.MustParse("9e298b19-56db-4773-b23d-fc3ec6f0a1e6"), name: "argon2id", hybrid: true}
)

var kdfs = []KDF{AESKDF, Argon2d, Argon2id}

// KDFByUUID returns the key derivation function with the given identifier.
func KDFByUUID(id uuids.UUID) (KDF, error) {
	for _, k := range kdfs {
		if k.UUID() == id {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w %v", ErrUnsupportedKDF, id)
}

// KDFByName returns the key derivation function with the given short name
// ("aes", "argon2d", or "argon2id").
func KDFByName(name string) (KDF, error) {
	for _, k := range kdfs {
		if strings.EqualFold(k.Name(), name) {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnsupportedKDF, name)
}

// KDFForParams returns the key derivation function named by p's $UUID item.
func KDFForParams(p *varmap.Map) (KDF, error) {
	b, ok := p.Bytes(ParamUUID)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrKDFParams, ParamUUID)
	}
	id, err := uuids.FromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKDFParams, err)
	}
	return KDFByUUID(id)
}

func randomizeSeed(p *varmap.Map, r io.Reader) error {
	if r == nil {
		r = rand.Reader
	}
	seed := make([]byte, seedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return fmt.Errorf("kdbcrypt: generate seed: %w", err)
	}
	p.SetBytes(ParamSeed, seed)
	return nil
}

// DefaultAESRounds is the number of AES-KDF rounds used when none are given.
const DefaultAESRounds = 60000

type aesKDF struct{}

func (aesKDF) UUID() uuids.UUID {
	return uuids.MustParse("c9d9f39a-628a-4460-bf74-0d08c18a4fea")
}

func (aesKDF) Name() string { return "aes" }

func (k aesKDF) Params(c Cost) *varmap.Map {
	id := k.UUID()
	p := new(varmap.Map)
	p.SetBytes(ParamUUID, id[:])
	if c.Rounds == 0 {
		c.Rounds = DefaultAESRounds
	}
	p.SetUint64(ParamRounds, c.Rounds)
	p.SetBytes(ParamSeed, make([]byte, seedSize))
	return p
}

func (aesKDF) Randomize(p *varmap.Map, r io.Reader) error {
	return randomizeSeed(p, r)
}

func (aesKDF) Transform(key *CompositeKey, p *varmap.Map) ([]byte, error) {
	seed, ok := p.Bytes(ParamSeed)
	if !ok || len(seed) != seedSize {
		return nil, fmt.Errorf("%w: AES-KDF seed must be %d bytes", ErrKDFParams, seedSize)
	}
	rounds, ok := p.Uint64(ParamRounds)
	if !ok {
		return nil, fmt.Errorf("%w: AES-KDF missing rounds", ErrKDFParams)
	}
	return TransformAES(key, seed, rounds)
}

// TransformAES runs the AES-KDF transform directly.  Older files store the
// seed and round count as header fields rather than in a parameter map.
func TransformAES(key *CompositeKey, seed []byte, rounds uint64) ([]byte, error) {
	c, err := aes.NewCipher(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKDFParams, err)
	}
	var tk [sha256.Size]byte
	copy(tk[:], key.key[:])
	var wg sync.WaitGroup
	wg.Add(2)
	go transformKeyBlock(&wg, c, tk[:aes.BlockSize], rounds)
	go transformKeyBlock(&wg, c, tk[aes.BlockSize:], rounds)
	wg.Wait()
	sum := sha256.Sum256(tk[:])
	Zero(tk[:])
	return sum[:], nil
}

// transformKeyBlock applies rounds of AES encryption to the block in b.
func transformKeyBlock(wg *sync.WaitGroup, c cipher.Block, b []byte, rounds uint64) {
	for i := uint64(0); i < rounds; i++ {
		c.Encrypt(b, b)
	}
	wg.Done()
}

// Argon2 defaults for new databases.
const (
	DefaultArgon2Iterations  = 2
	DefaultArgon2Memory      = 64 << 20
	DefaultArgon2Parallelism = 2

	argon2Version = 0x13
)

type argon2KDF struct {
	id     uuids.UUID
	name   string
	hybrid bool
}

func (k argon2KDF) UUID() uuids.UUID { return k.id }
func (k argon2KDF) Name() string     { return k.name }

func (k argon2KDF) Params(c Cost) *varmap.Map {
	if c.Rounds == 0 {
		c.Rounds = DefaultArgon2Iterations
	}
	if c.Memory == 0 {
		c.Memory = DefaultArgon2Memory
	}
	if c.Parallelism == 0 {
		c.Parallelism = DefaultArgon2Parallelism
	}
	p := new(varmap.Map)
	p.SetBytes(ParamUUID, k.id[:])
	p.SetBytes(ParamSeed, make([]byte, seedSize))
	p.SetUint32(ParamParallelism, c.Parallelism)
	p.SetUint64(ParamMemory, c.Memory)
	p.SetUint64(ParamIterations, c.Rounds)
	p.SetUint32(ParamVersion, argon2Version)
	return p
}

func (argon2KDF) Randomize(p *varmap.Map, r io.Reader) error {
	return randomizeSeed(p, r)
}

func (k argon2KDF) Transform(key *CompositeKey, p *varmap.Map) ([]byte, error) {
	salt, ok := p.Bytes(ParamSeed)
	if !ok || len(salt) < 8 {
		return nil, fmt.Errorf("%w: %s salt too short", ErrKDFParams, k.name)
	}
	if v, ok := p.Uint32(ParamVersion); ok && v != argon2Version {
		return nil, fmt.Errorf("%w: %s version %#x", ErrUnsupportedKDF, k.name, v)
	}
	for _, name := range []string{ParamSecret, ParamAssocData} {
		if b, _ := p.Bytes(name); len(b) > 0 {
			return nil, fmt.Errorf("%w: %s parameter %s", ErrUnsupportedKDF, k.name, name)
		}
	}
	iter, ok := p.Uint64(ParamIterations)
	if !ok || iter == 0 || iter > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %s iterations", ErrKDFParams, k.name)
	}
	par, ok := p.Uint32(ParamParallelism)
	if !ok || par == 0 || par > math.MaxUint8 {
		return nil, fmt.Errorf("%w: %s parallelism", ErrKDFParams, k.name)
	}
	mem, ok := p.Uint64(ParamMemory)
	kib := mem / 1024
	if !ok || kib < 8*uint64(par) || kib > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %s memory", ErrKDFParams, k.name)
	}
	kb := key.Bytes()
	defer Zero(kb)
	if !k.hybrid {
		return argon2d.DKey(kb, salt, uint32(iter), uint32(kib), uint8(par), 32), nil
	}
	return argon2.IDKey(kb, salt, uint32(iter), uint32(kib), uint8(par), 32), nil
}

// CostOf reports the work factors stored in p.
func CostOf(p *varmap.Map) Cost {
	var c Cost
	if r, ok := p.Uint64(ParamRounds); ok {
		c.Rounds = r
	} else if i, ok := p.Uint64(ParamIterations); ok {
		c.Rounds = i
	}
	c.Memory, _ = p.Uint64(ParamMemory)
	c.Parallelism, _ = p.Uint32(ParamParallelism)
	return c
}
