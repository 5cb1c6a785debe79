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
	"bytes"
	"compress/flate"
	"compress/gzip"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"zombiezen.com/go/kdbx/pkg/blockstream"
	"zombiezen.com/go/kdbx/pkg/innerstream"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/padding"
	"zombiezen.com/go/kdbx/pkg/varmap"
)

// formatStrategy holds the steps that differ between major versions.
type formatStrategy interface {
	// prepareHeader fills in the version-specific fields of a header
	// about to be saved.
	prepareHeader(h *header, db *Database) error

	// readBody verifies and decrypts everything after h and parses the
	// document into db.  It returns the inner stream algorithm used.
	readBody(db *Database, h *header, c *kdbcrypt.Cipher, key *kdbcrypt.CompositeKey, r io.Reader) (innerstream.ID, error)

	// writeBody writes everything after h, given the transformed key.
	writeBody(w io.Writer, db *Database, h *header, transformed []byte, pool *BinaryPool, refs map[*Binary]int) error
}

func formatFor(v Version) formatStrategy {
	if v.isV4() {
		return formatV4{}
	}
	return formatV3{}
}

// Open reads a database from r.  opts must carry a password, a key file,
// or a composite key.
func Open(r io.Reader, opts *Options) (*Database, error) {
	db := newDatabase(opts)
	db.progress.Phase(PhaseReadingHeader)
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	c, err := kdbcrypt.CipherByUUID(h.cipherID)
	if err != nil {
		return nil, unsupported(err)
	}
	if len(h.iv) != c.IVSize {
		return nil, &FormatError{Op: "read header", Err: fieldSizeError{"encryption IV", len(h.iv), c.IVSize}}
	}
	key, err := opts.compositeKey()
	if err != nil {
		return nil, err
	}
	db.log.Debug().
		Stringer("version", h.version).
		Stringer("cipher", c).
		Stringer("compression", h.compression).
		Msg("read header")

	streamID, err := formatFor(h.version).readBody(db, h, c, key, r)
	if err != nil {
		key.Close()
		db.pool.Clear()
		return nil, err
	}
	params := h.kdfParams
	if !h.version.isV4() {
		params = kdbcrypt.AESKDF.Params(kdbcrypt.Cost{})
		params.SetBytes(kdbcrypt.ParamSeed, h.transformSeed)
		params.SetUint64(kdbcrypt.ParamRounds, h.transformRounds)
	}
	db.key = key
	db.settings = Settings{
		Version:          h.version,
		Cipher:           c,
		Compression:      h.compression,
		KDFParams:        params,
		InnerStream:      streamID,
		PublicCustomData: h.publicCustomData,
	}
	db.log.Debug().
		Int("entries", len(db.entries)).
		Int("groups", len(db.groups)).
		Int("binaries", db.pool.Len()).
		Msg("opened database")
	return db, nil
}

// Write encrypts the database to w.  The format version is the larger of
// the saved settings' version and MinVersion.  Every save uses a fresh
// master seed, IV, KDF seed, and inner stream key.  Nothing is written
// to w unless the whole file could be built.
func (db *Database) Write(w io.Writer) error {
	if db.closed {
		return ErrClosed
	}
	if db.key == nil {
		return ErrNoCredentials
	}
	s := &db.settings
	version := max(s.Version, db.MinVersion())
	kdf, err := kdbcrypt.KDFForParams(s.KDFParams)
	if err != nil {
		return unsupported(err)
	}
	params := s.KDFParams.Clone()
	if err := kdf.Randomize(params, db.rand); err != nil {
		return err
	}
	h := &header{
		version:          version,
		cipherID:         s.Cipher.UUID,
		compression:      s.Compression,
		kdfParams:        params,
		publicCustomData: s.PublicCustomData,
	}
	if h.masterSeed, err = db.random(seedSize); err != nil {
		return err
	}
	if h.iv, err = db.random(s.Cipher.IVSize); err != nil {
		return err
	}
	f := formatFor(version)
	if err := f.prepareHeader(h, db); err != nil {
		return err
	}
	h.marshal()
	pool, refs := db.collectBinaries()

	db.progress.Phase(PhaseDerivingKey)
	transformed, err := transformKey(db.key, params)
	if err != nil {
		return err
	}
	defer kdbcrypt.Zero(transformed)

	db.progress.Phase(PhaseEncrypting)
	var buf bytes.Buffer
	buf.Write(h.raw)
	if err := f.writeBody(&buf, db, h, transformed, pool, refs); err != nil {
		return err
	}

	db.progress.Phase(PhaseWriting)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("kdbx: write: %w", err)
	}
	db.pool = pool
	s.KDFParams = params
	s.Version = version
	if version.isV4() {
		db.Meta.HeaderHash = nil
	} else {
		db.Meta.HeaderHash = h.sum()
	}
	db.log.Debug().
		Stringer("version", version).
		Stringer("cipher", s.Cipher).
		Int("size", buf.Len()).
		Msg("wrote database")
	return nil
}

// random returns n bytes from the database's random source.
func (db *Database) random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(db.rand, b); err != nil {
		return nil, fmt.Errorf("kdbx: generate random bytes: %w", err)
	}
	return b, nil
}

// transformKey runs the key derivation function named by params.
func transformKey(key *kdbcrypt.CompositeKey, params *varmap.Map) ([]byte, error) {
	kdf, err := kdbcrypt.KDFForParams(params)
	if err != nil {
		return nil, kdfError(err)
	}
	t, err := kdf.Transform(key, params)
	if err != nil {
		return nil, kdfError(err)
	}
	return t, nil
}

func kdfError(err error) error {
	if errors.Is(err, kdbcrypt.ErrKDFParams) {
		return &FormatError{Op: "key derivation", Err: err}
	}
	if errors.Is(err, kdbcrypt.ErrUnsupportedKDF) {
		return unsupported(err)
	}
	return fmt.Errorf("kdbx: key derivation: %w", err)
}

// bodyError classifies an error from the decryption pipeline.
func bodyError(err error) error {
	var fe *FormatError
	var flateErr flate.CorruptInputError
	switch {
	case errors.As(err, &fe),
		errors.Is(err, ErrResourceExhausted),
		errors.Is(err, ErrCorruptBlock),
		errors.Is(err, ErrUnsupportedAlgorithm):
		return err
	case errors.Is(err, padding.ErrWrongPadding):
		return ErrWrongPassword
	case isTruncated(err), errors.Is(err, padding.ErrDataSize):
		return &FormatError{Op: "read body", Err: fmt.Errorf("truncated: %w", err)}
	case errors.Is(err, gzip.ErrHeader), errors.Is(err, gzip.ErrChecksum), errors.As(err, &flateErr):
		return &FormatError{Op: "decompress", Err: err}
	}
	return err
}

func closeAll(closers ...io.Closer) error {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			return fmt.Errorf("kdbx: write body: %w", err)
		}
	}
	return nil
}

// formatV4 reads and writes KDBX 4.x bodies: a header checksum and HMAC
// followed by HMAC-authenticated blocks of ciphertext.
type formatV4 struct{}

func (formatV4) prepareHeader(h *header, db *Database) error {
	return nil
}

func (formatV4) readBody(db *Database, h *header, c *kdbcrypt.Cipher, key *kdbcrypt.CompositeKey, r io.Reader) (innerstream.ID, error) {
	var stored [2 * sha256.Size]byte
	if _, err := io.ReadFull(r, stored[:]); err != nil {
		return 0, bodyError(err)
	}
	if !hmac.Equal(stored[:sha256.Size], h.sum()) {
		return 0, errHeaderMismatch
	}

	db.progress.Phase(PhaseDerivingKey)
	transformed, err := transformKey(key, h.kdfParams)
	if err != nil {
		return 0, err
	}
	defer kdbcrypt.Zero(transformed)
	hmacKey := kdbcrypt.HMACKey(h.masterSeed, transformed)
	defer kdbcrypt.Zero(hmacKey)
	if !hmac.Equal(stored[sha256.Size:], h.mac(hmacKey)) {
		return 0, ErrWrongPassword
	}
	finalKey := kdbcrypt.FinalKey(h.masterSeed, transformed)
	defer kdbcrypt.Zero(finalKey)

	db.progress.Phase(PhaseDecrypting)
	body, err := c.NewDecrypter(blockstream.NewHMACReader(r, hmacKey), finalKey, h.iv)
	if err != nil {
		return 0, fmt.Errorf("kdbx: decrypt: %w", err)
	}
	zr, err := newDecompressor(body, h.compression, db.maxSize)
	if err != nil {
		return 0, bodyError(err)
	}
	ih, err := readInnerHeader(zr, db.pool, db.maxSize)
	if err != nil {
		return 0, bodyError(err)
	}
	defer kdbcrypt.Zero(ih.streamKey)
	stream, err := innerstream.NewReader(ih.streamID, ih.streamKey)
	if err != nil {
		return 0, unsupported(err)
	}

	db.progress.Phase(PhaseParsing)
	if err := parseXML(zr, db, stream, true); err != nil {
		return 0, bodyError(err)
	}
	return ih.streamID, nil
}

func (formatV4) writeBody(w io.Writer, db *Database, h *header, transformed []byte, pool *BinaryPool, refs map[*Binary]int) error {
	hmacKey := kdbcrypt.HMACKey(h.masterSeed, transformed)
	defer kdbcrypt.Zero(hmacKey)
	finalKey := kdbcrypt.FinalKey(h.masterSeed, transformed)
	defer kdbcrypt.Zero(finalKey)

	ww := &writer{w: w}
	ww.write(h.sum())
	ww.write(h.mac(hmacKey))
	if ww.err != nil {
		return fmt.Errorf("kdbx: write header: %w", ww.err)
	}
	blocks := blockstream.NewHMACWriter(w, hmacKey, blockstream.DefaultBlockSize)
	enc, err := db.settings.Cipher.NewEncrypter(blocks, finalKey, h.iv)
	if err != nil {
		return fmt.Errorf("kdbx: encrypt: %w", err)
	}
	zw := newCompressor(enc, h.compression)

	streamKey, err := db.random(innerstream.ChaCha20.KeySize())
	if err != nil {
		return err
	}
	defer kdbcrypt.Zero(streamKey)
	stream, err := innerstream.NewWriter(innerstream.ChaCha20, streamKey)
	if err != nil {
		return err
	}
	ih := &innerHeader{streamID: innerstream.ChaCha20, streamKey: streamKey}
	if err := writeInnerHeader(zw, ih, pool); err != nil {
		return err
	}
	x := &xmlWriter{db: db, version: h.version, stream: stream, pool: pool, refs: refs}
	if err := x.write(zw); err != nil {
		return err
	}
	return closeAll(zw, enc, blocks)
}

// formatV3 reads and writes KDBX 3.1 bodies: ciphertext of the stream
// start bytes followed by SHA-256 hashed blocks.
type formatV3 struct{}

func (formatV3) prepareHeader(h *header, db *Database) error {
	seed, ok := h.kdfParams.Bytes(kdbcrypt.ParamSeed)
	if !ok || len(seed) != seedSize {
		return fmt.Errorf("kdbx: %w: AES-KDF seed", kdbcrypt.ErrKDFParams)
	}
	rounds, ok := h.kdfParams.Uint64(kdbcrypt.ParamRounds)
	if !ok {
		return fmt.Errorf("kdbx: %w: AES-KDF rounds", kdbcrypt.ErrKDFParams)
	}
	h.transformSeed = seed
	h.transformRounds = rounds
	h.innerStreamID = innerstream.Salsa20
	var err error
	if h.innerStreamKey, err = db.random(innerstream.Salsa20.KeySize()); err != nil {
		return err
	}
	if h.streamStartBytes, err = db.random(streamStartSize); err != nil {
		return err
	}
	return nil
}

func (formatV3) readBody(db *Database, h *header, c *kdbcrypt.Cipher, key *kdbcrypt.CompositeKey, r io.Reader) (innerstream.ID, error) {
	db.progress.Phase(PhaseDerivingKey)
	transformed, err := kdbcrypt.TransformAES(key, h.transformSeed, h.transformRounds)
	if err != nil {
		return 0, kdfError(err)
	}
	defer kdbcrypt.Zero(transformed)
	finalKey := kdbcrypt.FinalKey(h.masterSeed, transformed)
	defer kdbcrypt.Zero(finalKey)

	db.progress.Phase(PhaseDecrypting)
	body, err := c.NewDecrypter(r, finalKey, h.iv)
	if err != nil {
		return 0, fmt.Errorf("kdbx: decrypt: %w", err)
	}
	start := make([]byte, streamStartSize)
	if _, err := io.ReadFull(body, start); err != nil {
		return 0, bodyError(err)
	}
	if !hmac.Equal(start, h.streamStartBytes) {
		return 0, ErrWrongPassword
	}
	zr, err := newDecompressor(blockstream.NewHashedReader(body), h.compression, db.maxSize)
	if err != nil {
		return 0, bodyError(err)
	}
	var stream cipher.Stream
	if h.innerStreamID != innerstream.None {
		stream, err = innerstream.NewReader(h.innerStreamID, h.innerStreamKey)
		if err != nil {
			return 0, unsupported(err)
		}
	}

	db.progress.Phase(PhaseParsing)
	if err := parseXML(zr, db, stream, false); err != nil {
		return 0, bodyError(err)
	}
	// The hashed stream ends before the final cipher block is checked.
	if _, err := io.Copy(io.Discard, body); err != nil {
		return 0, bodyError(err)
	}
	if hh := db.Meta.HeaderHash; len(hh) > 0 && !hmac.Equal(hh, h.sum()) {
		return 0, errHeaderMismatch
	}
	return h.innerStreamID, nil
}

func (formatV3) writeBody(w io.Writer, db *Database, h *header, transformed []byte, pool *BinaryPool, refs map[*Binary]int) error {
	finalKey := kdbcrypt.FinalKey(h.masterSeed, transformed)
	defer kdbcrypt.Zero(finalKey)

	enc, err := db.settings.Cipher.NewEncrypter(w, finalKey, h.iv)
	if err != nil {
		return fmt.Errorf("kdbx: encrypt: %w", err)
	}
	if _, err := enc.Write(h.streamStartBytes); err != nil {
		return fmt.Errorf("kdbx: write body: %w", err)
	}
	blocks := blockstream.NewHashedWriter(enc, blockstream.DefaultBlockSize)
	zw := newCompressor(blocks, h.compression)
	stream, err := innerstream.NewWriter(innerstream.Salsa20, h.innerStreamKey)
	if err != nil {
		return err
	}
	x := &xmlWriter{
		db:         db,
		version:    h.version,
		stream:     stream,
		pool:       pool,
		refs:       refs,
		compress:   h.compression == GZipCompression,
		headerHash: h.sum(),
	}
	if err := x.write(zw); err != nil {
		return err
	}
	return closeAll(zw, blocks, enc)
}
