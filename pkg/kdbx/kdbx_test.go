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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"zombiezen.com/go/kdbx/pkg/config"
	"zombiezen.com/go/kdbx/pkg/fakerand"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
)

// testOptions returns a copy of opts with cheap key derivation and a
// deterministic random source.
func testOptions(opts *Options) *Options {
	o := new(Options)
	if opts != nil {
		*o = *opts
	}
	if o.Rand == nil {
		o.Rand = fakerand.New()
	}
	if o.KDF == nil {
		o.KDF = kdbcrypt.AESKDF
	}
	if o.KDF == kdbcrypt.AESKDF && o.KeyRounds == 0 {
		o.KeyRounds = 16
	}
	if o.KDF == kdbcrypt.Argon2id || o.KDF == kdbcrypt.Argon2d {
		if o.KeyRounds == 0 {
			o.KeyRounds = 1
		}
		if o.Memory == 0 {
			o.Memory = 64 << 10
		}
		if o.Parallelism == 0 {
			o.Parallelism = 1
		}
	}
	return o
}

func save(t *testing.T, db *Database) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, db.Write(&buf))
	return buf.Bytes()
}

func reopen(t *testing.T, db *Database, password string) *Database {
	t.Helper()
	db2, err := Open(bytes.NewReader(save(t, db)), testOptions(&Options{Password: password}))
	require.NoError(t, err)
	return db2
}

// populate fills db with content that every format version can hold.
func populate(t *testing.T, db *Database) {
	t.Helper()
	db.Meta.DatabaseName = "Test Database"
	db.Meta.DatabaseDescription = "line one\nline two & <three>"
	db.Meta.DefaultUserName = "alice"

	g, err := db.Root().NewSubgroup()
	require.NoError(t, err)
	g.Name = "Internet"
	g.Notes = "Web sites"
	g.IconID = 1

	e, err := g.NewEntry()
	require.NoError(t, err)
	e.Set(TitleField, "Example")
	e.Set(UserNameField, "alice")
	e.Set(PasswordField, "hunter2")
	e.Set(URLField, "https://example.com/")
	e.SetProtected("PIN", "1234")
	e.Set("Unicode", "héllo 世界 \U0001f511")
	e.Attach("notes.txt", []byte("attachment"), false)
	e.Attach("key.bin", []byte{0, 1, 2, 0xff}, true)
	e.AutoType.Associations = append(e.AutoType.Associations, AutoTypeAssociation{
		Window:            "Example - *",
		KeystrokeSequence: "{USERNAME}{TAB}{PASSWORD}{ENTER}",
	})
	e.Backup()
	e.Set(PasswordField, "hunter3")

	sub, err := g.NewSubgroup()
	require.NoError(t, err)
	sub.Name = "Empty"
	disabled := false
	sub.EnableAutoType = &disabled

	e2, err := db.Root().NewEntry()
	require.NoError(t, err)
	e2.Set(TitleField, "Root entry")
	e2.Attach("copy.txt", []byte("attachment"), false)
}

func fieldsOf(e *Entry) map[string]string {
	m := make(map[string]string)
	for k, v := range e.Fields {
		m[k] = string(v.Value)
	}
	return m
}

func protectedFieldsOf(e *Entry) []string {
	var keys []string
	for _, k := range sortedKeys(e.Fields) {
		if e.Fields[k].Protected {
			keys = append(keys, k)
		}
	}
	return keys
}

func binariesOf(e *Entry) map[string]string {
	m := make(map[string]string)
	for k, b := range e.Binaries {
		m[k] = string(b.Data)
	}
	return m
}

func assertSameTime(t *testing.T, want, got time.Time, name string) {
	t.Helper()
	assert.True(t, want.Equal(got), "%s = %v; want %v", name, got, want)
}

func assertSameTimes(t *testing.T, want, got Times) {
	t.Helper()
	assertSameTime(t, want.CreationTime, got.CreationTime, "CreationTime")
	assertSameTime(t, want.LastModificationTime, got.LastModificationTime, "LastModificationTime")
	assertSameTime(t, want.LastAccessTime, got.LastAccessTime, "LastAccessTime")
	assertSameTime(t, want.ExpiryTime, got.ExpiryTime, "ExpiryTime")
	assertSameTime(t, want.LocationChanged, got.LocationChanged, "LocationChanged")
	assert.Equal(t, want.Expires, got.Expires)
	assert.Equal(t, want.UsageCount, got.UsageCount)
}

func assertSameEntry(t *testing.T, want, got *Entry) {
	t.Helper()
	assert.Equal(t, want.UUID(), got.UUID())
	assert.Equal(t, fieldsOf(want), fieldsOf(got))
	assert.Equal(t, protectedFieldsOf(want), protectedFieldsOf(got))
	assert.Equal(t, binariesOf(want), binariesOf(got))
	assert.Equal(t, want.AutoType.Associations, got.AutoType.Associations)
	assert.Equal(t, want.AutoType.Enabled, got.AutoType.Enabled)
	assertSameTimes(t, want.Times, got.Times)
}

func assertSameTree(t *testing.T, want, got *Database) {
	t.Helper()
	assert.Equal(t, want.Meta.DatabaseName, got.Meta.DatabaseName)
	assert.Equal(t, want.Meta.DatabaseDescription, got.Meta.DatabaseDescription)
	assert.Equal(t, want.Meta.DefaultUserName, got.Meta.DefaultUserName)
	assert.Equal(t, want.Meta.MemoryProtection, got.Meta.MemoryProtection)
	assert.Equal(t, want.Meta.HistoryMaxItems, got.Meta.HistoryMaxItems)
	assert.Equal(t, want.Meta.HistoryMaxSize, got.Meta.HistoryMaxSize)

	var wantGroups, gotGroups []*Group
	want.walk(func(g *Group) { wantGroups = append(wantGroups, g) }, nil)
	got.walk(func(g *Group) { gotGroups = append(gotGroups, g) }, nil)
	require.Equal(t, len(wantGroups), len(gotGroups), "number of groups")
	for i := range wantGroups {
		wg, gg := wantGroups[i], gotGroups[i]
		assert.Equal(t, wg.UUID(), gg.UUID())
		assert.Equal(t, wg.Name, gg.Name)
		assert.Equal(t, wg.Notes, gg.Notes)
		assert.Equal(t, wg.IconID, gg.IconID)
		assert.Equal(t, wg.EnableAutoType, gg.EnableAutoType)
		assert.Equal(t, wg.EnableSearching, gg.EnableSearching)
		assertSameTimes(t, wg.Times, gg.Times)
		if p := want.ParentOf(wg); p != nil {
			assert.Equal(t, p.UUID(), got.ParentOf(gg).UUID())
		}
	}

	wantEntries, gotEntries := want.Entries(), got.Entries()
	require.Equal(t, len(wantEntries), len(gotEntries), "number of entries")
	for i := range wantEntries {
		we, ge := wantEntries[i], gotEntries[i]
		assertSameEntry(t, we, ge)
		assert.Equal(t, want.GroupOf(we).UUID(), got.GroupOf(ge).UUID())
		wh, gh := we.History(), ge.History()
		require.Equal(t, len(wh), len(gh), "history of %v", we.UUID())
		for j := range wh {
			assertSameEntry(t, wh[j], gh[j])
		}
	}
	assert.Equal(t, want.DeletedObjects(), got.DeletedObjects())
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name          string
		version       Version
		cipher        *kdbcrypt.Cipher
		kdf           kdbcrypt.KDF
		noCompression bool
	}{
		{name: "V3/AES", version: V3_1, cipher: kdbcrypt.AES256, kdf: kdbcrypt.AESKDF},
		{name: "V3/Twofish/Uncompressed", version: V3_1, cipher: kdbcrypt.Twofish256, kdf: kdbcrypt.AESKDF, noCompression: true},
		{name: "V4/AES/Argon2id", version: V4_0, cipher: kdbcrypt.AES256, kdf: kdbcrypt.Argon2id},
		{name: "V4/AES/Argon2d", version: V4_0, cipher: kdbcrypt.AES256, kdf: kdbcrypt.Argon2d},
		{name: "V4/ChaCha20", version: V4_0, cipher: kdbcrypt.ChaCha20, kdf: kdbcrypt.AESKDF},
		{name: "V4/Twofish/Uncompressed", version: V4_0, cipher: kdbcrypt.Twofish256, kdf: kdbcrypt.Argon2id, noCompression: true},
		{name: "V4.1/AES", version: V4_1, cipher: kdbcrypt.AES256, kdf: kdbcrypt.AESKDF},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			db, err := New(testOptions(&Options{
				Password:      "swordfish",
				Version:       test.version,
				Cipher:        test.cipher,
				KDF:           test.kdf,
				NoCompression: test.noCompression,
			}))
			require.NoError(t, err)
			populate(t, db)

			db2 := reopen(t, db, "swordfish")
			assert.Equal(t, test.version, db2.Version())
			assert.Equal(t, test.version, db.Version())
			s := db2.Settings()
			assert.Equal(t, test.cipher, s.Cipher)
			if test.noCompression {
				assert.Equal(t, NoCompression, s.Compression)
			} else {
				assert.Equal(t, GZipCompression, s.Compression)
			}
			kdf, err := kdbcrypt.KDFForParams(s.KDFParams)
			require.NoError(t, err)
			assert.Equal(t, test.kdf, kdf)
			assertSameTree(t, db, db2)

			// A database that was read can be written again.
			db3 := reopen(t, db2, "swordfish")
			assertSameTree(t, db, db3)
		})
	}
}

func TestFreshRandomnessPerSave(t *testing.T) {
	db, err := New(testOptions(&Options{Password: "swordfish"}))
	require.NoError(t, err)
	first := save(t, db)
	second := save(t, db)
	assert.NotEqual(t, first, second)

	h1, err := readHeader(bytes.NewReader(first))
	require.NoError(t, err)
	h2, err := readHeader(bytes.NewReader(second))
	require.NoError(t, err)
	assert.NotEqual(t, h1.masterSeed, h2.masterSeed)
	assert.NotEqual(t, h1.iv, h2.iv)
	s1, _ := h1.kdfParams.Bytes(kdbcrypt.ParamSeed)
	s2, _ := h2.kdfParams.Bytes(kdbcrypt.ParamSeed)
	assert.NotEqual(t, s1, s2)
}

func TestExampleDatabase(t *testing.T) {
	db, err := New(testOptions(&Options{Password: "demo"}))
	require.NoError(t, err)
	e, err := db.Root().NewEntry()
	require.NoError(t, err)
	e.Set(TitleField, "Test")
	e.Set(UserNameField, "user")
	e.SetProtected(PasswordField, "secret123")

	data := save(t, db)
	assert.False(t, bytes.Contains(data, []byte("secret123")), "password stored in the clear")

	db2, err := Open(bytes.NewReader(data), testOptions(&Options{Password: "demo"}))
	require.NoError(t, err)
	root := db2.Root()
	assert.Equal(t, "Root", root.Name)
	assert.Equal(t, 0, root.NGroups())
	require.Equal(t, 1, root.NEntries())
	got := root.Entry(0)
	assert.Equal(t, e.UUID(), got.UUID())
	assert.Equal(t, "Test", got.Get(TitleField))
	assert.Equal(t, "user", got.Get(UserNameField))
	assert.Equal(t, "secret123", got.Get(PasswordField))
	assert.True(t, got.Fields[PasswordField].Protected)
	assert.Same(t, got, db2.Entry(e.UUID()))
}

func TestWrongPassword(t *testing.T) {
	for _, v := range []Version{V3_1, V4_0} {
		t.Run(v.String(), func(t *testing.T) {
			db, err := New(testOptions(&Options{Password: "right", Version: v}))
			require.NoError(t, err)
			populate(t, db)
			data := save(t, db)

			_, err = Open(bytes.NewReader(data), testOptions(&Options{Password: "wrong"}))
			assert.ErrorIs(t, err, ErrWrongPassword)
			_, err = Open(bytes.NewReader(data), testOptions(&Options{Password: ""}))
			assert.Error(t, err)
		})
	}
}

func TestOpenNoCredentials(t *testing.T) {
	db, err := New(testOptions(&Options{Password: "pw"}))
	require.NoError(t, err)
	_, err = Open(bytes.NewReader(save(t, db)), testOptions(nil))
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestKeyFile(t *testing.T) {
	keyFile := bytes.Repeat([]byte{0x42}, 32)
	db, err := New(testOptions(&Options{Password: "pw", KeyFile: bytes.NewReader(keyFile)}))
	require.NoError(t, err)
	data := save(t, db)

	_, err = Open(bytes.NewReader(data), testOptions(&Options{Password: "pw"}))
	assert.ErrorIs(t, err, ErrWrongPassword)
	_, err = Open(bytes.NewReader(data), testOptions(&Options{Password: "pw", KeyFile: bytes.NewReader(keyFile)}))
	assert.NoError(t, err)
}

// Changing any single byte of a file must make it fail to load.
func TestSingleByteCorruption(t *testing.T) {
	for _, v := range []Version{V3_1, V4_0} {
		t.Run(v.String(), func(t *testing.T) {
			db, err := New(testOptions(&Options{Password: "pw", Version: v}))
			require.NoError(t, err)
			e, err := db.Root().NewEntry()
			require.NoError(t, err)
			e.Set(TitleField, "Test")
			e.SetProtected(PasswordField, "secret123")
			data := save(t, db)

			h, err := readHeader(bytes.NewReader(data))
			require.NoError(t, err)
			start := 0
			if !v.isV4() {
				// Changing the AES-KDF rounds of an older file can make
				// key derivation take arbitrarily long.
				start = len(h.raw)
			}
			for i := start; i < len(data); i++ {
				corrupt := bytes.Clone(data)
				corrupt[i] ^= 0x5a
				_, err := Open(bytes.NewReader(corrupt), testOptions(&Options{Password: "pw"}))
				if err == nil {
					t.Errorf("Open succeeded with byte %d of %d changed", i, len(data))
				}
			}
		})
	}
}

func TestCorruptionKinds(t *testing.T) {
	db, err := New(testOptions(&Options{Password: "pw"}))
	require.NoError(t, err)
	populate(t, db)
	data := save(t, db)
	h, err := readHeader(bytes.NewReader(data))
	require.NoError(t, err)
	n := len(h.raw)

	tests := []struct {
		name string
		pos  int
		want error
	}{
		{"HeaderHash", n, ErrWrongPassword},
		{"HeaderHashDetail", n, ErrCorruptHeader},
		{"MasterSeed", 48, ErrWrongPassword},
		{"HeaderHMAC", n + 32, ErrWrongPassword},
		{"BlockMAC", n + 64, ErrCorruptBlock},
		{"BlockData", n + 64 + 36, ErrCorruptBlock},
		{"Signature", 0, ErrWrongSignature},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			corrupt := bytes.Clone(data)
			corrupt[test.pos] ^= 0x01
			_, err := Open(bytes.NewReader(corrupt), testOptions(&Options{Password: "pw"}))
			assert.ErrorIs(t, err, test.want)
		})
	}

	_, err = Open(bytes.NewReader(data[:len(data)-10]), testOptions(&Options{Password: "pw"}))
	assert.Error(t, err, "truncated file")
}

func TestDecompressionLimit(t *testing.T) {
	for _, v := range []Version{V3_1, V4_0} {
		t.Run(v.String(), func(t *testing.T) {
			db, err := New(testOptions(&Options{Password: "pw", Version: v}))
			require.NoError(t, err)
			populate(t, db)
			data := save(t, db)

			_, err = Open(bytes.NewReader(data), testOptions(&Options{Password: "pw", MaxDecompressedSize: 100}))
			assert.ErrorIs(t, err, ErrResourceExhausted)
		})
	}
}

func TestBinaryDeduplication(t *testing.T) {
	for _, v := range []Version{V3_1, V4_0} {
		t.Run(v.String(), func(t *testing.T) {
			db, err := New(testOptions(&Options{Password: "pw", Version: v}))
			require.NoError(t, err)
			e1, err := db.Root().NewEntry()
			require.NoError(t, err)
			e2, err := db.Root().NewEntry()
			require.NoError(t, err)
			b1 := e1.Attach("a.txt", []byte("same"), false)
			b2 := e2.Attach("b.txt", []byte("same"), false)
			e2.Attach("c.txt", []byte("different"), false)
			assert.Same(t, b1, b2)
			assert.Equal(t, 2, db.Binaries().Len())

			db2 := reopen(t, db, "pw")
			assert.Equal(t, 2, db2.Binaries().Len())
			g1 := db2.Entry(e1.UUID()).Binaries["a.txt"]
			g2 := db2.Entry(e2.UUID()).Binaries["b.txt"]
			require.NotNil(t, g1)
			assert.Same(t, g1, g2)
			assert.Equal(t, "same", string(g1.Data))
		})
	}
}

func TestUnusedBinariesDropped(t *testing.T) {
	db, err := New(testOptions(&Options{Password: "pw"}))
	require.NoError(t, err)
	e, err := db.Root().NewEntry()
	require.NoError(t, err)
	e.Attach("a.txt", []byte("kept"), false)
	e.Attach("b.txt", []byte("dropped"), false)
	delete(e.Binaries, "b.txt")
	require.Equal(t, 2, db.Binaries().Len())

	save(t, db)
	assert.Equal(t, 1, db.Binaries().Len())
	db2 := reopen(t, db, "pw")
	assert.Equal(t, 1, db2.Binaries().Len())
}

func TestGroupCustomDataRoundTrip(t *testing.T) {
	db, err := New(testOptions(&Options{Password: "pw", Version: V4_0}))
	require.NoError(t, err)
	g, err := db.Root().NewSubgroup()
	require.NoError(t, err)
	g.CustomData.Set("plugin.setting", "enabled")
	e, err := g.NewEntry()
	require.NoError(t, err)
	e.CustomData.Set("entry.setting", "42")
	db.Meta.CustomData.Set("meta.setting", "x")

	db2 := reopen(t, db, "pw")
	v, ok := db2.Group(g.UUID()).CustomData.Get("plugin.setting")
	assert.True(t, ok)
	assert.Equal(t, "enabled", v)
	v, _ = db2.Entry(e.UUID()).CustomData.Get("entry.setting")
	assert.Equal(t, "42", v)
	v, _ = db2.Meta.CustomData.Get("meta.setting")
	assert.Equal(t, "x", v)
}

func TestWriteUpgradesVersion(t *testing.T) {
	db, err := New(testOptions(&Options{Password: "pw", Version: V3_1}))
	require.NoError(t, err)
	assert.Equal(t, V3_1, db.MinVersion())
	g, err := db.Root().NewSubgroup()
	require.NoError(t, err)
	g.Tags = "work"
	e, err := g.NewEntry()
	require.NoError(t, err)
	e.QualityCheck = false

	db2 := reopen(t, db, "pw")
	assert.Equal(t, V4_1, db.Version())
	assert.Equal(t, V4_1, db2.Version())
	assert.Equal(t, "work", db2.Group(g.UUID()).Tags)
	assert.False(t, db2.Entry(e.UUID()).QualityCheck)
}

func TestMinVersion(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		modify func(t *testing.T, db *Database)
		want   Version
	}{
		{name: "Plain", want: V3_1},
		{name: "Argon2", opts: Options{KDF: kdbcrypt.Argon2id}, want: V4_0},
		{name: "ChaCha20", opts: Options{Cipher: kdbcrypt.ChaCha20}, want: V4_0},
		{
			name:   "MetaCustomData",
			modify: func(t *testing.T, db *Database) { db.Meta.CustomData.Set("k", "v") },
			want:   V4_0,
		},
		{
			name: "EntryCustomData",
			modify: func(t *testing.T, db *Database) {
				e, err := db.Root().NewEntry()
				require.NoError(t, err)
				e.CustomData.Set("k", "v")
			},
			want: V4_0,
		},
		{
			name: "CustomDataTime",
			modify: func(t *testing.T, db *Database) {
				db.Meta.CustomData = append(db.Meta.CustomData, CustomDataItem{Key: "k", LastModificationTime: now()})
			},
			want: V4_1,
		},
		{
			name:   "GroupTags",
			modify: func(t *testing.T, db *Database) { db.Root().Tags = "a" },
			want:   V4_1,
		},
		{
			name: "IconName",
			modify: func(t *testing.T, db *Database) {
				db.Meta.CustomIcons = append(db.Meta.CustomIcons, CustomIcon{Name: "star"})
			},
			want: V4_1,
		},
		{
			name: "HistoryQualityCheck",
			modify: func(t *testing.T, db *Database) {
				e, err := db.Root().NewEntry()
				require.NoError(t, err)
				e.QualityCheck = false
				e.Backup()
				e.QualityCheck = true
			},
			want: V4_1,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			opts := test.opts
			opts.Password = "pw"
			db, err := New(testOptions(&opts))
			require.NoError(t, err)
			if test.modify != nil {
				test.modify(t, db)
			}
			assert.Equal(t, test.want, db.MinVersion())
		})
	}
}

func TestWriteClosed(t *testing.T) {
	db, err := New(testOptions(&Options{Password: "pw"}))
	require.NoError(t, err)
	e, err := db.Root().NewEntry()
	require.NoError(t, err)
	e.SetProtected(PasswordField, "secret")
	value := e.Fields[PasswordField].Value
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.Write(new(bytes.Buffer)), ErrClosed)
	assert.Equal(t, make([]byte, len(value)), value, "field not wiped")
	assert.ErrorIs(t, db.SetCredentials("new", nil), ErrClosed)
	assert.NoError(t, db.Close(), "second Close")
}

func TestCredentials(t *testing.T) {
	t.Run("Missing", func(t *testing.T) {
		db, err := New(testOptions(nil))
		require.NoError(t, err)
		assert.ErrorIs(t, db.Write(new(bytes.Buffer)), ErrNoCredentials)
		require.NoError(t, db.SetCredentials("pw", nil))
		db.CommitCredentials()
		reopen(t, db, "pw")
	})
	t.Run("Commit", func(t *testing.T) {
		db, err := New(testOptions(&Options{Password: "old"}))
		require.NoError(t, err)
		require.NoError(t, db.SetCredentials("new", nil))
		db.CommitCredentials()
		reopen(t, db, "new")
	})
	t.Run("Rollback", func(t *testing.T) {
		db, err := New(testOptions(&Options{Password: "old"}))
		require.NoError(t, err)
		require.NoError(t, db.SetCredentials("new", nil))
		require.NoError(t, db.SetCredentials("newer", nil))
		db.RollbackCredentials()
		reopen(t, db, "old")
	})
}

func TestSetSettings(t *testing.T) {
	db, err := New(testOptions(&Options{Password: "pw"}))
	require.NoError(t, err)
	s := db.Settings()
	s.Cipher = kdbcrypt.ChaCha20
	s.Compression = NoCompression
	require.NoError(t, db.SetSettings(s))

	db2 := reopen(t, db, "pw")
	assert.Equal(t, kdbcrypt.ChaCha20, db2.Settings().Cipher)
	assert.Equal(t, NoCompression, db2.Settings().Compression)

	bad := db.Settings()
	bad.Cipher = nil
	assert.ErrorIs(t, db.SetSettings(bad), ErrUnsupportedAlgorithm)
	bad = db.Settings()
	bad.Compression = 7
	assert.ErrorIs(t, db.SetSettings(bad), ErrUnsupportedAlgorithm)
	bad = db.Settings()
	bad.Version = 0x00020000
	assert.ErrorIs(t, db.SetSettings(bad), ErrUnsupportedVersion)
}

func TestProgressPhases(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := NewMockProgress(ctrl)
	gomock.InOrder(
		p.EXPECT().Phase(PhaseDerivingKey),
		p.EXPECT().Phase(PhaseEncrypting),
		p.EXPECT().Phase(PhaseWriting),
		p.EXPECT().Phase(PhaseReadingHeader),
		p.EXPECT().Phase(PhaseDerivingKey),
		p.EXPECT().Phase(PhaseDecrypting),
		p.EXPECT().Phase(PhaseParsing),
	)

	db, err := New(testOptions(&Options{Password: "pw", Progress: p}))
	require.NoError(t, err)
	data := save(t, db)
	_, err = Open(bytes.NewReader(data), testOptions(&Options{Password: "pw", Progress: p}))
	require.NoError(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(config.Codec{
		Cipher:      "twofish",
		KDF:         "aes",
		Version:     "3.1",
		Compression: "none",
	})
	require.NoError(t, err)
	assert.Equal(t, kdbcrypt.Twofish256, opts.Cipher)
	assert.Equal(t, kdbcrypt.AESKDF, opts.KDF)
	assert.Equal(t, V3_1, opts.Version)
	assert.True(t, opts.NoCompression)

	_, err = OptionsFromConfig(config.Codec{Cipher: "des", KDF: "aes", Version: "4.0"})
	assert.Error(t, err)
}
