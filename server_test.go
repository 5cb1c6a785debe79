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

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zombiezen.com/go/kdbx/pkg/config"
	"zombiezen.com/go/kdbx/pkg/kdbx"
	"zombiezen.com/go/kdbx/pkg/logger"
	"zombiezen.com/go/kdbx/pkg/uuids"
)

const testPassword = "correct horse"

func newTestServer(t *testing.T) *server {
	t.Helper()
	dir := t.TempDir()
	words := filepath.Join(dir, "words")
	require.NoError(t, os.WriteFile(words, []byte("apple\nbanana\ncherry\ncherry's\n\n"), 0644))

	cfg := config.Defaults()
	cfg.Codec.KDF = "aes"
	cfg.Codec.Rounds = 16
	cfg.Server.DBPath = filepath.Join(dir, "db.kdbx")
	cfg.Server.WordsFile = words
	srv, err := newServer(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(srv.close)
	return srv
}

type request struct {
	method      string
	path        string
	token       string
	contentType string
	body        io.Reader
}

func (srv *server) do(req request) *httptest.ResponseRecorder {
	r := httptest.NewRequest(req.method, req.path, req.body)
	if req.contentType != "" {
		r.Header.Set("Content-Type", req.contentType)
	}
	if req.token != "" {
		r.Header.Set("Authorization", "Bearer "+req.token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)
	return rec
}

func (srv *server) get(path, token string) *httptest.ResponseRecorder {
	return srv.do(request{method: http.MethodGet, path: path, token: token})
}

func postUnlock(srv *server, password string) *httptest.ResponseRecorder {
	return srv.do(request{
		method:      http.MethodPost,
		path:        "/_/unlock",
		contentType: "application/x-www-form-urlencoded",
		body:        strings.NewReader(url.Values{"password": {password}}.Encode()),
	})
}

// unlock opens the server's database with testPassword and returns the
// session token.
func unlock(t *testing.T, srv *server) string {
	t.Helper()
	rec := postUnlock(srv, testPassword)
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, rec.Code, rec.Body.String())
	var resp unlockResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func findGroup(tree groupTree, name string) string {
	if tree.Name == name {
		return tree.UUID
	}
	for _, c := range tree.Children {
		if id := findGroup(c, name); id != "" {
			return id
		}
	}
	return ""
}

func TestUnlockCreatesDatabase(t *testing.T) {
	srv := newTestServer(t)

	rec := postUnlock(srv, testPassword)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[unlockResponse](t, rec)
	assert.True(t, resp.Created)
	assert.True(t, resp.Expires.After(time.Now()))
	assert.FileExists(t, srv.storage.path)
	assert.Equal(t, "private, no-store", rec.Header().Get("Cache-Control"))

	rec = srv.get("/groups", resp.Token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tree := decode[groupTree](t, rec)
	assert.Equal(t, "Root", tree.Name)
	var names []string
	for _, c := range tree.Children {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Internet", "Wi-Fi", "Misc"}, names)

	rec = postUnlock(srv, testPassword)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	again := decode[unlockResponse](t, rec)
	assert.False(t, again.Created)
	assert.NotEqual(t, resp.Token, again.Token)
	assert.Equal(t, 2, srv.sessions.len())
}

func TestUnlockWrongPassword(t *testing.T) {
	srv := newTestServer(t)
	token := unlock(t, srv)

	rec := postUnlock(srv, "battery staple")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.Contains(t, resp.Error, "Could not decrypt database")

	// The existing session is untouched.
	assert.Equal(t, http.StatusOK, srv.get("/groups", token).Code)
}

func TestUnlockNoCredentials(t *testing.T) {
	srv := newTestServer(t)
	rec := postUnlock(srv, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, srv.storage.exists())
}

func TestUnlockKeyFile(t *testing.T) {
	srv := newTestServer(t)
	unlockWithKeyFile := func() *httptest.ResponseRecorder {
		body := new(bytes.Buffer)
		mw := multipart.NewWriter(body)
		fw, err := mw.CreateFormFile("keyfile", "db.key")
		require.NoError(t, err)
		_, err = io.WriteString(fw, "some key file that is not XML or hex")
		require.NoError(t, err)
		require.NoError(t, mw.Close())
		return srv.do(request{
			method:      http.MethodPost,
			path:        "/_/unlock",
			contentType: mw.FormDataContentType(),
			body:        body,
		})
	}

	rec := unlockWithKeyFile()
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = unlockWithKeyFile()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusForbidden, postUnlock(srv, testPassword).Code)
}

func TestUnlockMalformedFile(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, os.WriteFile(srv.storage.path, []byte("this is not a database"), 0600))

	rec := postUnlock(srv, testPassword)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.Equal(t, "The file is not a KDBX database.", resp.Error)
	assert.Zero(t, srv.sessions.len())
}

func TestRequiresSession(t *testing.T) {
	srv := newTestServer(t)
	unlock(t, srv)
	for _, path := range []string{"/groups", "/search?q=x", "/entries/" + uuids.UUID{}.String()} {
		rec := srv.get(path, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		rec = srv.get(path, "bogus")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestRouting(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.get("/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "404 page not found", decode[errorResponse](t, rec).Error)

	rec = srv.do(request{method: http.MethodPut, path: "/groups"})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	token := unlock(t, srv)
	assert.Equal(t, http.StatusNotFound, srv.get("/groups/not-a-uuid", token).Code)
	assert.Equal(t, http.StatusNotFound, srv.get("/entries/"+uuids.UUID{}.String(), token).Code)
}

func TestEntryLifecycle(t *testing.T) {
	srv := newTestServer(t)
	token := unlock(t, srv)
	internet := findGroup(decode[groupTree](t, srv.get("/groups", token)), "Internet")
	require.NotEmpty(t, internet)

	rec := srv.do(request{
		method:      http.MethodPost,
		path:        "/groups/" + internet + "/entries",
		token:       token,
		contentType: "application/json",
		body: strings.NewReader(`{
			"title": "Example",
			"username": "gopher",
			"password": "hunter2",
			"url": "https://example.com/",
			"fields": {"PIN": "1234", "Color": "blue"},
			"protected": ["PIN"]
		}`),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[entryView](t, rec)
	loc := rec.Header().Get("Location")
	assert.Equal(t, "/entries/"+created.UUID, loc)
	assert.Equal(t, internet, created.Group)

	view := decode[entryView](t, srv.get(loc, token))
	assert.Equal(t, fieldView{Value: "Example"}, view.Fields[kdbx.TitleField])
	assert.Equal(t, fieldView{Value: maskedValue, Protected: true}, view.Fields[kdbx.PasswordField])
	assert.Equal(t, fieldView{Value: maskedValue, Protected: true}, view.Fields["PIN"])
	assert.Equal(t, fieldView{Value: "blue"}, view.Fields["Color"])

	view = decode[entryView](t, srv.get(loc+"?reveal=true", token))
	assert.Equal(t, "hunter2", view.Fields[kdbx.PasswordField].Value)
	assert.Equal(t, "1234", view.Fields["PIN"].Value)

	group := decode[groupView](t, srv.get("/groups/"+internet, token))
	require.Len(t, group.Entries, 1)
	assert.Equal(t, "Example", group.Entries[0].Title)

	results := decode[searchResponse](t, srv.get("/search?q=EXAMPLE+gopher", token))
	require.Len(t, results.Results, 1)
	assert.Equal(t, created.UUID, results.Results[0].UUID)
	results = decode[searchResponse](t, srv.get("/search?q=example+nobody", token))
	assert.Empty(t, results.Results)

	rec = srv.do(request{method: http.MethodDelete, path: loc, token: token})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, srv.get(loc, token).Code)

	// Changes are written through to the file.
	f, err := os.Open(srv.storage.path)
	require.NoError(t, err)
	defer f.Close()
	db, err := kdbx.Open(f, &kdbx.Options{Password: testPassword})
	require.NoError(t, err)
	defer db.Close()
	id, err := uuids.Parse(created.UUID)
	require.NoError(t, err)
	assert.Nil(t, db.Entry(id))
	var deleted []uuids.UUID
	for _, obj := range db.DeletedObjects() {
		deleted = append(deleted, obj.UUID)
	}
	assert.Contains(t, deleted, id)
}

func TestPostEntryBadBody(t *testing.T) {
	srv := newTestServer(t)
	token := unlock(t, srv)
	root := decode[groupTree](t, srv.get("/groups", token)).UUID

	for _, body := range []string{"", "[]", `{"title": "x", "bogus": 1}`} {
		rec := srv.do(request{
			method:      http.MethodPost,
			path:        "/groups/" + root + "/entries",
			token:       token,
			contentType: "application/json",
			body:        strings.NewReader(body),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestDownloadBinary(t *testing.T) {
	srv := newTestServer(t)
	token := unlock(t, srv)
	root := decode[groupTree](t, srv.get("/groups", token)).UUID
	rec := srv.do(request{
		method:      http.MethodPost,
		path:        "/groups/" + root + "/entries",
		token:       token,
		contentType: "application/json",
		body:        strings.NewReader(`{"title": "With attachment"}`),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	loc := rec.Header().Get("Location")

	data := []byte("ssh-ed25519 AAAA")
	id := mustParseUUID(t, decode[entryView](t, rec).UUID)
	err := func() error {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		e := srv.db.Entry(id)
		if e == nil {
			return errors.New("entry not in memory")
		}
		e.Attach("id_ed25519.pub", data, false)
		return srv.writeDatabase(srv.db)
	}()
	require.NoError(t, err)

	view := decode[entryView](t, srv.get(loc, token))
	assert.Equal(t, []binaryView{{Name: "id_ed25519.pub", Size: len(data)}}, view.Binaries)

	rec = srv.get(loc+"/binaries/id_ed25519.pub", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, data, rec.Body.Bytes())
	assert.Equal(t, "attachment; filename=id_ed25519.pub", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, http.StatusNotFound, srv.get(loc+"/binaries/missing", token).Code)
}

func mustParseUUID(t *testing.T, s string) uuids.UUID {
	t.Helper()
	id, err := uuids.Parse(s)
	require.NoError(t, err)
	return id
}

func TestReopenWithSessionKey(t *testing.T) {
	srv := newTestServer(t)
	token := unlock(t, srv)

	// Another key's unlock would replace the in-memory database; simulate
	// that by dropping it.
	srv.mu.Lock()
	srv.setDatabase(nil, nil)
	srv.mu.Unlock()

	rec := srv.get("/groups", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Root", decode[groupTree](t, rec).Name)
	assert.NotNil(t, srv.db)
}

func TestLock(t *testing.T) {
	srv := newTestServer(t)
	token := unlock(t, srv)

	rec := srv.do(request{method: http.MethodPost, path: "/_/lock", token: token})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, srv.db, "database still in memory after last session locked")
	assert.Equal(t, http.StatusUnauthorized, srv.get("/groups", token).Code)
	assert.True(t, srv.storage.exists())
}

func TestSessionExpiry(t *testing.T) {
	srv := newTestServer(t)
	now := time.Now()
	srv.sessions.now = func() time.Time { return now }
	token := unlock(t, srv)
	require.NotNil(t, srv.db)

	now = now.Add(srv.cfg.SessionExpiry + time.Second)
	assert.Equal(t, 1, srv.expireSessions())
	assert.Nil(t, srv.db)
	assert.Equal(t, http.StatusUnauthorized, srv.get("/groups", token).Code)
}

func TestNuke(t *testing.T) {
	srv := newTestServer(t)
	token := unlock(t, srv)
	other := unlock(t, srv)

	rec := srv.do(request{method: http.MethodPost, path: "/_/nuke", token: token})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, srv.storage.exists())
	assert.Zero(t, srv.sessions.len())
	assert.Equal(t, http.StatusUnauthorized, srv.get("/groups", other).Code)

	rec = postUnlock(srv, "a new password")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestPasswordGenerator(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.get("/_/pwgen?n=24", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, rec.Body.String(), 24)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.NotContains(t, rec.Body.String(), "!")

	rec = srv.get("/_/pwgen?mode=phrase&n=5&possessives=1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	words := strings.Split(rec.Body.String(), " ")
	assert.Len(t, words, 5)
	for _, w := range words {
		assert.Contains(t, []string{"apple", "banana", "cherry", "cherry's"}, w)
	}

	for _, query := range []string{"", "n=0", "n=201", "n=x", "mode=phrase&n=51", "mode=poem&n=3"} {
		rec := srv.get("/_/pwgen?"+query, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestPasswordCharset(t *testing.T) {
	set := passwordCharset(false)
	assert.Len(t, set, 62)
	assert.Len(t, passwordCharset(true), 62+len(symbols))
}
