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

// Command kdbx serves a single KDBX password database over a small JSON
// API.
package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"zombiezen.com/go/kdbx/pkg/config"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/kdbx"
	"zombiezen.com/go/kdbx/pkg/logger"
	"zombiezen.com/go/kdbx/pkg/uuids"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "kdbx:", err)
		os.Exit(2)
	}
	log := cfg.NewLogger()
	if cfg.Server.DBPath == "" {
		log.Error().Msg("must specify -db")
		os.Exit(1)
	}
	srv, err := newServer(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("init")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go srv.gcSessions(ctx, cfg.Server.SessionGC)
	hs := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hs.Shutdown(shutdownCtx)
	}()
	log.Info().Str("listen", cfg.Server.Listen).Str("db", cfg.Server.DBPath).Msg("serving")
	err = hs.ListenAndServe()
	srv.close()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("listen")
		os.Exit(1)
	}
}

// server is the HTTP front end for one database file.  Every session
// unlocks the same file; the most recently used key's tree is kept in
// memory.
type server struct {
	cfg    config.Server
	opts   *kdbx.Options // codec settings, without credentials
	log    *logger.Logger
	router *mux.Router
	rand   io.Reader

	words wordList

	// mu protects the fields below.
	mu       sync.Mutex
	storage  *storage
	sessions sessionStorage
	db       *kdbx.Database
	dbKey    *kdbcrypt.CompositeKey
}

func newServer(cfg *config.Config, log *logger.Logger) (*server, error) {
	opts, err := kdbx.OptionsFromConfig(cfg.Codec)
	if err != nil {
		return nil, err
	}
	opts.Logger = log.Component("codec")
	st, err := newStorage(cfg.Server.DBPath)
	if err != nil {
		return nil, err
	}
	srv := &server{
		cfg:     cfg.Server,
		opts:    opts,
		log:     log,
		rand:    rand.Reader,
		words:   wordList{path: cfg.Server.WordsFile},
		storage: st,
		sessions: sessionStorage{
			expiry:    cfg.Server.SessionExpiry,
			tokenSize: cfg.Server.TokenSize,
		},
	}
	srv.initRoutes()
	return srv, nil
}

func (srv *server) initRoutes() {
	r := mux.NewRouter()
	r.Use(srv.logRequests)

	r.Handle("/_/unlock", srv.handler(srv.unlock)).Methods(http.MethodPost)
	r.Handle("/_/lock", srv.handler(srv.lock)).Methods(http.MethodPost)
	r.Handle("/_/nuke", srv.handler(srv.nuke)).Methods(http.MethodPost)
	r.Handle("/_/pwgen", srv.handler(srv.pwgen)).Methods(http.MethodGet)
	r.Handle("/groups", srv.handler(srv.groupTree)).Methods(http.MethodGet)
	r.Handle("/groups/{uuid}", srv.handler(srv.viewGroup)).Methods(http.MethodGet)
	r.Handle("/groups/{uuid}/entries", srv.handler(srv.postEntry)).Methods(http.MethodPost)
	r.Handle("/entries/{uuid}", srv.handler(srv.viewEntry)).Name("viewEntry").Methods(http.MethodGet)
	r.Handle("/entries/{uuid}", srv.handler(srv.deleteEntry)).Methods(http.MethodDelete)
	r.Handle("/entries/{uuid}/binaries/{name}", srv.handler(srv.downloadBinary)).Methods(http.MethodGet)
	r.Handle("/search", srv.handler(srv.handleSearch)).Methods(http.MethodGet)
	r.NotFoundHandler = srv.logRequests(srv.handler(func(http.ResponseWriter, *http.Request) error {
		return notFoundError{}
	}))
	r.MethodNotAllowedHandler = srv.logRequests(srv.handler(func(http.ResponseWriter, *http.Request) error {
		return methodNotAllowedError{}
	}))
	srv.router = r
}

func (srv *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	srv.router.ServeHTTP(w, r)
}

func (srv *server) gcSessions(ctx context.Context, every time.Duration) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		if n := srv.expireSessions(); n > 0 {
			srv.log.Info().Int("sessions", n).Msg("cleared invalid sessions")
		}
	}
}

// expireSessions removes expired sessions and locks the database once no
// session remains.
func (srv *server) expireSessions() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	n := srv.sessions.clearInvalid()
	if srv.sessions.len() == 0 {
		srv.setDatabase(nil, nil)
	}
	return n
}

func (srv *server) close() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.sessions.clear()
	srv.setDatabase(nil, nil)
}

// setDatabase replaces the in-memory database, wiping the previous one.
// The caller must hold mu.
func (srv *server) setDatabase(db *kdbx.Database, key *kdbcrypt.CompositeKey) {
	if srv.db != nil && srv.db != db {
		srv.db.Close()
	}
	if srv.dbKey != key {
		srv.dbKey.Close()
	}
	srv.db, srv.dbKey = db, key
}

// unlockedDatabase returns the database for the request's session,
// loading it from storage if the in-memory copy was opened with a
// different key.  The caller must hold mu.
func (srv *server) unlockedDatabase(r *http.Request) (*kdbx.Database, error) {
	s := srv.sessions.fromRequest(r)
	if s == nil {
		return nil, errInvalidSession
	}
	if srv.db != nil && srv.dbKey.Equal(s.key) {
		return srv.db, nil
	}
	db, err := srv.openDatabase(s.key)
	if err != nil {
		return nil, err
	}
	srv.setDatabase(db, s.key.Clone())
	return db, nil
}

func (srv *server) unlock(w http.ResponseWriter, r *http.Request) error {
	password, keyFile, err := readCredentials(r)
	if err != nil {
		return err
	}
	var kf io.Reader
	if keyFile != nil {
		kf = bytes.NewReader(keyFile)
	}
	key, err := kdbcrypt.NewCompositeKey([]byte(password), kf)
	kdbcrypt.Zero(keyFile)
	if err != nil {
		return codecError{op: "unlock", err: err}
	}
	defer key.Close()

	srv.mu.Lock()
	defer srv.mu.Unlock()
	var db *kdbx.Database
	created := !srv.storage.exists()
	if created {
		db, err = srv.createDatabase(key)
	} else {
		db, err = srv.openDatabase(key)
	}
	if err != nil {
		return err
	}
	srv.setDatabase(db, key.Clone())
	s, err := srv.sessions.new(key.Clone())
	if err != nil {
		return err
	}
	srv.log.Info().Bool("created", created).Msg("unlocked database")

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return writeJSON(w, status, unlockResponse{
		Token:   s.token,
		Expires: s.expires,
		Created: created,
	})
}

func (srv *server) lock(w http.ResponseWriter, r *http.Request) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	s := srv.sessions.fromRequest(r)
	if s == nil {
		return errInvalidSession
	}
	srv.sessions.remove(s.token)
	if srv.sessions.len() == 0 {
		srv.setDatabase(nil, nil)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// nuke deletes the database file and ends every session.
func (srv *server) nuke(w http.ResponseWriter, r *http.Request) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.sessions.fromRequest(r) == nil {
		return errInvalidSession
	}
	if err := srv.storage.remove(); err != nil {
		return err
	}
	srv.sessions.clear()
	srv.setDatabase(nil, nil)
	srv.log.Warn().Msg("database deleted")
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (srv *server) groupTree(w http.ResponseWriter, r *http.Request) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	db, err := srv.unlockedDatabase(r)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, newGroupTree(db.Root()))
}

func (srv *server) viewGroup(w http.ResponseWriter, r *http.Request) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	db, err := srv.unlockedDatabase(r)
	if err != nil {
		return err
	}
	g, err := groupParam(db, r)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, newGroupView(g))
}

func (srv *server) viewEntry(w http.ResponseWriter, r *http.Request) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	db, err := srv.unlockedDatabase(r)
	if err != nil {
		return err
	}
	e, err := entryParam(db, r)
	if err != nil {
		return err
	}
	reveal, _ := strconv.ParseBool(r.FormValue("reveal"))
	return writeJSON(w, http.StatusOK, newEntryView(db, e, reveal))
}

func (srv *server) downloadBinary(w http.ResponseWriter, r *http.Request) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	db, err := srv.unlockedDatabase(r)
	if err != nil {
		return err
	}
	e, err := entryParam(db, r)
	if err != nil {
		return err
	}
	name := mux.Vars(r)["name"]
	b := e.Binaries[name]
	if b == nil {
		return notFoundError{}
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(b.Data)))
	_, err = w.Write(b.Data)
	return err
}

func (srv *server) postEntry(w http.ResponseWriter, r *http.Request) error {
	var req entryRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return userError{
			msg:    "Request body must be an entry object.",
			err:    fmt.Errorf("decode entry: %w", err),
			status: http.StatusBadRequest,
		}
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	var e *kdbx.Entry
	err := srv.transaction(r, func(db *kdbx.Database) error {
		g, err := groupParam(db, r)
		if err != nil {
			return err
		}
		e, err = g.NewEntry()
		if err != nil {
			return err
		}
		req.apply(e)
		return nil
	})
	if err != nil {
		return err
	}
	u, err := srv.router.Get("viewEntry").URL("uuid", e.UUID().String())
	if err != nil {
		return err
	}
	w.Header().Set("Location", u.String())
	return writeJSON(w, http.StatusCreated, newEntryView(srv.db, e, false))
}

func (srv *server) deleteEntry(w http.ResponseWriter, r *http.Request) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	err := srv.transaction(r, func(db *kdbx.Database) error {
		e, err := entryParam(db, r)
		if err != nil {
			return err
		}
		db.GroupOf(e).RemoveEntry(e)
		return nil
	})
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// groupParam returns the group named by the uuid route variable.
func groupParam(db *kdbx.Database, r *http.Request) (*kdbx.Group, error) {
	id, err := uuids.Parse(mux.Vars(r)["uuid"])
	if err != nil {
		return nil, notFoundError{}
	}
	g := db.Group(id)
	if g == nil {
		return nil, notFoundError{}
	}
	return g, nil
}

// entryParam returns the entry named by the uuid route variable.
func entryParam(db *kdbx.Database, r *http.Request) (*kdbx.Entry, error) {
	id, err := uuids.Parse(mux.Vars(r)["uuid"])
	if err != nil {
		return nil, notFoundError{}
	}
	e := db.Entry(id)
	if e == nil {
		return nil, notFoundError{}
	}
	return e, nil
}

// readCredentials gets credentials from a request.
func readCredentials(req *http.Request) (password string, keyfile []byte, err error) {
	password = req.FormValue("password")
	kf, _, err := req.FormFile("keyfile")
	if err == http.ErrMissingFile || err == http.ErrNotMultipart {
		return password, nil, nil
	} else if err != nil {
		return password, nil, err
	}
	keyfile, err = io.ReadAll(kf)
	kf.Close()
	if err != nil {
		return password, nil, err
	}
	return password, keyfile, nil
}

// transaction modifies the session's database and writes it back to disk.
// The caller must hold mu.
func (srv *server) transaction(r *http.Request, f func(*kdbx.Database) error) error {
	db, err := srv.unlockedDatabase(r)
	if err != nil {
		return err
	}
	if err := f(db); err != nil {
		return err
	}
	if err := srv.writeDatabase(db); err != nil {
		// The tree no longer matches the file, so reload on next use.
		srv.setDatabase(nil, nil)
		return err
	}
	return nil
}

func (srv *server) openDatabase(key *kdbcrypt.CompositeKey) (*kdbx.Database, error) {
	f, err := srv.storage.reader()
	if errors.Is(err, os.ErrNotExist) {
		return nil, userError{
			msg:    "Database does not exist.",
			err:    fmt.Errorf("open database: %w", err),
			status: http.StatusNotFound,
		}
	} else if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer f.Close()
	opts := *srv.opts
	opts.Key = key
	db, err := kdbx.Open(bufio.NewReader(f), &opts)
	if err != nil {
		return nil, codecError{op: "open database", err: err}
	}
	return db, nil
}

func (srv *server) createDatabase(key *kdbcrypt.CompositeKey) (*kdbx.Database, error) {
	opts := *srv.opts
	opts.Key = key
	db, err := kdbx.New(&opts)
	if err != nil {
		return nil, err
	}
	if err := prepopulateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := srv.writeDatabase(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func prepopulateDB(db *kdbx.Database) error {
	for _, name := range []string{"Internet", "Wi-Fi", "Misc"} {
		g, err := db.Root().NewSubgroup()
		if err != nil {
			return err
		}
		g.Name = name
	}
	return nil
}

func (srv *server) writeDatabase(db *kdbx.Database) error {
	pf, err := srv.storage.writer()
	if err != nil {
		return fmt.Errorf("write database: open: %w", err)
	}
	if err := db.Write(pf); err != nil {
		pf.abort()
		return codecError{op: "write database", err: err}
	}
	if err := pf.commit(); err != nil {
		return fmt.Errorf("write database: commit: %w", err)
	}
	return nil
}
