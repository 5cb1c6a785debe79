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

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// storage manages I/O to a single file.  Writes go to a temporary file in
// the same directory that replaces the database only once complete.
type storage struct {
	path string
}

// newStorage creates a storage that points to path.  The file will be
// created on the first write if it does not exist, but its directory must.
func newStorage(path string) (*storage, error) {
	if path == "" {
		return nil, errors.New("storage: empty path")
	}
	info, err := os.Stat(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: %s is not a directory", filepath.Dir(path))
	}
	return &storage{path: path}, nil
}

// exists reports whether the file exists yet.
func (st *storage) exists() bool {
	_, err := os.Stat(st.path)
	return err == nil
}

// reader opens the file for reading.
func (st *storage) reader() (*os.File, error) {
	return os.Open(st.path)
}

// writer starts replacing the file.  The caller must call commit or abort
// on the returned file.
func (st *storage) writer() (*pendingFile, error) {
	f, err := os.CreateTemp(filepath.Dir(st.path), "."+filepath.Base(st.path)+".*")
	if err != nil {
		return nil, err
	}
	return &pendingFile{f: f, dst: st.path}, nil
}

// remove deletes the file.
func (st *storage) remove() error {
	err := os.Remove(st.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// pendingFile is a new version of a file being written.
type pendingFile struct {
	f   *os.File
	dst string
}

func (pf *pendingFile) Write(p []byte) (int, error) {
	return pf.f.Write(p)
}

// commit syncs the new version to disk and moves it into place.
func (pf *pendingFile) commit() error {
	if err := pf.f.Chmod(0600); err != nil {
		pf.abort()
		return err
	}
	if err := pf.f.Sync(); err != nil {
		pf.abort()
		return err
	}
	if err := pf.f.Close(); err != nil {
		os.Remove(pf.f.Name())
		return err
	}
	if err := os.Rename(pf.f.Name(), pf.dst); err != nil {
		os.Remove(pf.f.Name())
		return err
	}
	return nil
}

// abort discards the new version.
func (pf *pendingFile) abort() {
	pf.f.Close()
	os.Remove(pf.f.Name())
}
