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
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// appHandler adapts a function returning an error to an http.Handler.
type appHandler struct {
	srv *server
	f   func(http.ResponseWriter, *http.Request) error
}

func (srv *server) handler(f func(http.ResponseWriter, *http.Request) error) appHandler {
	return appHandler{srv: srv, f: f}
}

func (ah appHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, ah.srv.cfg.MaxRequestSize)
	if err := parseMultipartForm(r, ah.srv.cfg.MaxRequestSize); err != nil {
		ah.fail(w, r, userError{
			msg:    "could not parse form",
			err:    err,
			status: http.StatusBadRequest,
		})
		return
	}
	w.Header().Set("Cache-Control", "private, no-store")
	rec, ok := w.(*statusRecorder)
	if !ok {
		rec = &statusRecorder{ResponseWriter: w}
	}
	if err := ah.f(rec, r); err != nil && rec.status == 0 {
		ah.fail(rec, r, err)
	}
}

// fail logs err and sends it to the client as a JSON error object.
func (ah appHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errorStatusCode(err)
	msg := userErrorMessage(err)
	var ev *zerolog.Event
	if msg == "" {
		ev = ah.srv.log.Error()
		msg = "internal server error; check logs"
	} else {
		ev = ah.srv.log.Warn()
	}
	ev.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", code).Msg("request failed")
	writeJSON(w, code, errorResponse{Error: msg})
}

func parseMultipartForm(r *http.Request, max int64) error {
	err := r.ParseMultipartForm(max)
	if errors.Is(err, http.ErrNotMultipart) {
		return nil
	}
	if err != nil {
		return err
	}
	// Parts are held in memory, since the body is no larger than max.
	return r.MultipartForm.RemoveAll()
}

// logRequests writes an access log line for every request.
func (srv *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		srv.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Int64("size", rec.size).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// statusRecorder is a ResponseWriter that records the status code and size
// of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int64
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	if r.status == 0 {
		r.status = statusCode
	}
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.size += int64(n)
	return n, err
}
