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
	"net/http"
	"strings"

	"golang.org/x/text/language"
	textsearch "golang.org/x/text/search"

	"zombiezen.com/go/kdbx/pkg/kdbx"
)

// searchFields are the entry fields matched by a query.
var searchFields = []string{
	kdbx.TitleField,
	kdbx.UserNameField,
	kdbx.URLField,
	kdbx.NotesField,
}

type searchResponse struct {
	Query   string         `json:"query"`
	Results []entrySummary `json:"results"`
}

func (srv *server) handleSearch(w http.ResponseWriter, r *http.Request) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	db, err := srv.unlockedDatabase(r)
	if err != nil {
		return err
	}
	resp := searchResponse{
		Query:   r.FormValue("q"),
		Results: []entrySummary{},
	}
	if pq := parseQuery(resp.Query); pq != nil {
		resp.Results = sortEntries(search(db, pq))
	} else {
		resp.Query = ""
	}
	return writeJSON(w, http.StatusOK, resp)
}

// search returns the entries in which every word of q appears in at least
// one searched field.  Entries in groups with searching disabled are
// skipped.
func search(db *kdbx.Database, q *parsedQuery) []*kdbx.Entry {
	var results []*kdbx.Entry
	for _, e := range db.Entries() {
		if !searchable(db, db.GroupOf(e)) {
			continue
		}
		if q.matchesEntry(e) {
			results = append(results, e)
		}
	}
	return results
}

// searchable reports whether g and its ancestors allow searching.  The
// nearest explicit setting wins.
func searchable(db *kdbx.Database, g *kdbx.Group) bool {
	for ; g != nil; g = db.ParentOf(g) {
		if g.EnableSearching != nil {
			return *g.EnableSearching
		}
	}
	return true
}

type parsedQuery struct {
	pats []*textsearch.Pattern
}

func parseQuery(query string) *parsedQuery {
	words := strings.Fields(query)
	if len(words) == 0 {
		return nil
	}
	m := textsearch.New(language.Und, textsearch.Loose)
	pq := &parsedQuery{pats: make([]*textsearch.Pattern, len(words))}
	for i := range words {
		pq.pats[i] = m.CompileString(words[i])
	}
	return pq
}

func (pq *parsedQuery) matchesEntry(e *kdbx.Entry) bool {
	if pq == nil || len(pq.pats) == 0 {
		return false
	}
	for _, pat := range pq.pats {
		found := false
		for _, f := range searchFields {
			if start, _ := pat.IndexString(e.Get(f)); start != -1 {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
