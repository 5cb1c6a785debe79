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
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"zombiezen.com/go/kdbx/pkg/kdbx"
)

// maskedValue replaces protected values unless the client asks to reveal
// them.
const maskedValue = "********"

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

type unlockResponse struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
	Created bool      `json:"created,omitempty"`
}

type groupTree struct {
	UUID     string      `json:"uuid"`
	Name     string      `json:"name"`
	Entries  int         `json:"entries"`
	Children []groupTree `json:"children,omitempty"`
}

func newGroupTree(g *kdbx.Group) groupTree {
	t := groupTree{
		UUID:    g.UUID().String(),
		Name:    g.Name,
		Entries: g.NEntries(),
	}
	for _, sub := range g.Groups() {
		t.Children = append(t.Children, newGroupTree(sub))
	}
	return t
}

type groupView struct {
	UUID    string         `json:"uuid"`
	Name    string         `json:"name"`
	Notes   string         `json:"notes,omitempty"`
	Tags    string         `json:"tags,omitempty"`
	Times   timesView      `json:"times"`
	Groups  []groupRef     `json:"groups"`
	Entries []entrySummary `json:"entries"`
}

type groupRef struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

func newGroupView(g *kdbx.Group) groupView {
	v := groupView{
		UUID:    g.UUID().String(),
		Name:    g.Name,
		Notes:   g.Notes,
		Tags:    g.Tags,
		Times:   newTimesView(g.Times),
		Groups:  []groupRef{},
		Entries: sortEntries(g.Entries()),
	}
	for _, sub := range g.Groups() {
		v.Groups = append(v.Groups, groupRef{UUID: sub.UUID().String(), Name: sub.Name})
	}
	return v
}

type entrySummary struct {
	UUID     string `json:"uuid"`
	Title    string `json:"title"`
	UserName string `json:"username,omitempty"`
	URL      string `json:"url,omitempty"`
}

func newEntrySummary(e *kdbx.Entry) entrySummary {
	return entrySummary{
		UUID:     e.UUID().String(),
		Title:    e.Get(kdbx.TitleField),
		UserName: e.Get(kdbx.UserNameField),
		URL:      e.Get(kdbx.URLField),
	}
}

// sortEntries returns summaries of ent ordered by title.
func sortEntries(ent []*kdbx.Entry) []entrySummary {
	s := make([]entrySummary, 0, len(ent))
	for _, e := range ent {
		s = append(s, newEntrySummary(e))
	}
	slices.SortStableFunc(s, func(a, b entrySummary) int {
		return strings.Compare(a.Title, b.Title)
	})
	return s
}

type entryView struct {
	UUID     string               `json:"uuid"`
	Group    string               `json:"group,omitempty"`
	Fields   map[string]fieldView `json:"fields"`
	Binaries []binaryView         `json:"binaries"`
	Tags     string               `json:"tags,omitempty"`
	Times    timesView            `json:"times"`
	History  int                  `json:"history"`
}

type fieldView struct {
	Value     string `json:"value"`
	Protected bool   `json:"protected,omitempty"`
}

type binaryView struct {
	Name      string `json:"name"`
	Size      int    `json:"size"`
	Protected bool   `json:"protected,omitempty"`
}

type timesView struct {
	Created  time.Time `json:"created,omitzero"`
	Modified time.Time `json:"modified,omitzero"`
	Expires  time.Time `json:"expires,omitzero"`
}

func newTimesView(t kdbx.Times) timesView {
	v := timesView{
		Created:  t.CreationTime,
		Modified: t.LastModificationTime,
	}
	if t.Expires {
		v.Expires = t.ExpiryTime
	}
	return v
}

func newEntryView(db *kdbx.Database, e *kdbx.Entry, reveal bool) entryView {
	v := entryView{
		UUID:     e.UUID().String(),
		Fields:   make(map[string]fieldView, len(e.Fields)),
		Binaries: []binaryView{},
		Tags:     e.Tags,
		Times:    newTimesView(e.Times),
		History:  len(e.History()),
	}
	if g := db.GroupOf(e); g != nil {
		v.Group = g.UUID().String()
	}
	for k, f := range e.Fields {
		fv := fieldView{Value: f.String(), Protected: f.Protected}
		if f.Protected && !reveal {
			fv.Value = maskedValue
		}
		v.Fields[k] = fv
	}
	for name, b := range e.Binaries {
		v.Binaries = append(v.Binaries, binaryView{Name: name, Size: len(b.Data), Protected: b.Protected})
	}
	slices.SortFunc(v.Binaries, func(a, b binaryView) int {
		return strings.Compare(a.Name, b.Name)
	})
	return v
}

// entryRequest is the body of a request creating an entry.
type entryRequest struct {
	Title    string            `json:"title"`
	UserName string            `json:"username"`
	Password string            `json:"password"`
	URL      string            `json:"url"`
	Notes    string            `json:"notes"`
	Tags     string            `json:"tags"`
	Fields   map[string]string `json:"fields"`
	// Protected names extra fields to protect.
	Protected []string `json:"protected"`
}

func (req *entryRequest) apply(e *kdbx.Entry) {
	e.Set(kdbx.TitleField, req.Title)
	e.Set(kdbx.UserNameField, req.UserName)
	e.Set(kdbx.PasswordField, req.Password)
	e.Set(kdbx.URLField, req.URL)
	e.Set(kdbx.NotesField, req.Notes)
	e.Tags = req.Tags
	for k, val := range req.Fields {
		if slices.Contains(req.Protected, k) {
			e.SetProtected(k, val)
		} else {
			e.Set(k, val)
		}
	}
}
