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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFields(t *testing.T) {
	var buf bytes.Buffer
	l := New("server", &buf, zerolog.DebugLevel).Component("codec")
	l.Debug().Str("version", "4.0").Msg("opened")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "server", entry["role"])
	assert.Equal(t, "codec", entry["component"])
	assert.Equal(t, "4.0", entry["version"])
	assert.Contains(t, entry, "time")
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New("server", &buf, zerolog.WarnLevel)
	l.Info().Msg("quiet")
	assert.Empty(t, buf.String())
	l.Warn().Msg("loud")
	assert.NotEmpty(t, buf.String())
}

func TestNop(t *testing.T) {
	var buf bytes.Buffer
	l := Nop()
	l.Logger = l.Output(&buf)
	l.Error().Msg("discarded")
	assert.Empty(t, buf.String())
}

func TestContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := New("server", &buf, zerolog.InfoLevel).WithContext(context.Background())
	FromContext(ctx).Info().Msg("from context")
	assert.Contains(t, buf.String(), "from context")

	buf.Reset()
	FromContext(context.Background()).Info().Msg("nowhere")
	assert.Empty(t, buf.String())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		s    string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
	}
	for _, test := range tests {
		got, err := ParseLevel(test.s)
		if assert.NoError(t, err) {
			assert.Equal(t, test.want, got, "ParseLevel(%q)", test.s)
		}
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
