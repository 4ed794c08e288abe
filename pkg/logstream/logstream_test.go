// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logstream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStream_ParsesJSONLines(t *testing.T) {
	input := `{"timestamp":"2024-01-01T00:00:00Z","level":"info","message":"starting up","step":1}
plain text line
{"not":"a log line but still json"}
`
	entries := Stream(nil, strings.NewReader(input))
	require.Len(t, entries, 3)

	require.Equal(t, "2024-01-01T00:00:00Z", entries[0].WorkerTimestamp)
	require.Equal(t, "info", entries[0].WorkerLevel)
	require.Equal(t, "starting up", entries[0].Message)
	require.NotContains(t, entries[0].Fields, "timestamp")
	require.NotContains(t, entries[0].Fields, "level")
	require.Equal(t, float64(1), entries[0].Fields["step"])

	require.Equal(t, "plain text line", entries[1].Message)
	require.Empty(t, entries[1].WorkerLevel)

	require.Empty(t, entries[2].WorkerTimestamp)
}

func TestStream_PreservesRawLinesInOrder(t *testing.T) {
	input := "first\nsecond\nthird"
	entries := Stream(nil, strings.NewReader(input))
	require.Equal(t, []string{"first", "second", "third"}, []string{entries[0].Raw, entries[1].Raw, entries[2].Raw})
}

func TestStream_EmptyInputYieldsNoEntries(t *testing.T) {
	entries := Stream(nil, strings.NewReader(""))
	require.Empty(t, entries)
}
