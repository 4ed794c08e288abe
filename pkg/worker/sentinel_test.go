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

package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentinel_WorkingLifecycle(t *testing.T) {
	dir := t.TempDir()
	s := NewSentinel(dir)

	require.NoError(t, s.MarkWorking())
	_, err := os.Stat(filepath.Join(dir, "WORKING"))
	require.NoError(t, err)

	require.NoError(t, s.ClearWorking())
	_, err = os.Stat(filepath.Join(dir, "WORKING"))
	require.True(t, os.IsNotExist(err))
}

func TestSentinel_ClearWorkingIsIdempotent(t *testing.T) {
	s := NewSentinel(t.TempDir())
	require.NoError(t, s.ClearWorking())
}

func TestSentinel_IsTerminating(t *testing.T) {
	dir := t.TempDir()
	s := NewSentinel(dir)
	require.False(t, s.IsTerminating())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "TERMINATING"), nil, 0o644))
	require.True(t, s.IsTerminating())
}

func TestSentinel_PurgeWorkingDirKeepsSentinels(t *testing.T) {
	dir := t.TempDir()
	s := NewSentinel(dir)
	require.NoError(t, s.MarkWorking())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "TERMINATING"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leftover.tif"), []byte("data"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	require.NoError(t, s.PurgeWorkingDir())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	require.ElementsMatch(t, []string{"WORKING", "TERMINATING"}, names)
}
