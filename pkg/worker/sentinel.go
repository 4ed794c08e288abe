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
)

const (
	workingSentinel    = "WORKING"
	terminatingSentinel = "TERMINATING"
)

// Sentinel manages the two coordination files a Kubernetes PreStop
// hook and the pull worker exchange through the shared working
// directory: WORKING marks an in-flight item (the hook waits for it to
// disappear before proceeding) and TERMINATING signals the worker to
// exit cleanly at the next opportunity.
type Sentinel struct {
	dir string
}

// NewSentinel returns a Sentinel rooted at dir.
func NewSentinel(dir string) Sentinel { return Sentinel{dir: dir} }

func (s Sentinel) path(name string) string { return filepath.Join(s.dir, name) }

// MarkWorking creates the WORKING sentinel.
func (s Sentinel) MarkWorking() error {
	return os.WriteFile(s.path(workingSentinel), nil, 0o644)
}

// ClearWorking removes the WORKING sentinel.
func (s Sentinel) ClearWorking() error {
	err := os.Remove(s.path(workingSentinel))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsTerminating reports whether the PreStop hook has requested
// termination.
func (s Sentinel) IsTerminating() bool {
	_, err := os.Stat(s.path(terminatingSentinel))
	return err == nil
}

// PurgeWorkingDir deletes every entry in the working directory except
// the WORKING and TERMINATING sentinels, preventing a pod from being
// evicted for ephemeral-storage exhaustion when an image leaves
// artifacts behind between items.
func (s Sentinel) PurgeWorkingDir() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.Name() == workingSentinel || e.Name() == terminatingSentinel {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
