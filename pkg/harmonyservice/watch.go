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

package harmonyservice

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Store holds the currently active Catalog behind an atomic pointer so
// readers never observe a partially-reloaded catalog.
type Store struct {
	current atomic.Pointer[Catalog]
}

// NewStore returns a Store initialized with c.
func NewStore(c *Catalog) *Store {
	s := &Store{}
	s.current.Store(c)
	return s
}

// Get returns the currently active catalog.
func (s *Store) Get() *Catalog {
	return s.current.Load()
}

// WatchFile polls path for mtime changes every interval and, on
// change, reloads and validates the catalog before atomically swapping
// it in. A reload that fails validation is logged and the previous
// catalog stays active, so a bad edit never takes down a running
// deployment. Modeled on the polling loop in
// github.com/thanos-io/thanos/pkg/reloader, adapted here to avoid a
// long-lived fsnotify watch (catalog files live on a ConfigMap mount,
// where fsnotify events are unreliable).
func (s *Store) WatchFile(ctx context.Context, logger log.Logger, path, cmrEnvironment string, interval time.Duration) error {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	var lastMod time.Time
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fi, err := os.Stat(path)
			if err != nil {
				_ = level.Warn(logger).Log("msg", "stat service catalog failed", "path", path, "err", err)
				continue
			}
			if !fi.ModTime().After(lastMod) {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				_ = level.Warn(logger).Log("msg", "reading service catalog failed", "path", path, "err", err)
				continue
			}
			cat, err := Load(logger, data, cmrEnvironment)
			if err != nil {
				_ = level.Error(logger).Log("msg", "reloaded service catalog failed validation, keeping previous", "path", path, "err", err)
				continue
			}
			lastMod = fi.ModTime()
			s.current.Store(cat)
			_ = level.Info(logger).Log("msg", "reloaded service catalog", "path", path)
		}
	}
}
