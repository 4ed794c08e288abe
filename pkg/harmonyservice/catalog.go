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
	"os"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Catalog is the immutable, validated set of service configs for one
// CMR environment.
type Catalog struct {
	services []Config
}

// Services returns the catalog's entries in original declaration
// order. Callers that mutate entries must Clone the catalog or the
// individual entry first.
func (c *Catalog) Services() []Config {
	return append([]Config(nil), c.services...)
}

// ByName looks up a service by name.
func (c *Catalog) ByName(name string) (Config, bool) {
	for _, s := range c.services {
		if s.Name == name {
			return s, true
		}
	}
	return Config{}, false
}

// Clone returns a deep copy of the catalog, which the selector
// operates on so it is always free to bind values onto individual
// candidate configs.
func (c *Catalog) Clone() *Catalog {
	out := &Catalog{services: make([]Config, len(c.services))}
	for i, s := range c.services {
		out.services[i] = s.Clone()
	}
	return out
}

// systemGranuleLimit is the hard, deployment-wide cap used to warn
// (not fail) about an out-of-range batch_size.
const systemGranuleLimit = 2000

// rawDocument is keyed by CMR environment URL, each value a list of
// service entries as they appear in the YAML document.
type rawDocument map[string][]Config

// Load parses a catalog YAML document for the given CMR environment
// key, resolving !Env scalar tags and coercing string integers, then
// validates every entry. Validation failures are fatal (returns an
// error); entries with enabled: false (or the string "false") are
// silently dropped before validation.
func Load(logger log.Logger, data []byte, cmrEnvironment string) (*Catalog, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrap(err, "parsing service catalog YAML")
	}
	if err := resolveEnvTags(&root); err != nil {
		return nil, errors.Wrap(err, "resolving !Env tags in service catalog")
	}

	var doc rawDocument
	if err := root.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decoding service catalog document")
	}

	entries, ok := doc[cmrEnvironment]
	if !ok {
		return nil, errors.Errorf("no service catalog entries for CMR environment %q", cmrEnvironment)
	}

	var kept []Config
	for _, e := range entries {
		if !e.IsEnabled() {
			continue
		}
		kept = append(kept, e)
	}

	var errs []string
	for _, e := range kept {
		if err := validate(logger, e); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return nil, errors.Errorf("invalid service catalog: %v", errs)
	}

	_ = level.Info(logger).Log("msg", "loaded service catalog", "cmrEnvironment", cmrEnvironment, "services", len(kept))
	return &Catalog{services: kept}, nil
}

// validate applies the fatal-if-violated rules of §4.1: batch_size
// must be a positive integer, warning (not failing) if it exceeds the
// system granule cap; exactly one non-empty umm_s for non-no-op
// services; every collection granule_limit must be positive.
func validate(logger log.Logger, c Config) error {
	if c.BatchSize < 0 {
		return errors.Errorf("service %q: batch_size must be a positive integer", c.Name)
	}
	if c.BatchSize > systemGranuleLimit {
		_ = level.Warn(logger).Log("msg", "service batch_size exceeds system granule cap", "service", c.Name, "batch_size", c.BatchSize, "cap", systemGranuleLimit)
	}
	if c.Type != TypeNoOp && c.UmmS == "" {
		return errors.Errorf("service %q: exactly one umm_s association is required", c.Name)
	}
	for _, col := range c.Collections {
		if col.GranuleLimit != nil && *col.GranuleLimit <= 0 {
			return errors.Errorf("service %q: collection %q granule_limit must be a positive integer", c.Name, col.ID)
		}
	}
	return nil
}

// resolveEnvTags walks the YAML node tree resolving any scalar tagged
// !Env to the value of the named environment variable (empty if
// unset), and coerces integer-looking string scalars to the !!int tag
// so they decode as integers rather than strings. The strings "true"
// and "false" are likewise retagged !!bool, so a quoted
// enabled: "false" decodes into Config.Enabled.
func resolveEnvTags(n *yaml.Node) error {
	if n == nil {
		return nil
	}
	if n.Kind == yaml.ScalarNode {
		if n.Tag == "!Env" {
			n.Value = os.Getenv(n.Value)
			n.Tag = "!!str"
		}
		if n.Tag == "!!str" || n.Tag == "" {
			if _, err := strconv.Atoi(n.Value); err == nil && n.Value != "" {
				n.Tag = "!!int"
			} else if n.Value == "true" || n.Value == "false" {
				n.Tag = "!!bool"
			}
		}
		return nil
	}
	for _, c := range n.Content {
		if err := resolveEnvTags(c); err != nil {
			return err
		}
	}
	return nil
}
