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

// Package harmonyservice parses and validates the declarative catalog
// of backend transformation services (C1 in the design). A
// ServiceConfig is immutable after load; any consumer that wants to
// mutate one (the selector included) must clone it first.
package harmonyservice

// Type is the dispatch variant of a ServiceConfig. It replaces the
// original BaseService/HttpService/TurboService/NoOpService
// inheritance chain with a tagged value; in this module only catalog
// validation (umm_s is not required for TypeNoOp) and the selector's
// synthetic no-op result look at it.
type Type string

const (
	TypeTurbo Type = "turbo"
	TypeHTTP  Type = "http"
	TypeNoOp  Type = "no-op"
)

// Collection associates a service with one collection it can serve,
// optionally narrowed to a set of variables and/or capped at a
// per-collection granule limit.
type Collection struct {
	ID           string   `yaml:"id" json:"id"`
	Variables    []string `yaml:"variables,omitempty" json:"variables,omitempty"`
	GranuleLimit *int     `yaml:"granule_limit,omitempty" json:"granule_limit,omitempty"`
}

// SupportsVariable reports whether this collection entry allows the
// given variable. An entry with no Variables list supports all
// variables of the collection.
func (c Collection) SupportsVariable(v string) bool {
	if len(c.Variables) == 0 {
		return true
	}
	for _, cv := range c.Variables {
		if cv == v {
			return true
		}
	}
	return false
}

// Capabilities are the flags and ordered output format list that
// drive the selector's filter pipeline.
type Capabilities struct {
	Subsetting            Subsetting `yaml:"subsetting" json:"subsetting"`
	Concatenation         bool       `yaml:"concatenation" json:"concatenation"`
	ConcatenateByDefault  bool       `yaml:"concatenate_by_default" json:"concatenate_by_default"`
	Reprojection          bool       `yaml:"reprojection" json:"reprojection"`
	// OutputFormats preserves first-wins ordering: the selector's
	// output-format filter walks it front to back.
	OutputFormats []string `yaml:"output_formats" json:"output_formats"`
}

// Subsetting groups the per-dimension subsetting capability flags.
type Subsetting struct {
	BBox              bool `yaml:"bbox" json:"bbox"`
	Shape             bool `yaml:"shape" json:"shape"`
	Variable          bool `yaml:"variable" json:"variable"`
	MultipleVariable  bool `yaml:"multiple_variable" json:"multiple_variable"`
	Dimension         bool `yaml:"dimension" json:"dimension"`
	Temporal          bool `yaml:"temporal" json:"temporal"`
}

// Step is one entry in a service's sidecar invocation pipeline: an
// image reference and whether it must run after the prior step
// completes (vs. being eligible to fan out in parallel).
type Step struct {
	Image        string `yaml:"image" json:"image"`
	IsSequential bool   `yaml:"is_sequential" json:"is_sequential"`
}

// Config is a single backend transformation service entry in the
// catalog. It is immutable after load.
type Config struct {
	Name         string       `yaml:"name" json:"name"`
	Type         Type         `yaml:"type" json:"type"`
	UmmS         string       `yaml:"umm_s" json:"umm_s"`
	Collections  []Collection `yaml:"collections" json:"collections"`
	Capabilities Capabilities `yaml:"capabilities" json:"capabilities"`

	GranuleLimit        *int   `yaml:"granule_limit,omitempty" json:"granule_limit,omitempty"`
	BatchSize           int    `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	MaximumSyncGranules int    `yaml:"maximum_sync_granules,omitempty" json:"maximum_sync_granules,omitempty"`
	Concurrency         int    `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	Steps               []Step `yaml:"steps,omitempty" json:"steps,omitempty"`

	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the entry should be loaded: absent or
// true means enabled; a literal false, including the string "false"
// (normalized at parse time), disables it.
func (c Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Clone returns a deep copy, so a consumer like the selector can bind
// a resolved output format onto its own copy without mutating the
// shared catalog.
func (c Config) Clone() Config {
	out := c
	out.Collections = make([]Collection, len(c.Collections))
	for i, col := range c.Collections {
		cc := col
		cc.Variables = append([]string(nil), col.Variables...)
		if col.GranuleLimit != nil {
			v := *col.GranuleLimit
			cc.GranuleLimit = &v
		}
		out.Collections[i] = cc
	}
	out.Capabilities.OutputFormats = append([]string(nil), c.Capabilities.OutputFormats...)
	out.Steps = append([]Step(nil), c.Steps...)
	if c.GranuleLimit != nil {
		v := *c.GranuleLimit
		out.GranuleLimit = &v
	}
	return out
}

// CollectionFor returns the collection entry matching id, if any.
func (c Config) CollectionFor(id string) (Collection, bool) {
	for _, col := range c.Collections {
		if col.ID == id {
			return col, true
		}
	}
	return Collection{}, false
}

// NoOp is the synthetic service returned by the selector when no
// catalog entry can satisfy a request. Its Type is always TypeNoOp and
// it never declares collections or capabilities.
func NoOp() Config {
	return Config{
		Name: "no-op",
		Type: TypeNoOp,
	}
}
