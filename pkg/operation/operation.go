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

// Package operation defines the DataOperation and RequestContext
// values that flow through the service selector, work planner and
// pull worker. Only the fields consumed by those three subsystems are
// modeled; the full request/response schema is out of scope.
package operation

// Source describes one collection's contribution to a DataOperation:
// which granules of it are requested, and which variables (if
// restricted).
type Source struct {
	Collection string   `json:"collection"`
	ShortName  string   `json:"shortName"`
	VersionID  string   `json:"versionId"`
	Variables  []string `json:"variables,omitempty"`
	Granules   []string `json:"granules,omitempty"`
}

// Clone returns a deep copy of the source.
func (s Source) Clone() Source {
	out := s
	out.Variables = append([]string(nil), s.Variables...)
	out.Granules = append([]string(nil), s.Granules...)
	return out
}

// Temporal is a start/end bound on data acquisition time. Either field
// may be the zero value to indicate an open-ended bound.
type Temporal struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// BoundingRectangle is a west/south/east/north spatial bound in
// degrees.
type BoundingRectangle struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// DataOperation is the request payload passed to the selector and
// planner. It is cloneable with deep value semantics; the selector
// mutates its own copy to bind a chosen output format.
type DataOperation struct {
	Sources []Source `json:"sources"`

	OutputFormat      string             `json:"outputFormat,omitempty"`
	BoundingRectangle *BoundingRectangle `json:"boundingRectangle,omitempty"`
	// GeoJSON holds any non-empty value to indicate shapefile
	// subsetting was requested. It may be an inline GeoJSON string or
	// a {href, type} reference. pkg/sidecar.NormalizeShape turns an
	// inline string into a file reference, but nothing on the worker's
	// execution path calls it: the value reaches the sidecar in the
	// form the request carried.
	GeoJSON          any      `json:"geojson,omitempty"`
	CRS              string   `json:"crs,omitempty"`
	Dimensions       []string `json:"dimensions,omitempty"`
	ShouldConcatenate bool    `json:"shouldConcatenate,omitempty"`
	Temporal         *Temporal `json:"temporal,omitempty"`

	MaxResults int `json:"maxResults,omitempty"`
	CMRHits    int `json:"cmrHits,omitempty"`

	// RequireSynchronous forces synchronous handling regardless of
	// granule count. IsSynchronous, if non-nil, pins the decision
	// either way and takes precedence over the granule-count default;
	// both are set by the (out-of-scope) frontend from request flags.
	RequireSynchronous bool  `json:"requireSynchronous,omitempty"`
	IsSynchronous      *bool `json:"isSynchronous,omitempty"`

	RequestID      string `json:"requestId"`
	User           string `json:"user"`
	Client         string `json:"client,omitempty"`
	StagingLocation string `json:"stagingLocation,omitempty"`
}

// Clone returns a deep copy of the operation so that callers (notably
// the selector, which binds a resolved output format) never mutate
// the caller's original value.
func (o *DataOperation) Clone() *DataOperation {
	if o == nil {
		return nil
	}
	out := *o
	out.Sources = make([]Source, len(o.Sources))
	for i, s := range o.Sources {
		out.Sources[i] = s.Clone()
	}
	out.Dimensions = append([]string(nil), o.Dimensions...)
	if o.BoundingRectangle != nil {
		br := *o.BoundingRectangle
		out.BoundingRectangle = &br
	}
	if o.Temporal != nil {
		t := *o.Temporal
		out.Temporal = &t
	}
	if o.IsSynchronous != nil {
		v := *o.IsSynchronous
		out.IsSynchronous = &v
	}
	return &out
}

// HasVariableSubset reports whether any source restricts to a
// specific variable set.
func (o *DataOperation) HasVariableSubset() bool {
	for _, s := range o.Sources {
		if len(s.Variables) > 0 {
			return true
		}
	}
	return false
}

// CollectionIDs returns the distinct, order-preserved collection IDs
// referenced by the operation's sources.
func (o *DataOperation) CollectionIDs() []string {
	seen := make(map[string]bool, len(o.Sources))
	var out []string
	for _, s := range o.Sources {
		if !seen[s.Collection] {
			seen[s.Collection] = true
			out = append(out, s.Collection)
		}
	}
	return out
}

// TotalGranules returns the number of granules named across all
// sources (used before CMR accounting narrows the set further).
func (o *DataOperation) TotalGranules() int {
	n := 0
	for _, s := range o.Sources {
		n += len(s.Granules)
	}
	return n
}
