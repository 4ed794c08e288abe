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

package operation

import (
	"sort"
	"strconv"
	"strings"

	"github.com/go-kit/log"
)

// RequestContext is a sealed record carrying cross-cutting request
// state: the request's id, its logger, the client's requested mime
// types (Accept-header style, pre-sorted by quality below) and which
// frontend (coverages/EDR/WMS — out of scope here, kept as an opaque
// string) produced the request.
//
// It is immutable after first construction except for field
// replacement via With*, which always returns a new value.
type RequestContext struct {
	id                string
	logger            log.Logger
	requestedMimeTypes []string
	frontend          string
}

// NewRequestContext constructs a RequestContext, sorting the supplied
// Accept-style mime types by descending quality value with a stable
// tie-break on original order.
func NewRequestContext(id string, logger log.Logger, frontend string, accept string) RequestContext {
	return RequestContext{
		id:                id,
		logger:            logger,
		frontend:          frontend,
		requestedMimeTypes: ParseAccept(accept),
	}
}

func (c RequestContext) ID() string             { return c.id }
func (c RequestContext) Logger() log.Logger      { return c.logger }
func (c RequestContext) Frontend() string        { return c.frontend }
func (c RequestContext) RequestedMimeTypes() []string {
	return append([]string(nil), c.requestedMimeTypes...)
}

// WithLogger returns a copy of the context with its logger replaced.
func (c RequestContext) WithLogger(logger log.Logger) RequestContext {
	c.logger = logger
	return c
}

type acceptEntry struct {
	mimeType string
	quality  float64
	order    int
}

// ParseAccept parses an HTTP Accept header into a list of mime types
// ordered by descending quality value ("q" parameter), with ties
// broken by original header order (stable sort).
func ParseAccept(accept string) []string {
	if strings.TrimSpace(accept) == "" {
		return nil
	}
	parts := strings.Split(accept, ",")
	entries := make([]acceptEntry, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		segs := strings.Split(p, ";")
		mt := strings.TrimSpace(segs[0])
		q := 1.0
		for _, seg := range segs[1:] {
			seg = strings.TrimSpace(seg)
			if strings.HasPrefix(seg, "q=") {
				if v, err := strconv.ParseFloat(strings.TrimPrefix(seg, "q="), 64); err == nil {
					q = v
				}
			}
		}
		entries = append(entries, acceptEntry{mimeType: mt, quality: q, order: i})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].quality > entries[j].quality
	})
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.mimeType
	}
	return out
}

// MatchesMimeType implements the wildcard rule used by the output
// format filter: "*/*" matches all, "type/*" matches any subtype of
// type, otherwise only an exact "type/subtype" match succeeds.
func MatchesMimeType(requested, candidate string) bool {
	if requested == "*/*" {
		return true
	}
	rt, rs, ok := strings.Cut(requested, "/")
	if !ok {
		return requested == candidate
	}
	ct, cs, ok := strings.Cut(candidate, "/")
	if !ok {
		return false
	}
	if rt != ct {
		return false
	}
	return rs == "*" || rs == cs
}
