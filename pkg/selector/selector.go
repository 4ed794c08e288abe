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

// Package selector implements the service selector (C2): a pure,
// side-effect-free chained filter pipeline that narrows a service
// catalog down to the one backend that can fulfill a DataOperation.
//
// Exceptions-for-control-flow (the original UnsupportedOperation
// thrown to short-circuit the pipeline) are replaced with a
// result-typed pipeline: each filter returns either a narrowed
// candidate list or a rejected result carrying the accumulated
// requestedOperations, and the driver decides the fallback path from
// that result rather than from a caught exception.
package selector

import (
	"fmt"
	"strings"

	"github.com/nasa/harmony/internal/herrors"
	"github.com/nasa/harmony/pkg/harmonyservice"
	"github.com/nasa/harmony/pkg/operation"
)

// fallbackMessage is the advisory attached when optional filters were
// relaxed to find a match.
const fallbackMessage = "Data in output files may extend outside the spatial bounds you requested."

// Result is the selector's output: the chosen service plus an
// optional advisory message.
type Result struct {
	Service harmonyservice.Config
	Message string
}

// filterResult is what each filter in the chain returns: either a
// narrowed, non-empty candidate list, or a rejection naming the
// operation that eliminated every remaining candidate.
type filterResult struct {
	candidates []harmonyservice.Config
	rejected   bool
	rejectedOp string
}

func narrowed(c []harmonyservice.Config) filterResult { return filterResult{candidates: c} }
func rejected(op string) filterResult                 { return filterResult{rejected: true, rejectedOp: op} }

// filterFunc narrows candidates for one concern of the request. It
// also returns the (possibly unchanged) requestedOperations list so
// filters can append their own name when they actually constrain the
// result.
type filterFunc func(op *operation.DataOperation, ctx operation.RequestContext, candidates []harmonyservice.Config, requested []string) (filterResult, []string)

// Select runs the canonical "all filters" chain against catalog and,
// if it yields no candidate, falls back to a required-only chain that
// drops the optional filters (shapefile, spatial, dimension
// subsetting). It never mutates catalog; op is cloned before any
// filter binds a resolved value onto it.
//
// Select throws (returns an error) only when ShouldConcatenate is
// requested and no candidate in the catalog declares the concatenation
// capability at all — every other unsatisfiable combination yields the
// synthetic no-op service with an explanatory message instead of an
// error.
func Select(catalogServices []harmonyservice.Config, op *operation.DataOperation, ctx operation.RequestContext) (Result, error) {
	if op.ShouldConcatenate && !anyConcatenationCapable(catalogServices) {
		return Result{}, &herrors.UnsupportedOperation{
			RequestedOperations: []string{"concatenation"},
			Collections:         op.CollectionIDs(),
		}
	}

	working := op.Clone()
	strictCandidates, requested, rejectedOp := runChain(allFilters, working, ctx, catalogServices)
	if len(strictCandidates) > 0 {
		return Result{Service: strictCandidates[0]}, nil
	}

	// Fallback: rerun a required-only chain (drop shape, bbox,
	// dimension filters) unless the strict chain's own requested
	// accumulator shows the request actually combined (spatial or
	// shape) with (variable, reproject or reformat) before being
	// rejected — such requests never fall back. A rejection that never
	// reached the content filters (e.g. bbox rejected first) hasn't
	// engaged a content filter at all and must still get a chance at
	// the required-only chain.
	if isStrictCapability(requested) {
		return Result{Service: noOpResult(requested, rejectedOp, op.CollectionIDs())}, nil
	}

	fallbackWorking := op.Clone()
	fallbackCandidates, fbRequested, fbRejectedOp := runChain(requiredOnlyFilters, fallbackWorking, ctx, catalogServices)
	if len(fallbackCandidates) == 0 {
		return Result{Service: noOpResult(fbRequested, fbRejectedOp, op.CollectionIDs())}, nil
	}

	// A real fallback match is only advisory when the request actually
	// asked for at least one optional transform (that's exactly why
	// the required-only chain found something the strict chain
	// didn't).
	return Result{
		Service: fallbackCandidates[0],
		Message: fallbackMessage,
	}, nil
}

func noOpResult(requested []string, _ string, collections []string) harmonyservice.Config {
	svc := harmonyservice.NoOp()
	svc.Name = noOpMessage(requested, collections)
	return svc
}

// noOpMessage renders the human-readable message for the no-op result.
// noOpResult stores it in the no-op Config's Name, and
// Result.ExplanatoryMessage returns it from there.
func noOpMessage(requested, collections []string) string {
	if len(requested) == 0 {
		return fmt.Sprintf("no operations can be performed on %s", joinAnd(collections))
	}
	return fmt.Sprintf("the requested combination of operations: %s on %s is unsupported",
		joinAnd(requested), joinAnd(collections))
}

// ExplanatoryMessage returns the human-readable explanation for a Result whose
// Service is the synthetic no-op, or the fallback advisory, or "" for
// a normal strict match.
func (r Result) ExplanatoryMessage() string {
	if r.Message != "" {
		return r.Message
	}
	if r.Service.Type == harmonyservice.TypeNoOp {
		return r.Service.Name
	}
	return ""
}

func runChain(chain []namedFilter, op *operation.DataOperation, ctx operation.RequestContext, catalogServices []harmonyservice.Config) ([]harmonyservice.Config, []string, string) {
	candidates := append([]harmonyservice.Config(nil), catalogServices...)
	var requested []string
	for _, nf := range chain {
		res, newRequested := nf.fn(op, ctx, candidates, requested)
		requested = newRequested
		if res.rejected || len(res.candidates) == 0 {
			return nil, requested, res.rejectedOp
		}
		candidates = res.candidates
	}
	return candidates, requested, ""
}

func anyConcatenationCapable(services []harmonyservice.Config) bool {
	for _, s := range services {
		if s.Capabilities.Concatenation {
			return true
		}
	}
	return false
}

// isStrictCapability reports whether requested -- the strict chain's
// own accumulator of operations that actually narrowed or rejected the
// candidate set -- combines a "location" transform (spatial or
// shapefile subsetting) with a "content" transform (variable
// subsetting, reprojection, or reformatting). It must be computed from
// which filters actually engaged, not from the raw operation's fields:
// a request can name a CRS or output format and still never reach
// those filters if an earlier filter (e.g. spatial subsetting) already
// rejected every candidate, in which case the request hasn't actually
// combined two capabilities and still qualifies for fallback.
func isStrictCapability(requested []string) bool {
	var hasLocation, hasContent bool
	for _, r := range requested {
		switch {
		case r == "spatial subsetting" || r == "shapefile subsetting":
			hasLocation = true
		case r == "variable subsetting" || r == "reprojection" || strings.HasPrefix(r, "reformatting to"):
			hasContent = true
		}
	}
	return hasLocation && hasContent
}

func joinAnd(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += " and "
		}
		out += s
	}
	return out
}

type namedFilter struct {
	name string
	fn   filterFunc
}
