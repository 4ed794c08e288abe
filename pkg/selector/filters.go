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

package selector

import (
	"fmt"

	"github.com/nasa/harmony/pkg/harmonyservice"
	"github.com/nasa/harmony/pkg/operation"
)

// allFilters is the canonical "all filters" chain, in the exact order
// the spec prescribes. The output format filter runs last so that
// earlier filters cannot eliminate a service that would have offered
// an otherwise-supported format.
var allFilters = []namedFilter{
	{"collection match", collectionMatchFilter},
	{"concatenation", concatenationFilter},
	{"variable subsetting", variableSubsettingFilter},
	{"spatial subsetting", spatialSubsettingFilter},
	{"shapefile subsetting", shapefileSubsettingFilter},
	{"reprojection", reprojectionFilter},
	{"dimension subsetting", dimensionSubsettingFilter},
	{"output format", outputFormatFilter},
}

// requiredOnlyFilters is the best-effort fallback chain: it drops
// shapefile subsetting, spatial subsetting and dimension subsetting,
// which the spec treats as capabilities that can be silently relaxed.
var requiredOnlyFilters = []namedFilter{
	{"collection match", collectionMatchFilter},
	{"concatenation", concatenationFilter},
	{"variable subsetting", variableSubsettingFilter},
	{"reprojection", reprojectionFilter},
	{"output format", outputFormatFilter},
}

func appendOp(requested []string, op string) []string {
	for _, r := range requested {
		if r == op {
			return requested
		}
	}
	return append(requested, op)
}

// collectionMatchFilter retains configs whose collections cover every
// source of the operation; a per-collection variable list further
// restricts membership to sources requesting only those variables.
func collectionMatchFilter(op *operation.DataOperation, _ operation.RequestContext, candidates []harmonyservice.Config, requested []string) (filterResult, []string) {
	var out []harmonyservice.Config
	for _, svc := range candidates {
		if serviceCoversAllSources(svc, op) {
			out = append(out, svc)
		}
	}
	if len(out) == 0 {
		return rejected(""), requested
	}
	return narrowed(out), requested
}

func serviceCoversAllSources(svc harmonyservice.Config, op *operation.DataOperation) bool {
	for _, src := range op.Sources {
		col, ok := svc.CollectionFor(src.Collection)
		if !ok {
			return false
		}
		for _, v := range src.Variables {
			if !col.SupportsVariable(v) {
				return false
			}
		}
	}
	return true
}

func concatenationFilter(op *operation.DataOperation, _ operation.RequestContext, candidates []harmonyservice.Config, requested []string) (filterResult, []string) {
	if !op.ShouldConcatenate {
		return narrowed(candidates), requested
	}
	requested = appendOp(requested, "concatenation")
	var out []harmonyservice.Config
	for _, svc := range candidates {
		if svc.Capabilities.Concatenation {
			out = append(out, svc)
		}
	}
	if len(out) == 0 {
		return rejected("concatenation"), requested
	}
	return narrowed(out), requested
}

func variableSubsettingFilter(op *operation.DataOperation, _ operation.RequestContext, candidates []harmonyservice.Config, requested []string) (filterResult, []string) {
	if !op.HasVariableSubset() {
		return narrowed(candidates), requested
	}
	requested = appendOp(requested, "variable subsetting")
	var out []harmonyservice.Config
	for _, svc := range candidates {
		if svc.Capabilities.Subsetting.Variable {
			out = append(out, svc)
		}
	}
	if len(out) == 0 {
		return rejected("variable subsetting"), requested
	}
	return narrowed(out), requested
}

func spatialSubsettingFilter(op *operation.DataOperation, _ operation.RequestContext, candidates []harmonyservice.Config, requested []string) (filterResult, []string) {
	if op.BoundingRectangle == nil {
		return narrowed(candidates), requested
	}
	requested = appendOp(requested, "spatial subsetting")
	var out []harmonyservice.Config
	for _, svc := range candidates {
		if svc.Capabilities.Subsetting.BBox {
			out = append(out, svc)
		}
	}
	if len(out) == 0 {
		return rejected("spatial subsetting"), requested
	}
	return narrowed(out), requested
}

func shapefileSubsettingFilter(op *operation.DataOperation, _ operation.RequestContext, candidates []harmonyservice.Config, requested []string) (filterResult, []string) {
	if op.GeoJSON == nil {
		return narrowed(candidates), requested
	}
	requested = appendOp(requested, "shapefile subsetting")
	var out []harmonyservice.Config
	for _, svc := range candidates {
		if svc.Capabilities.Subsetting.Shape {
			out = append(out, svc)
		}
	}
	if len(out) == 0 {
		return rejected("shapefile subsetting"), requested
	}
	return narrowed(out), requested
}

func reprojectionFilter(op *operation.DataOperation, _ operation.RequestContext, candidates []harmonyservice.Config, requested []string) (filterResult, []string) {
	if op.CRS == "" {
		return narrowed(candidates), requested
	}
	requested = appendOp(requested, "reprojection")
	var out []harmonyservice.Config
	for _, svc := range candidates {
		if svc.Capabilities.Reprojection {
			out = append(out, svc)
		}
	}
	if len(out) == 0 {
		return rejected("reprojection"), requested
	}
	return narrowed(out), requested
}

func dimensionSubsettingFilter(op *operation.DataOperation, _ operation.RequestContext, candidates []harmonyservice.Config, requested []string) (filterResult, []string) {
	if len(op.Dimensions) == 0 {
		return narrowed(candidates), requested
	}
	requested = appendOp(requested, "dimension subsetting")
	var out []harmonyservice.Config
	for _, svc := range candidates {
		if svc.Capabilities.Subsetting.Dimension {
			out = append(out, svc)
		}
	}
	if len(out) == 0 {
		return rejected("dimension subsetting"), requested
	}
	return narrowed(out), requested
}

// outputFormatFilter implements §4.2 step 8. For each requested mime
// type, in priority order (explicit OutputFormat first, then
// RequestedMimeTypes pre-sorted by quality), it walks candidates
// first-wins and finds the first output_formats entry that matches
// under the wildcard rule. The resolved format is bound onto op so
// downstream components (the planner, the sidecar invocation) see it,
// and candidates are narrowed to services offering it.
func outputFormatFilter(op *operation.DataOperation, ctx operation.RequestContext, candidates []harmonyservice.Config, requested []string) (filterResult, []string) {
	priority := requestedMimeTypePriority(op, ctx)
	if len(priority) == 0 {
		return narrowed(candidates), requested
	}
	requested = appendOp(requested, fmt.Sprintf("reformatting to %s", priority[0]))

	for _, mime := range priority {
		if mime == "*/*" {
			continue
		}
		var out []harmonyservice.Config
		var resolvedFormat string
		for _, svc := range candidates {
			for _, of := range svc.Capabilities.OutputFormats {
				if operation.MatchesMimeType(mime, of) {
					out = append(out, svc)
					if resolvedFormat == "" {
						resolvedFormat = of
					}
					break
				}
			}
		}
		if len(out) > 0 {
			op.OutputFormat = resolvedFormat
			return narrowed(out), requested
		}
	}
	return rejected(fmt.Sprintf("reformatting to %s", priority[0])), requested
}

func requestedMimeTypePriority(op *operation.DataOperation, ctx operation.RequestContext) []string {
	var priority []string
	if op.OutputFormat != "" {
		priority = append(priority, op.OutputFormat)
	}
	for _, mt := range ctx.RequestedMimeTypes() {
		if mt == "*/*" {
			continue
		}
		priority = append(priority, mt)
	}
	return priority
}
