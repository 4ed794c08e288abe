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

// Package planner implements the work planner (C3): it expands a
// chosen ServiceConfig and DataOperation into a Job, its
// WorkflowSteps, and the initial batch of WorkItems that drive the
// first step. The batch-filling loop mirrors the fixed-capacity
// accumulation idiom in pkg/export's shard queue: granules are taken
// from the operation's CMR-bounded count until either the batch cap or
// the remaining count is exhausted, never both checked separately.
package planner

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/nasa/harmony/internal/herrors"
	"github.com/nasa/harmony/pkg/harmonyservice"
	"github.com/nasa/harmony/pkg/operation"
	"github.com/nasa/harmony/pkg/workitem"
)

// systemGranuleLimit is the deployment-wide hard cap on granules
// processed by a single job, independent of any per-service or
// per-collection limit.
const systemGranuleLimit = 2000

// schemaVersion is the serialization schema version stamped onto every
// WorkflowStep's operation payload, so a future worker rollout can
// detect and reject an operation serialized under an older contract.
const schemaVersion = "1"

// Plan expands svc and op into a PlannedJob. now is injected so the
// planner stays pure and testable; production callers pass
// time.Now().UTC().
func Plan(logger log.Logger, svc harmonyservice.Config, op *operation.DataOperation, now time.Time) (workitem.PlannedJob, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	numGranules, message := boundGranules(svc, op)
	batchSize := computeBatchSize(svc, op)
	isAsync := !isSynchronous(svc, op, numGranules)

	job := workitem.Job{
		RequestID:        op.RequestID,
		User:             op.User,
		Status:           workitem.JobRunning,
		Message:          message,
		IsAsync:          isAsync,
		NumInputGranules: numGranules,
		CollectionIDs:    op.CollectionIDs(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	payload, err := json.Marshal(op)
	if err != nil {
		return workitem.PlannedJob{}, herrors.NewServerError(err)
	}

	steps := make([]workitem.WorkflowStep, len(svc.Steps))
	for i, step := range svc.Steps {
		steps[i] = workitem.WorkflowStep{
			JobID:        job.RequestID,
			StepIndex:    i,
			ServiceID:    step.Image,
			Operation:    wrapSchema(payload),
			IsSequential: step.IsSequential,
		}
	}

	items := batchWorkItems(job.RequestID, svc, numGranules, batchSize, wrapSchema(payload))
	if len(steps) > 0 {
		steps[0].WorkItemCount = len(items)
	}

	_ = level.Info(logger).Log("msg", "planned job", "jobID", job.RequestID, "numGranules", numGranules, "batchSize", batchSize, "workItems", len(items), "async", isAsync)

	return workitem.PlannedJob{Job: job, Steps: steps, WorkItems: items}, nil
}

func wrapSchema(payload []byte) string {
	return fmt.Sprintf(`{"schemaVersion":%q,"data":%s}`, schemaVersion, payload)
}

// granuleBound is one candidate limit boundGranules considers, paired
// with the message to report if it turns out to be the tightest one.
type granuleBound struct {
	value   int
	message string
}

// boundGranules computes min(cmrHits, maxResults||∞, perCollectionLimit||∞,
// serviceLimit||∞, systemLimit) and the literal message naming
// whichever bound actually produced that minimum, per §4.3. All
// candidate bounds are evaluated up front so a tighter bound further
// down the chain (e.g. the service limit) is never shadowed by a
// looser one found earlier (e.g. maxResults).
func boundGranules(svc harmonyservice.Config, op *operation.DataOperation) (int, string) {
	n := op.CMRHits

	var bounds []granuleBound
	if op.MaxResults > 0 {
		bounds = append(bounds, granuleBound{op.MaxResults, fmt.Sprintf(
			"CMR query identified %d granules, but the request has been limited to process only the first %d granules because you requested %d maxResults.",
			op.CMRHits, op.MaxResults, op.MaxResults)})
	}
	for _, collID := range op.CollectionIDs() {
		col, ok := svc.CollectionFor(collID)
		if !ok || col.GranuleLimit == nil {
			continue
		}
		bounds = append(bounds, granuleBound{*col.GranuleLimit, fmt.Sprintf(
			"CMR query identified %d granules, but the request has been limited to process only the first %d granules because collection %s is limited to %d for the %s service.",
			op.CMRHits, *col.GranuleLimit, collID, *col.GranuleLimit, svc.Name)})
	}
	if svc.GranuleLimit != nil {
		bounds = append(bounds, granuleBound{*svc.GranuleLimit, fmt.Sprintf(
			"CMR query identified %d granules, but the request has been limited to process only the first %d granules because the service %s is limited to %d.",
			op.CMRHits, *svc.GranuleLimit, svc.Name, *svc.GranuleLimit)})
	}
	bounds = append(bounds, granuleBound{systemGranuleLimit, fmt.Sprintf(
		"CMR query identified %d granules, but the request has been limited to process only the first %d granules because of system constraints.",
		op.CMRHits, systemGranuleLimit)})

	best, message := n, ""
	for _, b := range bounds {
		if b.value < best {
			best, message = b.value, b.message
		}
	}
	return best, message
}

// computeBatchSize returns min(svc.BatchSize, maxResults ?? ∞,
// systemGranuleLimit). A service's batch_size of 0 means "no batching"
// and is returned as-is (the caller treats 0 as one operation covering
// every granule).
func computeBatchSize(svc harmonyservice.Config, op *operation.DataOperation) int {
	if svc.BatchSize == 0 {
		return 0
	}
	batch := svc.BatchSize
	if op.MaxResults > 0 && op.MaxResults < batch {
		batch = op.MaxResults
	}
	if batch > systemGranuleLimit {
		batch = systemGranuleLimit
	}
	return batch
}

// isSynchronous decides §4.3's sync/async rule: requireSynchronous or
// a pre-set isSynchronous wins outright; otherwise the decision
// follows the service's maximum_sync_granules cap.
func isSynchronous(svc harmonyservice.Config, op *operation.DataOperation, numGranules int) bool {
	if op.RequireSynchronous {
		return true
	}
	if op.IsSynchronous != nil {
		return *op.IsSynchronous
	}
	if svc.MaximumSyncGranules <= 0 {
		return false
	}
	return numGranules <= svc.MaximumSyncGranules
}

// batchWorkItems fills successive work items up to batchSize each,
// mirroring pkg/export's shard.fill: keep taking from the remaining
// count until either the batch cap or the remaining supply runs out,
// then start the next item. batchSize == 0 means one item covers every
// granule.
func batchWorkItems(jobID string, svc harmonyservice.Config, numGranules, batchSize int, serializedOp string) []workitem.WorkItem {
	if numGranules == 0 {
		numGranules = 1 // at least the CMR-query seed item
	}
	if batchSize <= 0 {
		batchSize = numGranules
	}

	var items []workitem.WorkItem
	remaining := numGranules
	sortIndex := 0
	for remaining > 0 {
		take := batchSize
		if take > remaining {
			take = remaining
		}
		items = append(items, workitem.WorkItem{
			ID:        uuid.NewString(),
			JobID:     jobID,
			ServiceID: svc.Name,
			StepIndex: 0,
			Status:    workitem.StatusReady,
			Operation: serializedOp,
			SortIndex: sortIndex,
		})
		remaining -= take
		sortIndex++
	}
	return items
}
