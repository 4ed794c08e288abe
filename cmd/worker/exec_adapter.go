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

package main

import (
	"context"
	"fmt"

	"github.com/nasa/harmony/internal/config"
	"github.com/nasa/harmony/pkg/sidecar"
	"github.com/nasa/harmony/pkg/worker"
	"github.com/nasa/harmony/pkg/workitem"
)

// execAdapter implements worker.Executor by translating a WorkItem into
// either a sidecar.Invocation (the generic K8s-exec path) or a
// sidecar.CMRQueryRequest (the §4.6 CMR-query path, selected whenever
// the item carries a ScrollID), and the resulting Outcome/Response back
// into the WorkItem's terminal fields, so pkg/worker never needs to
// know about either transport.
type execAdapter struct {
	runner   *sidecar.Runner
	cmrQuery *sidecar.CMRQueryClient
	cfg      config.WorkerConfig
}

func (a *execAdapter) Execute(ctx context.Context, item workitem.WorkItem) (workitem.WorkItem, error) {
	if item.ScrollID != "" {
		return a.executeCMRQuery(ctx, item)
	}
	return a.executeSidecar(ctx, item)
}

func (a *execAdapter) executeSidecar(ctx context.Context, item workitem.WorkItem) (workitem.WorkItem, error) {
	outputDir := fmt.Sprintf("s3://%s/%s/%s/outputs/", a.cfg.ArtifactBucket, item.JobID, item.ID)

	inv := sidecar.Invocation{
		PodName:          a.cfg.MyPodName,
		Container:        a.cfg.HarmonyService,
		InvocationArgs:   a.cfg.InvocationArgs,
		OperationJSON:    []byte(item.Operation),
		StacCatalogURL:   item.StacCatalogURL,
		OutputCatalogDir: outputDir,
		WorkItemID:       item.ID,
		RetryCount:       item.RetryCount,
	}
	args, err := sidecar.BuildArgs(inv)
	if err != nil {
		return workitem.WorkItem{}, err
	}

	outcome := a.runner.Exec(ctx, inv, args)

	if outcome.InternalK8sError {
		return workitem.WorkItem{}, &worker.InternalK8sError{Cause: fmt.Errorf("%s", outcome.Message)}
	}

	if !outcome.Succeeded {
		item.Status = workitem.StatusFailed
		if outcome.Level == "warning" {
			item.Status = workitem.StatusWarning
		}
		item.Message = outcome.Message
		item.MessageCategory = outcome.Category
		return item, nil
	}

	item.Status = workitem.StatusSuccessful
	item.Results = make([]workitem.Result, len(outcome.CatalogURLs))
	for i, url := range outcome.CatalogURLs {
		item.Results[i] = workitem.Result{Href: url, Type: "application/json"}
	}
	return item, nil
}

// executeCMRQuery handles a work item bearing a scrollID by POSTing to
// the sidecar's local /work endpoint per §4.6, rather than invoking
// via K8s exec.
func (a *execAdapter) executeCMRQuery(ctx context.Context, item workitem.WorkItem) (workitem.WorkItem, error) {
	outputDir := fmt.Sprintf("s3://%s/%s/%s/outputs/", a.cfg.ArtifactBucket, item.JobID, item.ID)

	resp, err := a.cmrQuery.Query(ctx, sidecar.CMRQueryRequest{
		OutputDir:      outputDir,
		HarmonyInput:   []byte(item.Operation),
		ScrollID:       item.ScrollID,
		MaxCMRGranules: item.Hits,
		WorkItemID:     item.ID,
	})
	if err != nil {
		return workitem.WorkItem{}, err
	}

	if resp.Error != "" {
		item.Status = workitem.StatusFailed
		item.Message = resp.Error
		item.MessageCategory = resp.ErrorCategory
		return item, nil
	}

	item.Status = workitem.StatusSuccessful
	item.ScrollID = resp.ScrollID
	item.TotalItemsSize = resp.TotalItemsSize
	item.OutputItemSizes = resp.OutputItemSizes
	item.Results = make([]workitem.Result, len(resp.BatchCatalogs))
	for i, url := range resp.BatchCatalogs {
		item.Results[i] = workitem.Result{Href: url, Type: "application/json"}
	}
	return item, nil
}
