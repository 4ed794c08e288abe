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

package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nasa/harmony/pkg/harmonyservice"
	"github.com/nasa/harmony/pkg/operation"
	"github.com/nasa/harmony/pkg/workitem"
)

func baseService() harmonyservice.Config {
	return harmonyservice.Config{
		Name:                "svc-A",
		Type:                harmonyservice.TypeTurbo,
		UmmS:                "S1",
		Collections:         []harmonyservice.Collection{{ID: "C1"}},
		BatchSize:           10,
		MaximumSyncGranules: 5,
		Steps:               []harmonyservice.Step{{Image: "example.com/svc-a:latest"}},
	}
}

func TestPlan_GranulesBoundBySystemLimit(t *testing.T) {
	svc := baseService()
	op := &operation.DataOperation{
		Sources: []operation.Source{{Collection: "C1"}},
		CMRHits: systemGranuleLimit + 500,
		RequestID: "req-1",
	}
	pj, err := Plan(nil, svc, op, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	require.Equal(t, systemGranuleLimit, pj.Job.NumInputGranules)
	require.Contains(t, pj.Job.Message, "system constraints")
}

func TestPlan_GranulesBoundByMaxResults(t *testing.T) {
	svc := baseService()
	op := &operation.DataOperation{
		Sources:    []operation.Source{{Collection: "C1"}},
		CMRHits:    100,
		MaxResults: 20,
		RequestID:  "req-2",
	}
	pj, err := Plan(nil, svc, op, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	require.Equal(t, 20, pj.Job.NumInputGranules)
	require.Contains(t, pj.Job.Message, "20 maxResults")
}

func TestPlan_GranulesBoundByCollectionLimit(t *testing.T) {
	limit := 7
	svc := baseService()
	svc.Collections = []harmonyservice.Collection{{ID: "C1", GranuleLimit: &limit}}
	op := &operation.DataOperation{
		Sources:   []operation.Source{{Collection: "C1"}},
		CMRHits:   50,
		RequestID: "req-3",
	}
	pj, err := Plan(nil, svc, op, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	require.Equal(t, 7, pj.Job.NumInputGranules)
	require.Contains(t, pj.Job.Message, "collection C1 is limited to 7")
}

// Scenario 4 (spec §8): multiple bounds apply at once; the tightest
// one (here the service limit, tighter than both maxResults and the
// system cap) must win, not whichever bound is checked first.
func TestPlan_TightestOfMultipleBoundsWins(t *testing.T) {
	serviceLimit := 20
	svc := baseService()
	svc.GranuleLimit = &serviceLimit
	op := &operation.DataOperation{
		Sources:    []operation.Source{{Collection: "C1"}},
		CMRHits:    100,
		MaxResults: 50,
		RequestID:  "req-11",
	}
	pj, err := Plan(nil, svc, op, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	require.Equal(t, 20, pj.Job.NumInputGranules)
	require.Contains(t, pj.Job.Message, "service svc-A is limited to 20")
}

func TestPlan_NoBoundYieldsEmptyMessage(t *testing.T) {
	svc := baseService()
	op := &operation.DataOperation{
		Sources:   []operation.Source{{Collection: "C1"}},
		CMRHits:   3,
		RequestID: "req-4",
	}
	pj, err := Plan(nil, svc, op, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	require.Equal(t, 3, pj.Job.NumInputGranules)
	require.Empty(t, pj.Job.Message)
}

func TestPlan_SynchronousUnderCap(t *testing.T) {
	svc := baseService()
	op := &operation.DataOperation{
		Sources:   []operation.Source{{Collection: "C1"}},
		CMRHits:   3,
		RequestID: "req-5",
	}
	pj, err := Plan(nil, svc, op, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	require.False(t, pj.Job.IsAsync)
}

func TestPlan_AsynchronousOverCap(t *testing.T) {
	svc := baseService()
	op := &operation.DataOperation{
		Sources:   []operation.Source{{Collection: "C1"}},
		CMRHits:   50,
		RequestID: "req-6",
	}
	pj, err := Plan(nil, svc, op, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	require.True(t, pj.Job.IsAsync)
}

func TestPlan_RequireSynchronousOverridesGranuleCount(t *testing.T) {
	svc := baseService()
	op := &operation.DataOperation{
		Sources:            []operation.Source{{Collection: "C1"}},
		CMRHits:            50,
		RequireSynchronous: true,
		RequestID:          "req-7",
	}
	pj, err := Plan(nil, svc, op, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	require.False(t, pj.Job.IsAsync)
}

func TestPlan_BatchesWorkItemsByBatchSize(t *testing.T) {
	svc := baseService()
	svc.BatchSize = 4
	op := &operation.DataOperation{
		Sources:   []operation.Source{{Collection: "C1"}},
		CMRHits:   10,
		RequestID: "req-8",
	}
	pj, err := Plan(nil, svc, op, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	require.Len(t, pj.WorkItems, 3) // 4, 4, 2
	require.Equal(t, 3, pj.Steps[0].WorkItemCount)
	for i, item := range pj.WorkItems {
		require.Equal(t, i, item.SortIndex)
		require.Equal(t, workitem.StatusReady, item.Status)
	}
}

func TestPlan_ZeroBatchSizeMeansOneWorkItem(t *testing.T) {
	svc := baseService()
	svc.BatchSize = 0
	op := &operation.DataOperation{
		Sources:   []operation.Source{{Collection: "C1"}},
		CMRHits:   10,
		RequestID: "req-9",
	}
	pj, err := Plan(nil, svc, op, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	require.Len(t, pj.WorkItems, 1)
}

func TestPlan_PersistenceFailureWrapsAsServerError(t *testing.T) {
	svc := baseService()
	op := &operation.DataOperation{
		Sources:   []operation.Source{{Collection: "C1"}},
		CMRHits:   1,
		RequestID: "req-10",
		// an un-marshalable field forces json.Marshal to fail
		GeoJSON: make(chan int),
	}
	_, err := Plan(nil, svc, op, time.Unix(0, 0).UTC())
	require.Error(t, err)
}
