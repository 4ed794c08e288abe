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

package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nasa/harmony/pkg/workitem"
)

type fakeSource struct {
	items    []workitem.WorkItem
	idx      int
	reported []workitem.WorkItem
}

func (f *fakeSource) Poll(_ context.Context, _, _ string) (workitem.WorkItem, bool, error) {
	if f.idx >= len(f.items) {
		return workitem.WorkItem{}, false, nil
	}
	item := f.items[f.idx]
	f.idx++
	return item, true, nil
}

func (f *fakeSource) Report(_ context.Context, item workitem.WorkItem) error {
	f.reported = append(f.reported, item)
	return nil
}

type fakeExecutor struct {
	calls int32
}

func (f *fakeExecutor) Execute(_ context.Context, item workitem.WorkItem) (workitem.WorkItem, error) {
	atomic.AddInt32(&f.calls, 1)
	item.Status = workitem.StatusSuccessful
	return item, nil
}

func TestRun_PollsExecutesReportsThenTerminates(t *testing.T) {
	dir := t.TempDir()
	source := &fakeSource{items: []workitem.WorkItem{{ID: "w1"}, {ID: "w2"}}}
	exec := &fakeExecutor{}
	sentinel := NewSentinel(dir)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "TERMINATING"), nil, 0o644)
	}()

	err := Run(context.Background(), nil, Options{
		ServiceID:         "svc-A",
		PodName:           "pod-1",
		Source:            source,
		Executor:          exec,
		Sentinel:          sentinel,
		IsCMRQueryService: true,
		PollBackoff:       Backoff{Unit: time.Millisecond, Offset: 0, Max: 10 * time.Millisecond},
	})

	require.NoError(t, err)
	require.Len(t, source.reported, 2)
	require.Equal(t, workitem.StatusSuccessful, source.reported[0].Status)
}

func TestRun_ReadinessTimeoutReturnsError(t *testing.T) {
	err := Run(context.Background(), nil, Options{
		Probe:            func(context.Context) (bool, error) { return false, nil },
		ReadinessTimeout: 20 * time.Millisecond,
		ReadinessCheck:   5 * time.Millisecond,
		Sentinel:         NewSentinel(t.TempDir()),
	})
	require.Error(t, err)
}

func TestRun_PrimeExhaustionReturnsError(t *testing.T) {
	failing := executorFunc(func(context.Context, workitem.WorkItem) (workitem.WorkItem, error) {
		return workitem.WorkItem{}, errors.New("boom")
	})
	err := Run(context.Background(), nil, Options{
		Executor:        failing,
		Sentinel:        NewSentinel(t.TempDir()),
		MaxPrimeRetries: 2,
		PrimeInterval:   time.Millisecond,
	})
	require.Error(t, err)
}

func TestExecuteWithTimeout_SynthesizesTimeoutMessage(t *testing.T) {
	slow := executorFunc(func(ctx context.Context, item workitem.WorkItem) (workitem.WorkItem, error) {
		<-ctx.Done()
		return item, ctx.Err()
	})
	result := executeWithTimeout(context.Background(), nil, Options{
		Executor:      slow,
		Sentinel:      NewSentinel(t.TempDir()),
		WorkerTimeout: 10 * time.Millisecond,
	}, workitem.WorkItem{ID: "w1"})

	require.Equal(t, workitem.StatusFailed, result.Status)
	require.Contains(t, result.Message, "Worker timed out")
}

func TestRetryingExecutor_RetriesInternalK8sErrors(t *testing.T) {
	var attempts int32
	flaky := executorFunc(func(context.Context, workitem.WorkItem) (workitem.WorkItem, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return workitem.WorkItem{}, &InternalK8sError{Cause: errors.New("exec 500")}
		}
		return workitem.WorkItem{Status: workitem.StatusSuccessful}, nil
	})
	retrying := &RetryingExecutor{Next: flaky, Backoff: Backoff{Unit: time.Millisecond, Max: 10 * time.Millisecond}}

	out, err := retrying.Execute(context.Background(), workitem.WorkItem{ID: "w1"})
	require.NoError(t, err)
	require.Equal(t, workitem.StatusSuccessful, out.Status)
	require.Equal(t, int32(3), attempts)
}

func TestRetryingExecutor_ExhaustsToInternalServerError(t *testing.T) {
	alwaysFails := executorFunc(func(context.Context, workitem.WorkItem) (workitem.WorkItem, error) {
		return workitem.WorkItem{}, &InternalK8sError{Cause: errors.New("exec 500")}
	})
	retrying := &RetryingExecutor{Next: alwaysFails, Backoff: Backoff{Unit: time.Millisecond, Max: 5 * time.Millisecond}}

	out, err := retrying.Execute(context.Background(), workitem.WorkItem{ID: "w1"})
	require.Error(t, err)
	require.Equal(t, workitem.StatusFailed, out.Status)
	require.Equal(t, "Unknown internal server error", out.Message)
}

func TestRetryingExecutor_NonInternalErrorIsNotRetried(t *testing.T) {
	var attempts int32
	failing := executorFunc(func(context.Context, workitem.WorkItem) (workitem.WorkItem, error) {
		atomic.AddInt32(&attempts, 1)
		return workitem.WorkItem{}, errors.New("service reported failure")
	})
	retrying := &RetryingExecutor{Next: failing, Backoff: Backoff{Unit: time.Millisecond}}

	_, err := retrying.Execute(context.Background(), workitem.WorkItem{ID: "w1"})
	require.Error(t, err)
	require.Equal(t, int32(1), attempts)
}

type executorFunc func(ctx context.Context, item workitem.WorkItem) (workitem.WorkItem, error)

func (f executorFunc) Execute(ctx context.Context, item workitem.WorkItem) (workitem.WorkItem, error) {
	return f(ctx, item)
}
