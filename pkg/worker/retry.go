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
	"time"

	"github.com/nasa/harmony/pkg/workitem"
)

// InternalK8sError marks an Executor failure caused by the K8s exec
// API itself (a 500-class response) rather than the sidecar service
// reporting its own failure. It is retryable per §4.4.
type InternalK8sError struct {
	Cause error
}

func (e *InternalK8sError) Error() string { return e.Cause.Error() }
func (e *InternalK8sError) Unwrap() error { return e.Cause }

// maxInternalRetries is the fixed retry budget for InternalK8sError,
// per §4.4: up to 5 replays.
const maxInternalRetries = 5

// RetryingExecutor wraps an Executor, replaying InternalK8sError
// failures with the §4.4 backoff curve (5s, 10s, 20s...) before
// surfacing the generic "Unknown internal server error" once the
// budget is exhausted.
type RetryingExecutor struct {
	Next    Executor
	Backoff Backoff
}

// NewRetryingExecutor wraps next with the default internal-exec
// backoff curve.
func NewRetryingExecutor(next Executor) *RetryingExecutor {
	return &RetryingExecutor{Next: next, Backoff: DefaultExecBackoff()}
}

func (r *RetryingExecutor) Execute(ctx context.Context, item workitem.WorkItem) (workitem.WorkItem, error) {
	var lastErr error
	for attempt := 0; attempt <= maxInternalRetries; attempt++ {
		out, err := r.Next.Execute(ctx, item)
		var internalErr *InternalK8sError
		if err == nil || !errors.As(err, &internalErr) {
			return out, err
		}
		lastErr = err
		if attempt == maxInternalRetries {
			break
		}
		select {
		case <-ctx.Done():
			return item, ctx.Err()
		case <-time.After(r.Backoff.Delay(attempt)):
		}
	}
	item.Status = workitem.StatusFailed
	item.Message = "Unknown internal server error"
	item.MessageCategory = "Internal server error"
	return item, lastErr
}
