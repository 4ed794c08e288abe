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

// Package worker implements the pull worker (C5): the per-pod loop
// that polls the Work Item Store, hands work to the sidecar runner,
// and reports outcomes, all under pod-lifecycle pressure. The overall
// Starting/Priming/Polling/Executing/Reporting structure mirrors the
// oklog/run actor-group wiring cmd/operator and cmd/config-reloader
// use for their own poll-and-reconcile loops, specialized here into a
// single long-running state machine instead of a run.Group of
// independent actors (the states are inherently sequential, not
// independently cancelable actors).
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/nasa/harmony/pkg/workitem"
)

// Executor runs one work item's sidecar invocation (either the
// generic exec path or the CMR-query HTTP path, selected by whether
// the item carries a ScrollID) and returns the populated result
// fields. In production it is cmd/worker's execAdapter, which drives
// pkg/sidecar.
type Executor interface {
	Execute(ctx context.Context, item workitem.WorkItem) (workitem.WorkItem, error)
}

// ReadinessProbe reports whether the sidecar container has reached
// running state, polled during Starting/Priming.
type ReadinessProbe func(ctx context.Context) (bool, error)

// Options configures one pull worker run.
type Options struct {
	ServiceID string
	PodName   string

	Source   WorkSource
	Executor Executor
	Sentinel Sentinel

	Probe ReadinessProbe

	ReadinessTimeout time.Duration // default 180s
	ReadinessCheck   time.Duration // default 3s

	// IsCMRQueryService disables the prime invocation (the CMR-query
	// service doesn't drive the sidecar exec path).
	IsCMRQueryService bool
	MaxPrimeRetries   int // 2 in test, 1200 in prod
	PrimeInterval     time.Duration // default 100ms

	WorkerTimeout time.Duration // default configurable per deployment

	PollBackoff Backoff
}

// Run drives the full Starting → Priming → Polling ⇄ Executing →
// Reporting state machine until ctx is cancelled or the TERMINATING
// sentinel is observed, at which point it returns nil (clean exit).
// A readiness or prime-retry exhaustion returns a non-nil error so the
// caller (cmd/worker) can os.Exit(1), causing the pod to restart.
func Run(ctx context.Context, logger log.Logger, opts Options) error {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if opts.ReadinessTimeout == 0 {
		opts.ReadinessTimeout = 180 * time.Second
	}
	if opts.ReadinessCheck == 0 {
		opts.ReadinessCheck = 3 * time.Second
	}
	if opts.PrimeInterval == 0 {
		opts.PrimeInterval = 100 * time.Millisecond
	}
	if opts.PollBackoff == (Backoff{}) {
		opts.PollBackoff = DefaultPollBackoff()
	}

	_ = level.Info(logger).Log("msg", "starting", "serviceID", opts.ServiceID, "podName", opts.PodName)
	if err := awaitReady(ctx, opts); err != nil {
		return err
	}

	if !opts.IsCMRQueryService {
		if err := primeSidecar(ctx, logger, opts); err != nil {
			return err
		}
	}

	return pollLoop(ctx, logger, opts)
}

// awaitReady probes the sidecar container until it reports running or
// the readiness timeout elapses.
func awaitReady(ctx context.Context, opts Options) error {
	if opts.Probe == nil {
		return nil
	}
	deadline := time.Now().Add(opts.ReadinessTimeout)
	ticker := time.NewTicker(opts.ReadinessCheck)
	defer ticker.Stop()
	for {
		ready, err := opts.Probe(ctx)
		if err == nil && ready {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("sidecar did not become ready within %s", opts.ReadinessTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// primeSidecar drives one synthetic work item through the full
// invocation path to work around a known K8s client initialization
// quirk, retrying on failure up to MaxPrimeRetries.
func primeSidecar(ctx context.Context, logger log.Logger, opts Options) error {
	if opts.MaxPrimeRetries <= 0 {
		opts.MaxPrimeRetries = 1200
	}
	primeItem := workitem.WorkItem{ID: "prime", Status: workitem.StatusReady}
	var lastErr error
	for attempt := 0; attempt < opts.MaxPrimeRetries; attempt++ {
		_, err := opts.Executor.Execute(ctx, primeItem)
		if err == nil {
			_ = level.Info(logger).Log("msg", "prime invocation succeeded", "attempt", attempt)
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.PrimeInterval):
		}
	}
	return fmt.Errorf("prime invocation exhausted %d retries: %w", opts.MaxPrimeRetries, lastErr)
}

// pollLoop is the steady-state Polling ⇄ Executing → Reporting cycle.
func pollLoop(ctx context.Context, logger log.Logger, opts Options) error {
	retry := 0
	for {
		if opts.Sentinel.IsTerminating() {
			_ = level.Info(logger).Log("msg", "termination detected, exiting cleanly")
			return nil
		}
		if err := opts.Sentinel.PurgeWorkingDir(); err != nil {
			_ = level.Warn(logger).Log("msg", "purging working dir failed", "err", err)
		}

		item, ok, err := opts.Source.Poll(ctx, opts.ServiceID, opts.PodName)
		if err != nil {
			_ = level.Error(logger).Log("msg", "poll failed, backing off", "err", err, "retry", retry)
			if sleepCheck(ctx, opts.Sentinel, opts.PollBackoff.Delay(retry)) {
				return nil
			}
			retry++
			continue
		}
		if !ok {
			if sleepCheck(ctx, opts.Sentinel, opts.PollBackoff.Delay(retry)) {
				return nil
			}
			retry++
			continue
		}
		retry = 0

		result := executeWithTimeout(ctx, logger, opts, item)

		if err := opts.Sentinel.ClearWorking(); err != nil {
			_ = level.Warn(logger).Log("msg", "clearing WORKING sentinel failed", "err", err)
		}
		if err := opts.Source.Report(ctx, result); err != nil {
			_ = level.Error(logger).Log("msg", "reporting work item failed", "workItemID", item.ID, "err", err)
		}
	}
}

// executeWithTimeout marks WORKING, runs the executor with a hard
// deadline, and synthesizes the worker-timeout error message when it
// is exceeded.
func executeWithTimeout(ctx context.Context, logger log.Logger, opts Options, item workitem.WorkItem) workitem.WorkItem {
	if err := opts.Sentinel.MarkWorking(); err != nil {
		_ = level.Warn(logger).Log("msg", "marking WORKING sentinel failed", "err", err)
	}

	timeout := opts.WorkerTimeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execResult struct {
		item workitem.WorkItem
		err  error
	}
	done := make(chan execResult, 1)
	go func() {
		out, err := opts.Executor.Execute(execCtx, item)
		done <- execResult{item: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			item.Status = workitem.StatusFailed
			item.Message = r.err.Error()
			item.MessageCategory = "Service error"
			return item
		}
		return r.item
	case <-execCtx.Done():
		item.Status = workitem.StatusFailed
		item.Message = fmt.Sprintf("Worker timed out after %ds seconds", int(timeout.Seconds()))
		item.MessageCategory = "Timeout"
		return item
	}
}

// sleepCheck waits for d, waking every second to check for
// termination; it returns true as soon as TERMINATING is observed
// (even mid-sleep) so a long backoff never delays a clean shutdown.
func sleepCheck(ctx context.Context, s Sentinel, d time.Duration) bool {
	const checkInterval = time.Second
	deadline := time.Now().Add(d)
	for {
		if s.IsTerminating() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		wait := checkInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return true
		case <-time.After(wait):
		}
	}
}
