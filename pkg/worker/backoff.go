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
	"math"
	"math/rand"
	"time"
)

// Backoff computes the poll/report retry curve of §4.4: delay ≈
// 2^(retry+offset) * unit, capped at Max, with up to Jitter fraction
// of randomness applied. Adapted from the exponential-backoff-with-
// jitter shape of aiclient.Retrier.calculateDelay, fixed to the
// specific curve the pull worker uses rather than that type's
// general-purpose configurable multiplier.
type Backoff struct {
	Unit   time.Duration
	Offset int
	Max    time.Duration
	Jitter float64
}

// DefaultPollBackoff is the curve used for work-item poll and report
// retries: 2^(retry+3) * 100ms, capped at 60s.
func DefaultPollBackoff() Backoff {
	return Backoff{Unit: 100 * time.Millisecond, Offset: 3, Max: 60 * time.Second, Jitter: 0.2}
}

// DefaultExecBackoff is the curve used for internal K8s exec 500-class
// retries: 5s, 10s, 20s... (multiplier 2, no offset).
func DefaultExecBackoff() Backoff {
	return Backoff{Unit: 5 * time.Second, Offset: 0, Max: 60 * time.Second, Jitter: 0}
}

// Delay returns the backoff duration for the given retry count
// (0-indexed).
func (b Backoff) Delay(retry int) time.Duration {
	d := float64(b.Unit) * math.Pow(2, float64(retry+b.Offset))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (rand.Float64()*2 - 1)
		if d < 0 {
			d = 0
		}
	}
	return time.Duration(d)
}
