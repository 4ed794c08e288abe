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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff_CapsAtMax(t *testing.T) {
	b := DefaultPollBackoff()
	d := b.Delay(20)
	require.LessOrEqual(t, d, b.Max+time.Duration(float64(b.Max)*b.Jitter))
}

func TestBackoff_GrowsWithRetry(t *testing.T) {
	b := Backoff{Unit: 100 * time.Millisecond, Offset: 3, Max: 60 * time.Second}
	d0 := b.Delay(0)
	d1 := b.Delay(1)
	require.Equal(t, 800*time.Millisecond, d0)
	require.Equal(t, 1600*time.Millisecond, d1)
}

func TestExecBackoff_MatchesSpecCurve(t *testing.T) {
	b := DefaultExecBackoff()
	require.Equal(t, 5*time.Second, b.Delay(0))
	require.Equal(t, 10*time.Second, b.Delay(1))
	require.Equal(t, 20*time.Second, b.Delay(2))
}
