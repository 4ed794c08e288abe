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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/nasa/harmony/pkg/workitem"
)

// WorkSource is the pull worker's view of the Work Item Store: a
// long-poll GET for the next ready item and a PUT to report a
// terminal (or re-queued) result, per §4.4/§4.6. It is a narrower
// shape than workitem.Store (no CreateJob: only the worker side of the
// contract) because the worker never creates jobs, only drains them.
type WorkSource interface {
	Poll(ctx context.Context, serviceID, podName string) (workitem.WorkItem, bool, error)
	Report(ctx context.Context, item workitem.WorkItem) error
}

// HTTPWorkSource implements WorkSource against the backend's
// authenticated HTTP endpoint.
type HTTPWorkSource struct {
	BaseURL    string // e.g. http://host:port/workItems
	HTTPClient *http.Client
	Logger     log.Logger

	// MaxRetries bounds Report's status-update retries (§4.4/§5:
	// maxPutWorkRetries). 0 or negative means no retries (one attempt).
	MaxRetries int
	// Backoff is the curve Report waits between retries; the same
	// curve Poll's backoff uses if left zero-valued.
	Backoff Backoff
}

// Poll issues GET {workUrl}?serviceID=...&podName=.... A 404 response
// means no work is currently available.
func (c *HTTPWorkSource) Poll(ctx context.Context, serviceID, podName string) (workitem.WorkItem, bool, error) {
	url := fmt.Sprintf("%s?serviceID=%s&podName=%s", c.BaseURL, serviceID, podName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return workitem.WorkItem{}, false, err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return workitem.WorkItem{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return workitem.WorkItem{}, false, nil
	}
	if resp.StatusCode/100 != 2 {
		return workitem.WorkItem{}, false, fmt.Errorf("polling for work failed: status %d", resp.StatusCode)
	}

	var item workitem.WorkItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return workitem.WorkItem{}, false, err
	}
	return item, true, nil
}

// Report issues PUT {workUrl}/{id}, stripping variables[] from each
// echoed source first, and classifies the server's terminal response
// per §4.4: 409 is logged and swallowed (the server already moved on);
// any other non-2xx or network failure is retried up to MaxRetries
// times on the same backoff curve Poll uses, then logged and swallowed
// (the lease will expire server-side) rather than retried indefinitely
// by the caller.
func (c *HTTPWorkSource) Report(ctx context.Context, item workitem.WorkItem) error {
	if item.Operation != "" {
		if stripped, err := StripVariables(json.RawMessage(item.Operation)); err == nil {
			item.Operation = string(stripped)
		}
	}
	body, err := json.Marshal(item)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/%s", c.BaseURL, item.ID)

	logger := c.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	maxAttempts := c.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := c.Backoff
	if backoff == (Backoff{}) {
		backoff = DefaultPollBackoff()
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ok, conflict, err := c.put(ctx, url, body)
		if ok || conflict {
			if conflict {
				_ = level.Warn(logger).Log("msg", "report conflicted with server state, discarding", "workItemID", item.ID)
			}
			return nil
		}
		lastErr = err
		if attempt < maxAttempts-1 {
			_ = level.Warn(logger).Log("msg", "reporting work item failed, retrying", "workItemID", item.ID, "attempt", attempt, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.Delay(attempt)):
			}
		}
	}
	_ = level.Error(logger).Log("msg", "reporting work item exhausted retries, lease will expire", "workItemID", item.ID, "err", lastErr)
	return nil
}

// put issues one PUT attempt, reporting ok for a 2xx response and
// conflict for a 409 (both terminal, no further retry warranted).
func (c *HTTPWorkSource) put(ctx context.Context, url string, body []byte) (ok, conflict bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return false, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client().Do(req)
	if err != nil {
		return false, false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode/100 == 2:
		return true, false, nil
	case resp.StatusCode == http.StatusConflict:
		return false, true, nil
	default:
		return false, false, fmt.Errorf("reporting work item failed: status %d", resp.StatusCode)
	}
}

func (c *HTTPWorkSource) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// StripVariables returns a re-encoded copy of a serialized operation
// payload (the {"schemaVersion", "data"} wrapper the planner writes)
// with "variables" removed from every source under data.sources; the
// server does not need them back. Report applies it to the item's
// Operation before each PUT. A payload without that shape is returned
// unchanged.
func StripVariables(raw json.RawMessage) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw, err
	}
	data, ok := doc["data"].(map[string]any)
	if !ok {
		return raw, nil
	}
	sources, ok := data["sources"].([]any)
	if !ok {
		return raw, nil
	}
	for _, s := range sources {
		if src, ok := s.(map[string]any); ok {
			delete(src, "variables")
		}
	}
	return json.Marshal(doc)
}
