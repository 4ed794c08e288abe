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

package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// CMRQueryRequest is the JSON body posted to the sidecar's local
// /work endpoint for a work item carrying a scrollID, per §4.6.
type CMRQueryRequest struct {
	OutputDir      string          `json:"outputDir"`
	HarmonyInput   json.RawMessage `json:"harmonyInput"`
	ScrollID       string          `json:"scrollId"`
	MaxCMRGranules *int            `json:"maxCmrGranules,omitempty"`
	WorkItemID     string          `json:"workItemId"`
}

// CMRQueryResponse is the sidecar's JSON response to a CMR-query
// request.
type CMRQueryResponse struct {
	BatchCatalogs   []string `json:"batchCatalogs"`
	TotalItemsSize  int64    `json:"totalItemsSize"`
	OutputItemSizes []int64  `json:"outputItemSizes"`
	ScrollID        string   `json:"scrollID,omitempty"`
	Error           string   `json:"error,omitempty"`
	ErrorCategory   string   `json:"errorCategory,omitempty"`
}

// CMRQueryClient invokes the §4.6 CMR-query variant of a work item: a
// plain HTTP POST to the sidecar container's own local /work endpoint,
// used instead of K8s exec whenever a work item carries a scrollID.
type CMRQueryClient struct {
	BaseURL    string // e.g. http://127.0.0.1:5000
	HTTPClient *http.Client
}

// NewCMRQueryClient returns a client targeting 127.0.0.1:port, the
// worker's own pod-local sidecar port.
func NewCMRQueryClient(port int) *CMRQueryClient {
	return &CMRQueryClient{BaseURL: fmt.Sprintf("http://127.0.0.1:%d", port)}
}

func (c *CMRQueryClient) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Query posts req to {BaseURL}/work and decodes the sidecar's
// response.
func (c *CMRQueryClient) Query(ctx context.Context, req CMRQueryRequest) (CMRQueryResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return CMRQueryResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/work", bytes.NewReader(body))
	if err != nil {
		return CMRQueryResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client().Do(httpReq)
	if err != nil {
		return CMRQueryResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return CMRQueryResponse{}, fmt.Errorf("cmr-query request failed: status %d", resp.StatusCode)
	}
	var out CMRQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CMRQueryResponse{}, err
	}
	return out, nil
}
