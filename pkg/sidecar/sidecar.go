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

// Package sidecar implements the sidecar runner (C6): it translates a
// work item into a K8s exec invocation of the worker container, parses
// the resulting STAC catalog list, and resolves error.json / exit-code
// failures into a structured Outcome. Invocation follows the
// RESTClient().Post().SubResource("exec") + remotecommand.NewSPDYExecutor
// idiom used to signal sidecar containers in-cluster.
package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/nasa/harmony/pkg/logstream"
)

// maxInlineInputBytes is the threshold past which the operation
// descriptor is written to a file and passed by reference instead of
// inline on the command line.
const maxInlineInputBytes = 100000

// Invocation describes one sidecar exec call.
type Invocation struct {
	PodName          string
	Namespace        string
	Container        string
	InvocationArgs    string // raw configured args, newline- (fallback space-) separated
	OperationJSON    []byte
	StacCatalogURL   string
	OutputCatalogDir string // s3://artifactBucket/<jobID>/<workItemID>/outputs/
	WorkItemID       string
	RetryCount       int
}

// Outcome is the structured result of one sidecar invocation.
type Outcome struct {
	Succeeded       bool
	CatalogURLs     []string
	Message         string
	Level           string // "error" or "warning"
	Category        string
	InternalK8sError bool // a 500-class exec failure, distinct from a service-reported error
}

// ErrorJSON mirrors the sidecar's error.json contract (§4.5).
type ErrorJSON struct {
	Error    string `json:"error"`
	Level    string `json:"level,omitempty"`
	Category string `json:"category,omitempty"`
}

// Runner executes sidecar invocations via the K8s exec API and
// resolves their outcome, including reading error.json/STAC catalogs
// and uploading the captured log stream back to object storage.
type Runner struct {
	clientset   kubernetes.Interface
	restConfig  *rest.Config
	objects     ObjectStore
	serviceName string
	logger      log.Logger
}

// ObjectStore is the subset of the Object Store contract (C8) the
// sidecar runner needs: reading small JSON artifacts and listing
// catalog keys back from the output directory, plus writing the
// uploaded log stream (§4.7).
type ObjectStore interface {
	PutObject(ctx context.Context, url string, data []byte) error
	ReadObject(ctx context.Context, url string) ([]byte, error)
	ListKeys(ctx context.Context, prefixURL string) ([]string, error)
}

// NewRunner constructs a Runner bound to a Kubernetes client, its REST
// config (needed to build the SPDY executor), the object store used to
// resolve outputs/errors and upload logs, and the sanitized service
// name prefixed onto error.json and out-of-memory error messages.
func NewRunner(clientset kubernetes.Interface, restConfig *rest.Config, objects ObjectStore, serviceName string, logger log.Logger) *Runner {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Runner{clientset: clientset, restConfig: restConfig, objects: objects, serviceName: serviceName, logger: logger}
}

// BuildArgs constructs the full exec command line per §4.5, writing
// the operation descriptor to /tmp/operation.json when it exceeds
// maxInlineInputBytes.
func BuildArgs(inv Invocation) ([]string, error) {
	var args []string
	args = append(args, splitInvocationArgs(inv.InvocationArgs)...)
	args = append(args, "--harmony-action", "invoke")

	if len(inv.OperationJSON) > maxInlineInputBytes {
		if err := os.WriteFile("/tmp/operation.json", inv.OperationJSON, 0o644); err != nil {
			return nil, err
		}
		args = append(args, "--harmony-input-file", "/tmp/operation.json")
	} else {
		args = append(args, "--harmony-input", string(inv.OperationJSON))
	}

	args = append(args, "--harmony-sources", inv.StacCatalogURL)
	args = append(args, "--harmony-metadata-dir", inv.OutputCatalogDir)
	return args, nil
}

func splitInvocationArgs(raw string) []string {
	if raw == "" {
		return nil
	}
	if strings.Contains(raw, "\n") {
		return splitNonEmpty(raw, "\n")
	}
	return splitNonEmpty(raw, " ")
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NormalizeShape rewrites an inline-GeoJSON shape field into a
// file-reference form, per §4.5's shape normalization: a raw string
// shape value is written to /tmp/shapefile.json and replaced by a
// {href, type} reference. write is injected so callers supply the
// actual file write (worker-local disk).
func NormalizeShape(shape any, write func(path string, data []byte) error) (any, error) {
	raw, ok := shape.(string)
	if !ok || raw == "" {
		return shape, nil
	}
	if err := write("/tmp/shapefile.json", []byte(raw)); err != nil {
		return nil, err
	}
	return map[string]string{
		"href": "file:///tmp/shapefile.json",
		"type": "application/geo+json",
	}, nil
}

// Exec runs one sidecar invocation against the worker container of
// inv.PodName via K8s exec, then resolves STAC catalogs or an error.
func (r *Runner) Exec(ctx context.Context, inv Invocation, args []string) Outcome {
	req := r.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(inv.PodName).
		Namespace(inv.Namespace).
		SubResource("exec")

	scheme := runtime.NewScheme()
	_ = corev1.AddToScheme(scheme)
	parameterCodec := runtime.NewParameterCodec(scheme)
	req.VersionedParams(&corev1.PodExecOptions{
		Command:   args,
		Container: inv.Container,
		Stdin:     false,
		Stdout:    true,
		Stderr:    true,
		TTY:       false,
	}, parameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(r.restConfig, "POST", req.URL())
	if err != nil {
		return Outcome{InternalK8sError: true, Message: "Unknown internal server error", Category: "Internal server error", Level: "error"}
	}

	_ = level.Info(r.logger).Log("msg", fmt.Sprintf("Start of service execution (retryCount=%d, id=%s)", inv.RetryCount, inv.WorkItemID))

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	entries := make(chan []logstream.Entry, 2)
	go func() {
		e := logstream.Stream(r.logger, stdoutR)
		entries <- e
	}()
	go func() {
		e := logstream.Stream(r.logger, stderrR)
		entries <- e
	}()

	streamErr := exec.Stream(remotecommand.StreamOptions{Stdout: stdoutW, Stderr: stderrW, Tty: false})
	_ = stdoutW.Close()
	_ = stderrW.Close()
	all := append(<-entries, <-entries...)

	if err := r.uploadLog(ctx, inv, all); err != nil {
		_ = level.Warn(r.logger).Log("msg", "uploading sidecar log failed", "workItemID", inv.WorkItemID, "err", err)
	}

	if streamErr != nil {
		return r.resolveError(ctx, inv, streamErr)
	}

	urls, err := r.discoverCatalogs(ctx, inv.OutputCatalogDir)
	if err != nil {
		return r.resolveError(ctx, inv, err)
	}
	return Outcome{Succeeded: true, CatalogURLs: urls}
}

// logKey is the deterministic per-work-item key the captured log
// stream is uploaded under, alongside the invocation's other output
// artifacts.
func logKey(inv Invocation) string {
	return inv.OutputCatalogDir + "log.json"
}

// uploadLog implements §4.7's append-read-append upload: if a log file
// already exists for this work item (a retry), its entries are read
// back, the new entries concatenated on, and the result rewritten.
func (r *Runner) uploadLog(ctx context.Context, inv Invocation, entries []logstream.Entry) error {
	key := logKey(inv)
	var existing []any
	if data, err := r.objects.ReadObject(ctx, key); err == nil {
		_ = json.Unmarshal(data, &existing)
	}
	merged := existing
	for _, e := range entries {
		merged = append(merged, e.StorageValue())
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return r.objects.PutObject(ctx, key, data)
}

// resolveError implements §4.5's error resolution: prefer error.json
// verbatim (prefixed with the sanitized service name); else fall back
// to the exec exit cause, mapping exit code 137 to an OOM message.
func (r *Runner) resolveError(ctx context.Context, inv Invocation, cause error) Outcome {
	if data, err := r.objects.ReadObject(ctx, inv.OutputCatalogDir+"error.json"); err == nil {
		var ej ErrorJSON
		if jsonErr := json.Unmarshal(data, &ej); jsonErr == nil && ej.Error != "" {
			level := ej.Level
			if level == "" {
				level = "error"
			}
			return Outcome{
				Message:  fmt.Sprintf("%s: %s", r.serviceName, ej.Error),
				Level:    level,
				Category: ej.Category,
			}
		}
	}

	exitCode, hasCode := exitCodeOf(cause)
	if hasCode && exitCode == 137 {
		return Outcome{Message: fmt.Sprintf("%s: Service failed due to running out of memory", r.serviceName), Level: "error"}
	}
	msg := cause.Error()
	if msg == "" {
		msg = "Service terminated without error message"
	}
	return Outcome{Message: msg, Level: "error"}
}

// exitCodeOf extracts a K8s exec exit code from a remotecommand stream
// error, if the error carries one.
func exitCodeOf(err error) (int, bool) {
	type exitCoder interface{ ExitStatus() int }
	if ec, ok := err.(exitCoder); ok {
		return ec.ExitStatus(), true
	}
	return 0, false
}

// discoverCatalogs implements §4.5's output discovery: prefer
// batch-catalogs.json's listed filenames in file order; else list
// catalog*.json keys sorted by their captured integer index.
func (r *Runner) discoverCatalogs(ctx context.Context, catalogDir string) ([]string, error) {
	if data, err := r.objects.ReadObject(ctx, catalogDir+"batch-catalogs.json"); err == nil {
		var names []string
		if jsonErr := json.Unmarshal(data, &names); jsonErr == nil {
			out := make([]string, len(names))
			for i, n := range names {
				out[i] = catalogDir + n
			}
			return out, nil
		}
	}

	keys, err := r.objects.ListKeys(ctx, catalogDir)
	if err != nil {
		return nil, err
	}
	var catalogs []string
	for _, k := range keys {
		base := k[strings.LastIndex(k, "/")+1:]
		if strings.HasPrefix(base, "catalog") && strings.HasSuffix(base, ".json") {
			catalogs = append(catalogs, k)
		}
	}
	sort.Slice(catalogs, func(i, j int) bool {
		return catalogIndex(catalogs[i]) < catalogIndex(catalogs[j])
	})
	return catalogs, nil
}

// catalogIndex extracts N from a "catalogN.json" key; a key with no
// captured index sorts first (index 0).
func catalogIndex(key string) int {
	base := key[strings.LastIndex(key, "/")+1:]
	base = strings.TrimSuffix(base, ".json")
	base = strings.TrimPrefix(base, "catalog")
	if base == "" {
		return 0
	}
	n, err := strconv.Atoi(base)
	if err != nil {
		return 0
	}
	return n
}
