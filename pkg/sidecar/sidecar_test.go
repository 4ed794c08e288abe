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
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nasa/harmony/pkg/logstream"
)

type fakeObjects struct {
	objects map[string][]byte
	keys    []string
}

func (f *fakeObjects) ReadObject(_ context.Context, url string) ([]byte, error) {
	if data, ok := f.objects[url]; ok {
		return data, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeObjects) ListKeys(_ context.Context, _ string) ([]string, error) {
	return f.keys, nil
}

func (f *fakeObjects) PutObject(_ context.Context, url string, data []byte) error {
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[url] = data
	return nil
}

func TestBuildArgs_InlineInput(t *testing.T) {
	args, err := BuildArgs(Invocation{
		InvocationArgs: "python\n-m\nservice",
		OperationJSON:  []byte(`{"a":1}`),
		StacCatalogURL: "s3://bucket/in.json",
		OutputCatalogDir: "s3://bucket/jobs/1/outputs/",
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"python", "-m", "service",
		"--harmony-action", "invoke",
		"--harmony-input", `{"a":1}`,
		"--harmony-sources", "s3://bucket/in.json",
		"--harmony-metadata-dir", "s3://bucket/jobs/1/outputs/",
	}, args)
}

func TestBuildArgs_LargeInputWritesFile(t *testing.T) {
	big := make([]byte, maxInlineInputBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	args, err := BuildArgs(Invocation{OperationJSON: big})
	require.NoError(t, err)
	require.Contains(t, args, "--harmony-input-file")
	require.Contains(t, args, "/tmp/operation.json")
	require.NotContains(t, strings.Join(args, " "), "--harmony-input ")
}

func TestNormalizeShape_InlineGeoJSONWritesFile(t *testing.T) {
	var written map[string][]byte = map[string][]byte{}
	write := func(path string, data []byte) error {
		written[path] = data
		return nil
	}
	out, err := NormalizeShape(`{"type":"Polygon"}`, write)
	require.NoError(t, err)
	ref, ok := out.(map[string]string)
	require.True(t, ok)
	require.Equal(t, "file:///tmp/shapefile.json", ref["href"])
	require.Equal(t, "application/geo+json", ref["type"])
	require.Equal(t, `{"type":"Polygon"}`, string(written["/tmp/shapefile.json"]))
}

func TestNormalizeShape_ReferenceFormPassesThrough(t *testing.T) {
	ref := map[string]string{"href": "s3://bucket/shape.json", "type": "application/geo+json"}
	out, err := NormalizeShape(ref, func(string, []byte) error { return nil })
	require.NoError(t, err)
	require.Equal(t, ref, out)
}

func TestDiscoverCatalogs_PrefersBatchCatalogsFile(t *testing.T) {
	objs := &fakeObjects{objects: map[string][]byte{
		"s3://bucket/out/batch-catalogs.json": []byte(`["catalog1.json","catalog0.json"]`),
	}}
	r := NewRunner(nil, nil, objs, "svc-A", nil)
	urls, err := r.discoverCatalogs(context.Background(), "s3://bucket/out/")
	require.NoError(t, err)
	require.Equal(t, []string{"s3://bucket/out/catalog1.json", "s3://bucket/out/catalog0.json"}, urls)
}

func TestDiscoverCatalogs_FallsBackToSortedListing(t *testing.T) {
	objs := &fakeObjects{keys: []string{
		"s3://bucket/out/catalog2.json",
		"s3://bucket/out/catalog.json",
		"s3://bucket/out/catalog10.json",
		"s3://bucket/out/other.json",
	}}
	r := NewRunner(nil, nil, objs, "svc-A", nil)
	urls, err := r.discoverCatalogs(context.Background(), "s3://bucket/out/")
	require.NoError(t, err)
	require.Equal(t, []string{
		"s3://bucket/out/catalog.json",
		"s3://bucket/out/catalog2.json",
		"s3://bucket/out/catalog10.json",
	}, urls)
}

func TestResolveError_PrefersErrorJSON(t *testing.T) {
	objs := &fakeObjects{objects: map[string][]byte{
		"s3://bucket/out/error.json": []byte(`{"error":"bad input","level":"warning","category":"granValidation"}`),
	}}
	r := NewRunner(nil, nil, objs, "svc-A", nil)
	outcome := r.resolveError(context.Background(), Invocation{OutputCatalogDir: "s3://bucket/out/"}, errors.New("exec failed"))
	require.Equal(t, "svc-A: bad input", outcome.Message)
	require.Equal(t, "warning", outcome.Level)
	require.Equal(t, "granValidation", outcome.Category)
}

func TestUploadLog_AppendsToExistingEntries(t *testing.T) {
	objs := &fakeObjects{objects: map[string][]byte{
		"s3://bucket/out/log.json": []byte(`["first line"]`),
	}}
	r := NewRunner(nil, nil, objs, "svc-A", nil)
	err := r.uploadLog(context.Background(), Invocation{OutputCatalogDir: "s3://bucket/out/"}, []logstream.Entry{
		{Raw: "second line", Message: "second line"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `["first line","second line"]`, string(objs.objects["s3://bucket/out/log.json"]))
}

func TestResolveError_NoErrorJSONUsesCauseMessage(t *testing.T) {
	objs := &fakeObjects{}
	r := NewRunner(nil, nil, objs, "svc-A", nil)
	outcome := r.resolveError(context.Background(), Invocation{OutputCatalogDir: "s3://bucket/out/"}, errors.New("command terminated with exit code 1"))
	require.Equal(t, "command terminated with exit code 1", outcome.Message)
	require.Equal(t, "error", outcome.Level)
}
