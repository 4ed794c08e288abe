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

package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	bucket, key, err := ParseURL("s3://my-bucket/jobs/1/outputs/catalog0.json")
	require.NoError(t, err)
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "jobs/1/outputs/catalog0.json", key)
}

func TestParseURL_RejectsNonS3Scheme(t *testing.T) {
	_, _, err := ParseURL("https://example.com/foo")
	require.Error(t, err)
}

func TestMemoryStore_PutReadRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.PutObject(ctx, "s3://bucket/a.json", []byte("hello")))

	data, err := store.ReadObject(ctx, "s3://bucket/a.json")
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	exists, err := store.Exists(ctx, "s3://bucket/a.json")
	require.NoError(t, err)
	require.True(t, exists)

	missing, err := store.Exists(ctx, "s3://bucket/missing.json")
	require.NoError(t, err)
	require.False(t, missing)
}

func TestMemoryStore_ListKeysByPrefix(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.PutObject(ctx, "s3://bucket/jobs/1/catalog0.json", []byte("a")))
	require.NoError(t, store.PutObject(ctx, "s3://bucket/jobs/1/catalog1.json", []byte("b")))
	require.NoError(t, store.PutObject(ctx, "s3://bucket/jobs/2/catalog0.json", []byte("c")))

	keys, err := store.ListKeys(ctx, "s3://bucket/jobs/1/")
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestMemoryStore_ReadMissingObjectErrors(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.ReadObject(context.Background(), "s3://bucket/missing.json")
	require.Error(t, err)
}
