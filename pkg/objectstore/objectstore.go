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

// Package objectstore states the Object Store contract (C8) the
// sidecar runner and pull worker rely on to upload logs, read
// error.json/STAC catalogs, and write result artifacts, plus an
// S3-backed implementation.
package objectstore

import (
	"context"
	"fmt"
	"strings"
)

// Store is the minimal contract the core depends on. URLs are always
// fully-qualified "s3://bucket/key" values; a concrete Store resolves
// them against whatever backend it wraps.
type Store interface {
	// PutObject uploads data at url, overwriting any existing object.
	PutObject(ctx context.Context, url string, data []byte) error
	// ReadObject returns the full content addressed by url.
	ReadObject(ctx context.Context, url string) ([]byte, error)
	// ListKeys returns the fully-qualified URLs of every object whose
	// key starts with the given prefix URL.
	ListKeys(ctx context.Context, prefixURL string) ([]string, error)
	// Exists reports whether an object exists at url.
	Exists(ctx context.Context, url string) (bool, error)
}

// ParseURL splits an "s3://bucket/key" URL into its bucket and key.
func ParseURL(url string) (bucket, key string, err error) {
	const scheme = "s3://"
	if !strings.HasPrefix(url, scheme) {
		return "", "", fmt.Errorf("objectstore: unsupported URL scheme: %s", url)
	}
	rest := strings.TrimPrefix(url, scheme)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("objectstore: malformed URL, missing key: %s", url)
	}
	return parts[0], parts[1], nil
}

// joinURL reassembles a bucket/key pair into a URL in the same
// "s3://bucket/key" shape ReadObject/ListKeys callers expect back.
func joinURL(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
