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

// Package config parses the pull worker's pod environment into a
// typed value. Every field corresponds to an environment variable the
// worker's container spec sets; there is no file-based configuration
// for this binary (unlike the service catalog, which is a ConfigMap
// mount handled by pkg/harmonyservice).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// WorkerConfig is the pull worker's full runtime configuration.
type WorkerConfig struct {
	HarmonyService string
	InvocationArgs string

	BackendHost string
	BackendPort int

	// WorkerPort is the local sidecar port the CMR-query path POSTs to
	// (http://127.0.0.1:{WorkerPort}/work, §4.6).
	WorkerPort int
	// MetricsPort is where this worker process serves its own
	// /metrics, distinct from WorkerPort.
	MetricsPort int

	WorkerTimeout     time.Duration
	MaxPutWorkRetries int

	ArtifactBucket string
	MyPodName      string
	WorkingDir     string

	SharedSecretKey string
	ClientID        string
}

// FromEnvironment builds a WorkerConfig from the process environment,
// applying the defaults named in §4.4 where a variable is unset.
func FromEnvironment() (WorkerConfig, error) {
	backendPort, err := intEnv("BACKEND_PORT", 3000)
	if err != nil {
		return WorkerConfig{}, err
	}
	workerPort, err := intEnv("WORKER_PORT", 5000)
	if err != nil {
		return WorkerConfig{}, err
	}
	metricsPort, err := intEnv("METRICS_PORT", 9090)
	if err != nil {
		return WorkerConfig{}, err
	}
	workerTimeoutSeconds, err := intEnv("WORKER_TIMEOUT", 3600)
	if err != nil {
		return WorkerConfig{}, err
	}
	maxPutRetries, err := intEnv("MAX_PUT_WORK_RETRIES", 3)
	if err != nil {
		return WorkerConfig{}, err
	}

	cfg := WorkerConfig{
		HarmonyService:    os.Getenv("HARMONY_SERVICE"),
		InvocationArgs:    os.Getenv("INVOCATION_ARGS"),
		BackendHost:       envOr("BACKEND_HOST", "localhost"),
		BackendPort:       backendPort,
		WorkerPort:        workerPort,
		MetricsPort:       metricsPort,
		WorkerTimeout:     time.Duration(workerTimeoutSeconds) * time.Second,
		MaxPutWorkRetries: maxPutRetries,
		ArtifactBucket:    os.Getenv("ARTIFACT_BUCKET"),
		MyPodName:         os.Getenv("MY_POD_NAME"),
		WorkingDir:        envOr("WORKING_DIR", "/tmp/metadata"),
		SharedSecretKey:   os.Getenv("SHARED_SECRET_KEY"),
		ClientID:          envOr("CLIENT_ID", "harmony"),
	}

	if cfg.HarmonyService == "" {
		return WorkerConfig{}, fmt.Errorf("config: HARMONY_SERVICE is required")
	}
	if cfg.MyPodName == "" {
		return WorkerConfig{}, fmt.Errorf("config: MY_POD_NAME is required")
	}
	if cfg.ArtifactBucket == "" {
		return WorkerConfig{}, fmt.Errorf("config: ARTIFACT_BUCKET is required")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q: %w", key, raw, err)
	}
	return v, nil
}
