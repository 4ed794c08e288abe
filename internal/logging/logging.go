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

// Package logging sets up the go-kit logger shared by every Harmony
// binary, the way cmd/operator and cmd/config-reloader do in the
// upstream prometheus-engine tooling this project was bootstrapped
// from.
package logging

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// New returns a logfmt logger writing to stderr with a UTC timestamp
// and caller field, filtered to the given level ("debug", "info",
// "warn" or "error").
func New(levelName string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var lv level.Option
	switch levelName {
	case "debug":
		lv = level.AllowDebug()
	case "warn":
		lv = level.AllowWarn()
	case "error":
		lv = level.AllowError()
	default:
		lv = level.AllowInfo()
	}
	return level.NewFilter(logger, lv)
}

// WithRequest returns a logger annotated with the fields that should
// accompany every log line for a given request/job, mirroring
// RequestContext.logger in the spec's data model.
func WithRequest(logger log.Logger, requestID, jobID string) log.Logger {
	if jobID != "" {
		logger = log.With(logger, "jobID", jobID)
	}
	if requestID != "" {
		logger = log.With(logger, "requestID", requestID)
	}
	return logger
}
