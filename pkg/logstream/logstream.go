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

// Package logstream implements the log stream (C7): it parses
// interleaved text/JSON lines captured from a sidecar's stdout,
// preserves the originals for upload, and emits normalized entries to
// the structured logger at debug level with a "worker: true" field so
// operators can distinguish sidecar chatter from the worker's own
// log lines.
package logstream

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Entry is one normalized line of sidecar output.
type Entry struct {
	Raw             string
	WorkerTimestamp string
	WorkerLevel     string
	Message         string
	Fields          map[string]any
}

// Stream reads r line by line, emits a debug-level normalized entry
// per line to logger, and returns every raw line in original order for
// upload alongside the work item's other artifacts.
func Stream(logger log.Logger, r io.Reader) []Entry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		entry := parseLine(line)
		entries = append(entries, entry)
		emit(logger, entry)
	}
	return entries
}

// parseLine renames a JSON line's timestamp/level fields to
// workerTimestamp/workerLevel (so they never collide with the
// worker's own logfmt fields) and falls back to treating the whole
// line as an opaque message when it is not JSON.
func parseLine(line string) Entry {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed[0] != '{' {
		return Entry{Raw: line, Message: line}
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return Entry{Raw: line, Message: line}
	}

	entry := Entry{Raw: line, Fields: fields}
	if ts, ok := fields["timestamp"]; ok {
		entry.WorkerTimestamp = toString(ts)
		delete(fields, "timestamp")
	}
	if lvl, ok := fields["level"]; ok {
		entry.WorkerLevel = toString(lvl)
		delete(fields, "level")
	}
	if msg, ok := fields["message"]; ok {
		entry.Message = toString(msg)
		delete(fields, "message")
	}
	return entry
}

// StorageValue returns what §4.7 uploads for this entry: the original
// JSON object (with timestamp/level renamed to workerTimestamp/
// workerLevel, message left as-is) when the line parsed as JSON, or
// the raw line verbatim otherwise.
func (e Entry) StorageValue() any {
	if e.Fields == nil {
		return e.Raw
	}
	obj := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		obj[k] = v
	}
	if e.WorkerTimestamp != "" {
		obj["workerTimestamp"] = e.WorkerTimestamp
	}
	if e.WorkerLevel != "" {
		obj["workerLevel"] = e.WorkerLevel
	}
	if e.Message != "" {
		obj["message"] = e.Message
	}
	return obj
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func emit(logger log.Logger, e Entry) {
	kvs := []any{"msg", e.Message, "worker", true}
	if e.WorkerTimestamp != "" {
		kvs = append(kvs, "workerTimestamp", e.WorkerTimestamp)
	}
	if e.WorkerLevel != "" {
		kvs = append(kvs, "workerLevel", e.WorkerLevel)
	}
	for k, v := range e.Fields {
		kvs = append(kvs, k, v)
	}
	_ = level.Debug(logger).Log(kvs...)
}
