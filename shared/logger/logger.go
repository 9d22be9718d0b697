// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int{DEBUG: 0, INFO: 1, WARN: 2, ERROR: 3}

// ParseLevel maps a level name (any case) to a LogLevel
func ParseLevel(s string) (LogLevel, bool) {
	level := LogLevel(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := levelRank[level]
	return level, ok
}

// sink serializes writes from every logger sharing it
type sink struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *sink) write(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(append(line, '\n')); err != nil {
		log.Printf("ERROR: Failed to write log entry: %v", err)
	}
}

// Logger writes structured entries for one component. Entries below the
// minimum level (LOG_LEVEL, default INFO) are dropped.
type Logger struct {
	Component  string
	InstanceID string
	Container  string

	minLevel LogLevel
	base     map[string]interface{}
	sink     *sink
}

// LogEntry is one structured log line. JobID and Origin correlate entries
// belonging to the same orchestration run across the fleet.
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	Container  string                 `json:"container"`
	JobID      string                 `json:"job_id,omitempty"`
	Origin     string                 `json:"origin,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a Logger for the component writing to stdout
func New(component string) *Logger {
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	minLevel, ok := ParseLevel(os.Getenv("LOG_LEVEL"))
	if !ok {
		minLevel = INFO
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
		minLevel:   minLevel,
		sink:       &sink{out: os.Stdout},
	}
}

// With returns a child logger that adds fields to every entry. Fields
// passed to a single call take precedence over these.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	child := *l
	child.base = make(map[string]interface{}, len(l.base)+len(fields))
	for k, v := range l.base {
		child.base[k] = v
	}
	for k, v := range fields {
		child.base[k] = v
	}
	return &child
}

// SetOutput redirects this logger and every child created from it
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.out = w
	l.sink.mu.Unlock()
}

// SetLevel changes the minimum level. Call it before the logger is shared.
func (l *Logger) SetLevel(level LogLevel) {
	l.minLevel = level
}

// Enabled reports whether entries at level are written
func (l *Logger) Enabled(level LogLevel) bool {
	return levelRank[level] >= levelRank[l.minLevel]
}

func (l *Logger) merge(fields map[string]interface{}) map[string]interface{} {
	if len(l.base) == 0 {
		return fields
	}
	merged := make(map[string]interface{}, len(l.base)+len(fields))
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}

// Log writes one entry as a JSON line
func (l *Logger) Log(level LogLevel, jobID, origin, message string, fields map[string]interface{}) {
	if !l.Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		Container:  l.Container,
		JobID:      jobID,
		Origin:     origin,
		Message:    message,
		Fields:     l.merge(fields),
	}

	line, err := json.Marshal(entry)
	if err != nil {
		entry.Fields = map[string]interface{}{"marshal_error": err.Error()}
		if line, err = json.Marshal(entry); err != nil {
			log.Printf("ERROR: Failed to marshal log entry: %v", err)
			return
		}
	}
	l.sink.write(line)
}

// Info logs an informational message
func (l *Logger) Info(jobID, origin, message string, fields map[string]interface{}) {
	l.Log(INFO, jobID, origin, message, fields)
}

// Error logs an error message
func (l *Logger) Error(jobID, origin, message string, fields map[string]interface{}) {
	l.Log(ERROR, jobID, origin, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(jobID, origin, message string, fields map[string]interface{}) {
	l.Log(WARN, jobID, origin, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(jobID, origin, message string, fields map[string]interface{}) {
	l.Log(DEBUG, jobID, origin, message, fields)
}

// InfoWithDuration logs an info message with a duration_ms field
func (l *Logger) InfoWithDuration(jobID, origin, message string, durationMS float64, fields map[string]interface{}) {
	l.Info(jobID, origin, message, with(fields, "duration_ms", durationMS))
}

// ErrorWithErr logs an error message carrying the error text in fields
func (l *Logger) ErrorWithErr(jobID, origin, message string, err error, fields map[string]interface{}) {
	if err != nil {
		fields = with(fields, "error", err.Error())
	}
	l.Error(jobID, origin, message, fields)
}

// ErrorWithCode logs an error returned to an HTTP caller with its status code
func (l *Logger) ErrorWithCode(jobID, origin, message string, statusCode int, err error, fields map[string]interface{}) {
	l.ErrorWithErr(jobID, origin, message, err, with(fields, "status_code", statusCode))
}

// with copies fields and adds one key; callers' maps are never mutated
func with(fields map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[key] = value
	return out
}
