// Copyright 2023 Google Inc. All Rights Reserved.
//
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

// Package logger provides the single process-wide logger used by the
// dispatcher, the backends and the CLI. It wraps log/slog with a severity
// model that matches cfg.LogSeverity (TRACE/DEBUG/INFO/WARNING/ERROR/OFF)
// and renders either as plain text or as JSON.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/benallfree/dofs/cfg"
)

// slog only has four built-in levels; TRACE and the OFF sentinel are
// expressed as custom levels below and above the standard range.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(12)
)

var severityToLevel = map[cfg.LogSeverity]slog.Level{
	cfg.TraceLogSeverity:   LevelTrace,
	cfg.DebugLogSeverity:   LevelDebug,
	cfg.InfoLogSeverity:    LevelInfo,
	cfg.WarningLogSeverity: LevelWarn,
	cfg.ErrorLogSeverity:   LevelError,
	cfg.OffLogSeverity:     LevelOff,
}

// loggerFactory owns the writer and format currently in effect so that
// SetLogFormat and setLoggingLevel can rebuild the handler in place.
type loggerFactory struct {
	writer io.Writer
	format string
	level  *slog.LevelVar
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	isJSON := f.format == "json"
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				t := a.Value.Time()
				if isJSON {
					return slog.Attr{
						Key: "timestamp",
						Value: slog.GroupValue(
							slog.Int64("seconds", t.Unix()),
							slog.Int64("nanos", int64(t.Nanosecond())),
						),
					}
				}
				return slog.String("time", t.Format("01/02/2006 15:04:05.000000"))
			case slog.LevelKey:
				lvl, _ := a.Value.Any().(slog.Level)
				return slog.String("severity", severityName(lvl))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: slog.StringValue(prefix + a.Value.String())}
			}
			return a
		},
	}
	if isJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func severityName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l <= LevelDebug:
		return "DEBUG"
	case l <= LevelInfo:
		return "INFO"
	case l <= LevelWarn:
		return "WARNING"
	default:
		return "ERROR"
	}
}

var (
	defaultLoggerFactory = &loggerFactory{
		writer: os.Stderr,
		format: "text",
		level:  &slog.LevelVar{},
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, defaultLoggerFactory.level, ""))
)

func setLoggingLevel(severity string, level *slog.LevelVar) {
	lvl, ok := severityToLevel[cfg.LogSeverity(severity)]
	if !ok {
		lvl = LevelInfo
	}
	level.Set(lvl)
}

// Init configures the process-wide logger from a resolved cfg.Config. It
// must be called once before the mount loop starts.
func Init(c cfg.Config) {
	defaultLoggerFactory.format = c.LogFormat
	setLoggingLevel(c.LogSeverity, defaultLoggerFactory.level)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(defaultLoggerFactory.writer, defaultLoggerFactory.level, ""))
}

// SetLogFormat switches the rendering between "text" and "json"; any value
// other than "json" renders as text.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(defaultLoggerFactory.writer, defaultLoggerFactory.level, ""))
}

func Tracef(format string, v ...interface{}) {
	defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...interface{}) {
	defaultLogger.Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...interface{}) {
	defaultLogger.Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...interface{}) {
	defaultLogger.Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...interface{}) {
	defaultLogger.Error(fmt.Sprintf(format, v...))
}
