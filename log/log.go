// Copyright 2024 The SCArchive Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package log is a minimal structured-logging façade used throughout
// scarchive. It mirrors the Logger/Helper/Filter split so that a caller can
// swap in its own backend (the host runtime's own log sink) by implementing
// Logger, while archive code only ever calls through a *Helper.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level is a logging severity, ordered least to most severe.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the minimal backend interface. Log receives alternating
// key/value pairs the way go-kratos-style loggers do; implementations that
// don't care about structure may just flatten kvs.
type Logger interface {
	Log(level Level, kvs ...interface{}) error
}

// stdLogger writes one line per record to an io.Writer.
type stdLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdLogger returns a Logger that writes timestamped lines to w.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{w: w}
}

func (l *stdLogger) Log(level Level, kvs ...interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format("2006-01-02T15:04:05.000Z0700")
	msg := fmt.Sprintln(kvs...)
	_, err := fmt.Fprintf(l.w, "%s %-5s %s", ts, level, msg)
	return err
}

// Option configures a filtering Logger wrapper.
type Option func(*filter)

// FilterLevel drops any record below the given level.
func FilterLevel(level Level) Option {
	return func(f *filter) { f.level = level }
}

type filter struct {
	next  Logger
	level Level
}

// NewFilter wraps next, dropping records whose level is below the
// configured minimum (LevelDebug, i.e. no filtering, by default).
func NewFilter(next Logger, opts ...Option) Logger {
	f := &filter{next: next, level: LevelDebug}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *filter) Log(level Level, kvs ...interface{}) error {
	if level < f.level {
		return nil
	}
	return f.next.Log(level, kvs...)
}

// Helper is the logging handle archive code actually calls. It is always
// non-nil on an initialized Archive: a nil Logger in Config defaults to
// NewStdLogger(os.Stderr) filtered at LevelWarn.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger in a Helper. A nil logger falls back to a filtered
// stderr logger so callers never need a nil check.
func NewHelper(logger Logger) *Helper {
	if logger == nil {
		logger = NewFilter(NewStdLogger(os.Stderr), FilterLevel(LevelWarn))
	}
	return &Helper{logger: logger}
}

func (h *Helper) Debug(args ...interface{})            { h.log(LevelDebug, args...) }
func (h *Helper) Debugf(f string, args ...interface{}) { h.logf(LevelDebug, f, args...) }
func (h *Helper) Info(args ...interface{})             { h.log(LevelInfo, args...) }
func (h *Helper) Infof(f string, args ...interface{})  { h.logf(LevelInfo, f, args...) }
func (h *Helper) Warn(args ...interface{})             { h.log(LevelWarn, args...) }
func (h *Helper) Warnf(f string, args ...interface{})  { h.logf(LevelWarn, f, args...) }
func (h *Helper) Error(args ...interface{})            { h.log(LevelError, args...) }
func (h *Helper) Errorf(f string, args ...interface{}) { h.logf(LevelError, f, args...) }

func (h *Helper) log(level Level, args ...interface{}) {
	if h == nil || h.logger == nil {
		return
	}
	_ = h.logger.Log(level, args...)
}

func (h *Helper) logf(level Level, format string, args ...interface{}) {
	if h == nil || h.logger == nil {
		return
	}
	_ = h.logger.Log(level, fmt.Sprintf(format, args...))
}
