// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package obslog provides the one structured logger threaded through
// an interpreter run, realizing SPEC_FULL.md §0's logging entry with
// github.com/sirupsen/logrus in place of the teacher's ad hoc
// compile-time prints.
package obslog

import (
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Entry pre-populated with the run's session id,
// so every call site gets that field for free.
type Logger struct {
	entry *logrus.Entry
}

// New creates a Logger writing to w (os.Stderr in production, a
// buffer in tests) at the given level, tagging every record with a
// freshly generated session id (SPEC_FULL.md §0 "Identity").
func New(w io.Writer, level logrus.Level) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(level)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{entry: base.WithField("session_id", uuid.NewString())}
}

// Default builds a Logger at Info level writing to stderr.
func Default() *Logger { return New(os.Stderr, logrus.InfoLevel) }

// With returns a derived Logger carrying an additional structured
// field, matching the common alloc_id/thread_id/tag fields named in
// SPEC_FULL.md §0.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
