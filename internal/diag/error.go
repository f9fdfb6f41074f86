// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diag

import (
	"fmt"

	"github.com/pkg/errors"
)

// Span is a source location attached to a diagnostic, per spec.md §6.3.
type Span struct {
	File string
	Line int
	Col  int
}

func (s Span) String() string {
	return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Col)
}

// Event is a single structured diagnostic: a halting UB/resource error,
// a halt-with-failure, or a non-halting warning/notice (spec.md §4.J).
// It implements error so halting events can flow through ordinary Go
// error returns per spec.md §7 ("errors are values").
type Event struct {
	Kind    Kind
	Message string
	Spans   []Span
	Context map[string]any

	// cause carries a pkg/errors stack trace for "full" backtrace style.
	cause error
}

// New builds an Event and, for halting kinds, captures a stack trace
// via github.com/pkg/errors so §6.3's "full" backtrace style has
// something to print.
func New(kind Kind, format string, args ...any) *Event {
	ev := &Event{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Context: map[string]any{},
	}
	if kind.Halting() {
		ev.cause = errors.New(ev.Message)
	}
	return ev
}

// With attaches a contextual field (allocation id, offset, tag, thread
// id, ...) that pretty-printers may surface.
func (e *Event) With(key string, value any) *Event {
	e.Context[key] = value
	return e
}

// At attaches a source span.
func (e *Event) At(span Span) *Event {
	e.Spans = append(e.Spans, span)
	return e
}

func (e *Event) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// StackTrace exposes the pkg/errors stack trace, if one was captured.
func (e *Event) StackTrace() errors.StackTrace {
	type tracer interface{ StackTrace() errors.StackTrace }
	if t, ok := e.cause.(tracer); ok {
		return t.StackTrace()
	}
	return nil
}

// Severity returns the §6.3 severity label.
func (e *Event) Severity() string {
	if e.Kind.Group() == GroupWarning {
		return "warning"
	}
	return "error"
}
