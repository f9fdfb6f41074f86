// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diag

import (
	"fmt"
	"io"
	"sync"

	"github.com/davecgh/go-spew/spew"
	"golang.org/x/term"
)

// BacktraceStyle controls how much context Sink prints after an Event,
// per spec.md §6.2's --backtrace flag.
type BacktraceStyle int

const (
	BacktraceOff BacktraceStyle = iota
	BacktraceShort
	BacktraceFull
)

func ParseBacktraceStyle(s string) (BacktraceStyle, error) {
	switch s {
	case "off":
		return BacktraceOff, nil
	case "short":
		return BacktraceShort, nil
	case "full":
		return BacktraceFull, nil
	default:
		return BacktraceOff, fmt.Errorf("unknown backtrace style %q", s)
	}
}

// Sink is the side channel described in spec.md §4.J: non-halting
// diagnostics are queued here and never abort the run; halting ones
// are written the same way immediately before the interpreter stops.
//
// Sink is used from the single interpreter goroutine; Emit and Queued
// still take its own lock.
type Sink struct {
	mu      sync.Mutex
	w       io.Writer
	style   BacktraceStyle
	color   bool
	queued  []*Event
	onFlush func(*Event)
}

// NewSink constructs a Sink writing to w. color is auto-detected via
// golang.org/x/term when w is an *os.File connected to a terminal and
// the caller has not forced it off.
func NewSink(w io.Writer, style BacktraceStyle, forceColor *bool) *Sink {
	color := false
	if forceColor != nil {
		color = *forceColor
	} else if f, ok := w.(interface{ Fd() uintptr }); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &Sink{w: w, style: style, color: color}
}

// OnFlush registers a callback invoked for every event as it is
// written (halting or not); cmd/mirvm uses this to feed the
// internal/metrics diagnostics counter without the sink importing the
// metrics package.
func (s *Sink) OnFlush(fn func(*Event)) {
	s.onFlush = fn
}

// Emit writes ev immediately and, if non-halting, also appends it to
// the queue so callers can later retrieve "all warnings seen".
func (s *Sink) Emit(ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write(ev)
	if !ev.Kind.Halting() {
		s.queued = append(s.queued, ev)
	}
	if s.onFlush != nil {
		s.onFlush(ev)
	}
}

// Queued returns all non-halting diagnostics emitted so far.
func (s *Sink) Queued() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.queued))
	copy(out, s.queued)
	return out
}

const (
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiReset  = "\x1b[0m"
)

func (s *Sink) write(ev *Event) {
	sev := ev.Severity()
	label := sev
	if s.color {
		switch sev {
		case "error":
			label = ansiRed + sev + ansiReset
		case "warning":
			label = ansiYellow + sev + ansiReset
		}
	}
	fmt.Fprintf(s.w, "%s: %s: %s\n", label, ev.Kind, ev.Message)
	for _, sp := range ev.Spans {
		fmt.Fprintf(s.w, "  --> %s\n", sp)
	}
	switch s.style {
	case BacktraceShort:
		if st := ev.StackTrace(); len(st) > 0 {
			fmt.Fprintf(s.w, "    at %v\n", st[0])
		}
	case BacktraceFull:
		if st := ev.StackTrace(); len(st) > 0 {
			fmt.Fprintf(s.w, "%+v\n", st)
		}
		if len(ev.Context) > 0 {
			fmt.Fprintf(s.w, "%s", spew.Sdump(ev.Context))
		}
	}
}
