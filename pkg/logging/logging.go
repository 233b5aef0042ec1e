// Package logging provides the warn/info sinks injected into the
// Unpacker and Orchestrator, per spec.md §9's re-architecture note:
// "inject a warn sink and an info sink as configuration; no
// process-wide logger."
package logging

import (
	"fmt"
	"io"
	"log"
)

// Sink is the pair of callbacks components log through. Either field
// may be nil, in which case the corresponding message is dropped.
type Sink struct {
	Warnf func(format string, args ...any)
	Infof func(format string, args ...any)
}

// Warn calls Warnf if set.
func (s Sink) Warn(format string, args ...any) {
	if s.Warnf != nil {
		s.Warnf(format, args...)
	}
}

// Info calls Infof if set.
func (s Sink) Info(format string, args ...any) {
	if s.Infof != nil {
		s.Infof(format, args...)
	}
}

// Standard returns a Sink backed by the stdlib "log" package, writing
// to w with a "warn:"/"info:" prefix. Pass os.Stderr for CLI use.
func Standard(w io.Writer) Sink {
	warnLog := log.New(w, "warn: ", log.LstdFlags)
	infoLog := log.New(w, "info: ", log.LstdFlags)
	return Sink{
		Warnf: func(format string, args ...any) { warnLog.Printf(format, args...) },
		Infof: func(format string, args ...any) { infoLog.Printf(format, args...) },
	}
}

// Discard is a Sink that drops every message; useful as a safe
// zero-value substitute in tests.
var Discard = Sink{}

// Collector accumulates messages in-process, so tests can assert on
// warnings without scraping stdout.
type Collector struct {
	Warnings []string
	Infos    []string
}

// Sink returns a logging.Sink that appends into the collector.
func (c *Collector) Sink() Sink {
	return Sink{
		Warnf: func(format string, args ...any) {
			c.Warnings = append(c.Warnings, sprintf(format, args...))
		},
		Infof: func(format string, args ...any) {
			c.Infos = append(c.Infos, sprintf(format, args...))
		},
	}
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
