// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package textgen

import "strings"

// Writer accumulates indented source lines.
type Writer struct {
	sb     strings.Builder
	indent int
	tab    string
}

// NewWriter returns a writer indenting with tab.
func NewWriter(tab string) *Writer {
	return &Writer{tab: tab}
}

// Line writes one line at the current indentation. Empty strings produce
// blank lines without trailing space.
func (w *Writer) Line(s string) {
	if s != "" {
		for i := 0; i < w.indent; i++ {
			w.sb.WriteString(w.tab)
		}
		w.sb.WriteString(s)
	}
	w.sb.WriteByte('\n')
}

// Lines writes each of lines.
func (w *Writer) Lines(lines []string) {
	for _, l := range lines {
		w.Line(l)
	}
}

// Raw appends text that is already indented.
func (w *Writer) Raw(text string) { w.sb.WriteString(text) }

func (w *Writer) Indent() { w.indent++ }

func (w *Writer) Dedent() {
	if w.indent > 0 {
		w.indent--
	}
}

func (w *Writer) String() string { return w.sb.String() }
