// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package textgen

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Namer maps IR names to unique identifiers of the target language.
type Namer struct {
	reserved func(string) bool
	used     map[string]bool
	assigned map[string]string
}

// NewNamer returns a namer that never produces a name reserved reports.
func NewNamer(reserved func(string) bool) *Namer {
	if reserved == nil {
		reserved = func(string) bool { return false }
	}
	return &Namer{reserved: reserved, used: make(map[string]bool), assigned: make(map[string]string)}
}

// Mangle turns name into an identifier. The name is NFC-normalised so
// that canonically equivalent spellings mangle alike; characters outside
// [A-Za-z0-9_] become _ or, for letters, _uXXXX.
func Mangle(name string) string {
	var sb strings.Builder
	for _, r := range norm.NFC.String(name) {
		switch {
		case r < unicode.MaxASCII && (r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)):
			sb.WriteRune(r)
		case unicode.IsLetter(r):
			fmt.Fprintf(&sb, "_u%04X", r)
		default:
			sb.WriteByte('_')
		}
	}
	s := sb.String()
	if s == "" || unicode.IsDigit(rune(s[0])) {
		s = "v" + s
	}
	return s
}

// temporary reports whether s has the shape of a generated temporary.
func temporary(s string) bool {
	if len(s) < 2 || s[0] != '_' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Name returns a fresh identifier for name, distinct from every identifier
// this namer returned before.
func (n *Namer) Name(name string) string {
	base := Mangle(name)
	if n.reserved(base) || temporary(base) || strings.HasPrefix(base, "_kiln") || strings.HasPrefix(base, "__kiln") {
		base = "v" + base
	}
	id := base
	for i := 1; n.used[id]; i++ {
		id = fmt.Sprintf("%s_%d", base, i)
	}
	n.used[id] = true
	n.assigned[name] = id
	return id
}

// Reserve marks id as taken.
func (n *Namer) Reserve(id string) { n.used[id] = true }

// Lookup returns the identifier most recently assigned to name.
func (n *Namer) Lookup(name string) (string, bool) {
	id, ok := n.assigned[name]
	return id, ok
}
