// Package textutil bounds free-form text before it leaves the process:
// broker attributes, ledger columns and directory names all need valid
// UTF-8 within a byte limit.
package textutil

import (
	"strings"
	"unicode/utf8"
)

// Truncate returns s as valid UTF-8 of at most max bytes. Invalid bytes are
// dropped and the cut never splits a rune.
func Truncate(s string, max int) string {
	s = strings.ToValidUTF8(s, "")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// TrimFront drops bytes from the front of b until at most max remain,
// starting the result on a rune boundary.
func TrimFront(b []byte, max int) []byte {
	over := len(b) - max
	if over <= 0 {
		return b
	}
	for over < len(b) && !utf8.RuneStart(b[over]) {
		over++
	}
	return b[over:]
}
