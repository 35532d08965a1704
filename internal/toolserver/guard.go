package toolserver

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotReadOnly is wrapped by [ValidateReadOnly] for statements that are not
// plain queries.
var ErrNotReadOnly = errors.New("toolserver: only read-only queries are allowed")

// ValidateReadOnly checks that sql is a single read-only statement. Allowed
// statements start with SELECT, WITH, or EXPLAIN after leading whitespace and
// comments. Statement batches (a semicolon followed by more text) are
// rejected so a query cannot smuggle a write behind a read.
//
// The guard is a keyword filter, not a parser; the database user should still
// be restricted to read permissions. Defence in depth only works when both
// layers exist.
func ValidateReadOnly(sql string) error {
	rest := stripLeading(sql)
	if rest == "" {
		return fmt.Errorf("%w: empty statement", ErrNotReadOnly)
	}

	keyword := rest
	if i := strings.IndexAny(keyword, " \t\r\n("); i >= 0 {
		keyword = keyword[:i]
	}
	switch strings.ToLower(keyword) {
	case "select", "with", "explain":
	default:
		return fmt.Errorf("%w: statement starts with %q", ErrNotReadOnly, keyword)
	}

	// Reject multi-statement batches. A single trailing semicolon is fine.
	if i := strings.IndexByte(rest, ';'); i >= 0 {
		if strings.TrimSpace(rest[i+1:]) != "" {
			return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
		}
	}
	return nil
}

// stripLeading removes leading whitespace, line comments, and block comments.
func stripLeading(sql string) string {
	s := sql
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return ""
			}
			s = s[i+2:]
		default:
			return s
		}
	}
}
