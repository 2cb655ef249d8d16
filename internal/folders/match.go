// Package folders enforces the folder whitelist: which document-store
// folders the gateway may read from.
package folders

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Normalize lowercases a folder path, converts backslashes and drops empty
// segments so "/Engineering//API/" and "engineering\api" compare equal.
func Normalize(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	p = strings.ReplaceAll(p, `\`, "/")
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, "/")
}

// Matches reports whether path matches a whitelist pattern:
//
//	Engineering        exactly that folder
//	Engineering/*      direct children only
//	Engineering/**     the folder itself and every descendant
//
// Any other glob syntax is matched with doublestar.
func Matches(path, pattern string) bool {
	n := Normalize(path)
	p := Normalize(pattern)
	if p == "" {
		return false
	}

	if prefix, ok := strings.CutSuffix(p, "/**"); ok && !hasMeta(prefix) {
		return n == prefix || strings.HasPrefix(n, prefix+"/")
	}
	if prefix, ok := strings.CutSuffix(p, "/*"); ok && !hasMeta(prefix) {
		rest, found := strings.CutPrefix(n, prefix+"/")
		return found && rest != "" && !strings.Contains(rest, "/")
	}
	if hasMeta(p) {
		ok, err := doublestar.Match(p, n)
		return err == nil && ok
	}
	return n == p
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

// MatchesAny reports whether path matches at least one pattern.
func MatchesAny(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if Matches(path, pattern) {
			return true
		}
	}
	return false
}
