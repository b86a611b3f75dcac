package tree

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPath = errors.New("invalid canonical path")
)

// CanonicalPath is a normalized, repository-relative path key. It is
// "/"-separated, lower-cased, and carries no leading or trailing separator,
// so a logical file has exactly one key regardless of how the caller spells
// it. Tree entries and locks are both addressed by canonical paths.
type CanonicalPath string

// ParseCanonicalPath normalizes raw into a canonical path. Backslashes fold
// to forward slashes, repeated and surrounding separators collapse, "."
// segments drop, and the result is lower-cased. Empty results and any path
// escaping the root via ".." are rejected.
func ParseCanonicalPath(raw string) (CanonicalPath, error) {
	cleaned := strings.ReplaceAll(raw, "\\", "/")
	cleaned = strings.ToLower(cleaned)

	parts := strings.Split(cleaned, "/")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q escapes the root", ErrInvalidPath, raw)
		default:
			segments = append(segments, part)
		}
	}

	if len(segments) == 0 {
		return "", fmt.Errorf("%w: %q is empty", ErrInvalidPath, raw)
	}

	return CanonicalPath(strings.Join(segments, "/")), nil
}

// MustParseCanonicalPath is ParseCanonicalPath for statically known inputs.
func MustParseCanonicalPath(raw string) CanonicalPath {
	path, err := ParseCanonicalPath(raw)
	if err != nil {
		panic(err)
	}
	return path
}

func (p CanonicalPath) String() string {
	return string(p)
}

// Segments splits the path into its name components.
func (p CanonicalPath) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), "/")
}

// Name returns the final path segment.
func (p CanonicalPath) Name() string {
	segments := p.Segments()
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

// Parent returns the directory portion of the path, or "" at the root.
func (p CanonicalPath) Parent() CanonicalPath {
	idx := strings.LastIndex(string(p), "/")
	if idx < 0 {
		return ""
	}
	return p[:idx]
}

// Child appends a single, already-normalized segment.
func (p CanonicalPath) Child(name string) CanonicalPath {
	if p == "" {
		return CanonicalPath(name)
	}
	return CanonicalPath(string(p) + "/" + name)
}
