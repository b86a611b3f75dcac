package workspace

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gobwas/glob"

	"github.com/adalundhe/quarry/core/tree"
)

// ignoreSet holds the compiled .quarryignore patterns. Patterns match
// canonical paths, so they are separator and case normalized already.
type ignoreSet struct {
	patterns []glob.Glob
}

func loadIgnoreSet(path string) (*ignoreSet, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return &ignoreSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ignore patterns: %w", err)
	}
	defer file.Close()

	set := &ignoreSet{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pattern, err := glob.Compile(strings.ToLower(line), '/')
		if err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", line, err)
		}
		set.patterns = append(set.patterns, pattern)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load ignore patterns: %w", err)
	}
	return set, nil
}

func (s *ignoreSet) Match(path tree.CanonicalPath) bool {
	raw := path.String()
	if raw == metaDirName || strings.HasPrefix(raw, metaDirName+"/") {
		return true
	}
	if raw == ignoreFileName {
		return true
	}
	for _, pattern := range s.patterns {
		if pattern.Match(raw) {
			return true
		}
	}
	return false
}
