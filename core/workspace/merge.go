package workspace

import (
	"bytes"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const binarySniffLen = 8000

// isBinary applies the NUL-byte heuristic over the leading bytes.
func isBinary(content []byte) bool {
	sniff := content
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	return bytes.IndexByte(sniff, 0) >= 0
}

// mergeContent performs a line-based three-way merge. It returns the merged
// content and whether any region conflicted; on conflict the merged output
// is not meaningful.
func mergeContent(base, ours, theirs []byte) ([]byte, bool) {
	if bytes.Equal(ours, theirs) {
		return append([]byte(nil), ours...), false
	}
	if bytes.Equal(ours, base) {
		return append([]byte(nil), theirs...), false
	}
	if bytes.Equal(theirs, base) {
		return append([]byte(nil), ours...), false
	}

	merged, conflict := mergeLines(splitLines(base), splitLines(ours), splitLines(theirs))
	if conflict {
		return nil, true
	}
	return []byte(strings.Join(merged, "")), false
}

// splitLines keeps the terminators so joining the result reproduces the
// exact bytes. A final line without a terminator stays unterminated.
func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(content), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// baseToSide maps each base line index to the side line it matched, or -1.
func baseToSide(base, side []string) []int {
	mapped := make([]int, len(base))
	for i := range mapped {
		mapped[i] = -1
	}
	matcher := difflib.NewMatcher(base, side)
	for _, block := range matcher.GetMatchingBlocks() {
		for offset := 0; offset < block.Size; offset++ {
			mapped[block.A+offset] = block.B + offset
		}
	}
	return mapped
}

// mergeLines walks the base, anchoring on runs matched by both sides, and
// merges the gaps between anchors chunk by chunk.
func mergeLines(base, ours, theirs []string) ([]string, bool) {
	toOurs := baseToSide(base, ours)
	toTheirs := baseToSide(base, theirs)

	var out []string
	basePos, oursPos, theirsPos := 0, 0, 0

	i := 0
	for i < len(base) {
		if toOurs[i] < oursPos || toTheirs[i] < theirsPos {
			i++
			continue
		}

		// Extend the anchor run while both sides stay consecutive.
		j := i + 1
		for j < len(base) && toOurs[j] == toOurs[j-1]+1 && toTheirs[j] == toTheirs[j-1]+1 {
			j++
		}

		merged, ok := mergeChunk(
			base[basePos:i],
			ours[oursPos:toOurs[i]],
			theirs[theirsPos:toTheirs[i]],
		)
		if !ok {
			return nil, true
		}
		out = append(out, merged...)
		out = append(out, ours[toOurs[i]:toOurs[i]+(j-i)]...)

		basePos = j
		oursPos = toOurs[i] + (j - i)
		theirsPos = toTheirs[i] + (j - i)
		i = j
	}

	merged, ok := mergeChunk(base[basePos:], ours[oursPos:], theirs[theirsPos:])
	if !ok {
		return nil, true
	}
	out = append(out, merged...)
	return out, false
}

func mergeChunk(base, ours, theirs []string) ([]string, bool) {
	switch {
	case equalLines(ours, theirs):
		return ours, true
	case equalLines(ours, base):
		return theirs, true
	case equalLines(theirs, base):
		return ours, true
	default:
		return nil, false
	}
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
