package commit

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNoCommonAncestor = errors.New("no common ancestor")
)

// Reader resolves commit ids to stored commits. The index backends satisfy it.
type Reader interface {
	GetCommit(ctx context.Context, id CommitID) (*Commit, error)
}

// ListCommits walks parent pointers backward from a head, breadth first,
// returning at most depth commits. depth <= 0 means unbounded. The walk is
// iterative with an explicit visited set so long histories never blow the
// stack and merge diamonds are reported once.
func ListCommits(ctx context.Context, reader Reader, from CommitID, depth int) ([]*Commit, error) {
	if from.IsZero() {
		return nil, nil
	}

	var result []*Commit
	visited := map[CommitID]bool{from: true}
	queue := []CommitID{from}

	for len(queue) > 0 {
		if depth > 0 && len(result) >= depth {
			break
		}

		id := queue[0]
		queue = queue[1:]

		current, err := reader.GetCommit(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list commits at %s: %w", id.Short(), err)
		}
		result = append(result, current)

		for _, parent := range current.Parents {
			if visited[parent] {
				continue
			}
			visited[parent] = true
			queue = append(queue, parent)
		}
	}

	return result, nil
}

// IsAncestor reports whether ancestor is reachable from descendant by
// following parent links. A commit is considered its own ancestor.
func IsAncestor(ctx context.Context, reader Reader, ancestor, descendant CommitID) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}

	visited := map[CommitID]bool{descendant: true}
	queue := []CommitID{descendant}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		current, err := reader.GetCommit(ctx, id)
		if err != nil {
			return false, fmt.Errorf("walk ancestors of %s: %w", id.Short(), err)
		}

		for _, parent := range current.Parents {
			if parent == ancestor {
				return true, nil
			}
			if visited[parent] {
				continue
			}
			visited[parent] = true
			queue = append(queue, parent)
		}
	}

	return false, nil
}

// CanFastForward reports whether advancing current to target needs no merge
// commit, which holds exactly when current is an ancestor of target.
func CanFastForward(ctx context.Context, reader Reader, current, target CommitID) (bool, error) {
	return IsAncestor(ctx, reader, current, target)
}

// FindCommonAncestor returns the best merge base of a and b: the common
// ancestor with the greatest generation number, where a root has generation
// zero and every other commit sits one past its highest parent. Ties break on
// id order so the result is deterministic.
func FindCommonAncestor(ctx context.Context, reader Reader, a, b CommitID) (*Commit, error) {
	closureA, err := ancestorClosure(ctx, reader, a)
	if err != nil {
		return nil, err
	}
	closureB, err := ancestorClosure(ctx, reader, b)
	if err != nil {
		return nil, err
	}

	var common []CommitID
	for id := range closureA {
		if _, ok := closureB[id]; ok {
			common = append(common, id)
		}
	}
	if len(common) == 0 {
		return nil, ErrNoCommonAncestor
	}

	generations, err := generationNumbers(closureA, closureB)
	if err != nil {
		return nil, err
	}

	best := common[0]
	for _, id := range common[1:] {
		if generations[id] > generations[best] {
			best = id
			continue
		}
		if generations[id] == generations[best] && id.String() < best.String() {
			best = id
		}
	}

	return closureA[best].Clone(), nil
}

// ancestorClosure collects every commit reachable from head, itself included.
func ancestorClosure(ctx context.Context, reader Reader, head CommitID) (map[CommitID]*Commit, error) {
	closure := make(map[CommitID]*Commit)
	if head.IsZero() {
		return closure, nil
	}

	queue := []CommitID{head}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := closure[id]; ok {
			continue
		}

		current, err := reader.GetCommit(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("closure of %s: %w", id.Short(), err)
		}
		closure[id] = current

		for _, parent := range current.Parents {
			if _, ok := closure[parent]; !ok {
				queue = append(queue, parent)
			}
		}
	}
	return closure, nil
}

// generationNumbers assigns each commit in the union of both closures its
// height above the roots, computed iteratively with a post-order stack.
func generationNumbers(closureA, closureB map[CommitID]*Commit) (map[CommitID]int, error) {
	union := make(map[CommitID]*Commit, len(closureA)+len(closureB))
	for id, c := range closureA {
		union[id] = c
	}
	for id, c := range closureB {
		union[id] = c
	}

	generations := make(map[CommitID]int, len(union))
	for start := range union {
		if _, done := generations[start]; done {
			continue
		}

		stack := []CommitID{start}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			if _, done := generations[id]; done {
				stack = stack[:len(stack)-1]
				continue
			}

			current := union[id]
			ready := true
			highest := -1
			for _, parent := range current.Parents {
				if _, ok := union[parent]; !ok {
					// Parent outside both closures: treat as a root boundary.
					continue
				}
				gen, done := generations[parent]
				if !done {
					stack = append(stack, parent)
					ready = false
					continue
				}
				if gen > highest {
					highest = gen
				}
			}
			if !ready {
				continue
			}

			generations[id] = highest + 1
			stack = stack[:len(stack)-1]
		}
	}
	return generations, nil
}
