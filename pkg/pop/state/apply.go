// Copyright 2025 Certen Protocol

package state

import (
	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// Apply commits writes on top of the current root and advances Height by
// one, recording the resulting root in the height index. It is pure with
// respect to the writes themselves — re-applying the same writes to the
// same pre-state always yields the same post_root regardless of the
// writes' insertion order, since the trie's structure depends only on
// each key's hash path, never on write order (spec.md's idempotence law).
func (s *Store) Apply(writes []types.Write) (types.StateRoot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := s.root
	for _, w := range writes {
		var err error
		root, err = s.putAt(root, w.Key, w.NewValue)
		if err != nil {
			return hash.Hash{}, err
		}
	}

	s.height++
	s.root = root
	s.liveRoots[s.height] = root
	if err := s.db.Set(rootDBKey(s.height), root[:]); err != nil {
		return hash.Hash{}, ErrFatal
	}
	s.pruneLocked()
	return root, nil
}

// Simulate computes the post-root writes would produce without advancing
// Height or the committed root — used by the leader to derive
// expected_post_root and by replicas to check it (spec.md §4.3.3). It
// still persists the touched nodes: since nodes are content-addressed,
// writing one twice is a no-op, and leaving them in place lets a
// subsequent Apply of the same writes skip re-deriving them.
func (s *Store) Simulate(writes []types.Write) (types.StateRoot, error) {
	s.mu.RLock()
	root := s.root
	s.mu.RUnlock()

	for _, w := range writes {
		var err error
		root, err = s.putAt(root, w.Key, w.NewValue)
		if err != nil {
			return hash.Hash{}, err
		}
	}
	return root, nil
}

// pruneLocked drops height->root index entries older than retainDepth.
// The underlying nodes are untouched here; Compact performs the actual
// node-level garbage collection and is always explicit.
func (s *Store) pruneLocked() {
	if s.retainDepth == 0 || s.height <= s.retainDepth {
		return
	}
	cutoff := s.height - s.retainDepth
	for h := range s.liveRoots {
		if h < cutoff {
			delete(s.liveRoots, h)
		}
	}
}

// RootAt returns the root committed at height, if still retained.
func (s *Store) RootAt(height uint64) (types.StateRoot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.liveRoots[height]
	return r, ok
}
