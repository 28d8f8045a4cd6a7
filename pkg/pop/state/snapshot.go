// Copyright 2025 Certen Protocol
//
// Snapshot/rollback (spec.md §4.2). Since nodes are content-addressed and
// never mutated in place, a snapshot is simply the (height, root) pair —
// rollback restores the store's current root/height to a previously-seen
// pair without touching the node store at all.

package state

import (
	"fmt"

	"github.com/certen/pop-consensus/pkg/pop/hash"
)

// Snapshot is an opaque handle identifying a retained height/root pair.
type Snapshot struct {
	Height uint64
	Root   hash.Hash
}

// ErrSnapshotNotRetained is returned by SnapshotAt and Rollback when height falls
// outside the retain_depth window.
var ErrSnapshotNotRetained = fmt.Errorf("state: height not retained")

// SnapshotAt returns a handle for height, if it is still retained.
func (s *Store) SnapshotAt(height uint64) (Snapshot, error) {
	root, ok := s.RootAt(height)
	if !ok {
		return Snapshot{}, ErrSnapshotNotRetained
	}
	return Snapshot{Height: height, Root: root}, nil
}

// Rollback resets the store's current (height, root) to snap. This does
// not delete any nodes written at heights above snap.Height — they simply
// become unreachable from the new root until/unless a later Apply
// re-derives identical content-addressed hashes.
func (s *Store) Rollback(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.liveRoots[snap.Height]; !ok {
		return ErrSnapshotNotRetained
	}
	s.height = snap.Height
	s.root = snap.Root
	for h := range s.liveRoots {
		if h > snap.Height {
			delete(s.liveRoots, h)
		}
	}
	return nil
}

// Compact drops node-store entries unreachable from every currently
// retained root via mark-and-sweep. This reference implementation never
// calls it automatically (spec.md §4.2 phrases GC as permission, not
// obligation: "older data may be garbage-collected"); a production
// deployment wires it into its own maintenance cadence.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[hash.Hash]struct{})
	var mark func(h hash.Hash, level int) error
	mark = func(h hash.Hash, level int) error {
		if h == emptyHashes[level] {
			return nil
		}
		if _, seen := live[h]; seen {
			return nil
		}
		live[h] = struct{}{}
		if level == 0 {
			return nil
		}
		n, err := s.loadNode(h)
		if err != nil {
			return err
		}
		if n.isLeaf {
			return nil
		}
		if err := mark(n.left, level-1); err != nil {
			return err
		}
		return mark(n.right, level-1)
	}
	for _, root := range s.liveRoots {
		if err := mark(root, depth); err != nil {
			return err
		}
	}

	iter, err := s.db.Iterator([]byte(nodeKeyPrefix), nil)
	if err != nil {
		return fmt.Errorf("%w: iterate nodes: %v", ErrFatal, err)
	}
	defer iter.Close()

	var toDelete [][]byte
	prefix := []byte(nodeKeyPrefix)
	for ; iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != len(prefix)+hash.Size {
			continue
		}
		var h hash.Hash
		copy(h[:], key[len(prefix):])
		if _, ok := live[h]; !ok {
			k := make([]byte, len(key))
			copy(k, key)
			toDelete = append(toDelete, k)
		}
	}
	for _, k := range toDelete {
		if err := s.db.Delete(k); err != nil {
			return fmt.Errorf("%w: delete node: %v", ErrFatal, err)
		}
	}
	return nil
}
