// Copyright 2025 Certen Protocol
//
// Store is the versioned, content-addressed Merkle state store (spec.md
// §4.2). Nodes are addressed by their own hash in a cometbft-db-backed
// key/value database — the same storage interface the teacher's
// pkg/kvdb.KVAdapter wraps around dbm.DB, used directly here rather than
// through an extra adapter layer since Store is itself the sole consumer.

package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// ErrFatal wraps a state-store error that halts the owning replica per
// spec.md §4.2 ("A store error (I/O, integrity) surfaces as Fatal and
// halts the replica").
var ErrFatal = errors.New("state: fatal store error")

const nodeKeyPrefix = "n:"
const rootKeyPrefix = "r:" // height -> root hash

// Store implements get/apply/root/prove_inclusion/verify_inclusion/
// snapshot/rollback over a single node database shared across all
// versions; old nodes are retained for up to retainDepth heights and are
// eligible for compaction beyond that (Compact is explicit — this
// reference store never garbage-collects implicitly).
type Store struct {
	mu          sync.RWMutex
	db          dbm.DB
	root        hash.Hash
	height      uint64
	retainDepth uint64
	liveRoots   map[uint64]hash.Hash // height -> root, for heights still retained
}

// New creates an empty store (root = empty root hash at height 0) backed
// by db. Use dbm.NewMemDB() in tests and dbm.NewGoLevelDB(...) in
// production, matching the teacher's cometbft-db usage.
func New(db dbm.DB, retainDepth uint64) *Store {
	return &Store{
		db:          db,
		root:        emptyHashes[depth],
		height:      0,
		retainDepth: retainDepth,
		liveRoots:   map[uint64]hash.Hash{0: emptyHashes[depth]},
	}
}

// Root returns the current commitment root.
func (s *Store) Root() hash.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// Height returns the current committed height.
func (s *Store) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

func nodeDBKey(h hash.Hash) []byte {
	return append([]byte(nodeKeyPrefix), h[:]...)
}

func rootDBKey(height uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], height)
	return append([]byte(rootKeyPrefix), b[:]...)
}

func (s *Store) loadNode(h hash.Hash) (*node, error) {
	raw, err := s.db.Get(nodeDBKey(h))
	if err != nil {
		return nil, fmt.Errorf("%w: load node: %v", ErrFatal, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: missing node %s", ErrFatal, h.String())
	}
	return decodeNode(raw)
}

func (s *Store) storeNode(h hash.Hash, n *node) error {
	if err := s.db.Set(nodeDBKey(h), encodeNode(n)); err != nil {
		return fmt.Errorf("%w: store node: %v", ErrFatal, err)
	}
	return nil
}

// Get returns the value stored at key, or nil if absent.
func (s *Store) Get(key types.StateKey) (*types.StateValue, error) {
	s.mu.RLock()
	root := s.root
	s.mu.RUnlock()
	return s.getAt(root, key)
}

func (s *Store) getAt(root hash.Hash, key types.StateKey) (*types.StateValue, error) {
	path := key.Hash()
	cur := root
	for level := depth; level > 0; level-- {
		if cur == emptyHashes[level] {
			return nil, nil
		}
		n, err := s.loadNode(cur)
		if err != nil {
			return nil, err
		}
		if n.isLeaf {
			// putAt always materializes a full chain down to level 0, so
			// a leaf can never occupy a level above 0 here either.
			return nil, ErrFatal
		}
		if bit(path, depth-level) == 0 {
			cur = n.left
		} else {
			cur = n.right
		}
	}
	if cur == emptyHashes[0] {
		return nil, nil
	}
	n, err := s.loadNode(cur)
	if err != nil {
		return nil, err
	}
	if n.isLeaf && n.key.Domain == key.Domain && bytesEqual(n.key.ID, key.ID) {
		v := n.value
		return &v, nil
	}
	return nil, nil
}

func bytesEqual(a, b []byte) bool {
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

// putAt writes key->value (or deletes key when value is nil) under root,
// returning the new root. It writes every internal node touched along the
// path from leaf to root — O(depth) per key, the standard cost of a
// sparse Merkle trie without path compression.
func (s *Store) putAt(root hash.Hash, key types.StateKey, value *types.StateValue) (hash.Hash, error) {
	path := key.Hash()

	type frame struct {
		nodeHash    hash.Hash
		wentRight   bool
		siblingHash hash.Hash
		level       int // level of nodeHash itself (before descent)
	}
	var stack []frame

	cur := root
	for level := depth; level > 0; level-- {
		if cur == emptyHashes[level] {
			// Empty subtree: nothing further to load; remaining descent
			// is synthesized entirely from empty-hash constants.
			for l := level; l > 0; l-- {
				right := bit(path, depth-l) == 1
				stack = append(stack, frame{nodeHash: emptyHashes[l], wentRight: right, siblingHash: emptyHashes[l - 1], level: l})
			}
			cur = emptyHashes[0]
			break
		}
		n, err := s.loadNode(cur)
		if err != nil {
			return hash.Hash{}, err
		}
		if n.isLeaf {
			// putAt always materializes a full internal-node chain down
			// to level 0 for every inserted key (see the empty-subtree
			// branch above), so a leaf can never occupy a level above 0.
			return hash.Hash{}, fmt.Errorf("%w: leaf found above trie floor", ErrFatal)
		}
		right := bit(path, depth-level) == 1
		var sib hash.Hash
		if right {
			sib = n.left
		} else {
			sib = n.right
		}
		stack = append(stack, frame{nodeHash: cur, wentRight: right, siblingHash: sib, level: level})
		if right {
			cur = n.right
		} else {
			cur = n.left
		}
	}

	// cur is now the existing leaf hash (or empty) at the bottom.
	var newLeaf hash.Hash
	if value != nil {
		lf := &node{isLeaf: true, key: key, value: *value}
		newLeaf = leafHash(key, *value)
		if err := s.storeNode(newLeaf, lf); err != nil {
			return hash.Hash{}, err
		}
	} else {
		newLeaf = emptyHashes[0]
	}

	// Rebuild upward.
	childHash := newLeaf
	for i := len(stack) - 1; i >= 0; i-- {
		f := stack[i]
		var left, right hash.Hash
		if f.wentRight {
			left, right = f.siblingHash, childHash
		} else {
			left, right = childHash, f.siblingHash
		}
		n := &node{isLeaf: false, left: left, right: right}
		h := internalHash(left, right)
		if err := s.storeNode(h, n); err != nil {
			return hash.Hash{}, err
		}
		childHash = h
	}
	return childHash, nil
}

