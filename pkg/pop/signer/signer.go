// Copyright 2025 Certen Protocol
//
// Signer is the sole owner of a replica's private key material (spec.md
// §5: "Signing key material is held by a single signer component and
// accessed via message passing"). Every other component asks the signer
// to sign on its behalf instead of holding the key directly.

package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"

	"github.com/certen/pop-consensus/pkg/pop/types"
)

// ErrSignerUnavailable is returned once a Signer has been shut down; per
// spec.md §7 a signer-unavailable condition is Fatal for the owning
// replica.
var ErrSignerUnavailable = errors.New("signer: unavailable")

// Signer holds one Ed25519 keypair and serialises access to it behind a
// mutex, matching the single-owner requirement in spec.md §5. In
// production the private key is backed by a file loaded via
// pkg/pop/config; tests construct a Signer directly from a generated key.
type Signer struct {
	mu        sync.Mutex
	priv      ed25519.PrivateKey
	pub       types.PublicKey
	available bool
}

// New wraps an existing Ed25519 private key.
func New(priv ed25519.PrivateKey) (*Signer, error) {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("signer: private key has no usable public key")
	}
	pk, err := types.PublicKeyFromBytes(pub)
	if err != nil {
		return nil, err
	}
	return &Signer{priv: priv, pub: pk, available: true}, nil
}

// Generate creates a fresh random keypair — used by tests and by
// first-run bootstrap when no key file is configured.
func Generate() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	pk, err := types.PublicKeyFromBytes(pub)
	if err != nil {
		return nil, err
	}
	return &Signer{priv: priv, pub: pk, available: true}, nil
}

// PublicKey returns this replica's public key.
func (s *Signer) PublicKey() types.PublicKey {
	return s.pub
}

// Sign signs msg, returning a types.Signature. Panics only if called after
// Halt — callers in the consensus task are expected to check replica
// health (via the Fatal path, spec.md §7) before reaching this point, so a
// post-halt Sign call indicates a programming error rather than a
// reachable runtime condition.
func (s *Signer) Sign(msg []byte) types.Signature {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available {
		panic(ErrSignerUnavailable)
	}
	raw := ed25519.Sign(s.priv, msg)
	var sig types.Signature
	copy(sig[:], raw)
	return sig
}

// TrySign is the non-panicking form, for callers that can propagate a
// Fatal error instead of crashing immediately.
func (s *Signer) TrySign(msg []byte) (types.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sig types.Signature
	if !s.available {
		return sig, ErrSignerUnavailable
	}
	raw := ed25519.Sign(s.priv, msg)
	copy(sig[:], raw)
	return sig, nil
}

// Halt permanently disables the signer. Called when the replica detects a
// Fatal condition (spec.md §7): "no further signatures are emitted."
func (s *Signer) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = false
}
