// Copyright 2025 Certen Protocol
//
// Fixed-width key and signature types shared by every wire message.
// Signatures are always Ed25519 over a canonical-encoding hash (spec.md §6).

package types

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
)

// PublicKey is a 32-byte Ed25519 public key.
type PublicKey [32]byte

// Signature is a 64-byte Ed25519 signature.
type Signature [64]byte

// ErrWrongLength is returned by the From* constructors when given a slice
// of the wrong size.
var ErrWrongLength = errors.New("types: wrong byte length")

// PublicKeyFromBytes validates and copies b into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != len(pk) {
		return pk, ErrWrongLength
	}
	copy(pk[:], b)
	return pk, nil
}

// SignatureFromBytes validates and copies b into a Signature.
func SignatureFromBytes(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != len(sig) {
		return sig, ErrWrongLength
	}
	copy(sig[:], b)
	return sig, nil
}

// Ed25519 returns the public key as the stdlib ed25519.PublicKey type.
func (pk PublicKey) Ed25519() ed25519.PublicKey {
	return ed25519.PublicKey(pk[:])
}

// Verify checks sig over msg using pk.
func (pk PublicKey) Verify(msg []byte, sig Signature) bool {
	return ed25519.Verify(pk.Ed25519(), msg, sig[:])
}

// String renders the public key as lowercase hex, for logging.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// String renders the signature as lowercase hex, for logging.
func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// Less gives PublicKey a total order, used to sort committees and dedupe
// signer sets when assembling a quorum certificate.
func (pk PublicKey) Less(other PublicKey) bool {
	for i := range pk {
		if pk[i] != other[i] {
			return pk[i] < other[i]
		}
	}
	return false
}
