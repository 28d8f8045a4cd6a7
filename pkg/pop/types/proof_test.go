// Copyright 2025 Certen Protocol

package types

import (
	"crypto/ed25519"
	"testing"

	"github.com/certen/pop-consensus/pkg/pop/hash"
)

func TestComputeProofID_Deterministic(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pk, err := PublicKeyFromBytes(pub)
	if err != nil {
		t.Fatalf("pk from bytes: %v", err)
	}

	id1 := ComputeProofID([]byte("payload"), pk)
	id2 := ComputeProofID([]byte("payload"), pk)
	if id1 != id2 {
		t.Fatalf("ComputeProofID not deterministic: %x != %x", id1, id2)
	}

	expected := hash.SumConcat([]byte("payload"), pk[:])
	if id1 != expected {
		t.Fatalf("ComputeProofID mismatch: got %x want %x", id1, expected)
	}
}

func TestProof_SignAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pk, err := PublicKeyFromBytes(pub)
	if err != nil {
		t.Fatalf("pk from bytes: %v", err)
	}

	p := &Proof{
		Payload:       []byte("some logical proof payload"),
		SubmitterPK:   pk,
		SubmittedAtNS: 1000,
	}
	p.ID = ComputeProofID(p.Payload, p.SubmitterPK)

	sig := ed25519.Sign(priv, p.SigningBytes())
	copy(p.SubmitterSig[:], sig)

	if !p.VerifySignature() {
		t.Fatal("expected signature to verify")
	}

	// Tampering with the timestamp after signing must invalidate the
	// signature — the signed bytes include SubmittedAtNS.
	p.SubmittedAtNS++
	if p.VerifySignature() {
		t.Fatal("expected signature to fail after tampering")
	}
}
