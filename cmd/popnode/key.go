// Copyright 2025 Certen Protocol
//
// loadOrGenerateSigner is the node's key bootstrap step, modelled on the
// teacher's main.go loadOrGenerateEd25519Key: generate-and-save on first
// run, load-and-decode on every run after. Keys are never derived from a
// node ID or any other identifier.

package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cmted25519 "github.com/cometbft/cometbft/crypto/ed25519"

	"github.com/certen/pop-consensus/pkg/pop/signer"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// loadOrGenerateSigner reads the Ed25519 private key at keyPath, or
// generates and persists a fresh one if the file does not exist yet. The
// raw key bytes never pass through a *signer.Signer on the generate path
// — signer.New is the single point where a key enters that type, so
// there is no exported way to pull key material back out of one.
func loadOrGenerateSigner(keyPath string) (*signer.Signer, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("popnode: node key path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("popnode: create key directory: %w", err)
	}

	var priv ed25519.PrivateKey
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		_, generated, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("popnode: generate signing key: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(generated)), 0600); err != nil {
			return nil, fmt.Errorf("popnode: save signing key to %s: %w", keyPath, err)
		}
		priv = generated
	} else {
		raw, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("popnode: read signing key from %s: %w", keyPath, err)
		}
		keyBytes, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("popnode: decode signing key from %s: %w", keyPath, err)
		}
		if len(keyBytes) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("popnode: invalid signing key size in %s: expected %d, got %d", keyPath, ed25519.PrivateKeySize, len(keyBytes))
		}
		priv = ed25519.PrivateKey(keyBytes)
	}
	return signer.New(priv)
}

// nodeAddress renders pk the way CometBFT identifies a validator in logs
// and RPC output: the hex-encoded Address() derived from an ed25519.PubKey,
// not the raw public key bytes. Used only for operator-facing output —
// consensus identity is always the full types.PublicKey.
func nodeAddress(pk types.PublicKey) string {
	return cmted25519.PubKey(pk[:]).Address().String()
}
