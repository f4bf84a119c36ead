package main

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossplay/crossword-prizes/signing"
)

func newTestSigner(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return priv
}

func newTestRegistry(t *testing.T, priv *secp256k1.PrivateKey) *PuzzleRegistry {
	t.Helper()
	registry := NewPuzzleRegistry(nil, newTestAccess())
	require.NoError(t, registry.SetTrustedSigner("admin", priv.PubKey().SerializeCompressed()))
	return registry
}

func TestVerifyAcceptsTrustedSignature(t *testing.T) {
	priv := newTestSigner(t)
	verifier := NewCompletionVerifier(newTestRegistry(t, priv))

	sig, err := signing.SignCompletion(priv, "alice", "cw-1", 61000, "prod-1")
	require.NoError(t, err)

	assert.NoError(t, verifier.Verify("alice", "cw-1", 61000, "prod-1", sig))
}

func TestVerifyRejectsMutatedClaims(t *testing.T) {
	priv := newTestSigner(t)
	verifier := NewCompletionVerifier(newTestRegistry(t, priv))

	sig, err := signing.SignCompletion(priv, "alice", "cw-1", 61000, "prod-1")
	require.NoError(t, err)

	// Every field of the claim is bound by the signature; changing any one
	// of them must fail verification.
	cases := []struct {
		name       string
		user       string
		crossword  string
		durationMs int64
		deployment string
	}{
		{"different user", "bob", "cw-1", 61000, "prod-1"},
		{"different crossword", "alice", "cw-2", 61000, "prod-1"},
		{"different duration", "alice", "cw-1", 60999, "prod-1"},
		{"different deployment", "alice", "cw-1", 61000, "staging-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := verifier.Verify(tc.user, tc.crossword, tc.durationMs, tc.deployment, sig)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestVerifyRejectsGarbageAndWrongKey(t *testing.T) {
	priv := newTestSigner(t)
	verifier := NewCompletionVerifier(newTestRegistry(t, priv))

	assert.ErrorIs(t, verifier.Verify("alice", "cw-1", 61000, "prod-1", nil), ErrInvalidSignature)
	assert.ErrorIs(t, verifier.Verify("alice", "cw-1", 61000, "prod-1", []byte{1, 2, 3}), ErrInvalidSignature)

	other := newTestSigner(t)
	sig, err := signing.SignCompletion(other, "alice", "cw-1", 61000, "prod-1")
	require.NoError(t, err)
	assert.ErrorIs(t, verifier.Verify("alice", "cw-1", 61000, "prod-1", sig), ErrInvalidSignature)
}

func TestVerifyRejectsWhenNoSignerConfigured(t *testing.T) {
	priv := newTestSigner(t)
	registry := NewPuzzleRegistry(nil, newTestAccess())
	verifier := NewCompletionVerifier(registry)

	sig, err := signing.SignCompletion(priv, "alice", "cw-1", 61000, "prod-1")
	require.NoError(t, err)
	assert.ErrorIs(t, verifier.Verify("alice", "cw-1", 61000, "prod-1", sig), ErrInvalidSignature)
}

func TestSetTrustedSignerRequiresAdmin(t *testing.T) {
	priv := newTestSigner(t)
	registry := NewPuzzleRegistry(nil, newTestAccess())

	key := priv.PubKey().SerializeCompressed()
	assert.ErrorIs(t, registry.SetTrustedSigner("operator", key), ErrUnauthorized)
	assert.ErrorIs(t, registry.SetTrustedSigner("admin", []byte{0xff}), ErrValidation)
	assert.NoError(t, registry.SetTrustedSigner("admin", key))
	assert.NotNil(t, registry.TrustedSigner())
}
