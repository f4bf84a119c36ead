package main

import (
	"github.com/crossplay/crossword-prizes/signing"
)

// CompletionVerifier checks that a completion claim was authorized by the
// trusted signer recorded in the puzzle registry. Stateless apart from
// reading the current key.
type CompletionVerifier struct {
	registry *PuzzleRegistry
}

func NewCompletionVerifier(registry *PuzzleRegistry) *CompletionVerifier {
	return &CompletionVerifier{registry: registry}
}

// Verify fails ErrInvalidSignature unless sig covers exactly this user,
// crossword, duration and deployment identity under the trusted key.
func (v *CompletionVerifier) Verify(user, crosswordID string, durationMs int64, deploymentID string, sig []byte) error {
	signer := v.registry.TrustedSigner()
	if signer == nil {
		return ErrInvalidSignature
	}
	if !signing.VerifyCompletion(signer, user, crosswordID, durationMs, deploymentID, sig) {
		return ErrInvalidSignature
	}
	return nil
}
