// Package signing holds the completion signature scheme shared by the
// ledger server and the offline prize-signer tool.
//
// A completion claim is authorized by a schnorr signature from the trusted
// signer over a blake256 digest of the canonical message. The message binds
// the user, the crossword id, the self-reported duration and the deployment
// identity, so a signature issued for one completion cannot be replayed for
// another user, another puzzle, another duration or another deployment.
package signing

import (
	"strconv"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

const messagePrefix = "prize-completion-v1"

// CompletionDigest returns the 32-byte digest the trusted signer signs.
func CompletionDigest(user, crosswordID string, durationMs int64, deploymentID string) []byte {
	h := blake256.New()
	h.Write([]byte(messagePrefix))
	h.Write([]byte{'|'})
	h.Write([]byte(user))
	h.Write([]byte{'|'})
	h.Write([]byte(crosswordID))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(durationMs, 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(deploymentID))
	return h.Sum(nil)
}

// SignCompletion produces the 64-byte signature a completion claim carries.
func SignCompletion(priv *secp256k1.PrivateKey, user, crosswordID string, durationMs int64, deploymentID string) ([]byte, error) {
	digest := CompletionDigest(user, crosswordID, durationMs, deploymentID)
	sig, err := schnorr.Sign(priv, digest)
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// VerifyCompletion reports whether sig is a valid trusted-signer signature
// for the given completion claim.
func VerifyCompletion(signer *secp256k1.PublicKey, user, crosswordID string, durationMs int64, deploymentID string, sig []byte) bool {
	if signer == nil || len(sig) == 0 {
		return false
	}
	parsed, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}
	digest := CompletionDigest(user, crosswordID, durationMs, deploymentID)
	return parsed.Verify(digest, signer)
}
