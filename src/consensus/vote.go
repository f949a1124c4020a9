package consensus

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/attestnetworks/factum/src/crypto"
	"github.com/attestnetworks/factum/src/crypto/keys"
)

// VoteDigest computes the message an agent signs when voting: the fact's hash
// followed by a single direction byte. Binding the direction into the digest
// means a captured approval signature cannot be replayed as a rejection.
func VoteDigest(factHash []byte, approve bool) []byte {
	buf := make([]byte, 0, len(factHash)+1)
	buf = append(buf, factHash...)
	if approve {
		buf = append(buf, 0x01)
	} else {
		buf = append(buf, 0x00)
	}
	return crypto.SHA256(buf)
}

// SignVote signs a vote digest with the agent's private key and returns the
// encoded signature.
func SignVote(priv *ecdsa.PrivateKey, factHash []byte, approve bool) (string, error) {
	r, s, err := keys.Sign(priv, VoteDigest(factHash, approve))
	if err != nil {
		return "", err
	}
	return keys.EncodeSignature(r, s), nil
}

// VerifyVoteSignature checks an encoded signature against an agent's
// registered public key.
func VerifyVoteSignature(pubKeyHex string, factHash []byte, approve bool, signature string) error {
	if signature == "" {
		return fmt.Errorf("missing vote signature")
	}

	pub, err := keys.ParsePublicKeyHex(pubKeyHex)
	if err != nil {
		return err
	}

	r, s, err := keys.DecodeSignature(signature)
	if err != nil {
		return fmt.Errorf("decoding signature: %v", err)
	}

	if !keys.Verify(pub, VoteDigest(factHash, approve), r, s) {
		return fmt.Errorf("invalid vote signature")
	}

	return nil
}
