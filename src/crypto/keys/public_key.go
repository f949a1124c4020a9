package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"

	"github.com/attestnetworks/factum/src/common"
)

// ToPublicKey is a wrapper around elliptic.Unmarshal which calls Curve() to
// determine which elliptic.Curve to use. The argument pub is expected to be the
// uncompressed form of a point on the curve, as returned by FromPublicKey.
func ToPublicKey(pub []byte) *ecdsa.PublicKey {
	if len(pub) == 0 {
		return nil
	}
	x, y := elliptic.Unmarshal(curve(), pub)
	return &ecdsa.PublicKey{Curve: curve(), X: x, Y: y}
}

// FromPublicKey is a wrapper around elliptic.Marshal which calls Curve() to
// determine which elliptic.Curve to use. It outputs the point in uncompressed
// form.
func FromPublicKey(pub *ecdsa.PublicKey) []byte {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil
	}
	return elliptic.Marshal(curve(), pub.X, pub.Y)
}

// PublicKeyID gives a compact uint32 representation of the public key. There
// is obviously a risk of collision; it is only used for log fields and cache
// keys, never for identity checks.
func PublicKeyID(pubBytes []byte) uint32 {
	return common.Hash32(pubBytes)
}

// PublicKeyHex returns the hexadecimal representation of the uncompressed form
// of the public key
func PublicKeyHex(pub *ecdsa.PublicKey) string {
	return common.EncodeToString(FromPublicKey(pub))
}

// ParsePublicKeyHex decodes the hex form produced by PublicKeyHex, rejecting
// strings that do not decode to a point on the curve.
func ParsePublicKeyHex(pubKeyHex string) (*ecdsa.PublicKey, error) {
	pubBytes, err := common.DecodeFromString(pubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %v", err)
	}

	pub := ToPublicKey(pubBytes)
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil, fmt.Errorf("invalid public key %q", pubKeyHex)
	}

	return pub, nil
}
