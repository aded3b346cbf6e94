package upload

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	dedupstore "github.com/you-humble/imgpress/internal/infra/store/dedup"

	"github.com/zeebo/blake3"
)

const blake3Prefix = "blake3:"

// VerifyDigest reports whether hash is the digest of data. Bare and
// "sha256:" digests are SHA-256, "blake3:" digests are BLAKE3-256, both in
// hex.
func VerifyDigest(data []byte, hash string) bool {
	hash = dedupstore.NormalizeHash(hash)
	if hash == "" {
		return false
	}

	var sum [32]byte
	if rest, ok := strings.CutPrefix(hash, blake3Prefix); ok {
		sum = blake3.Sum256(data)
		hash = rest
	} else {
		sum = sha256.Sum256(data)
	}

	want, err := hex.DecodeString(hash)
	if err != nil || len(want) != len(sum) {
		return false
	}
	return subtle.ConstantTimeCompare(want, sum[:]) == 1
}

// Digest is the canonical key a verified upload is indexed under.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
