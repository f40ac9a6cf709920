package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// TokenKeyLength is the length of the hex-encoded dedup key.
// 16 hex chars = 64 bits, enough that accidental collisions between
// distinct tokens are a negligible (and accepted) risk.
const TokenKeyLength = 16

// DeriveTokenKey derives a short, non-reversible identifier from an access
// token. The same token always yields the same key, so the key can be used
// to deduplicate processing of that token without ever persisting token
// material itself.
func DeriveTokenKey(accessToken string) string {
	sum := blake2b.Sum256([]byte(accessToken))
	return hex.EncodeToString(sum[:])[:TokenKeyLength]
}
