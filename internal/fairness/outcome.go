// Package fairness implements the commit-reveal outcome scheme.
//
// The server commits to a secret seed by publishing its SHA-256 hash before
// the player acts. Outcomes are derived with HMAC-SHA256 keyed by the server
// seed over "clientSeed:nonce:counter", so revealing the seed after settlement
// lets anyone recompute the round.
package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ServerSeedLength is the size of the secret seed in bytes.
const ServerSeedLength = 32

// GenerateServerSeed returns a cryptographically secure random seed.
func GenerateServerSeed() ([]byte, error) {
	seed := make([]byte, ServerSeedLength)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate server seed: %w", err)
	}
	return seed, nil
}

// HashServerSeed returns the hex SHA-256 commitment for a seed.
func HashServerSeed(seed []byte) string {
	sum := sha256.Sum256(seed)
	return hex.EncodeToString(sum[:])
}

// GenerateClientSeed returns a system-generated client seed for players who
// do not supply their own.
func GenerateClientSeed() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// VerifyServerSeed reports whether a revealed seed matches its published hash.
func VerifyServerSeed(seed []byte, hash string) bool {
	return hmac.Equal([]byte(HashServerSeed(seed)), []byte(hash))
}

// Derive produces count pseudo-random values in [0, space) from the triple
// (serverSeed, clientSeed, nonce). The digest is sliced into 4-byte windows,
// each reduced modulo the outcome space; when unique is set, repeated values
// are rejected and drawing continues. Once a digest is exhausted the counter
// increments and a fresh digest is produced, so any draw count is supported.
//
// Identical inputs always produce identical output.
func Derive(serverSeed []byte, clientSeed string, nonce int64, count, space int, unique bool) ([]int, error) {
	if count <= 0 || space <= 0 {
		return nil, fmt.Errorf("invalid draw parameters: count=%d space=%d", count, space)
	}
	if unique && count > space {
		return nil, fmt.Errorf("cannot draw %d unique values from a space of %d", count, space)
	}

	values := make([]int, 0, count)
	seen := make(map[int]bool, count)

	for counter := 0; len(values) < count; counter++ {
		mac := hmac.New(sha256.New, serverSeed)
		fmt.Fprintf(mac, "%s:%d:%d", clientSeed, nonce, counter)
		digest := mac.Sum(nil)

		for i := 0; i+4 <= len(digest) && len(values) < count; i += 4 {
			v := int(binary.BigEndian.Uint32(digest[i:i+4]) % uint32(space))
			if unique {
				if seen[v] {
					continue
				}
				seen[v] = true
			}
			values = append(values, v)
		}
	}

	return values, nil
}
