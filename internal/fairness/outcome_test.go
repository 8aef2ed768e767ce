package fairness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDerive_Deterministic(t *testing.T) {
	seed, err := GenerateServerSeed()
	assert.NoError(t, err)

	first, err := Derive(seed, "player-seed", 7, 10, 40, true)
	assert.NoError(t, err)
	second, err := Derive(seed, "player-seed", 7, 10, 40, true)
	assert.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDerive_InputsChangeOutcome(t *testing.T) {
	seed, _ := GenerateServerSeed()

	base, _ := Derive(seed, "seed-a", 1, 10, 40, true)
	otherClient, _ := Derive(seed, "seed-b", 1, 10, 40, true)
	otherNonce, _ := Derive(seed, "seed-a", 2, 10, 40, true)

	assert.NotEqual(t, base, otherClient)
	assert.NotEqual(t, base, otherNonce)
}

func TestDerive_UniqueDraws(t *testing.T) {
	seed, _ := GenerateServerSeed()

	values, err := Derive(seed, "client", 42, 40, 40, true)
	assert.NoError(t, err)
	assert.Len(t, values, 40)

	seen := make(map[int]bool)
	for _, v := range values {
		assert.False(t, seen[v], "value %d drawn twice", v)
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, 40)
		seen[v] = true
	}
}

func TestDerive_LargeCountRehashes(t *testing.T) {
	seed, _ := GenerateServerSeed()

	// A single digest yields 8 windows; 100 draws forces counter re-hashing.
	values, err := Derive(seed, "client", 1, 100, 10000, false)
	assert.NoError(t, err)
	assert.Len(t, values, 100)
}

func TestDerive_InvalidParameters(t *testing.T) {
	seed, _ := GenerateServerSeed()

	_, err := Derive(seed, "client", 1, 0, 40, false)
	assert.Error(t, err)

	_, err = Derive(seed, "client", 1, 41, 40, true)
	assert.Error(t, err)
}

func TestVerifyServerSeed(t *testing.T) {
	seed, _ := GenerateServerSeed()
	hash := HashServerSeed(seed)

	assert.True(t, VerifyServerSeed(seed, hash))

	tampered := append([]byte{}, seed...)
	tampered[0] ^= 0xff
	assert.False(t, VerifyServerSeed(tampered, hash))
}
