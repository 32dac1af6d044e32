package domain

import (
	"math/rand"
	"sync"
	"time"
)

// Shuffler assigns each player a private question order.
type Shuffler struct {
	seed func() int64
}

// NewShuffler seeds every permutation from the wall clock plus a draw from the
// global generator, so simultaneous joins get uncorrelated orders.
func NewShuffler() *Shuffler {
	return &Shuffler{seed: func() int64 {
		return time.Now().UnixNano() + rand.Int63()
	}}
}

// NewSeededShuffler is deterministic; tests use it.
func NewSeededShuffler(seed int64) *Shuffler {
	var mu sync.Mutex
	rnd := rand.New(rand.NewSource(seed))
	return &Shuffler{seed: func() int64 {
		mu.Lock()
		defer mu.Unlock()
		return rnd.Int63()
	}}
}

// Order returns a Fisher-Yates permutation of ids. The input is not modified.
func (s *Shuffler) Order(ids []string) []string {
	out := append([]string(nil), ids...)
	rnd := rand.New(rand.NewSource(s.seed()))
	for i := len(out) - 1; i > 0; i-- {
		j := rnd.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

const joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// JoinCodeLength is the number of characters in a join code.
const JoinCodeLength = 6

// NewJoinCode returns a random uppercase alphanumeric code.
func NewJoinCode(rnd *rand.Rand) string {
	b := make([]byte, JoinCodeLength)
	for i := range b {
		b[i] = joinCodeAlphabet[rnd.Intn(len(joinCodeAlphabet))]
	}
	return string(b)
}
