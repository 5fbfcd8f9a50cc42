package bench

import "github.com/spaolacci/murmur3"

// Picker supplies uniform indices for key selection.
type Picker interface {
	Intn(n int) int
}

// KeySet holds every key written during a run. It only grows. Keys are
// fingerprinted with murmur3 so that a random key colliding with an earlier
// one shows up as a smaller Distinct count instead of going unnoticed.
type KeySet struct {
	keys         [][]byte
	fingerprints map[[2]uint64]struct{}
}

// NewKeySet creates an empty set sized for capacity keys.
func NewKeySet(capacity int) *KeySet {
	return &KeySet{
		keys:         make([][]byte, 0, capacity),
		fingerprints: make(map[[2]uint64]struct{}, capacity),
	}
}

// Add appends key. The set keeps the slice; callers must not modify it.
func (s *KeySet) Add(key []byte) {
	s.keys = append(s.keys, key)
	h1, h2 := murmur3.Sum128(key)
	s.fingerprints[[2]uint64{h1, h2}] = struct{}{}
}

// Len returns the number of keys added, duplicates included.
func (s *KeySet) Len() int {
	return len(s.keys)
}

// Distinct returns the number of distinct keys added.
func (s *KeySet) Distinct() int {
	return len(s.fingerprints)
}

// Pick returns a key chosen uniformly at random, with replacement.
// It returns false if the set is empty.
func (s *KeySet) Pick(p Picker) ([]byte, bool) {
	if len(s.keys) == 0 {
		return nil, false
	}
	return s.keys[p.Intn(len(s.keys))], true
}
