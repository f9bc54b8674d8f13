package dhcpbind

// bitsPerWord is the number of bits in a word of the set.
const bitsPerWord = 64

// bitSet is a sparse set of occupied slot offsets of a pool.  A nil *bitSet
// is an empty bitSet.
type bitSet struct {
	words map[uint64]uint64
}

// newBitSet returns a new empty bitset.
func newBitSet() (s *bitSet) {
	return &bitSet{
		words: map[uint64]uint64{},
	}
}

// isSet returns true if the bit n is set.
func (s *bitSet) isSet(n uint64) (ok bool) {
	if s == nil {
		return false
	}

	word, ok := s.words[n/bitsPerWord]

	return ok && word&(1<<(n%bitsPerWord)) != 0
}

// isFull returns true if the word containing n has all bits set.  It allows
// skipping occupied words during the search of a free slot.
func (s *bitSet) isFull(n uint64) (ok bool) {
	if s == nil {
		return false
	}

	return s.words[n/bitsPerWord] == ^uint64(0)
}

// set sets or unsets a bit.  Empty words are removed.
func (s *bitSet) set(n uint64, ok bool) {
	if s == nil {
		return
	}

	idx := n / bitsPerWord
	word := s.words[idx]
	if ok {
		word |= 1 << (n % bitsPerWord)
	} else {
		word &^= 1 << (n % bitsPerWord)
	}

	if word == 0 {
		delete(s.words, idx)
	} else {
		s.words[idx] = word
	}
}
