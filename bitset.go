package ffsp

import "math/bits"

// bitset is a flat bit-per-inode-number dirty marker. The "iterate over
// dirty inodes" pattern decomposes into enumerating set bits here and
// indexing the inode cache's dense vector by the resulting inode number.
type bitset struct {
	words []uint64
}

func newBitset(n uint32) *bitset {
	return &bitset{words: make([]uint64, (n+63)/64)}
}

func (b *bitset) set(i uint32) {
	b.words[i/64] |= 1 << (i % 64)
}

func (b *bitset) clear(i uint32) {
	b.words[i/64] &^= 1 << (i % 64)
}

func (b *bitset) test(i uint32) bool {
	return b.words[i/64]&(1<<(i%64)) != 0
}

// popcount returns the number of set bits.
func (b *bitset) popcount() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// forEach calls fn for every set bit, in ascending order of inode number.
func (b *bitset) forEach(fn func(ino uint32)) {
	for wi, w := range b.words {
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			fn(uint32(wi*64 + bit))
			w &^= 1 << uint(bit)
		}
	}
}
