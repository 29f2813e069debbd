// Package bitmap provides a growable bitset over non-negative integer IDs.
// schevo uses it to remember which row numbers of a file have been claimed
// during a run.
package bitmap

// Bitmap represents a bitset backed by a slice of uint64 words. The zero
// value is an empty set; it grows on demand. A Bitmap is not safe for
// concurrent use.
type Bitmap struct {
	data []uint64
}

// New returns a bitmap pre-sized for IDs in [0, sizeHint).
func New(sizeHint int) *Bitmap {
	if sizeHint <= 0 {
		return &Bitmap{}
	}
	return &Bitmap{data: make([]uint64, (sizeHint+63)/64)}
}

// Set sets the bit for id and reports whether it was previously clear.
// Negative ids are ignored and report false.
func (b *Bitmap) Set(id int) bool {
	if id < 0 {
		return false
	}
	word := id / 64
	if word >= len(b.data) {
		grown := make([]uint64, max(word+1, 2*len(b.data)))
		copy(grown, b.data)
		b.data = grown
	}
	mask := uint64(1) << uint(id%64)
	if b.data[word]&mask != 0 {
		return false
	}
	b.data[word] |= mask
	return true
}
