// Copyright © 2023-2024 Wei Shen <shenwei356@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package index

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pkg/errors"
	"github.com/shenwei356/hashindex/hashindex/index/bitpack"
	"github.com/shenwei356/util/bytesize"
	"github.com/twotwotwo/sorts"
)

const (
	stateCounting = iota
	stateFilling
	stateFrozen
)

// Compressed is a bit-packed hash index.
//
// Hashes are split into buckets by the top InitialPointerBits bits.
// A bit-packed pointer table stores the start of every bucket,
// and hashes and values are stored in two bit-packed arrays,
// sorted by (hash, value) in each bucket:
//
//	pointers: |0|2|2|5|...|n|
//	hashes:   |h h|   |h h h|...
//	values:   |v v|   |v v v|...
//
// With CompressHashes, only the hash bits below the pointer bits are stored.
type Compressed struct {
	params *CreateParams

	hashBits   int
	valueBits  int
	ptrBits    int
	lowBits    int // hash bits below the pointer bits
	storedBits int
	compress   bool

	hashMask  uint64
	valueMask uint64
	lowMask   uint64

	state int
	err   error

	// counts of buckets in the counting round,
	// and then cursors of buckets in the filling round.
	counts []uint64
	n      int64 // entries counted
	filled int64 // entries filled

	pointers *bitpack.Array
	hashes   *bitpack.Array
	values   *bitpack.Array

	bv      *roaring.Bitmap
	bvShift int

	nHashes int64 // distinct hashes
}

// NewCompressed creates a new empty index.
func NewCompressed(params *CreateParams) (*Compressed, error) {
	if params == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "nil CreateParams")
	}
	c := newCompressed(params)
	c.counts = make([]uint64, 1<<c.ptrBits)
	return c, nil
}

func newCompressed(params *CreateParams) *Compressed {
	c := &Compressed{
		params:     params,
		hashBits:   params.HashBits(),
		valueBits:  params.ValueBits(),
		ptrBits:    params.InitialPointerBits(),
		storedBits: params.StoredHashBits(),
		compress:   params.CompressHashes(),
	}
	c.lowBits = c.hashBits - c.ptrBits
	c.hashMask = bitpack.Mask(c.hashBits)
	c.valueMask = bitpack.Mask(c.valueBits)
	c.lowMask = bitpack.Mask(c.lowBits)
	if params.BitVectorBits() > 0 {
		c.bvShift = c.hashBits - params.BitVectorBits()
	}
	return c
}

// Params returns the parameters of the index.
func (c *Compressed) Params() *CreateParams { return c.params }

// Add adds a (hash, value) pair. See the package document for
// the two rounds of adding.
// It panics if the index is frozen, or the hash or value is too wide.
func (c *Compressed) Add(hash uint64, value uint64) {
	if hash&^c.hashMask != 0 {
		panic(errors.Wrapf(ErrHashOverflow, "hash: %d, hash bits: %d", hash, c.hashBits))
	}
	if value&^c.valueMask != 0 {
		panic(errors.Wrapf(ErrValueOverflow, "value: %d, value bits: %d", value, c.valueBits))
	}

	switch c.state {
	case stateCounting:
		c.counts[hash>>c.lowBits]++
		c.n++
	case stateFilling:
		b := hash >> c.lowBits
		pos := c.counts[b]
		if pos >= c.pointers.Get(int(b)+1) {
			if c.err == nil {
				c.err = errors.Wrapf(ErrInconsistentPasses, "bucket %d overflows", b)
			}
			return
		}
		c.hashes.Set(int(pos), c.stored(hash))
		c.values.Set(int(pos), value)
		c.counts[b]++
		c.filled++
	default:
		panic(ErrFrozen)
	}
}

// stored returns the part of a hash saved in the hash array.
func (c *Compressed) stored(hash uint64) uint64 {
	if c.compress {
		return hash & c.lowMask
	}
	return hash
}

// Freeze ends the counting round the first time it is called,
// and ends the filling round and seals the index the second time.
func (c *Compressed) Freeze() error {
	switch c.state {
	case stateCounting:
		return c.allocate()
	case stateFilling:
		if c.err != nil {
			return c.err
		}
		if c.filled != c.n {
			return errors.Wrapf(ErrInconsistentPasses, "%d entries counted, %d filled", c.n, c.filled)
		}
		c.counts = nil
		c.sortBuckets()
		c.buildBitVector()
		c.state = stateFrozen
		return nil
	default:
		return ErrFrozen
	}
}

// allocate computes the pointers and allocates the arrays of exact sizes.
func (c *Compressed) allocate() error {
	var err error
	c.pointers, err = bitpack.New(len(c.counts)+1, max(1, bits.Len64(uint64(c.n))))
	if err != nil {
		return err
	}
	var sum, cnt uint64
	for i := range c.counts {
		cnt = c.counts[i]
		c.pointers.Set(i, sum)
		c.counts[i] = sum // cursor
		sum += cnt
	}
	c.pointers.Set(len(c.counts), sum)

	c.hashes, err = bitpack.New(int(c.n), c.storedBits)
	if err != nil {
		return err
	}
	c.values, err = bitpack.New(int(c.n), c.valueBits)
	if err != nil {
		return err
	}

	c.state = stateFilling
	return nil
}

// Entries is a list of (hash, value) pairs, sorted by hash and then value.
type Entries [][2]uint64

func (s Entries) Len() int { return len(s) }
func (s Entries) Less(i, j int) bool {
	return s[i][0] < s[j][0] || (s[i][0] == s[j][0] && s[i][1] < s[j][1])
}
func (s Entries) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// buckets smaller than this are sorted in the current goroutine.
var parallelSortThreshold = 1 << 12

func (c *Compressed) sortBuckets() {
	nBuckets := c.pointers.Len() - 1
	var entries Entries
	var lo, hi, i int
	var pre uint64
	var nHashes int64
	for b := 0; b < nBuckets; b++ {
		lo, hi = int(c.pointers.Get(b)), int(c.pointers.Get(b+1))
		if lo == hi {
			continue
		}

		entries = entries[:0]
		for i = lo; i < hi; i++ {
			entries = append(entries, [2]uint64{c.hashes.Get(i), c.values.Get(i)})
		}
		if len(entries) > parallelSortThreshold {
			sorts.Quicksort(entries)
		} else {
			sort.Sort(entries)
		}

		for i = range entries {
			c.hashes.Set(lo+i, entries[i][0])
			c.values.Set(lo+i, entries[i][1])
			if i == 0 || entries[i][0] != pre {
				nHashes++
			}
			pre = entries[i][0]
		}
	}
	c.nHashes = nHashes
}

func (c *Compressed) buildBitVector() {
	if c.params.BitVectorBits() == 0 {
		return
	}
	c.bv = roaring.New()
	nBuckets := c.pointers.Len() - 1
	var lo, hi int
	for b := 0; b < nBuckets; b++ {
		lo, hi = int(c.pointers.Get(b)), int(c.pointers.Get(b+1))
		for i := lo; i < hi; i++ {
			c.bv.Add(uint32(c.fullHash(b, i) >> c.bvShift))
		}
	}
	c.bv.RunOptimize()
}

// fullHash restores the hash at position pos in bucket b.
func (c *Compressed) fullHash(b int, pos int) uint64 {
	if c.compress {
		return uint64(b)<<c.lowBits | c.hashes.Get(pos)
	}
	return c.hashes.Get(pos)
}

// bucket returns the range of the bucket of a hash.
func (c *Compressed) bucket(hash uint64) (int, int) {
	b := int(hash >> c.lowBits)
	return int(c.pointers.Get(b)), int(c.pointers.Get(b + 1))
}

// First returns the position of the first entry of a hash, or NotFound.
// It panics if the index is not frozen.
func (c *Compressed) First(hash uint64) int64 {
	if c.state != stateFrozen {
		panic(ErrNotFrozen)
	}
	if hash&^c.hashMask != 0 {
		return NotFound
	}
	if c.bv != nil && !c.bv.Contains(uint32(hash>>c.bvShift)) {
		return NotFound
	}

	lo, hi := c.bucket(hash)
	key := c.stored(hash)
	i := lo + sort.Search(hi-lo, func(i int) bool { return c.hashes.Get(lo+i) >= key })
	if i < hi && c.hashes.Get(i) == key {
		return int64(i)
	}
	return NotFound
}

// GetValue returns the value at a position returned by First.
func (c *Compressed) GetValue(pos int64) uint64 {
	return c.values.Get(int(pos))
}

// Hash returns the hash at a position.
func (c *Compressed) Hash(pos int64) uint64 {
	if !c.compress {
		return c.hashes.Get(int(pos))
	}
	nBuckets := c.pointers.Len() - 1
	b := sort.Search(nBuckets, func(b int) bool { return int64(c.pointers.Get(b+1)) > pos })
	return c.fullHash(b, int(pos))
}

// Count returns the number of entries of a hash.
func (c *Compressed) Count(hash uint64) int {
	first := c.First(hash)
	if first == NotFound {
		return 0
	}
	_, hi := c.bucket(hash)
	key := c.stored(hash)
	i := int(first) + 1
	for i < hi && c.hashes.Get(i) == key {
		i++
	}
	return i - int(first)
}

// Values appends values of a hash to vals, and returns the number of values.
func (c *Compressed) Values(hash uint64, vals *[]uint64) int {
	first := c.First(hash)
	if first == NotFound {
		return 0
	}
	_, hi := c.bucket(hash)
	key := c.stored(hash)
	i := int(first)
	for i < hi && c.hashes.Get(i) == key {
		*vals = append(*vals, c.values.Get(i))
		i++
	}
	return i - int(first)
}

// NumEntries returns the number of entries.
func (c *Compressed) NumEntries() int64 { return c.n }

// NumHashes returns the number of distinct hashes of a frozen index.
func (c *Compressed) NumHashes() int64 { return c.nHashes }

// Frozen tells whether the index is frozen.
func (c *Compressed) Frozen() bool { return c.state == stateFrozen }

// Bytes returns the memory of the frozen data.
func (c *Compressed) Bytes() int64 {
	var n int64
	if c.pointers != nil {
		n += c.pointers.Bytes() + c.hashes.Bytes() + c.values.Bytes()
	}
	if c.bv != nil {
		n += int64(c.bv.GetSizeInBytes())
	}
	return n
}

func (c *Compressed) String() string {
	return fmt.Sprintf("Compressed: entries=%d hashes=%d hashBits=%d valueBits=%d pointerBits=%d storedHashBits=%d memory=%s",
		c.n, c.nHashes, c.hashBits, c.valueBits, c.ptrBits, c.storedBits, bytesize.ByteSize(c.Bytes()))
}
