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

	"github.com/pkg/errors"
	"github.com/shenwei356/hashindex/hashindex/index/bitpack"
	"github.com/shenwei356/util/bytesize"
)

// MinPointerBits is the minimum number of initial pointer bits.
var MinPointerBits = 1

// MaxPointerBits is the maximum number of initial pointer bits,
// i.e., at most 2^30 buckets.
var MaxPointerBits = 30

// MaxBitVectorBits is the maximum number of hash prefix bits in the bit vector.
var MaxBitVectorBits = 32

// CreateOptions contains the values for deriving CreateParams.
type CreateOptions struct {
	Size      int64 // expected number of entries
	HashBits  int   // bits of hashes, [1, 64]
	ValueBits int   // bits of values, [1, 64]

	CompressHashes  bool // only store the hash bits not covered by pointers
	CreateBitVector bool // create a bit vector of hash prefixes for fast rejection
	SpaceEfficient  bool // use fewer pointers, i.e., larger buckets

	MaxMemory int64 // memory budget in bytes, 0 for no limit
}

// CreateParams is the bit layout of a Compressed index.
// It is immutable after creation.
type CreateParams struct {
	size      int64
	hashBits  int
	valueBits int

	compressHashes  bool
	createBitVector bool
	spaceEfficient  bool

	initialPointerBits int
	bitVectorBits      int
}

// NewCreateParams checks the options and derives CreateParams.
func NewCreateParams(opt *CreateOptions) (*CreateParams, error) {
	if opt.Size < 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "size: %d", opt.Size)
	}
	if opt.HashBits < 1 || opt.HashBits > 64 {
		return nil, errors.Wrapf(ErrInvalidConfig, "hash bits: %d, valid range: [1, 64]", opt.HashBits)
	}
	if opt.ValueBits < 1 || opt.ValueBits > 64 {
		return nil, errors.Wrapf(ErrInvalidConfig, "value bits: %d, valid range: [1, 64]", opt.ValueBits)
	}
	if opt.MaxMemory < 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "memory budget: %d", opt.MaxMemory)
	}

	p := &CreateParams{
		size:            opt.Size,
		hashBits:        opt.HashBits,
		valueBits:       opt.ValueBits,
		compressHashes:  opt.CompressHashes,
		createBitVector: opt.CreateBitVector,
		spaceEfficient:  opt.SpaceEfficient,
	}
	if opt.CreateBitVector {
		p.bitVectorBits = min(opt.HashBits, MaxBitVectorBits)
	}

	p.initialPointerBits = InitialPointerBits(opt.Size, opt.HashBits, opt.SpaceEfficient)

	if opt.MaxMemory > 0 {
		p.shrinkPointers(opt.MaxMemory)
		if p.Bytes() > opt.MaxMemory {
			return nil, errors.Wrapf(ErrInvalidConfig, "estimated memory %s exceeds the budget %s",
				bytesize.ByteSize(p.Bytes()), bytesize.ByteSize(opt.MaxMemory))
		}
	}

	return p, nil
}

// shrinkPointers lowers the pointer bits until the estimated memory
// fits the budget or stops decreasing. With compressed hashes,
// every pointer bit removed adds one bit to each stored hash.
func (p *CreateParams) shrinkPointers(budget int64) {
	cur := p.Bytes()
	for cur > budget && p.initialPointerBits > MinPointerBits {
		p.initialPointerBits--
		next := p.Bytes()
		if next >= cur {
			p.initialPointerBits++
			return
		}
		cur = next
	}
}

// InitialPointerBits returns the number of hash prefix bits used
// to address buckets, about log2(size), 2 bits fewer if spaceEfficient.
func InitialPointerBits(size int64, hashBits int, spaceEfficient bool) int {
	var b int
	if size > 1 {
		b = bits.Len64(uint64(size - 1))
	}
	if spaceEfficient {
		b -= 2
	}
	upper := min(hashBits, MaxPointerBits)
	if b > upper {
		b = upper
	}
	if b < MinPointerBits {
		b = MinPointerBits
	}
	if b > hashBits {
		b = hashBits
	}
	return b
}

// Size returns the expected number of entries.
func (p *CreateParams) Size() int64 { return p.size }

// HashBits returns the bits of hashes.
func (p *CreateParams) HashBits() int { return p.hashBits }

// ValueBits returns the bits of values.
func (p *CreateParams) ValueBits() int { return p.valueBits }

// InitialPointerBits returns the number of hash prefix bits addressing buckets.
func (p *CreateParams) InitialPointerBits() int { return p.initialPointerBits }

// CompressHashes tells whether only hash bits below the pointer bits are stored.
func (p *CreateParams) CompressHashes() bool { return p.compressHashes }

// CreateBitVector tells whether a bit vector of hash prefixes is created.
func (p *CreateParams) CreateBitVector() bool { return p.createBitVector }

// SpaceEfficient tells whether fewer pointers are used.
func (p *CreateParams) SpaceEfficient() bool { return p.spaceEfficient }

// BitVectorBits returns the hash prefix bits of the bit vector, 0 for none.
func (p *CreateParams) BitVectorBits() int { return p.bitVectorBits }

// StoredHashBits returns the bits stored for each hash.
func (p *CreateParams) StoredHashBits() int {
	if p.compressHashes {
		return p.hashBits - p.initialPointerBits
	}
	return p.hashBits
}

// PointerWidth returns the bits of each pointer.
func (p *CreateParams) PointerWidth() int {
	return max(1, bits.Len64(uint64(p.size)))
}

// Bytes estimates the memory of a frozen index with Size() entries.
func (p *CreateParams) Bytes() int64 {
	n := int(p.size)
	total := bitpack.NumWords((1<<p.initialPointerBits)+1, p.PointerWidth())
	total += bitpack.NumWords(n, p.StoredHashBits())
	total += bitpack.NumWords(n, p.valueBits)
	bytes := int64(total) << 3
	if p.bitVectorBits > 0 {
		// about 2 bytes per element for sparse containers,
		// bounded by a plain bitmap.
		bytes += max(8, min(p.size<<1, int64(1)<<p.bitVectorBits>>3))
	}
	return bytes
}

func (p *CreateParams) String() string {
	return fmt.Sprintf("CreateParams: size=%d hashBits=%d valueBits=%d initialPointerBits=%d compressHashes=%v bitVectorBits=%d memory=%s",
		p.size, p.hashBits, p.valueBits, p.initialPointerBits, p.compressHashes, p.bitVectorBits, bytesize.ByteSize(p.Bytes()))
}
