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


package util

import (
	"github.com/pkg/errors"
)

// ErrInvalidK means k is out of range of [1, 32].
var ErrInvalidK = errors.New("kmer: invalid k, valid range: [1, 32]")

// base2bit maps bases to 2-bit codes: A/a 0, C/c 1, G/g 2, T/t/U/u 3,
// and others to 4.
var base2bit [256]uint64

func init() {
	for i := range base2bit {
		base2bit[i] = 4
	}
	for b, c := range map[byte]uint64{'A': 0, 'C': 1, 'G': 2, 'T': 3, 'U': 3} {
		base2bit[b] = c
		base2bit[b+32] = c // lower case
	}
}

// KmerIterator iterates 2-bit encoded k-mers of a sequence.
// K-mers containing bases other than ACGTU are skipped.
type KmerIterator struct {
	s    []byte
	k    int
	mask uint64

	i     int    // position of the next base
	code  uint64 // code of the current window
	valid int    // number of valid bases ending at i-1, at most k
}

// NewKmerIterator returns a KmerIterator.
func NewKmerIterator(s []byte, k int) (*KmerIterator, error) {
	if k < 1 || k > 32 {
		return nil, errors.Wrapf(ErrInvalidK, "k: %d", k)
	}
	return &KmerIterator{s: s, k: k, mask: 1<<(uint(k)<<1) - 1}, nil
}

// Reset reuses the iterator for another sequence.
func (iter *KmerIterator) Reset(s []byte) {
	iter.s = s
	iter.i = 0
	iter.code = 0
	iter.valid = 0
}

// Next returns the code and the 0-based start position of the next k-mer.
func (iter *KmerIterator) Next() (code uint64, pos int, ok bool) {
	var c uint64
	for iter.i < len(iter.s) {
		c = base2bit[iter.s[iter.i]]
		iter.i++
		if c > 3 {
			iter.valid = 0
			iter.code = 0
			continue
		}
		iter.code = (iter.code<<2 | c) & iter.mask
		if iter.valid < iter.k {
			iter.valid++
		}
		if iter.valid == iter.k {
			return iter.code, iter.i - iter.k, true
		}
	}
	return 0, -1, false
}

// K returns the k-mer size.
func (iter *KmerIterator) K() int { return iter.k }

// DustScore returns the DUST score of a k-mer code, i.e.,
// the sum of c*(c-1)/2 over counts c of its k-2 triplets.
func DustScore(code uint64, k int) int {
	if k < 3 {
		return 0
	}
	var counts [64]uint8
	for i := 0; i < k-2; i++ {
		counts[code>>(i<<1)&63]++
	}
	var score int
	for _, c := range counts {
		if c > 1 {
			score += int(c) * int(c-1) >> 1
		}
	}
	return score
}

// IsLowComplexity checks k-mer complexity with the DUST score.
func IsLowComplexity(code uint64, k int, threshold int) bool {
	return DustScore(code, k) > threshold
}
