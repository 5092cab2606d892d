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

// Package bitpack stores unsigned integers of a fixed bit width
// contiguously in a slice of uint64 words.
//
// An element may span two words, e.g., with a width of 35 bits:
//
//	word 0: |e0 (35 bits)|e1 low 29 bits|
//	word 1: |e1 high 6 bits|e2 (35 bits)|...
//
// A width of 0 is allowed, all elements are 0 and no memory is used.
package bitpack

import (
	"errors"
	"fmt"
)

// ErrWidthOverflow means the width is not in [0, 64].
var ErrWidthOverflow = errors.New("bitpack: width [0, 64] overflow")

// ErrWordsMismatch means the number of given words does not match
// the number of elements and the width.
var ErrWordsMismatch = errors.New("bitpack: number of words mismatch")

// Array is an array of fixed-width unsigned integers.
type Array struct {
	words []uint64
	width uint8
	mask  uint64
	n     int
}

// New creates an Array of n zero elements with the given width.
func New(n int, width int) (*Array, error) {
	a, err := NewGrowable(n, width)
	if err != nil {
		return nil, err
	}
	a.words = a.words[:cap(a.words)]
	a.n = n
	return a, nil
}

// NewGrowable creates an empty Array for appending,
// with space for capacity elements.
func NewGrowable(capacity int, width int) (*Array, error) {
	if width < 0 || width > 64 {
		return nil, ErrWidthOverflow
	}
	if capacity < 0 {
		capacity = 0
	}
	return &Array{
		words: make([]uint64, 0, NumWords(capacity, width)),
		width: uint8(width),
		mask:  Mask(width),
	}, nil
}

// FromWords wraps words created by Words() of an Array with n elements.
func FromWords(words []uint64, n int, width int) (*Array, error) {
	if width < 0 || width > 64 {
		return nil, ErrWidthOverflow
	}
	if len(words) != NumWords(n, width) {
		return nil, ErrWordsMismatch
	}
	return &Array{words: words, width: uint8(width), mask: Mask(width), n: n}, nil
}

// NumWords returns the number of uint64 words needed for n elements.
func NumWords(n int, width int) int {
	return int((uint64(n)*uint64(width) + 63) >> 6)
}

// Mask returns a mask of the lowest width bits.
func Mask(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(width) - 1
}

// Len returns the number of elements.
func (a *Array) Len() int { return a.n }

// Width returns the bit width of elements.
func (a *Array) Width() int { return int(a.width) }

// Words returns the backing words, for serialization.
func (a *Array) Words() []uint64 { return a.words }

// Bytes returns the memory occupied by the backing words.
func (a *Array) Bytes() int64 { return int64(cap(a.words)) << 3 }

// Get returns the element at position i.
func (a *Array) Get(i int) uint64 {
	if a.width == 0 {
		return 0
	}
	bit := uint64(i) * uint64(a.width)
	w := bit >> 6
	off := bit & 63
	v := a.words[w] >> off
	if off+uint64(a.width) > 64 {
		v |= a.words[w+1] << (64 - off)
	}
	return v & a.mask
}

// Set sets the element at position i. Bits of v above the width are ignored.
func (a *Array) Set(i int, v uint64) {
	if a.width == 0 {
		return
	}
	v &= a.mask
	bit := uint64(i) * uint64(a.width)
	w := bit >> 6
	off := bit & 63
	a.words[w] = a.words[w]&^(a.mask<<off) | v<<off
	if off+uint64(a.width) > 64 {
		shift := 64 - off
		a.words[w+1] = a.words[w+1]&^(a.mask>>shift) | v>>shift
	}
}

// Append adds an element to the end.
func (a *Array) Append(v uint64) {
	if a.width > 0 {
		need := NumWords(a.n+1, int(a.width))
		for len(a.words) < need {
			a.words = append(a.words, 0)
		}
	}
	a.n++
	a.Set(a.n-1, v)
}

// Reset removes all elements and keeps the memory.
func (a *Array) Reset() {
	clear(a.words)
	a.words = a.words[:0]
	a.n = 0
}

func (a *Array) String() string {
	return fmt.Sprintf("bitpack.Array: len=%d width=%d words=%d", a.n, a.width, len(a.words))
}
