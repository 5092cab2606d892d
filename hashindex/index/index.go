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

// Package index provides a compact hash index for seed matching.
//
// An index is built in two rounds of Add() followed by Freeze().
// The first round only counts entries, the second one writes them.
// Both rounds must add the same entries in the same order,
// which is what queue.Queues.Freeze does.
// After the second Freeze the index is read-only and can be queried
// by multiple goroutines:
//
//	for pos := idx.First(hash); pos != index.NotFound; {
//		v := idx.GetValue(pos)
//		...
//	}
package index

import (
	"github.com/pkg/errors"
)

// NotFound is returned by First when a hash is not in the index.
const NotFound int64 = -1

// ErrFrozen means writing to a frozen index or freezing it again.
var ErrFrozen = errors.New("hash index: already frozen")

// ErrNotFrozen means querying an index before it is frozen.
var ErrNotFrozen = errors.New("hash index: not frozen yet")

// ErrInvalidConfig means invalid configuration values.
var ErrInvalidConfig = errors.New("hash index: invalid configuration")

// ErrOutOfRange means an index, e.g., a thread index, out of range.
var ErrOutOfRange = errors.New("hash index: out of range")

// ErrHashOverflow means a hash has more bits than the configured hash bits.
var ErrHashOverflow = errors.New("hash index: hash bits overflow")

// ErrValueOverflow means a value has more bits than the configured value bits.
var ErrValueOverflow = errors.New("hash index: value bits overflow")

// ErrInconsistentPasses means the filling round does not add
// the same entries as the counting round.
var ErrInconsistentPasses = errors.New("hash index: counting and filling rounds differ")

// Adder accepts (hash, value) pairs.
type Adder interface {
	Add(hash uint64, value uint64)
}

// Index is a hash index which is sealed by Freeze.
type Index interface {
	Adder

	// Freeze ends a round of adding.
	Freeze() error

	// First returns the first position of a hash, or NotFound.
	First(hash uint64) int64

	// GetValue returns the value stored at a position.
	GetValue(pos int64) uint64

	// NumEntries returns the number of stored entries.
	NumEntries() int64
}
