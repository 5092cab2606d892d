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

import "fmt"

// FilterMethod decides which hashes are kept in an index.
// It is only called from the goroutine freezing the index,
// so it does not need to be safe for concurrent use.
type FilterMethod interface {
	// Initialize prepares the state for building idx.
	Initialize(idx Index)

	// KeepHash reports whether entries of a hash observed
	// frequency times are kept.
	KeepHash(hash uint64, frequency int) bool
}

// Unfiltered keeps all hashes.
type Unfiltered struct{}

// Initialize does nothing.
func (Unfiltered) Initialize(Index) {}

// KeepHash always returns true.
func (Unfiltered) KeepHash(uint64, int) bool { return true }

func (Unfiltered) String() string { return "unfiltered" }

// FixedRepeatFrequency discards hashes which occur more than Threshold
// times, i.e., highly repetitive seeds.
type FixedRepeatFrequency struct {
	Threshold int
}

// NewFixedRepeatFrequency returns a FixedRepeatFrequency filter.
func NewFixedRepeatFrequency(threshold int) *FixedRepeatFrequency {
	return &FixedRepeatFrequency{Threshold: threshold}
}

// Initialize does nothing.
func (f *FixedRepeatFrequency) Initialize(Index) {}

// KeepHash returns true if frequency <= Threshold.
func (f *FixedRepeatFrequency) KeepHash(_ uint64, frequency int) bool {
	return frequency <= f.Threshold
}

func (f *FixedRepeatFrequency) String() string {
	return fmt.Sprintf("fixed repeat frequency: %d", f.Threshold)
}
