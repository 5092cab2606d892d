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

// Package queue buffers (hash, id) pairs from multiple goroutines
// and writes them into an index.Index in a deterministic order.
//
// Example:
//
//	q, err := queue.New(threads, hashBits, size, valueBits, params.InitialPointerBits(), filter)
//
//	var wg sync.WaitGroup
//	for i := 0; i < threads; i++ {
//		tq, _ := q.Queue(i)
//		wg.Add(1)
//		go func() {
//			defer wg.Done()
//			tq.Add(hash, id) // only in this goroutine
//		}()
//	}
//	wg.Wait()
//
//	err = q.Freeze(idx)
package queue

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shenwei356/hashindex/hashindex/index"
	"github.com/shenwei356/hashindex/hashindex/index/bitpack"
)

// MaxRadixBits is the maximum number of radix bits,
// i.e., at most 1024 partitions in each thread queue.
var MaxRadixBits = 10

// MaxPartitionCapacity is the maximum number of entries
// pre-allocated for a partition.
var MaxPartitionCapacity = 1 << 20

// Queues holds one ThreadQueue for each producer goroutine.
type Queues struct {
	threads   int
	hashBits  int
	valueBits int
	radixBits int
	lowerBits int
	radixSize int64 // expected entries of a thread

	filter index.FilterMethod
	queues []*ThreadQueue

	frozen bool
}

// New creates Queues for a number of producer goroutines.
//
//	threads:       the number of producers, > 0.
//	hashBits:      bits of hashes, [1, 64].
//	size:          the expected total number of entries.
//	valueBits:     bits of ids, [0, 64], 0 for 64.
//	radixBitsHint: the preferred number of radix bits,
//	               e.g., the initial pointer bits of the index.
//	filter:        nil for keeping all hashes.
func New(threads int, hashBits int, size int64, valueBits int, radixBitsHint int,
	filter index.FilterMethod) (*Queues, error) {

	if threads <= 0 {
		return nil, errors.Wrapf(index.ErrInvalidConfig, "threads: %d", threads)
	}
	if hashBits < 1 || hashBits > 64 {
		return nil, errors.Wrapf(index.ErrInvalidConfig, "hash bits: %d, valid range: [1, 64]", hashBits)
	}
	if valueBits < 0 || valueBits > 64 {
		return nil, errors.Wrapf(index.ErrInvalidConfig, "value bits: %d, valid range: [0, 64]", valueBits)
	}
	if size < 0 {
		return nil, errors.Wrapf(index.ErrInvalidConfig, "size: %d", size)
	}
	if filter == nil {
		filter = index.Unfiltered{}
	}

	radixBits := max(0, min(radixBitsHint, hashBits, MaxRadixBits))

	q := &Queues{
		threads:   threads,
		hashBits:  hashBits,
		valueBits: valueBits,
		radixBits: radixBits,
		lowerBits: hashBits - radixBits,
		radixSize: (size + int64(threads) - 1) / int64(threads),
		filter:    filter,
	}

	if valueBits == 0 {
		valueBits = 64
	}
	capacity := int(min(q.radixSize>>radixBits, int64(MaxPartitionCapacity)))
	q.queues = make([]*ThreadQueue, threads)
	for i := range q.queues {
		q.queues[i] = newThreadQueue(hashBits, q.lowerBits, valueBits, 1<<radixBits, capacity)
	}

	return q, nil
}

// Queue returns the queue of the i-th (0-based) producer.
func (q *Queues) Queue(i int) (*ThreadQueue, error) {
	if i < 0 || i >= q.threads {
		return nil, errors.Wrapf(index.ErrOutOfRange, "thread index: %d, valid range: [0, %d)", i, q.threads)
	}
	return q.queues[i], nil
}

// Freeze writes all buffered entries into idx and freezes it.
// It must be called only once, after all producers finished.
//
// Entries are added in two rounds, each ended with idx.Freeze(),
// the first round for counting and the second one for filling.
// In each round, partitions are drained in ascending radix order,
// in a partition, thread queues are drained in ascending order,
// and the entries of a thread queue keep their insertion order.
// Entries whose hashes are rejected by the filter are skipped,
// the frequency of a hash is its number of entries in all threads.
func (q *Queues) Freeze(idx index.Index) error {
	if q.frozen {
		return index.ErrFrozen
	}
	q.frozen = true

	q.filter.Initialize(idx)
	_, unfiltered := q.filter.(index.Unfiltered)

	var freq map[uint64]int
	if !unfiltered {
		freq = make(map[uint64]int, 1024)
	}

	nPartitions := 1 << q.radixBits
	for round := 1; round <= 2; round++ {
		for r := 0; r < nPartitions; r++ {
			q.drain(idx, r, freq)
		}
		if err := idx.Freeze(); err != nil {
			return errors.Wrapf(err, "freezing round %d", round)
		}
	}

	for _, tq := range q.queues {
		tq.release()
	}
	return nil
}

// drain adds entries of a partition to idx.
func (q *Queues) drain(idx index.Index, r int, freq map[uint64]int) {
	var res, ids *bitpack.Array
	var i int

	if freq != nil {
		clear(freq)
		for _, tq := range q.queues {
			res = tq.residues[r]
			for i = 0; i < res.Len(); i++ {
				freq[res.Get(i)]++
			}
		}
	}

	radix := uint64(r) << q.lowerBits
	var residue, hash uint64
	for _, tq := range q.queues {
		res, ids = tq.residues[r], tq.ids[r]
		for i = 0; i < res.Len(); i++ {
			residue = res.Get(i)
			hash = radix | residue
			if freq != nil && !q.filter.KeepHash(hash, freq[residue]) {
				continue
			}
			idx.Add(hash, ids.Get(i))
		}
	}
}

// Threads returns the number of thread queues.
func (q *Queues) Threads() int { return q.threads }

// HashBits returns the bits of hashes.
func (q *Queues) HashBits() int { return q.hashBits }

// RadixBits returns the number of top hash bits for partitioning.
func (q *Queues) RadixBits() int { return q.radixBits }

// LowerBits returns the number of hash bits stored as residues.
func (q *Queues) LowerBits() int { return q.lowerBits }

// RadixSize returns the expected number of entries of a thread queue.
func (q *Queues) RadixSize() int64 { return q.radixSize }

// Partitions returns the number of partitions of a thread queue.
func (q *Queues) Partitions() int { return 1 << q.radixBits }

// NumEntries returns the number of buffered entries.
func (q *Queues) NumEntries() int64 {
	var n int64
	for _, tq := range q.queues {
		n += tq.n
	}
	return n
}

// Integrity checks the internal consistency.
func (q *Queues) Integrity() error {
	if q.radixBits+q.lowerBits != q.hashBits {
		return errors.Errorf("radix bits (%d) + lower bits (%d) != hash bits (%d)", q.radixBits, q.lowerBits, q.hashBits)
	}
	if len(q.queues) != q.threads {
		return errors.Errorf("%d thread queues, expected %d", len(q.queues), q.threads)
	}
	if q.frozen {
		return nil
	}
	for i, tq := range q.queues {
		if len(tq.residues) != q.Partitions() || len(tq.ids) != q.Partitions() {
			return errors.Errorf("thread queue %d: %d partitions, expected %d", i, len(tq.residues), q.Partitions())
		}
		var n int64
		for r, res := range tq.residues {
			if res.Len() != tq.ids[r].Len() {
				return errors.Errorf("thread queue %d, partition %d: %d residues, %d ids", i, r, res.Len(), tq.ids[r].Len())
			}
			n += int64(res.Len())
		}
		if n != tq.n {
			return errors.Errorf("thread queue %d: %d entries, counted %d", i, n, tq.n)
		}
	}
	return nil
}

func (q *Queues) String() string {
	return fmt.Sprintf("IndexQueues: threads=%d radixBits=%d radixSize=%d lowerBits=%d",
		q.threads, q.radixBits, q.radixSize, q.lowerBits)
}

// ThreadQueue buffers entries of one producer goroutine.
// It is not safe for concurrent use.
type ThreadQueue struct {
	lowerBits int
	hashMask  uint64
	lowerMask uint64
	idMask    uint64

	// bit-packed residues and ids of each partition
	residues []*bitpack.Array
	ids      []*bitpack.Array

	n int64
}

func newThreadQueue(hashBits, lowerBits, valueBits, partitions, capacity int) *ThreadQueue {
	tq := &ThreadQueue{
		lowerBits: lowerBits,
		hashMask:  bitpack.Mask(hashBits),
		lowerMask: bitpack.Mask(lowerBits),
		idMask:    bitpack.Mask(valueBits),
		residues:  make([]*bitpack.Array, partitions),
		ids:       make([]*bitpack.Array, partitions),
	}
	for r := 0; r < partitions; r++ {
		// widths are checked in New
		tq.residues[r], _ = bitpack.NewGrowable(capacity, lowerBits)
		tq.ids[r], _ = bitpack.NewGrowable(capacity, valueBits)
	}
	return tq
}

// Add appends a (hash, id) pair to the partition of the hash radix.
// It panics if the hash or id has more bits than configured.
func (tq *ThreadQueue) Add(hash uint64, id uint64) {
	if hash&^tq.hashMask != 0 {
		panic(errors.Wrapf(index.ErrHashOverflow, "hash: %d", hash))
	}
	if id&^tq.idMask != 0 {
		panic(errors.Wrapf(index.ErrValueOverflow, "id: %d", id))
	}
	r := hash >> tq.lowerBits
	tq.residues[r].Append(hash & tq.lowerMask)
	tq.ids[r].Append(id)
	tq.n++
}

// NumEntries returns the number of buffered entries.
func (tq *ThreadQueue) NumEntries() int64 { return tq.n }

func (tq *ThreadQueue) release() {
	tq.residues = nil
	tq.ids = nil
}
