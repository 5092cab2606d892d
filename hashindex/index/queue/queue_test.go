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

package queue

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/shenwei356/hashindex/hashindex/index"
)

// recorder records calls, printing the hash as (hash>>3, hash&7).
type recorder struct {
	lines   []string
	entries [][2]uint64
	frozen  int
}

func (r *recorder) Add(hash uint64, value uint64) {
	r.lines = append(r.lines, fmt.Sprintf("add radix=%d hash=%d id=%d", hash>>3, hash&7, value))
	r.entries = append(r.entries, [2]uint64{hash, value})
}

func (r *recorder) Freeze() error {
	r.lines = append(r.lines, "freeze")
	r.frozen++
	return nil
}

func (r *recorder) First(hash uint64) int64   { return index.NotFound }
func (r *recorder) GetValue(pos int64) uint64 { return 0 }
func (r *recorder) NumEntries() int64         { return int64(len(r.entries)) }

func TestDrainOrder(t *testing.T) {
	q, err := New(4, 13, 10, 2, 9, nil)
	if err != nil {
		t.Error(err)
		return
	}

	s := "IndexQueues: threads=4 radixBits=9 radixSize=3 lowerBits=4"
	if q.String() != s {
		t.Errorf("expected %q, returned %q", s, q.String())
	}
	if err = q.Integrity(); err != nil {
		t.Error(err)
	}

	h1 := uint64(1<<3 | 1)
	h2 := uint64(2<<3 | 2)
	q0, _ := q.Queue(0)
	q1, _ := q.Queue(1)
	q3, _ := q.Queue(3)
	q0.Add(h1, 1)
	q1.Add(h1, 2)
	q1.Add(h2, 1)
	q0.Add(h2, 2)
	q3.Add(h2, 3)

	if q.NumEntries() != 5 {
		t.Errorf("unexpected number of entries: %d", q.NumEntries())
	}
	if err = q.Integrity(); err != nil {
		t.Error(err)
	}

	r := &recorder{}
	if err = q.Freeze(r); err != nil {
		t.Error(err)
		return
	}

	round := []string{
		"add radix=1 hash=1 id=1",
		"add radix=1 hash=1 id=2",
		"add radix=2 hash=2 id=2",
		"add radix=2 hash=2 id=1",
		"add radix=2 hash=2 id=3",
		"freeze",
	}
	expected := strings.Join(append(round, round...), "\n")
	if result := strings.Join(r.lines, "\n"); result != expected {
		t.Errorf("expected:\n%s\nreturned:\n%s", expected, result)
	}

	if err = q.Freeze(r); err != index.ErrFrozen {
		t.Errorf("expected ErrFrozen, returned: %v", err)
	}
	if err = q.Integrity(); err != nil {
		t.Error(err)
	}
}

func TestParameters(t *testing.T) {
	tests := []struct {
		threads   int
		hashBits  int
		size      int64
		lowerBits int
		radixBits int
		radixSize int64
	}{
		{4, 13, 10, 3, 10, 3},
		{4, 13, 11, 3, 10, 3},
		{4, 13, 12, 3, 10, 3},
		{4, 13, 13, 3, 10, 4},
		{4, 11, 13, 1, 10, 4},
		{4, 10, 13, 0, 10, 4},
		{4, 9, 13, 0, 9, 4},
		{1, 64, 0, 54, 10, 0},
	}
	for _, test := range tests {
		q, err := New(test.threads, test.hashBits, test.size, 0, test.hashBits, nil)
		if err != nil {
			t.Error(err)
			continue
		}
		if q.LowerBits() != test.lowerBits || q.RadixBits() != test.radixBits || q.RadixSize() != test.radixSize {
			t.Errorf("threads=%d hashBits=%d size=%d: %s, expected lowerBits=%d radixBits=%d radixSize=%d",
				test.threads, test.hashBits, test.size, q, test.lowerBits, test.radixBits, test.radixSize)
		}
		if q.Partitions() != 1<<test.radixBits {
			t.Errorf("unexpected partitions: %d", q.Partitions())
		}
	}

	// small hint
	q, _ := New(2, 20, 100, 8, 3, nil)
	if q.RadixBits() != 3 || q.LowerBits() != 17 {
		t.Errorf("unexpected bits: %s", q)
	}
}

func TestInvalidConfig(t *testing.T) {
	for _, args := range []struct {
		threads, hashBits int
		size              int64
		valueBits         int
	}{
		{0, 13, 10, 8},
		{-1, 13, 10, 8},
		{4, 0, 10, 8},
		{4, 65, 10, 8},
		{4, 13, -1, 8},
		{4, 13, 10, -1},
		{4, 13, 10, 65},
	} {
		q, err := New(args.threads, args.hashBits, args.size, args.valueBits, 8, nil)
		if !errors.Is(err, index.ErrInvalidConfig) || q != nil {
			t.Errorf("%+v: expected ErrInvalidConfig, returned: %v", args, err)
		}
	}

	q, _ := New(4, 13, 10, 8, 8, nil)
	for _, i := range []int{-1, 4, 100} {
		if _, err := q.Queue(i); !errors.Is(err, index.ErrOutOfRange) {
			t.Errorf("queue %d: expected ErrOutOfRange, returned: %v", i, err)
		}
	}
}

func TestOverflow(t *testing.T) {
	q, _ := New(1, 8, 10, 4, 4, nil)
	tq, _ := q.Queue(0)

	for _, c := range []struct {
		hash, id uint64
		target   error
	}{
		{256, 1, index.ErrHashOverflow},
		{255, 16, index.ErrValueOverflow},
	} {
		func() {
			defer func() {
				r := recover()
				err, ok := r.(error)
				if !ok || !errors.Is(err, c.target) {
					t.Errorf("(%d, %d): expected panic with %s, returned: %v", c.hash, c.id, c.target, r)
				}
			}()
			tq.Add(c.hash, c.id)
		}()
	}
	if tq.NumEntries() != 0 {
		t.Errorf("rejected entries should not be buffered")
	}
}

func TestIntegrity(t *testing.T) {
	q, _ := New(2, 8, 10, 4, 4, nil)
	tq, _ := q.Queue(1)
	tq.Add(0x31, 1)
	tq.Add(0x32, 2)
	if err := q.Integrity(); err != nil {
		t.Error(err)
		return
	}

	tq.n++
	err := q.Integrity()
	if err == nil || !strings.Contains(err.Error(), "thread queue 1: 2 entries, counted 3") {
		t.Errorf("unexpected error: %v", err)
	}
	tq.n--

	tq.residues[3].Append(5)
	err = q.Integrity()
	if err == nil || !strings.Contains(err.Error(), "partition 3: 3 residues, 2 ids") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValue33Bits(t *testing.T) {
	params, err := index.NewCreateParams(&index.CreateOptions{Size: 1, HashBits: 20, ValueBits: 33,
		CompressHashes: true, CreateBitVector: true})
	if err != nil {
		t.Error(err)
		return
	}
	idx, err := index.NewCompressed(params)
	if err != nil {
		t.Error(err)
		return
	}

	q, err := New(4, 20, 1, 33, params.InitialPointerBits(), nil)
	if err != nil {
		t.Error(err)
		return
	}
	v := uint64(0b111111111111111111111111111111111)
	tq, _ := q.Queue(0)
	tq.Add(2, v)
	if err = q.Freeze(idx); err != nil {
		t.Error(err)
		return
	}

	if idx.GetValue(idx.First(2)) != v {
		t.Errorf("expected %b, returned %b", v, idx.GetValue(idx.First(2)))
	}
}

// entries of every thread, in insertion order
func randomEntries(threads, n, hashBits int) [][][2]uint64 {
	data := make([][][2]uint64, threads)
	r := rand.New(rand.NewSource(1))
	for t := 0; t < threads; t++ {
		data[t] = make([][2]uint64, n)
		for i := 0; i < n; i++ {
			data[t][i] = [2]uint64{uint64(r.Int63()) & (1<<hashBits - 1), uint64(t)<<32 | uint64(i)}
		}
	}
	return data
}

func fill(q *Queues, data [][][2]uint64) {
	var wg sync.WaitGroup
	for t := range data {
		tq, _ := q.Queue(t)
		wg.Add(1)
		go func(entries [][2]uint64) {
			defer wg.Done()
			for _, e := range entries {
				tq.Add(e[0], e[1])
			}
		}(data[t])
	}
	wg.Wait()
}

func TestConcurrentAdd(t *testing.T) {
	threads, n, hashBits := 8, 3000, 24
	data := randomEntries(threads, n, hashBits)

	q, err := New(threads, hashBits, int64(threads*n), 40, 8, nil)
	if err != nil {
		t.Error(err)
		return
	}
	fill(q, data)
	if err = q.Integrity(); err != nil {
		t.Error(err)
	}

	r := &recorder{}
	if err = q.Freeze(r); err != nil {
		t.Error(err)
		return
	}
	if r.frozen != 2 {
		t.Errorf("index should be frozen twice, returned %d", r.frozen)
	}
	total := threads * n
	if len(r.entries) != total*2 {
		t.Errorf("unexpected number of added entries: %d", len(r.entries))
		return
	}

	// sorted by radix, then thread, then insertion order
	expected := make([][2]uint64, 0, total)
	for _, entries := range data {
		expected = append(expected, entries...)
	}
	lowerBits := q.LowerBits()
	sort.SliceStable(expected, func(i, j int) bool {
		return expected[i][0]>>lowerBits < expected[j][0]>>lowerBits
	})
	for i := 0; i < total; i++ {
		if r.entries[i] != expected[i] || r.entries[total+i] != expected[i] {
			t.Errorf("entry %d: %v, expected %v", i, r.entries[i], expected[i])
			return
		}
	}

	// same order for another run
	q2, _ := New(threads, hashBits, int64(total), 40, 8, nil)
	fill(q2, data)
	r2 := &recorder{}
	q2.Freeze(r2)
	for i := range r.entries {
		if r.entries[i] != r2.entries[i] {
			t.Errorf("different orders in two runs")
			return
		}
	}
}

func TestFilter(t *testing.T) {
	params, _ := index.NewCreateParams(&index.CreateOptions{Size: 16, HashBits: 16, ValueBits: 16,
		CompressHashes: true})
	idx, _ := index.NewCompressed(params)

	q, err := New(3, 16, 16, 16, params.InitialPointerBits(), index.NewFixedRepeatFrequency(2))
	if err != nil {
		t.Error(err)
		return
	}
	tqs := make([]*ThreadQueue, 3)
	for i := range tqs {
		tqs[i], _ = q.Queue(i)
	}

	// 0x0101: 3 times in 3 threads, 0x0202: twice, 0xf0f0: once
	tqs[0].Add(0x0101, 1)
	tqs[1].Add(0x0101, 2)
	tqs[2].Add(0x0101, 3)
	tqs[0].Add(0x0202, 4)
	tqs[2].Add(0x0202, 5)
	tqs[1].Add(0xf0f0, 6)

	if err = q.Freeze(idx); err != nil {
		t.Error(err)
		return
	}

	if idx.First(0x0101) != index.NotFound {
		t.Errorf("hash 0x0101 should be filtered out")
	}
	vals := make([]uint64, 0, 2)
	idx.Values(0x0202, &vals)
	if len(vals) != 2 || vals[0] != 4 || vals[1] != 5 {
		t.Errorf("unexpected values of 0x0202: %v", vals)
	}
	if idx.GetValue(idx.First(0xf0f0)) != 6 {
		t.Errorf("unexpected value of 0xf0f0")
	}
	if idx.NumEntries() != 3 {
		t.Errorf("unexpected number of entries: %d", idx.NumEntries())
	}
}

func BenchmarkAdd(b *testing.B) {
	data := randomEntries(1, 1<<16, 32)[0]
	q, _ := New(1, 32, int64(b.N), 0, 10, nil)
	tq, _ := q.Queue(0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e := data[i&(1<<16-1)]
		tq.Add(e[0], e[1])
	}
}
