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
	"bytes"
	"testing"

	"github.com/shenwei356/kmers"
)

func TestKmerIterator(t *testing.T) {
	s := []byte("ACGTNacgtTTGCAxAAAAACCCCCGGGGGTTTTTNNNNGATTACA")
	for _, k := range []int{1, 3, 5, 11, 21} {
		iter, err := NewKmerIterator(s, k)
		if err != nil {
			t.Error(err)
			return
		}

		// expected k-mers
		expected := make(map[int]uint64)
		for i := 0; i+k <= len(s); i++ {
			if bytes.IndexFunc(s[i:i+k], isNotACGT) >= 0 {
				continue
			}
			code, err := kmers.Encode(s[i : i+k])
			if err != nil {
				t.Error(err)
				return
			}
			expected[i] = code
		}

		var n int
		for {
			code, pos, ok := iter.Next()
			if !ok {
				break
			}
			n++
			if e, found := expected[pos]; !found || e != code {
				t.Errorf("k=%d, pos=%d: %s, expected %s", k, pos, kmers.Decode(code, k), s[pos:pos+k])
			}
		}
		if n != len(expected) {
			t.Errorf("k=%d: %d k-mers, expected %d", k, n, len(expected))
		}
	}
}

func isNotACGT(r rune) bool {
	switch r {
	case 'A', 'C', 'G', 'T', 'a', 'c', 'g', 't':
		return false
	}
	return true
}

func TestKmerIteratorK32(t *testing.T) {
	s := []byte("TTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTA")
	all := ^uint64(0)
	iter, _ := NewKmerIterator(s, 32)
	code, pos, ok := iter.Next()
	if !ok || pos != 0 || code != all {
		t.Errorf("unexpected k-mer: %d at %d", code, pos)
	}
	code, pos, ok = iter.Next()
	if !ok || pos != 1 || code != all<<2 {
		t.Errorf("unexpected k-mer: %d at %d", code, pos)
	}
	if _, _, ok = iter.Next(); ok {
		t.Errorf("no more k-mers expected")
	}

	iter.Reset([]byte("AC"))
	if _, _, ok = iter.Next(); ok {
		t.Errorf("no k-mers expected for a short sequence")
	}

	for _, k := range []int{0, 33} {
		if _, err := NewKmerIterator(s, k); err == nil {
			t.Errorf("k=%d: error expected", k)
		}
	}
}

func TestDustScore(t *testing.T) {
	tests := []struct {
		mer   string
		score int
		low   bool
	}{
		{"AAAAAAAAAAAAAAAAAAAAA", 171, true}, // 19 AAA
		{"ACGTACGTACGTACGTACGTA", 36, false}, // 5 ACG, 5 CGT, 5 GTA, 4 TAC
		{"AAAAAAAACCGGGCAATTGCCCGGTGCTGGA", 18, false},
		{"AC", 0, false},
	}
	for _, test := range tests {
		code, err := kmers.Encode([]byte(test.mer))
		if err != nil {
			t.Error(err)
			return
		}
		k := len(test.mer)
		if s := DustScore(code, k); s != test.score {
			t.Errorf("%s: score %d, expected %d", test.mer, s, test.score)
		}
		if IsLowComplexity(code, k, 50) != test.low {
			t.Errorf("%s: low-complexity %v, expected %v", test.mer, !test.low, test.low)
		}
	}
}

func TestUniqUint64s(t *testing.T) {
	tests := [][2][]uint64{
		{{}, {}},
		{{1}, {1}},
		{{3, 1, 3, 2, 1, 1}, {1, 2, 3}},
		{{5, 5, 5}, {5}},
		{{4, 3, 2, 1}, {1, 2, 3, 4}},
	}
	for _, test := range tests {
		list := append([]uint64{}, test[0]...)
		UniqUint64s(&list)
		if len(list) != len(test[1]) {
			t.Errorf("%v: returned %v, expected %v", test[0], list, test[1])
			continue
		}
		for i, v := range list {
			if v != test[1][i] {
				t.Errorf("%v: returned %v, expected %v", test[0], list, test[1])
				break
			}
		}
	}
}

func TestHash64(t *testing.T) {
	seen := make(map[uint64]struct{}, 1<<16)
	for i := uint64(0); i < 1<<16; i++ {
		h := Hash64(i)
		if _, ok := seen[h]; ok {
			t.Errorf("collision for %d", i)
			return
		}
		seen[h] = struct{}{}
	}
}
