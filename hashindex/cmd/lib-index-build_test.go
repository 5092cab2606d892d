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

package cmd

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"

	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/kmers"
)

func init() {
	seq.ValidateSeq = false
}

var testSeqs = []string{
	">s1 first\nACGTACGTTTGACCATGACGATCGATCGGGCTAGCTAGGACTTACG\n",
	">s2\nNNNNACGTACGTTTGACCATGAnnnnGGGTTTAAACCCGGGTTTAAAcgatcgat\n",
	">s3 short\nACG\n",
	">plasmid\nTTTTTTTTTTGGGGGGGGGGAAAAAAAAAACCCCCCCCCC\n",
}

func writeTestSeqs(t *testing.T, dir string) string {
	file := filepath.Join(dir, "seqs.fa")
	var buf bytes.Buffer
	for _, s := range testSeqs {
		buf.WriteString(s)
	}
	if err := os.WriteFile(file, buf.Bytes(), 0644); err != nil {
		t.Fatalf("%s", err)
	}
	return file
}

func testOptions(threads int) *IndexBuildingOptions {
	return &IndexBuildingOptions{
		NumCPUs:        threads,
		K:              11,
		Hash:           HashMix,
		SeqBits:        8,
		PosBits:        16,
		CompressHashes: true,
		BitVector:      true,
		ReSeqExclude:   []*regexp.Regexp{regexp.MustCompile(`^plasmid`)},
	}
}

func TestCheckIndexBuildingOptions(t *testing.T) {
	if err := CheckIndexBuildingOptions(testOptions(4)); err != nil {
		t.Error(err)
	}

	for i, modify := range []func(*IndexBuildingOptions){
		func(o *IndexBuildingOptions) { o.NumCPUs = 0 },
		func(o *IndexBuildingOptions) { o.K = 0 },
		func(o *IndexBuildingOptions) { o.K = 33 },
		func(o *IndexBuildingOptions) { o.Hash = "md5" },
		func(o *IndexBuildingOptions) { o.HashBits = 65 },
		func(o *IndexBuildingOptions) { o.Hash, o.HashBits = HashNone, 20 },
		func(o *IndexBuildingOptions) { o.SeqBits = 0 },
		func(o *IndexBuildingOptions) { o.SeqBits, o.PosBits = 32, 33 },
		func(o *IndexBuildingOptions) { o.Size = -1 },
		func(o *IndexBuildingOptions) { o.MaxFreq = -1 },
		func(o *IndexBuildingOptions) { o.MaxDust = -1 },
		func(o *IndexBuildingOptions) { o.MaxMemory = -1 },
	} {
		opt := testOptions(4)
		modify(opt)
		if err := CheckIndexBuildingOptions(opt); err == nil {
			t.Errorf("#%d: error expected", i)
		}
	}
}

func TestBuildAndSearch(t *testing.T) {
	dir := t.TempDir()
	file := writeTestSeqs(t, dir)

	for _, hash := range []string{HashMix, HashWyhash, HashNone} {
		opt := testOptions(3)
		opt.Hash = hash
		outFile := filepath.Join(dir, "test-"+hash+".idx")

		info, err := BuildIndex(outFile, []string{file}, opt)
		if err != nil {
			t.Errorf("%s: %s", hash, err)
			return
		}
		if info.Sequences != 2 { // s3 is too short, and plasmid is filtered out
			t.Errorf("%s: unexpected number of sequences: %d", hash, info.Sequences)
		}
		if info.Kmers != info.Entries {
			t.Errorf("%s: %d k-mers, %d entries", hash, info.Kmers, info.Entries)
		}

		searcher, err := NewSearcher(outFile)
		if err != nil {
			t.Errorf("%s: %s", hash, err)
			return
		}
		if searcher.Names[0] != "s1" || searcher.Names[1] != "s2" {
			t.Errorf("%s: unexpected names: %v", hash, searcher.Names)
		}

		// ACGTACGTTTGACCATGA is shared by s1 at 0 and s2 at 4.
		query := []byte("ACGTACGTTTG")
		hits := make([]Hit, 0, 4)
		if err = searcher.Search(query, &hits); err != nil {
			t.Error(err)
			return
		}
		found := map[[2]int]bool{}
		for _, h := range hits {
			if h.QPos != 0 || string(kmers.Decode(h.Kmer, 11)) != string(query) {
				t.Errorf("%s: unexpected hit: %+v", hash, h)
			}
			found[[2]int{int(h.Target), h.Pos}] = true
		}
		if !found[[2]int{0, 0}] || !found[[2]int{1, 4}] {
			t.Errorf("%s: unexpected hits: %+v", hash, hits)
		}

		targets := make([]uint64, 0, 2)
		Targets(hits, &targets)
		if len(targets) != 2 || targets[0] != 0 || targets[1] != 1 {
			t.Errorf("%s: unexpected targets: %v", hash, targets)
		}

		// k-mers with N are skipped
		hits = hits[:0]
		searcher.Search([]byte("ACGTACGTTTN"), &hits)
		if len(hits) != 0 {
			t.Errorf("%s: no hits expected: %+v", hash, hits)
		}
	}
}

func TestWriteHits(t *testing.T) {
	dir := t.TempDir()
	file := writeTestSeqs(t, dir)
	opt := testOptions(2)
	opt.Hash = HashNone
	outFile := filepath.Join(dir, "test.idx")
	if _, err := BuildIndex(outFile, []string{file}, opt); err != nil {
		t.Error(err)
		return
	}
	searcher, err := NewSearcher(outFile)
	if err != nil {
		t.Error(err)
		return
	}

	hits := make([]Hit, 0, 4)
	if err = searcher.Search([]byte("ACGTACGTTTG"), &hits); err != nil {
		t.Error(err)
		return
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	w.WriteString(HitsHeader)
	searcher.WriteHits(w, []byte("q1"), hits)
	w.Flush()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	sort.Strings(lines[1:])
	expected := []string{
		"query\tqpos\tkmer\ttarget\ttpos",
		"q1\t0\tACGTACGTTTG\ts1\t0",
		"q1\t0\tACGTACGTTTG\ts2\t4",
	}
	if strings.Join(lines, "\n") != strings.Join(expected, "\n") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestBuildDeterministic(t *testing.T) {
	dir := t.TempDir()
	file := writeTestSeqs(t, dir)

	var data [][]byte
	for _, threads := range []int{1, 2, 8} {
		outFile := filepath.Join(dir, "test.idx")
		if _, err := BuildIndex(outFile, []string{file}, testOptions(threads)); err != nil {
			t.Error(err)
			return
		}
		d, err := os.ReadFile(outFile)
		if err != nil {
			t.Error(err)
			return
		}
		data = append(data, d)
	}
	for i := 1; i < len(data); i++ {
		if !bytes.Equal(data[0], data[i]) {
			t.Errorf("index files differ with different numbers of threads")
		}
	}
}

func TestBuildMaxFreq(t *testing.T) {
	dir := t.TempDir()
	file := writeTestSeqs(t, dir)

	opt := testOptions(2)
	opt.Hash = HashNone
	opt.MaxFreq = 1
	outFile := filepath.Join(dir, "test.idx")
	info, err := BuildIndex(outFile, []string{file}, opt)
	if err != nil {
		t.Error(err)
		return
	}
	if info.Entries >= info.Kmers {
		t.Errorf("shared k-mers should be removed: %d k-mers, %d entries", info.Kmers, info.Entries)
	}

	searcher, err := NewSearcher(outFile)
	if err != nil {
		t.Error(err)
		return
	}
	hits := make([]Hit, 0, 4)
	searcher.Search([]byte("ACGTACGTTTG"), &hits)
	if len(hits) != 0 {
		t.Errorf("shared k-mer should be removed: %+v", hits)
	}
	searcher.Search([]byte("GGCTAGCTAGG"), &hits) // only in s1
	if len(hits) != 1 || hits[0].Target != 0 {
		t.Errorf("unexpected hits: %+v", hits)
	}
}

func TestBuildMaxDust(t *testing.T) {
	dir := t.TempDir()
	file := writeTestSeqs(t, dir)
	query := []byte("TTTTTTTTTTG") // in plasmid, DUST score: 28

	for _, maxDust := range []int{0, 10} {
		opt := testOptions(2)
		opt.ReSeqExclude = nil
		opt.MaxDust = maxDust
		outFile := filepath.Join(dir, "test.idx")
		if _, err := BuildIndex(outFile, []string{file}, opt); err != nil {
			t.Error(err)
			return
		}
		searcher, err := NewSearcher(outFile)
		if err != nil {
			t.Error(err)
			return
		}
		if len(searcher.Names) != 3 {
			t.Errorf("unexpected names: %v", searcher.Names)
		}

		hits := make([]Hit, 0, 4)
		searcher.Search(query, &hits)
		if maxDust == 0 && (len(hits) != 1 || hits[0].Target != 2) {
			t.Errorf("unexpected hits: %+v", hits)
		}
		if maxDust > 0 && len(hits) != 0 {
			t.Errorf("low-complexity k-mer should be skipped: %+v", hits)
		}
	}
}
