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
	"strconv"

	"github.com/pkg/errors"
	"github.com/shenwei356/hashindex/hashindex/index"
	"github.com/shenwei356/hashindex/hashindex/index/bitpack"
	"github.com/shenwei356/hashindex/hashindex/util"
	"github.com/shenwei356/kmers"
)

// Hit is an exact k-mer match between a query and a target sequence.
type Hit struct {
	QPos   int    // k-mer position in the query
	Kmer   uint64 // k-mer code
	Target uint64 // sequence index of the target
	Pos    int    // k-mer position in the target
}

// Searcher searches k-mers of query sequences in an index.
// It is safe for concurrent use.
type Searcher struct {
	Info  *IndexInfo
	Index *index.Compressed
	Names []string

	hash     func(uint64) uint64
	hashMask uint64
	posMask  uint64
}

// NewSearcher loads an index file with its sequence names and information files.
func NewSearcher(file string) (*Searcher, error) {
	info, err := readIndexInfo(file + ExtInfo)
	if err != nil {
		return nil, errors.Wrapf(err, "reading index information file")
	}
	idx, err := index.NewFromFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "reading index file: %s", file)
	}
	if idx.Params().HashBits() != info.HashBits || idx.Params().ValueBits() != info.SeqBits+info.PosBits {
		return nil, errors.Errorf("index file %s does not match the information file", file)
	}
	names, err := readNames(file+ExtNames, info.Sequences)
	if err != nil {
		return nil, errors.Wrapf(err, "reading sequence names file")
	}

	return &Searcher{
		Info:  info,
		Index: idx,
		Names: names,

		hash:     kmerHasher(info.Hash, info.K),
		hashMask: bitpack.Mask(info.HashBits),
		posMask:  bitpack.Mask(info.PosBits),
	}, nil
}

// Search appends hits of all k-mers of s to hits.
func (s *Searcher) Search(seq []byte, hits *[]Hit) error {
	iter, err := util.NewKmerIterator(seq, s.Info.K)
	if err != nil {
		return err
	}

	vals := make([]uint64, 0, 8)
	var code uint64
	var qpos int
	var ok bool
	for {
		code, qpos, ok = iter.Next()
		if !ok {
			break
		}

		vals = vals[:0]
		if s.Index.Values(s.hash(code)&s.hashMask, &vals) == 0 {
			continue
		}
		for _, v := range vals {
			*hits = append(*hits, Hit{
				QPos:   qpos,
				Kmer:   code,
				Target: v >> s.Info.PosBits,
				Pos:    int(v & s.posMask),
			})
		}
	}
	return nil
}

// Targets returns the sorted and unique target sequence indexes of hits.
func Targets(hits []Hit, targets *[]uint64) {
	*targets = (*targets)[:0]
	for _, h := range hits {
		*targets = append(*targets, h.Target)
	}
	util.UniqUint64s(targets)
}

// HitsHeader is the header line of hits written by WriteHits.
const HitsHeader = "query\tqpos\tkmer\ttarget\ttpos\n"

// WriteHits writes hits of a query, one tab-delimited line per hit:
// query ID, query position, k-mer, target ID, target position.
func (s *Searcher) WriteHits(w *bufio.Writer, query []byte, hits []Hit) {
	for _, h := range hits {
		w.Write(query)
		w.WriteByte('\t')
		w.WriteString(strconv.Itoa(h.QPos))
		w.WriteByte('\t')
		w.Write(kmers.Decode(h.Kmer, s.Info.K))
		w.WriteByte('\t')
		w.WriteString(s.Names[h.Target])
		w.WriteByte('\t')
		w.WriteString(strconv.Itoa(h.Pos))
		w.WriteByte('\n')
	}
}
