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
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/shenwei356/hashindex/hashindex/index"
	"github.com/shenwei356/hashindex/hashindex/index/bitpack"
	"github.com/shenwei356/hashindex/hashindex/index/queue"
	"github.com/shenwei356/hashindex/hashindex/util"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"github.com/zeebo/wyhash"
	"golang.org/x/sync/errgroup"
)

var be = binary.BigEndian

// ExtInfo is the file extension of the index information file.
const ExtInfo = ".toml"

// ExtNames is the file extension of the sequence names file.
const ExtNames = ".names"

// hash functions of k-mers
const (
	HashMix    = "mix"    // util.Hash64
	HashWyhash = "wyhash" // wyhash of the 8-byte k-mer code
	HashNone   = "none"   // the k-mer code itself
)

// IndexBuildingOptions contains the options for building an index.
type IndexBuildingOptions struct {
	// general
	NumCPUs  int
	Verbose  bool // show log
	Log2File bool // log file

	// k-mers

	K        int    // k-mer size
	Hash     string // hash function
	HashBits int    // bits of hashes, 0 for min(2k, 64)
	MaxDust  int    // k-mers with higher DUST scores are skipped, 0 for no filtering

	// values, a value is seqIdx<<PosBits | pos

	SeqBits int // bits of sequence indexes
	PosBits int // bits of k-mer positions

	// index

	Size           int64 // expected number of k-mers, 0 for estimating from file sizes
	MaxFreq        int   // maximum frequency of a hash, 0 for no limit
	CompressHashes bool
	BitVector      bool
	SpaceEfficient bool
	MaxMemory      int64 // memory budget of the index, 0 for no limit

	// sequences

	ReSeqExclude []*regexp.Regexp
}

// CheckIndexBuildingOptions check the options
func CheckIndexBuildingOptions(opt *IndexBuildingOptions) error {
	if opt.NumCPUs < 1 {
		return fmt.Errorf("invalid number of threads: %d, should be >= 1", opt.NumCPUs)
	}
	if opt.K < 1 || opt.K > 32 {
		return fmt.Errorf("invalid k value: %d, valid range: [1, 32]", opt.K)
	}
	switch opt.Hash {
	case HashMix, HashWyhash, HashNone:
	default:
		return fmt.Errorf("invalid hash function: %s, available: %s, %s, %s", opt.Hash, HashMix, HashWyhash, HashNone)
	}
	if opt.HashBits < 0 || opt.HashBits > 64 {
		return fmt.Errorf("invalid hash bits: %d, valid range: [1, 64], 0 for min(2k, 64)", opt.HashBits)
	}
	if opt.Hash == HashNone && opt.hashBits() < opt.K<<1 {
		return fmt.Errorf("hash bits (%d) should be >= 2k (%d) for hash function: %s", opt.hashBits(), opt.K<<1, HashNone)
	}

	if opt.SeqBits < 1 || opt.PosBits < 1 || opt.SeqBits+opt.PosBits > 64 {
		return fmt.Errorf("invalid sequence bits (%d) or position bits (%d), both should be >= 1 and their sum <= 64",
			opt.SeqBits, opt.PosBits)
	}

	if opt.Size < 0 {
		return fmt.Errorf("invalid size: %d, should be >= 0", opt.Size)
	}
	if opt.MaxDust < 0 {
		return fmt.Errorf("invalid maximum DUST score: %d, should be >= 0", opt.MaxDust)
	}
	if opt.MaxFreq < 0 {
		return fmt.Errorf("invalid maximum frequency: %d, should be >= 0", opt.MaxFreq)
	}
	if opt.MaxMemory < 0 {
		return fmt.Errorf("invalid memory budget: %d, should be >= 0", opt.MaxMemory)
	}

	return nil
}

func (opt *IndexBuildingOptions) hashBits() int {
	if opt.HashBits == 0 {
		return min(opt.K<<1, 64)
	}
	return opt.HashBits
}

// kmerHasher returns the hash function of k-mer codes.
func kmerHasher(method string, k int) func(code uint64) uint64 {
	switch method {
	case HashWyhash:
		seed := uint64(k)
		return func(code uint64) uint64 {
			var buf [8]byte
			be.PutUint64(buf[:], code)
			return wyhash.Hash(buf[:], seed)
		}
	case HashNone:
		return func(code uint64) uint64 { return code }
	default:
		return util.Hash64
	}
}

// IndexInfo is saved along with the index file.
type IndexInfo struct {
	Version string `toml:"version"`

	K        int    `toml:"k"`
	Hash     string `toml:"hash"`
	HashBits int    `toml:"hash-bits"`
	SeqBits  int    `toml:"seq-bits"`
	PosBits  int    `toml:"pos-bits"`
	MaxDust  int    `toml:"max-dust"`
	MaxFreq  int    `toml:"max-freq"`

	PointerBits    int  `toml:"pointer-bits"`
	CompressHashes bool `toml:"compress-hashes"`
	BitVector      bool `toml:"bit-vector"`

	Sequences int   `toml:"sequences"`
	Kmers     int64 `toml:"kmers"`   // before filtering
	Entries   int64 `toml:"entries"` // after filtering
	Hashes    int64 `toml:"hashes"`  // distinct hashes

	InputFiles []string `toml:"input-files"`
}

// seqRecord is a sequence with its index.
type seqRecord struct {
	idx uint64
	seq []byte
}

// BuildIndex builds an index from sequence files, and writes the index
// to outFile, along with the sequence names (outFile + ExtNames)
// and index information (outFile + ExtInfo).
func BuildIndex(outFile string, files []string, opt *IndexBuildingOptions) (*IndexInfo, error) {
	hashBits := opt.hashBits()
	valueBits := opt.SeqBits + opt.PosBits

	size := opt.Size
	if size == 0 {
		size = estimateKmers(files)
	}

	params, err := index.NewCreateParams(&index.CreateOptions{
		Size:            size,
		HashBits:        hashBits,
		ValueBits:       valueBits,
		CompressHashes:  opt.CompressHashes,
		CreateBitVector: opt.BitVector,
		SpaceEfficient:  opt.SpaceEfficient,
		MaxMemory:       opt.MaxMemory,
	})
	if err != nil {
		return nil, err
	}
	idx, err := index.NewCompressed(params)
	if err != nil {
		return nil, err
	}

	var filter index.FilterMethod = index.Unfiltered{}
	if opt.MaxFreq > 0 {
		filter = index.NewFixedRepeatFrequency(opt.MaxFreq)
	}

	queues, err := queue.New(opt.NumCPUs, hashBits, size, valueBits, params.InitialPointerBits(), filter)
	if err != nil {
		return nil, err
	}

	if opt.Verbose || opt.Log2File {
		log.Infof("  %s", params)
		log.Infof("  %s", queues)
		log.Infof("  filter: %s", filter)
		log.Info()
		log.Infof("collecting k-mers from %d files ...", len(files))
	}

	// ---------------------------------------------------------------
	// k-mers

	timeStart := time.Now()
	names, err := fillQueues(queues, files, opt)
	if err != nil {
		return nil, err
	}
	if opt.Verbose || opt.Log2File {
		log.Infof("  %d k-mers collected from %d sequences in %s", queues.NumEntries(), len(names), time.Since(timeStart))
		log.Infof("freezing the index ...")
	}

	// ---------------------------------------------------------------
	// freeze

	timeStart = time.Now()
	nKmers := queues.NumEntries()
	if err = queues.Freeze(idx); err != nil {
		return nil, errors.Wrap(err, "freezing the index")
	}
	if opt.Verbose || opt.Log2File {
		log.Infof("  %s", idx)
		log.Infof("  index frozen in %s", time.Since(timeStart))
	}

	// ---------------------------------------------------------------
	// output

	if _, err = idx.WriteToFile(outFile); err != nil {
		return nil, errors.Wrapf(err, "writing index file: %s", outFile)
	}
	if err = writeNames(outFile+ExtNames, names); err != nil {
		return nil, errors.Wrapf(err, "writing sequence names file: %s", outFile+ExtNames)
	}

	info := &IndexInfo{
		Version: VERSION,

		K:        opt.K,
		Hash:     opt.Hash,
		HashBits: hashBits,
		SeqBits:  opt.SeqBits,
		PosBits:  opt.PosBits,
		MaxDust:  opt.MaxDust,
		MaxFreq:  opt.MaxFreq,

		PointerBits:    params.InitialPointerBits(),
		CompressHashes: params.CompressHashes(),
		BitVector:      params.CreateBitVector(),

		Sequences: len(names),
		Kmers:     nKmers,
		Entries:   idx.NumEntries(),
		Hashes:    idx.NumHashes(),

		InputFiles: files,
	}
	if err = writeIndexInfo(outFile+ExtInfo, info); err != nil {
		return nil, errors.Wrapf(err, "writing index information file: %s", outFile+ExtInfo)
	}

	return info, nil
}

// fillQueues reads sequences in one goroutine, and adds k-mers with
// opt.NumCPUs goroutines, each owning a thread queue.
// It returns the sequence names, indexed by sequence indexes.
func fillQueues(queues *queue.Queues, files []string, opt *IndexBuildingOptions) ([]string, error) {
	tqs := make([]*queue.ThreadQueue, queues.Threads())
	var err error
	for i := range tqs {
		if tqs[i], err = queues.Queue(i); err != nil {
			return nil, err
		}
	}

	// process bar
	var pbs *mpb.Progress
	var bar *mpb.Bar
	var chDuration chan time.Duration
	var doneDuration chan int
	if opt.Verbose {
		pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
		bar = pbs.AddBar(int64(len(files)),
			mpb.PrependDecorators(
				decor.Name("processed files: ", decor.WC{W: len("processed files: "), C: decor.DindentRight}),
				decor.Name("", decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
				decor.EwmaETA(decor.ET_STYLE_GO, 10),
				decor.OnComplete(decor.Name(""), ". done"),
			),
		)

		chDuration = make(chan time.Duration, opt.NumCPUs)
		doneDuration = make(chan int)
		go func() {
			for t := range chDuration {
				bar.EwmaIncrBy(1, t)
			}
			doneDuration <- 1
		}()
	}

	g, ctx := errgroup.WithContext(context.Background())
	ch := make(chan *seqRecord, opt.NumCPUs)

	names := make([]string, 0, 1024)
	maxSeqs := uint64(1) << opt.SeqBits
	maxPos := uint64(1) << opt.PosBits
	k := opt.K
	filterNames := len(opt.ReSeqExclude) > 0

	// reader
	g.Go(func() error {
		defer close(ch)

		var seqIdx uint64
		var record *fastx.Record
		var ignoreSeq bool
		var re *regexp.Regexp
		for _, file := range files {
			startTime := time.Now()

			fastxReader, err := fastx.NewReader(nil, file, "")
			if err != nil {
				return errors.Wrapf(err, "failed to read seq file: %s", file)
			}

			for {
				record, err = fastxReader.Read()
				if err != nil {
					if err == io.EOF {
						break
					}
					fastxReader.Close()
					return errors.Wrapf(err, "read seq %d in %s", seqIdx, file)
				}

				// filter out sequences shorter than k
				if len(record.Seq.Seq) < k {
					continue
				}

				// filter out sequences with names in the blast list
				if filterNames {
					ignoreSeq = false
					for _, re = range opt.ReSeqExclude {
						if re.Match(record.Name) {
							ignoreSeq = true
							break
						}
					}
					if ignoreSeq {
						continue
					}
				}

				if seqIdx >= maxSeqs {
					fastxReader.Close()
					return fmt.Errorf("too many sequences (> %d), please increase --seq-bits", maxSeqs)
				}
				if uint64(len(record.Seq.Seq)-k) >= maxPos {
					fastxReader.Close()
					return fmt.Errorf("sequence too long (%d bp): %s, please increase --pos-bits", len(record.Seq.Seq), record.ID)
				}

				names = append(names, string(record.ID))
				select {
				case ch <- &seqRecord{idx: seqIdx, seq: append([]byte(nil), record.Seq.Seq...)}:
				case <-ctx.Done():
					fastxReader.Close()
					return ctx.Err()
				}
				seqIdx++
			}
			fastxReader.Close()

			if opt.Verbose {
				chDuration <- time.Since(startTime)
			}
		}
		return nil
	})

	// workers
	hashMask := bitpack.Mask(queues.HashBits())
	posBits := opt.PosBits
	maxDust := opt.MaxDust
	for _, tq := range tqs {
		g.Go(func() error {
			hash := kmerHasher(opt.Hash, k)
			iter, err := util.NewKmerIterator(nil, k)
			if err != nil {
				return err
			}

			var code, id uint64
			var pos int
			var ok bool
			for rec := range ch {
				iter.Reset(rec.seq)
				id = rec.idx << posBits
				for {
					code, pos, ok = iter.Next()
					if !ok {
						break
					}
					if maxDust > 0 && util.IsLowComplexity(code, k, maxDust) {
						continue
					}
					tq.Add(hash(code)&hashMask, id|uint64(pos))
				}
			}
			return nil
		})
	}

	err = g.Wait()

	// process bar
	if opt.Verbose {
		close(chDuration)
		<-doneDuration
		if err != nil {
			bar.Abort(false)
		}
		pbs.Wait()
	}

	if err != nil {
		return nil, err
	}
	return names, nil
}

// estimateKmers estimates the number of k-mers from file sizes.
func estimateKmers(files []string) int64 {
	var n int64
	for _, file := range files {
		if isStdin(file) {
			n += 1 << 20
			continue
		}
		fi, err := os.Stat(file)
		if err != nil {
			continue
		}
		if strings.HasSuffix(strings.ToLower(file), ".gz") {
			n += fi.Size() * 3
		} else {
			n += fi.Size()
		}
	}
	return max(n, 1)
}
