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

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
	"os"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
	"github.com/shenwei356/hashindex/hashindex/index/bitpack"
)

var be = binary.BigEndian

// Magic number for checking file format
var Magic = [8]byte{'.', 'h', 'a', 's', 'h', 'i', 'd', 'x'}

// MainVersion is use for checking compatibility
var MainVersion uint8 = 1

// MinorVersion is less important
var MinorVersion uint8 = 0

// BufferSize is size of reading and writing buffer
var BufferSize = 65536

// ReadChunkWords is the maximum number of words read at a time.
// Arrays grow with the data actually read.
var ReadChunkWords = 1 << 16

// maxEntries keeps the bit sizes of arrays in uint64.
const maxEntries = 1 << 56

// ErrInvalidFileFormat means invalid file format.
var ErrInvalidFileFormat = errors.New("hash index: invalid binary format")

// ErrBrokenFile means the file is not complete.
var ErrBrokenFile = errors.New("hash index: broken file")

// ErrVersionMismatch means version mismatch between files and program
var ErrVersionMismatch = errors.New("hash index: version mismatch")

// VersionError reports the unsupported main version of a file.
type VersionError struct {
	Version uint8
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("%s: file version %d, supported version %d", ErrVersionMismatch, e.Version, MainVersion)
}

// Is makes errors.Is(err, ErrVersionMismatch) true.
func (e *VersionError) Is(target error) bool { return target == ErrVersionMismatch }

const (
	flagCompressHashes = 1 << iota
	flagBitVector
	flagSpaceEfficient
)

// WriteToFile writes a frozen index to a file,
// which is gzip-compressed if the file name ends with ".gz".
func (c *Compressed) WriteToFile(file string) (int, error) {
	fh, err := os.Create(file)
	if err != nil {
		return 0, err
	}

	var w io.Writer
	var gw *pgzip.Writer
	bw := bufio.NewWriterSize(fh, BufferSize)
	if strings.HasSuffix(strings.ToLower(file), ".gz") {
		gw = pgzip.NewWriter(bw)
		w = gw
	} else {
		w = bw
	}

	N, err := c.Write(w)
	if err != nil {
		fh.Close()
		return N, err
	}
	if gw != nil {
		if err = gw.Close(); err != nil {
			fh.Close()
			return N, err
		}
	}
	if err = bw.Flush(); err != nil {
		fh.Close()
		return N, err
	}
	return N, fh.Close()
}

// NewFromFile reads an index from a file, gzip-compressed or not.
func NewFromFile(file string) (*Compressed, error) {
	fh, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	br := bufio.NewReaderSize(fh, BufferSize)
	var r io.Reader = br

	// gzip magic number
	if head, err := br.Peek(2); err == nil && head[0] == 0x1f && head[1] == 0x8b {
		gr, err := pgzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrapf(err, "reading gzip header: %s", file)
		}
		defer gr.Close()
		r = gr
	}

	return Read(r)
}

// Write writes a frozen index to a writer, and returns the number of bytes.
//
// Header (40 bytes):
//
//	Magic number, 8 bytes, ".hashidx".
//	Main and minor versions, 2 bytes.
//	Hash bits, value bits, initial pointer bits, bit vector bits, flags, 5 bytes.
//	Blank, 1 byte.
//	Number of entries, 8 bytes.
//	Number of distinct hashes, 8 bytes.
//	Expected size, 8 bytes.
//
// Data:
//
//	Pointers, hashes, values: each with the number of words (8 bytes)
//	followed by the words (8 bytes each).
//	Bit vector: the number of bytes (8 bytes), 0 for none,
//	followed by the portable roaring bitmap.
func (c *Compressed) Write(w io.Writer) (int, error) {
	if c.state != stateFrozen {
		return 0, ErrNotFrozen
	}

	var N int
	var err error
	p := c.params

	var flags uint8
	if p.CompressHashes() {
		flags |= flagCompressHashes
	}
	if p.CreateBitVector() {
		flags |= flagBitVector
	}
	if p.SpaceEfficient() {
		flags |= flagSpaceEfficient
	}

	// 8-byte magic number
	err = binary.Write(w, be, Magic)
	if err != nil {
		return N, err
	}
	N += 8

	// 8-byte meta info
	err = binary.Write(w, be, [8]uint8{MainVersion, MinorVersion,
		uint8(p.HashBits()), uint8(p.ValueBits()), uint8(p.InitialPointerBits()),
		uint8(p.BitVectorBits()), flags})
	if err != nil {
		return N, err
	}
	N += 8

	// 24-byte counts
	err = binary.Write(w, be, [3]uint64{uint64(c.n), uint64(c.nHashes), uint64(p.Size())})
	if err != nil {
		return N, err
	}
	N += 24

	// packed arrays
	for _, a := range []*bitpack.Array{c.pointers, c.hashes, c.values} {
		err = binary.Write(w, be, uint64(len(a.Words())))
		if err != nil {
			return N, err
		}
		N += 8

		err = binary.Write(w, be, a.Words())
		if err != nil {
			return N, err
		}
		N += len(a.Words()) << 3
	}

	// bit vector
	if c.bv == nil {
		err = binary.Write(w, be, uint64(0))
		if err != nil {
			return N, err
		}
		N += 8
		return N, nil
	}

	var buf bytes.Buffer
	_, err = c.bv.WriteTo(&buf)
	if err != nil {
		return N, err
	}
	err = binary.Write(w, be, uint64(buf.Len()))
	if err != nil {
		return N, err
	}
	N += 8
	_, err = w.Write(buf.Bytes())
	if err != nil {
		return N, err
	}
	N += buf.Len()

	return N, nil
}

// Read reads an index from a reader.
func Read(r io.Reader) (*Compressed, error) {
	buf := make([]byte, 24)

	// check the magic number
	n, err := io.ReadFull(r, buf[:8])
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrBrokenFile
		}
		return nil, err
	}
	if n < 8 {
		return nil, ErrBrokenFile
	}
	if !bytes.Equal(buf[:8], Magic[:]) {
		return nil, ErrInvalidFileFormat
	}

	// read version information
	_, err = io.ReadFull(r, buf[:8])
	if err != nil {
		return nil, ErrBrokenFile
	}
	// check compatibility
	if MainVersion != buf[0] {
		return nil, &VersionError{Version: buf[0]}
	}
	hashBits := int(buf[2])
	valueBits := int(buf[3])
	ptrBits := int(buf[4])
	bvBits := int(buf[5])
	flags := buf[6]

	_, err = io.ReadFull(r, buf[:24])
	if err != nil {
		return nil, ErrBrokenFile
	}
	nEntries := int64(be.Uint64(buf[:8]))
	nHashes := int64(be.Uint64(buf[8:16]))
	size := int64(be.Uint64(buf[16:24]))
	if nEntries < 0 || nEntries > maxEntries || nHashes < 0 || nHashes > nEntries ||
		size < 0 || size > maxEntries {
		return nil, ErrInvalidFileFormat
	}

	params, err := NewCreateParams(&CreateOptions{
		Size:            size,
		HashBits:        hashBits,
		ValueBits:       valueBits,
		CompressHashes:  flags&flagCompressHashes > 0,
		CreateBitVector: flags&flagBitVector > 0,
		SpaceEfficient:  flags&flagSpaceEfficient > 0,
	})
	if err != nil {
		return nil, errors.Wrap(ErrInvalidFileFormat, err.Error())
	}
	// the pointer bits might have been reduced by a memory budget.
	if ptrBits < MinPointerBits || ptrBits > min(hashBits, MaxPointerBits) ||
		params.BitVectorBits() != bvBits {
		return nil, ErrInvalidFileFormat
	}
	params.initialPointerBits = ptrBits

	c := newCompressed(params)
	c.n = nEntries
	c.nHashes = nHashes

	readArray := func(n int, width int) (*bitpack.Array, error) {
		_, err := io.ReadFull(r, buf[:8])
		if err != nil {
			return nil, ErrBrokenFile
		}
		nWords := int(be.Uint64(buf[:8]))
		if nWords != bitpack.NumWords(n, width) {
			return nil, ErrInvalidFileFormat
		}
		words := make([]uint64, 0, min(nWords, ReadChunkWords))
		var m int
		for len(words) < nWords {
			m = min(nWords-len(words), ReadChunkWords)
			words = slices.Grow(words, m)
			err = binary.Read(r, be, words[len(words):len(words)+m])
			if err != nil {
				return nil, ErrBrokenFile
			}
			words = words[:len(words)+m]
		}
		return bitpack.FromWords(slices.Clip(words), n, width)
	}

	c.pointers, err = readArray((1<<ptrBits)+1, max(1, bits.Len64(uint64(nEntries))))
	if err != nil {
		return nil, errors.Wrap(err, "reading pointers")
	}
	c.hashes, err = readArray(int(nEntries), params.StoredHashBits())
	if err != nil {
		return nil, errors.Wrap(err, "reading hashes")
	}
	c.values, err = readArray(int(nEntries), valueBits)
	if err != nil {
		return nil, errors.Wrap(err, "reading values")
	}

	_, err = io.ReadFull(r, buf[:8])
	if err != nil {
		return nil, ErrBrokenFile
	}
	nBytes := int64(be.Uint64(buf[:8]))
	if nBytes > 0 {
		if bvBits == 0 {
			return nil, ErrInvalidFileFormat
		}
		c.bv = roaring.New()
		_, err = c.bv.ReadFrom(io.LimitReader(r, nBytes))
		if err != nil {
			return nil, errors.Wrap(ErrBrokenFile, err.Error())
		}
	}

	c.state = stateFrozen
	return c, nil
}
