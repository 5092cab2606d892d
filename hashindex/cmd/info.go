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
	"fmt"
	"strings"

	"github.com/shenwei356/hashindex/hashindex/index"
	"github.com/shenwei356/util/bytesize"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print information of an index",
	Long: `Print information of an index

  By default, only the index information file (<index>.toml) is read.
  With -a/--all, the index file is also loaded and checked.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

		dbFile := getFlagPath(cmd, "index")
		if dbFile == "" {
			checkError(fmt.Errorf("flag -d/--index needed"))
		}
		all := getFlagBool(cmd, "all")
		outFile := getFlagPath(cmd, "out-file")

		info, err := readIndexInfo(dbFile + ExtInfo)
		checkError(err)

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		fmt.Fprintf(outfh, "version:            v%s\n", info.Version)
		fmt.Fprintf(outfh, "k:                  %d\n", info.K)
		fmt.Fprintf(outfh, "hash function:      %s\n", info.Hash)
		fmt.Fprintf(outfh, "hash bits:          %d\n", info.HashBits)
		fmt.Fprintf(outfh, "value bits:         %d (sequence) + %d (position)\n", info.SeqBits, info.PosBits)
		fmt.Fprintf(outfh, "maximum DUST score: %d\n", info.MaxDust)
		fmt.Fprintf(outfh, "maximum frequency:  %d\n", info.MaxFreq)
		fmt.Fprintf(outfh, "pointer bits:       %d\n", info.PointerBits)
		fmt.Fprintf(outfh, "compressed hashes:  %v\n", info.CompressHashes)
		fmt.Fprintf(outfh, "bit vector:         %v\n", info.BitVector)
		fmt.Fprintf(outfh, "input files:        %d\n", len(info.InputFiles))
		fmt.Fprintf(outfh, "sequences:          %d\n", info.Sequences)
		fmt.Fprintf(outfh, "k-mers:             %d\n", info.Kmers)
		fmt.Fprintf(outfh, "entries:            %d\n", info.Entries)
		fmt.Fprintf(outfh, "distinct hashes:    %d\n", info.Hashes)

		if !all {
			return
		}

		idx, err := index.NewFromFile(dbFile)
		checkError(err)

		if idx.NumEntries() != info.Entries || idx.NumHashes() != info.Hashes {
			log.Warningf("index file %s does not match the information file", dbFile)
		}
		p := idx.Params()
		fmt.Fprintf(outfh, "stored hash bits:   %d\n", p.StoredHashBits())
		fmt.Fprintf(outfh, "bit vector bits:    %d\n", p.BitVectorBits())
		fmt.Fprintf(outfh, "memory:             %s\n", bytesize.ByteSize(idx.Bytes()))
		if idx.NumHashes() > 0 {
			fmt.Fprintf(outfh, "entries per hash:   %.2f\n", float64(idx.NumEntries())/float64(idx.NumHashes()))
		}
	},
}

func init() {
	RootCmd.AddCommand(infoCmd)

	infoCmd.Flags().StringP("index", "d", "",
		formatFlagUsage(`Index file created by "hashindex build".`))

	infoCmd.Flags().BoolP("all", "a", false,
		formatFlagUsage(`Also load the index file and show more details.`))

	infoCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file ("-" for stdout).`))

	infoCmd.SetUsageTemplate(usageTemplate("-d <index>"))
}
