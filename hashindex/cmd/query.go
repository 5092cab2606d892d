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
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search k-mers of query sequences in an index",
	Long: `Search k-mers of query sequences in an index

Output (tab-delimited):
  1. query,   query sequence ID
  2. qpos,    0-based k-mer position in the query
  3. kmer,    k-mer sequence
  4. target,  target sequence ID
  5. tpos,    0-based k-mer position in the target

  With -s/--summary, only the number and IDs of target sequences
  sharing at least one k-mer with each query are reported.

Attentions:
  1. Different k-mers might share the same hash, when the index is built
     with --hash-bits < 2k or a hash function other than "none".
     Hits of such k-mers are reported too.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		seq.ValidateSeq = false

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}
		timeStart := time.Now()
		defer func() {
			if opt.Verbose || opt.Log2File {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
				log.Info()
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		// ---------------------------------------------------------------

		dbFile := getFlagPath(cmd, "index")
		if dbFile == "" {
			checkError(fmt.Errorf("flag -d/--index needed"))
		}
		outFile := getFlagPath(cmd, "out-file")
		summary := getFlagBool(cmd, "summary")
		skipFileCheck := getFlagBool(cmd, "skip-file-check")

		files := getFileListFromArgsAndFile(cmd, args, !skipFileCheck, "infile-list", !skipFileCheck)
		if opt.Verbose || opt.Log2File {
			if len(files) == 1 && isStdin(files[0]) {
				log.Info("no files given, reading from stdin")
			}
		}

		// ---------------------------------------------------------------
		// index

		if opt.Verbose || opt.Log2File {
			log.Infof("loading index: %s", dbFile)
		}
		searcher, err := NewSearcher(dbFile)
		checkError(err)
		if opt.Verbose || opt.Log2File {
			log.Infof("  %s", searcher.Index)
			log.Infof("  index loaded in %s", time.Since(timeStart))
			log.Info()
			log.Infof("searching %d file(s) ...", len(files))
		}

		// ---------------------------------------------------------------
		// output

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		if summary {
			outfh.WriteString("query\ttargets\tids\n")
		} else {
			outfh.WriteString(HitsHeader)
		}

		// ---------------------------------------------------------------
		// search

		hits := make([]Hit, 0, 1024)
		targets := make([]uint64, 0, 128)
		var record *fastx.Record
		var nQueries, nHits int
		for _, file := range files {
			fastxReader, err := fastx.NewReader(nil, file, "")
			checkError(errors.Wrapf(err, "failed to read seq file: %s", file))

			for {
				record, err = fastxReader.Read()
				if err != nil {
					if err == io.EOF {
						break
					}
					checkError(errors.Wrapf(err, "read seq %d in %s", nQueries, file))
					break
				}
				nQueries++

				hits = hits[:0]
				checkError(searcher.Search(record.Seq.Seq, &hits))
				nHits += len(hits)

				if summary {
					Targets(hits, &targets)
					outfh.Write(record.ID)
					outfh.WriteByte('\t')
					outfh.WriteString(strconv.Itoa(len(targets)))
					outfh.WriteByte('\t')
					for i, t := range targets {
						if i > 0 {
							outfh.WriteByte(',')
						}
						outfh.WriteString(searcher.Names[t])
					}
					outfh.WriteByte('\n')
					continue
				}

				searcher.WriteHits(outfh, record.ID, hits)
			}
			fastxReader.Close()
		}

		if opt.Verbose || opt.Log2File {
			log.Infof("%d hits found for %d queries", nHits, nQueries)
		}
	},
}

func init() {
	RootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringP("index", "d", "",
		formatFlagUsage(`Index file created by "hashindex build".`))

	queryCmd.Flags().StringP("infile-list", "X", "",
		formatFlagUsage(`File of input file list (one file per line). If given, they are appended to files from CLI arguments.`))

	queryCmd.Flags().BoolP("skip-file-check", "S", false,
		formatFlagUsage(`Skip input file checking when given files or a file list.`))

	queryCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports and recommends a ".gz" suffix ("-" for stdout).`))

	queryCmd.Flags().BoolP("summary", "s", false,
		formatFlagUsage(`Only output the number and IDs of target sequences of each query.`))

	queryCmd.SetUsageTemplate(usageTemplate("-d <index> [query.fasta.gz ...] [-o query.tsv.gz]"))
}
