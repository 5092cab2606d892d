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
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/util/bytesize"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build an index of k-mers from FASTA/Q sequences",
	Long: `Build an index of k-mers from FASTA/Q sequences

Input:
  1. Input plain or gzipped FASTA/Q files can be given via positional
     arguments or the flag -X/--infile-list with the list of input files,
  2. Or a directory containing sequence files via the flag -I/--in-dir,
     with multiple-level sub-directories allowed. A regular expression
     for matching sequencing files is available via the flag -r/--file-regexp.

Values:
  Each k-mer is stored with a value of (sequence index << pos-bits | position),
  where sequence indexes follow the order of sequences in input files.
  K-mers containing bases other than A/C/G/T/U are skipped.

Output:
  1. <out-file>         the index, gzipped if the file name ends with ".gz".
  2. <out-file>.names   sequence names, one per line.
  3. <out-file>.toml    index information.

Attentions:
  1. Hashes shared by more than --max-freq k-mers are removed.
  2. With the hash function "none", --hash-bits should be >= 2k,
     otherwise, different k-mers might share the same hash.

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
		// basic flags

		outFile := getFlagPath(cmd, "out-file")
		if outFile == "" {
			checkError(fmt.Errorf("flag -o/--out-file is needed"))
		}
		force := getFlagBool(cmd, "force")
		skipFileCheck := getFlagBool(cmd, "skip-file-check")

		if !force {
			if _, err := os.Stat(outFile); err == nil {
				checkError(fmt.Errorf("output file existed: %s, use --force to overwrite", outFile))
			}
		}

		var maxMem int64
		maxMemStr := getFlagString(cmd, "max-mem")
		if maxMemStr != "" {
			size, err := bytesize.Parse([]byte(maxMemStr))
			if err != nil {
				checkError(errors.Wrapf(err, "parsing --max-mem: %s", maxMemStr))
			}
			maxMem = int64(size)
		}

		var err error

		inDir := getFlagPath(cmd, "in-dir")
		readFromDir := inDir != ""
		if readFromDir {
			checkInputDir(inDir)
			if filepath.Clean(inDir) == filepath.Clean(filepath.Dir(outFile)) {
				log.Warningf("the output file is in the input directory: %s", inDir)
			}
		}

		reFileStr := getFlagString(cmd, "file-regexp")
		var reFile *regexp.Regexp
		if reFileStr != "" {
			if !reIgnoreCase.MatchString(reFileStr) {
				reFileStr = reIgnoreCaseStr + reFileStr
			}
			reFile, err = regexp.Compile(reFileStr)
			checkError(errors.Wrapf(err, "failed to parse regular expression for matching file: %s", reFileStr))
		} else if readFromDir {
			checkError(fmt.Errorf("flag -r/--file-regexp needed for -I/--in-dir"))
		}

		reSeqNameStrs := getFlagStringSlice(cmd, "seq-name-filter")
		reSeqNames := make([]*regexp.Regexp, 0, len(reSeqNameStrs))
		for _, kw := range reSeqNameStrs {
			if !reIgnoreCase.MatchString(kw) {
				kw = reIgnoreCaseStr + kw
			}
			re, err := regexp.Compile(kw)
			if err != nil {
				checkError(errors.Wrapf(err, "failed to parse regular expression for matching sequence header: %s", kw))
			}
			reSeqNames = append(reSeqNames, re)
		}

		// ---------------------------------------------------------------
		// options for building index

		bopt := &IndexBuildingOptions{
			// general
			NumCPUs:  opt.NumCPUs,
			Verbose:  opt.Verbose,
			Log2File: opt.Log2File,

			// k-mers
			K:        getFlagPositiveInt(cmd, "kmer"),
			Hash:     getFlagString(cmd, "hash"),
			HashBits: getFlagNonNegativeInt(cmd, "hash-bits"),
			MaxDust:  getFlagNonNegativeInt(cmd, "max-dust"),

			// values
			SeqBits: getFlagPositiveInt(cmd, "seq-bits"),
			PosBits: getFlagPositiveInt(cmd, "pos-bits"),

			// index
			Size:           getFlagInt64(cmd, "size"),
			MaxFreq:        getFlagNonNegativeInt(cmd, "max-freq"),
			CompressHashes: !getFlagBool(cmd, "no-compress-hashes"),
			BitVector:      getFlagBool(cmd, "bit-vector"),
			SpaceEfficient: getFlagBool(cmd, "space-efficient"),
			MaxMemory:      maxMem,

			// sequences
			ReSeqExclude: reSeqNames,
		}
		err = CheckIndexBuildingOptions(bopt)
		checkError(err)

		// ---------------------------------------------------------------
		// input files

		if opt.Verbose || opt.Log2File {
			log.Infof("hashindex v%s", VERSION)
			log.Info("  https://github.com/shenwei356/hashindex")
			log.Info()

			log.Info("checking input files ...")
		}

		var files []string
		if readFromDir {
			files, err = getFileListFromDir(inDir, reFile, opt.NumCPUs)
			if err != nil {
				checkError(errors.Wrapf(err, "walking dir: %s", inDir))
			}
			if len(files) == 0 {
				log.Warningf("  no files matching regular expression: %s", reFileStr)
			}
		} else {
			files = getFileListFromArgsAndFile(cmd, args, !skipFileCheck, "infile-list", !skipFileCheck)
			if opt.Verbose || opt.Log2File {
				if len(files) == 1 && isStdin(files[0]) {
					log.Info("  no files given, reading from stdin")
				}
			}
		}
		if len(files) < 1 {
			checkError(fmt.Errorf("FASTA/Q files needed"))
		} else if opt.Verbose || opt.Log2File {
			log.Infof("  %d input file(s) given", len(files))
		}

		// ---------------------------------------------------------------
		// log

		if opt.Verbose || opt.Log2File {
			log.Info()
			log.Infof("-------------------- [main parameters] --------------------")
			log.Info()
			log.Info("input and output:")
			log.Infof("  input directory: %s", inDir)
			log.Infof("    regular expression of input files: %s", reFileStr)
			log.Infof("    *regular expressions for filtering out sequences: %s", reSeqNameStrs)
			log.Infof("  output file: %s", outFile)
			log.Info()
			log.Infof("k-mer size: %d", bopt.K)
			log.Infof("hash function: %s, hash bits: %d", bopt.Hash, bopt.hashBits())
			log.Infof("value bits: %d (sequence) + %d (position)", bopt.SeqBits, bopt.PosBits)
			log.Infof("maximum DUST score: %d", bopt.MaxDust)
			log.Infof("maximum frequency: %d", bopt.MaxFreq)
			if maxMem > 0 {
				log.Infof("memory budget: %s", bytesize.ByteSize(maxMem))
			}
			log.Info()
			log.Infof("-------------------- [main parameters] --------------------")
			log.Info()
			log.Infof("building index ...")
		}

		// ---------------------------------------------------------------

		info, err := BuildIndex(outFile, files, bopt)
		if err != nil {
			checkError(fmt.Errorf("failed to build the index: %s", err))
		}

		if opt.Verbose || opt.Log2File {
			log.Info()
			log.Infof("finished building the index in %s from %d files: %d sequences, %d k-mers, %d entries, %d distinct hashes",
				time.Since(timeStart), len(files), info.Sequences, info.Kmers, info.Entries, info.Hashes)
			log.Infof("index saved: %s", outFile)
		}
	},
}

func init() {
	RootCmd.AddCommand(buildCmd)

	// -----------------------------  input  -----------------------------

	buildCmd.Flags().StringP("in-dir", "I", "",
		formatFlagUsage(`Directory containing FASTA/Q files. Directory symlinks are followed.`))

	buildCmd.Flags().StringP("file-regexp", "r", `\.(f[aq](st[aq])?|fna)(.gz)?$`,
		formatFlagUsage(`Regular expression for matching sequence files in -I/--in-dir, case ignored.`))

	buildCmd.Flags().StringP("infile-list", "X", "",
		formatFlagUsage(`File of input file list (one file per line). If given, they are appended to files from CLI arguments.`))

	buildCmd.Flags().StringSliceP("seq-name-filter", "B", []string{},
		formatFlagUsage(`List of regular expressions for filtering out sequences by header/name, case ignored.`))

	buildCmd.Flags().BoolP("skip-file-check", "S", false,
		formatFlagUsage(`Skip input file checking when given files or a file list.`))

	// -----------------------------  output  -----------------------------

	buildCmd.Flags().StringP("out-file", "o", "",
		formatFlagUsage(`Output index file, gzipped if it ends with ".gz".`))

	buildCmd.Flags().BoolP("force", "", false,
		formatFlagUsage(`Overwrite existed output file.`))

	// -----------------------------  k-mers   -----------------------------

	buildCmd.Flags().IntP("kmer", "k", 21,
		formatFlagUsage(`K-mer size. K needs to be <= 32.`))

	buildCmd.Flags().StringP("hash", "", HashMix,
		formatFlagUsage(`Hash function of k-mers. Available values: mix, wyhash, none.`))

	buildCmd.Flags().IntP("hash-bits", "H", 0,
		formatFlagUsage(`Bits of hashes, 0 for min(2k, 64).`))

	buildCmd.Flags().IntP("max-dust", "", 0,
		formatFlagUsage(`Skip low-complexity k-mers with DUST scores higher than this value, e.g., 50 for k=21. 0 for no filtering.`))

	// -----------------------------  values   -----------------------------

	buildCmd.Flags().IntP("seq-bits", "", 24,
		formatFlagUsage(`Bits of sequence indexes in values.`))

	buildCmd.Flags().IntP("pos-bits", "", 32,
		formatFlagUsage(`Bits of k-mer positions in values.`))

	// -----------------------------  index   -----------------------------

	buildCmd.Flags().Int64P("size", "", 0,
		formatFlagUsage(`Expected number of k-mers, 0 for estimating from file sizes.`))

	buildCmd.Flags().IntP("max-freq", "f", 0,
		formatFlagUsage(`Maximum frequency of a hash, hashes with more k-mers are removed. 0 for no limit.`))

	buildCmd.Flags().BoolP("no-compress-hashes", "", false,
		formatFlagUsage(`Store full hashes instead of the bits not covered by bucket pointers.`))

	buildCmd.Flags().BoolP("bit-vector", "", false,
		formatFlagUsage(`Create a bit vector of hash prefixes for fast rejection of absent hashes.`))

	buildCmd.Flags().BoolP("space-efficient", "", false,
		formatFlagUsage(`Use 4X fewer bucket pointers.`))

	buildCmd.Flags().StringP("max-mem", "", "",
		formatFlagUsage(`Memory budget of the index, e.g., 4G. Bucket pointers are reduced to fit it.`))

	// ----------------------------------------------------------

	buildCmd.SetUsageTemplate(usageTemplate("[-k <k>] [-f <max freq>] {[-I <seqs dir>] | <seq files> | -X <file list>} -o <out file>"))
}

var reIgnoreCaseStr = "(?i)"
var reIgnoreCase = regexp.MustCompile(`\(\?i\)`)
