// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package commet compares N read sets all against all. It filters the reads
// of every set, runs the pairwise index_and_search graph built by package
// schedule, and assembles the shared-read matrices.
package commet

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/commet/filter"
	"github.com/grailbio/commet/schedule"
	"golang.org/x/sys/unix"
)

// Names of the external binaries, looked up in Opts.BinDir.
const (
	FilterBin = "filter_reads"
	SearchBin = "index_and_search"
	BvopBin   = "bvop"
)

// Opts configures a comparison run.
type Opts struct {
	// OutDir receives artifacts, file-of-files, logs and matrices.
	OutDir string
	// BinDir holds filter_reads, index_and_search and bvop.
	BinDir string
	// ScriptDir holds the dendro.R and heatmap.r plotting scripts. They are
	// given the tab-separated matrix tables written by matrix.Write, so the
	// legacy scripts, which read ';'-separated .csv files, must read their
	// input with sep="\t" instead.
	ScriptDir string
	// K is the k-mer size.
	K int
	// T is the minimal number of shared k-mers for two reads to be similar.
	T int
	// L is the minimal read length. Values below K*T are raised to K*T.
	L int
	// N is the maximal number of Ns in a read. Negative means any.
	N int
	// E is the minimal Shannon index of a read, in [0,2].
	E float64
	// M caps the number of reads per set, split across its files. Negative
	// means all.
	M int
	// SGE submits jobs with qsub instead of running them.
	SGE bool
	// Qsub is the submission program used when SGE is set.
	Qsub string
	// Parallelism bounds the concurrent bvop calls of matrix assembly.
	Parallelism int
	// Plot runs the plotting scripts after the matrices are written.
	Plot bool
	// KeepFiles disables removal of the generated file-of-files.
	KeepFiles bool
}

// DefaultOpts are the default options.
var DefaultOpts = Opts{
	OutDir:      "output_commet",
	BinDir:      "./bin",
	ScriptDir:   ".",
	K:           33,
	T:           2,
	L:           0,
	N:           -1,
	E:           0,
	M:           -1,
	Qsub:        "qsub",
	Parallelism: 1,
	Plot:        true,
}

// Normalize validates opts and returns a copy with derived values filled in:
// absolute directories and L raised to at least K*T.
func (o Opts) Normalize() (Opts, error) {
	if o.K <= 0 || o.T <= 0 {
		return o, errors.E(errors.Invalid, fmt.Sprintf("k (%d) and t (%d) must be positive", o.K, o.T))
	}
	if o.E < 0 || o.E > 2 {
		return o, errors.E(errors.Invalid, fmt.Sprintf("e (%v) must be in [0,2]", o.E))
	}
	if o.L < o.K*o.T {
		if o.L != 0 {
			log.Printf("l should be at least k*t; %d is too small with k=%d and t=%d", o.L, o.K, o.T)
		}
		o.L = o.K * o.T
		log.Printf("using l=%d", o.L)
	}
	for _, dir := range []*string{&o.OutDir, &o.BinDir, &o.ScriptDir} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return o, errors.E(err, "resolve", *dir)
		}
		*dir = abs
	}
	return o, nil
}

func (o Opts) bin(name string) string { return filepath.Join(o.BinDir, name) }

func (o Opts) filterOpts() filter.Opts {
	return filter.Opts{
		Bin:        o.bin(FilterBin),
		OutDir:     o.OutDir,
		MinLength:  o.L,
		MaxN:       o.N,
		MinEntropy: o.E,
		MaxReads:   o.M,
	}
}

func (o Opts) scheduleOpts() schedule.Opts {
	return schedule.Opts{
		Bin:    o.bin(SearchBin),
		OutDir: o.OutDir,
		K:      o.K,
		T:      o.T,
	}
}

// CheckBinaries verifies that each named binary is a file in binDir that the
// current user may execute. A missing one is an errors.Precondition error.
func CheckBinaries(binDir string, names ...string) error {
	for _, name := range names {
		path := filepath.Join(binDir, name)
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				err = errors.E("is a directory")
			} else {
				err = unix.Access(path, unix.X_OK)
			}
		}
		if err != nil {
			return errors.E(errors.Precondition, fmt.Sprintf("cannot find binary %s in %s", name, binDir), err)
		}
	}
	return nil
}
