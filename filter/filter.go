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

// Package filter drives the external filter_reads program, which writes one
// boolean-vector artifact per read file marking the reads that pass the
// length, N-count and entropy thresholds.
package filter

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/commet/catalog"
	"github.com/grailbio/commet/runner"
)

// Suffix is appended to a read file's base name to name its artifact.
const Suffix = ".bv"

// Opts configures filter_reads.
type Opts struct {
	// Bin is the path of the filter_reads binary.
	Bin string
	// OutDir receives the artifacts.
	OutDir string
	// MinLength is the minimal read length (-l).
	MinLength int
	// MaxN is the maximal number of Ns in a read (-n). Negative means any.
	MaxN int
	// MinEntropy is the minimal Shannon index of a read (-e).
	MinEntropy float64
	// MaxReads caps the reads selected per group (-m). It is split evenly
	// (with integer division) across the group's files. Negative means all.
	MaxReads int
}

// ArtifactPath returns the artifact filter_reads writes for readFile.
func ArtifactPath(outDir, readFile string) string {
	return filepath.Join(outDir, filepath.Base(readFile)+Suffix)
}

// Assign returns a copy of cat where every group without artifacts is given
// the default artifact paths under outDir. Groups that already have
// artifacts keep them.
func Assign(cat catalog.Catalog, outDir string) catalog.Catalog {
	return cat.WithArtifacts(func(g catalog.Group, fi int) string {
		if g.Filtered() {
			return g.Artifacts[fi]
		}
		return ArtifactPath(outDir, g.Files[fi])
	})
}

// Commands returns one filter_reads invocation per read file of every group
// lacking artifacts, in catalog order.
func Commands(cat catalog.Catalog, opts Opts) []runner.Command {
	common := []string{"-l", strconv.Itoa(opts.MinLength), "-e", strconv.FormatFloat(opts.MinEntropy, 'g', -1, 64)}
	if opts.MaxN >= 0 {
		common = append(common, "-n", strconv.Itoa(opts.MaxN))
	}
	var cmds []runner.Command
	for _, g := range cat {
		if g.Filtered() {
			continue
		}
		args := common
		if opts.MaxReads >= 0 {
			args = append(append([]string(nil), common...), "-m", strconv.Itoa(opts.MaxReads/len(g.Files)))
		}
		for _, f := range g.Files {
			out := ArtifactPath(opts.OutDir, f)
			cmds = append(cmds, runner.Command{
				Name: "filter_" + filepath.Base(f),
				Path: opts.Bin,
				Args: append(append([]string{f}, args...), "-o", out),
			})
		}
	}
	return cmds
}

// Run submits the filter commands for cat and returns the catalog with all
// artifacts assigned, plus the handles of the submitted commands. With an
// Immediate runner the artifacts exist when Run returns, except for files
// whose filtering failed (see runner.Failed).
func Run(ctx context.Context, cat catalog.Catalog, opts Opts, r runner.Runner) (catalog.Catalog, []*runner.Handle, error) {
	cmds := Commands(cat, opts)
	if len(cmds) > 0 {
		log.Printf("filtering %d read file(s)", len(cmds))
	}
	handles := make([]*runner.Handle, 0, len(cmds))
	for _, c := range cmds {
		h, err := r.Submit(ctx, c, nil)
		if err != nil {
			return nil, handles, errors.E(err, "filter")
		}
		handles = append(handles, h)
	}
	return Assign(cat, opts.OutDir), handles, nil
}
