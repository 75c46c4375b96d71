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
package commet

import (
	"context"
	"fmt"
	"os"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/commet/catalog"
	"github.com/grailbio/commet/filter"
	"github.com/grailbio/commet/matrix"
	"github.com/grailbio/commet/runner"
	"github.com/grailbio/commet/schedule"
)

// Result summarizes a run.
type Result struct {
	// Catalog is the input catalog with all artifacts assigned.
	Catalog catalog.Catalog
	// Graph is the comparison graph.
	Graph *schedule.Graph
	// Matrices and Paths are set when the run assembled its matrices, that is
	// when it did not submit to a scheduler.
	Matrices *matrix.Matrices
	Paths    matrix.Paths
	// Cleanup is the handle of the scheduled cleanup job, if any.
	Cleanup *runner.Handle
}

func loadCatalog(ctx context.Context, input string) (catalog.Catalog, error) {
	cat, err := catalog.Open(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := cat.Validate(); err != nil {
		return nil, errors.E(err, input)
	}
	return cat, nil
}

func newRunner(opts Opts) runner.Runner {
	if opts.SGE {
		return &runner.Scheduled{Qsub: opts.Qsub}
	}
	return &runner.Immediate{}
}

// Run compares all read sets of the manifest at input. With opts.SGE the
// jobs are submitted and Run returns without waiting for them; the matrices
// are then produced by Analyze once the scheduler is done.
func Run(ctx context.Context, input string, opts Opts) (*Result, error) {
	return run(ctx, input, opts, newRunner(opts))
}

func run(ctx context.Context, input string, opts Opts, r runner.Runner) (*Result, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	cat, err := loadCatalog(ctx, input)
	if err != nil {
		return nil, err
	}
	bins := []string{BvopBin, SearchBin}
	if !cat.Filtered() {
		bins = append(bins, FilterBin)
	}
	if err = CheckBinaries(opts.BinDir, bins...); err != nil {
		return nil, err
	}
	if err = os.MkdirAll(opts.OutDir, 0755); err != nil {
		return nil, errors.E(err, "create output directory", opts.OutDir)
	}
	log.Printf("input=%s out=%s k=%d t=%d l=%d n=%d e=%v m=%d sge=%v",
		input, opts.OutDir, opts.K, opts.T, opts.L, opts.N, opts.E, opts.M, opts.SGE)

	if !cat.Filtered() {
		log.Printf("reads were not filtered, filtering them")
	}
	cat, filterHandles, err := filter.Run(ctx, cat, opts.filterOpts(), r)
	if err != nil {
		return nil, err
	}
	g, err := schedule.Build(cat, opts.scheduleOpts())
	if err != nil {
		return nil, err
	}
	if err = g.WriteFiles(ctx); err != nil {
		return nil, err
	}
	fofs, err := g.Files()
	if err != nil {
		return nil, err
	}
	handles, err := schedule.Execute(ctx, g, r, filterHandles)
	if err != nil {
		return nil, err
	}
	res := &Result{Catalog: cat, Graph: g}

	if opts.SGE {
		var last []*runner.Handle
		for _, j := range g.Terminal() {
			last = append(last, handles[j])
		}
		if !opts.KeepFiles {
			clean := runner.Command{Name: "clean", Path: "rm", Args: append([]string{"-f"}, fofs...)}
			if res.Cleanup, err = r.Submit(ctx, clean, last); err != nil {
				return nil, errors.E(err, "submit cleanup")
			}
		}
		log.Printf("all %d jobs are submitted; once they are over, compute the matrices with:", g.Len())
		log.Printf("\tbio-commet analyze -out %s -bin %s %s", opts.OutDir, opts.BinDir, input)
		return res, nil
	}

	all := append([]*runner.Handle(nil), filterHandles...)
	for _, j := range g.Jobs() {
		all = append(all, handles[j])
	}
	if failed := runner.Failed(all); len(failed) > 0 {
		return res, errors.E(fmt.Sprintf("%d of %d jobs failed, first: %s; file-of-files kept in %s",
			len(failed), len(all), failed[0].Name, g.Opts().WorkDir), failed[0].Err)
	}
	if res.Matrices, res.Paths, err = assemble(ctx, cat, opts); err != nil {
		return res, err
	}
	if !opts.KeepFiles {
		removeFiles(ctx, fofs)
	}
	return res, nil
}

// Analyze assembles the matrices from the artifacts left in opts.OutDir by an
// earlier run.
func Analyze(ctx context.Context, input string, opts Opts) (*Result, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	cat, err := loadCatalog(ctx, input)
	if err != nil {
		return nil, err
	}
	if err = CheckBinaries(opts.BinDir, BvopBin); err != nil {
		return nil, err
	}
	res := &Result{Catalog: filter.Assign(cat, opts.OutDir)}
	res.Matrices, res.Paths, err = assemble(ctx, res.Catalog, opts)
	return res, err
}

func assemble(ctx context.Context, cat catalog.Catalog, opts Opts) (*matrix.Matrices, matrix.Paths, error) {
	m, err := matrix.Assemble(ctx, cat, opts.OutDir, matrix.Bvop{Bin: opts.bin(BvopBin)}, opts.Parallelism)
	if err != nil {
		return nil, matrix.Paths{}, err
	}
	paths, err := matrix.Write(ctx, opts.OutDir, m)
	if err != nil {
		return m, paths, err
	}
	if opts.Plot {
		matrix.Plot(ctx, &runner.Immediate{}, matrix.PlotCommands(opts.OutDir, opts.ScriptDir, paths))
	}
	log.Printf("matrices written to %s, %s and %s", paths.Plain, paths.Percentage, paths.Normalized)
	return m, paths, nil
}

func removeFiles(ctx context.Context, paths []string) {
	for _, path := range paths {
		if err := file.Remove(ctx, path); err != nil {
			log.Error.Printf("remove %s: %v", path, err)
		}
	}
	log.Debug.Printf("removed %d temporary files", len(paths))
}
