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
package matrix

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/commet/runner"
)

// Paths names the matrix files written by Write.
type Paths struct {
	Plain, Percentage, Normalized string
}

// OutputPaths returns the matrix file paths under outDir.
func OutputPaths(outDir string) Paths {
	return Paths{
		Plain:      filepath.Join(outDir, "matrix_plain.tsv"),
		Percentage: filepath.Join(outDir, "matrix_percentage.tsv"),
		Normalized: filepath.Join(outDir, "matrix_normalized.tsv"),
	}
}

// Write writes the three matrices of m under outDir as tab-separated tables.
// The first row holds an empty cell followed by the group names; each further
// row holds a group name followed by its values.
func Write(ctx context.Context, outDir string, m *Matrices) (Paths, error) {
	p := OutputPaths(outDir)
	err := writeTable(ctx, p.Plain, m.Names, func(w *tsv.Writer, i, j int) {
		w.WriteInt64(m.Plain[i][j])
	})
	if err == nil {
		err = writeTable(ctx, p.Percentage, m.Names, floatCell(m.Percentage))
	}
	if err == nil {
		err = writeTable(ctx, p.Normalized, m.Names, floatCell(m.Normalized))
	}
	return p, err
}

func floatCell(values [][]float64) func(w *tsv.Writer, i, j int) {
	return func(w *tsv.Writer, i, j int) {
		w.WriteString(strconv.FormatFloat(values[i][j], 'g', -1, 64))
	}
}

func writeTable(ctx context.Context, path string, names []string, cell func(w *tsv.Writer, i, j int)) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "matrix: create", path)
	}
	defer func() {
		if e := out.Close(ctx); e != nil && err == nil {
			err = errors.E(e, "matrix: close", path)
		}
	}()
	w := tsv.NewWriter(out.Writer(ctx))
	w.WriteString("")
	for _, name := range names {
		w.WriteString(name)
	}
	if err = w.EndLine(); err != nil {
		return errors.E(err, "matrix: write", path)
	}
	for i, name := range names {
		w.WriteString(name)
		for j := range names {
			cell(w, i, j)
		}
		if err = w.EndLine(); err != nil {
			return errors.E(err, "matrix: write", path)
		}
	}
	if err = w.Flush(); err != nil {
		return errors.E(err, "matrix: write", path)
	}
	log.Printf("matrix: wrote %s", path)
	return nil
}

// PlotCommands returns the Rscript invocations drawing a dendrogram of the
// normalized matrix and one heatmap per matrix, each ordered by the
// normalized matrix. Scripts are looked up in scriptDir and receive the
// tab-separated tables of p, not the ';'-separated files of the legacy tool.
func PlotCommands(outDir, scriptDir string, p Paths) []runner.Command {
	rscript := func(name string, args ...string) runner.Command {
		return runner.Command{
			Name:   name,
			Path:   "Rscript",
			Args:   append([]string{"--vanilla"}, args...),
			Inputs: []string{p.Normalized},
		}
	}
	heatmap := filepath.Join(scriptDir, "heatmap.r")
	return []runner.Command{
		rscript("dendrogram", filepath.Join(scriptDir, "dendro.R"), p.Normalized, filepath.Join(outDir, "dendrogram_normalized.png")),
		rscript("heatmap_plain", heatmap, p.Plain, p.Normalized, filepath.Join(outDir, "heatmap_plain.png"), "Plain"),
		rscript("heatmap_percentage", heatmap, p.Percentage, p.Normalized, filepath.Join(outDir, "heatmap_percentage.png"), "Percentage"),
		rscript("heatmap_normalized", heatmap, p.Normalized, p.Normalized, filepath.Join(outDir, "heatmap_normalized.png"), "Normalized"),
	}
}

// Plot runs the plot commands. Failures are logged and otherwise ignored.
func Plot(ctx context.Context, r runner.Runner, cmds []runner.Command) {
	for _, c := range cmds {
		h, err := r.Submit(ctx, c, nil)
		if err == nil && h.Err != nil {
			err = h.Err
		}
		if err != nil {
			log.Error.Printf("matrix: plot %s failed: %v", c.Name, err)
		}
	}
}
