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

// Package matrix turns per-file shared-read artifacts into the plain,
// percentage and normalized similarity matrices of a catalog.
package matrix

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/commet/catalog"
	"github.com/grailbio/commet/runner"
	"github.com/grailbio/commet/schedule"
)

// Tallier counts the reads selected by a boolean-vector artifact.
type Tallier interface {
	Tally(ctx context.Context, path string) (int64, error)
}

// Bvop tallies artifacts with "bvop <path> -i".
type Bvop struct {
	// Bin is the path of the bvop binary.
	Bin string
}

// Tally implements Tallier.
func (b Bvop) Tally(ctx context.Context, path string) (int64, error) {
	c := runner.Command{Name: "bvop", Path: b.Bin, Args: []string{path, "-i"}, Inputs: []string{path}}
	if err := runner.CheckInputs(ctx, c); err != nil {
		return 0, err
	}
	out, err := runner.Output(ctx, c)
	if err != nil {
		return 0, err
	}
	n, err := ParseTally(out)
	if err != nil {
		return 0, errors.E(err, path)
	}
	return n, nil
}

// ParseTally extracts the selected-read count from bvop -i output, whose
// last line reads "  <selected> / <total> reads selected".
func ParseTally(out []byte) (int64, error) {
	lines := strings.Split(string(out), "\n")
	if len(lines) < 2 {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("bvop: unexpected output %q", out))
	}
	fields := strings.Fields(lines[len(lines)-2])
	if len(fields) == 0 {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("bvop: unexpected output %q", out))
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, errors.E(errors.Invalid, "bvop: bad read count", err)
	}
	return n, nil
}

// Matrices holds the comparison results of a catalog. Row i, column j
// describes the reads of group i shared with group j.
type Matrices struct {
	Names []string
	// Plain[i][j] is the number of reads of group i shared with group j.
	// Plain[i][i] is the number of reads of group i.
	Plain [][]int64
	// Percentage[i][j] is 100*Plain[i][j]/Plain[i][i].
	Percentage [][]float64
	// Normalized[i][j] is 100*(Plain[i][j]+Plain[j][i])/(Plain[i][i]+Plain[j][j]).
	Normalized [][]float64
}

// Compute derives the percentage and normalized matrices from plain. Entries
// with a zero denominator are NaN.
func Compute(names []string, plain [][]int64) *Matrices {
	n := len(names)
	m := &Matrices{
		Names:      names,
		Plain:      plain,
		Percentage: make([][]float64, n),
		Normalized: make([][]float64, n),
	}
	ratio := func(num, den int64) float64 {
		if den == 0 {
			return math.NaN()
		}
		return 100 * float64(num) / float64(den)
	}
	for i := 0; i < n; i++ {
		m.Percentage[i] = make([]float64, n)
		m.Normalized[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			m.Percentage[i][j] = ratio(plain[i][j], plain[i][i])
			m.Normalized[i][j] = ratio(plain[i][j]+plain[j][i], plain[i][i]+plain[j][j])
		}
	}
	return m
}

// Assemble tallies the artifacts of cat under outDir and computes the
// matrices. Up to parallelism tallies run at once; values below 1 mean 1.
func Assemble(ctx context.Context, cat catalog.Catalog, outDir string, t Tallier, parallelism int) (*Matrices, error) {
	if !cat.Filtered() {
		return nil, errors.E(errors.Invalid, "matrix: catalog groups lack filter artifacts")
	}
	if parallelism < 1 {
		parallelism = 1
	}
	n := len(cat)
	plain := make([][]int64, n)
	for i := range plain {
		plain[i] = make([]int64, n)
	}
	names := cat.Names()
	err := traverse.Limit(parallelism).Each(n*n, func(cell int) error {
		i, j := cell/n, cell%n
		var paths []string
		if i == j {
			paths = cat[i].Artifacts
		} else {
			for _, f := range cat[i].Files {
				paths = append(paths, schedule.SharedArtifact(outDir, f, names[j]))
			}
		}
		var sum int64
		for _, path := range paths {
			c, err := t.Tally(ctx, path)
			if err != nil {
				return err
			}
			sum += c
		}
		plain[i][j] = sum
		return nil
	})
	if err != nil {
		return nil, errors.E(err, "matrix: tally")
	}
	for i, name := range names {
		log.Debug.Printf("matrix: %s has %d reads", name, plain[i][i])
	}
	return Compute(names, plain), nil
}
