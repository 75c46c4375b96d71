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
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/commet/catalog"
	"github.com/grailbio/commet/runner"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

// Every filter artifact selects 10 reads and every shared artifact 4.
var fakeBins = map[string]string{
	FilterBin: `#!/bin/sh
while [ $# -gt 0 ]; do
  if [ "$1" = -o ]; then echo 10 > "$2"; fi
  shift
done
`,
	SearchBin: `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
  -i) idx=$2; shift;;
  -s) qry=$2; shift;;
  -o) out=$2; shift;;
  esac
  shift
done
name=$(cut -d: -f1 "$idx")
for f in $(cut -d: -f2 "$qry" | tr ';' '\n' | cut -d, -f1); do
  echo 4 > "$out/$(basename "$f")_in_$name.bv"
done
`,
	BvopBin: `#!/bin/sh
echo "$1"
echo "  $(cat "$1") / 10 reads selected"
`,
}

func writeBins(t *testing.T, dir string, names ...string) {
	assert.NoError(t, os.MkdirAll(dir, 0755))
	for _, name := range names {
		assert.NoError(t, ioutil.WriteFile(filepath.Join(dir, name), []byte(fakeBins[name]), 0755))
	}
}

func testSetup(t *testing.T, tmpdir string, groups ...string) (string, Opts) {
	ctx := context.Background()
	var cat catalog.Catalog
	for _, name := range groups {
		g := catalog.Group{Name: name}
		for _, suffix := range []string{"_1.fq", "_2.fq"} {
			path := filepath.Join(tmpdir, "reads", name+suffix)
			g.Files = append(g.Files, path)
		}
		cat = append(cat, g)
	}
	input := filepath.Join(tmpdir, "sets.txt")
	assert.NoError(t, catalog.WriteFile(ctx, input, cat...))

	opts := DefaultOpts
	opts.OutDir = filepath.Join(tmpdir, "out")
	opts.BinDir = filepath.Join(tmpdir, "bin")
	opts.Plot = false
	return input, opts
}

func TestNormalize(t *testing.T) {
	opts, err := DefaultOpts.Normalize()
	assert.NoError(t, err)
	expect.EQ(t, opts.L, 66)
	expect.True(t, filepath.IsAbs(opts.OutDir))
	expect.True(t, filepath.IsAbs(opts.BinDir))

	o := DefaultOpts
	o.L = 100
	opts, err = o.Normalize()
	assert.NoError(t, err)
	expect.EQ(t, opts.L, 100)

	for _, mod := range []func(*Opts){
		func(o *Opts) { o.K = 0 },
		func(o *Opts) { o.T = -1 },
		func(o *Opts) { o.E = 2.5 },
	} {
		o := DefaultOpts
		mod(&o)
		_, err := o.Normalize()
		expect.True(t, errors.Is(errors.Invalid, err), "err: %v", err)
	}
}

func TestCheckBinaries(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	writeBins(t, tmpdir, BvopBin)
	assert.NoError(t, ioutil.WriteFile(filepath.Join(tmpdir, SearchBin), nil, 0644))
	assert.NoError(t, CheckBinaries(tmpdir, BvopBin))
	for _, name := range []string{SearchBin, FilterBin} {
		err := CheckBinaries(tmpdir, BvopBin, name)
		expect.True(t, errors.Is(errors.Precondition, err), "err: %v", err)
		expect.True(t, strings.Contains(err.Error(), name), "err: %v", err)
	}
}

func TestRun(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	input, opts := testSetup(t, tmpdir, "A", "B", "C")
	writeBins(t, opts.BinDir, FilterBin, SearchBin, BvopBin)
	res, err := Run(ctx, input, opts)
	assert.NoError(t, err)

	expect.EQ(t, res.Graph.Len(), 2+6)
	expect.True(t, res.Catalog.Filtered())
	m := res.Matrices
	expect.EQ(t, m.Names, []string{"A", "B", "C"})
	expect.EQ(t, m.Plain, [][]int64{{20, 8, 8}, {8, 20, 8}, {8, 8, 20}})
	expect.EQ(t, m.Percentage[0][1], 40.0)
	for _, path := range []string{res.Paths.Plain, res.Paths.Percentage, res.Paths.Normalized} {
		_, err := os.Stat(path)
		expect.NoError(t, err)
	}
	fofs, err := res.Graph.Files()
	assert.NoError(t, err)
	for _, path := range fofs {
		_, err := os.Stat(path)
		expect.True(t, os.IsNotExist(err), "%s: %v", path, err)
	}

	// The artifacts are in place, so the matrices can be recomputed.
	again, err := Analyze(ctx, input, opts)
	assert.NoError(t, err)
	expect.EQ(t, again.Matrices.Plain, m.Plain)
}

func TestRunFailure(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	input, opts := testSetup(t, tmpdir, "A", "B")
	writeBins(t, opts.BinDir, FilterBin, BvopBin)
	assert.NoError(t, ioutil.WriteFile(filepath.Join(opts.BinDir, SearchBin), []byte("#!/bin/sh\nexit 3\n"), 0755))
	res, err := Run(ctx, input, opts)
	assert.NotNil(t, err)
	expect.True(t, strings.Contains(err.Error(), "3 of 7 jobs failed"), "err: %v", err)
	expect.True(t, res.Matrices == nil)
	fofs, err := res.Graph.Files()
	assert.NoError(t, err)
	for _, path := range fofs {
		_, err := os.Stat(path)
		expect.NoError(t, err)
	}
}

func TestRunMissingBinary(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	input, opts := testSetup(t, tmpdir, "A", "B")
	writeBins(t, opts.BinDir, SearchBin, BvopBin)
	_, err := Run(context.Background(), input, opts)
	expect.True(t, errors.Is(errors.Precondition, err), "err: %v", err)
}

func TestRunScheduled(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	input, opts := testSetup(t, tmpdir, "A", "B", "C")
	writeBins(t, opts.BinDir, FilterBin, SearchBin, BvopBin)
	opts.SGE = true
	rec := &runner.Recorder{}
	res, err := run(ctx, input, opts, rec)
	assert.NoError(t, err)
	expect.True(t, res.Matrices == nil)

	// 6 filter commands, 8 searches, 1 cleanup.
	assert.EQ(t, len(rec.Submissions), 6+8+1)
	for _, s := range rec.Submissions[:6] {
		expect.EQ(t, len(s.Deps), 0)
	}
	// The first search waits on every filter command.
	expect.EQ(t, len(rec.Submissions[6].Deps), 6)
	last := rec.Submissions[len(rec.Submissions)-1]
	assert.True(t, res.Cleanup == last.Handle)
	expect.EQ(t, last.Command.Path, "rm")
	expect.EQ(t, len(last.Deps), len(res.Graph.Terminal()))
	fofs, err := res.Graph.Files()
	assert.NoError(t, err)
	expect.EQ(t, last.Command.Args[1:], fofs)
	// The file-of-files are written for the scheduler.
	for _, path := range fofs {
		_, err := os.Stat(path)
		expect.NoError(t, err)
	}

	opts.KeepFiles = true
	rec = &runner.Recorder{}
	res, err = run(ctx, input, opts, rec)
	assert.NoError(t, err)
	expect.EQ(t, len(rec.Submissions), 6+8)
	expect.True(t, res.Cleanup == nil)
}

func TestPlan(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	input, opts := testSetup(t, tmpdir, "alpha", "beta", "gamma")
	var out bytes.Buffer
	assert.NoError(t, Plan(ctx, input, opts, nil, &out))
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	assert.EQ(t, len(lines), 6+8)
	expect.True(t, strings.HasPrefix(lines[0], "1\tfilter_alpha_1.fq\t-\t"), "line: %s", lines[0])
	expect.True(t, strings.HasPrefix(lines[6], "7\tall_in_alpha\t1,2,3,4,5,6\t"), "line: %s", lines[6])
	_, err := os.Stat(opts.OutDir)
	expect.True(t, os.IsNotExist(err), "err: %v", err)

	out.Reset()
	assert.NoError(t, Plan(ctx, input, opts, []string{"gamma"}, &out))
	lines = strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	var names []string
	for _, line := range lines {
		names = append(names, strings.Split(line, "\t")[1])
	}
	expect.EQ(t, names, []string{
		"filter_gamma_1.fq",
		"filter_gamma_2.fq",
		"all_in_alpha",
		"alpha_in_gamma_in_alpha",
		"gamma_in_alpha_in_gamma_in_alpha",
		"all_in_beta",
		"beta_in_gamma_in_beta",
		"gamma_in_beta_in_gamma_in_beta",
	})

	err = Plan(ctx, input, opts, []string{"gama"}, &out)
	expect.True(t, errors.Is(errors.Invalid, err), "err: %v", err)
	expect.True(t, strings.Contains(err.Error(), `did you mean "gamma"`), "err: %v", err)
	err = Plan(ctx, input, opts, []string{"zzzzzzzz"}, &out)
	expect.True(t, errors.Is(errors.Invalid, err), "err: %v", err)
	expect.False(t, strings.Contains(err.Error(), "did you mean"), "err: %v", err)
}
