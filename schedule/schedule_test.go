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
package schedule_test

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/commet/catalog"
	"github.com/grailbio/commet/runner"
	"github.com/grailbio/commet/schedule"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func makeCatalog(n int) catalog.Catalog {
	cat := make(catalog.Catalog, n)
	for i := range cat {
		name := fmt.Sprintf("S%d", i)
		cat[i] = catalog.Group{
			Name:      name,
			Files:     []string{"/data/" + name + "_1.fq", "/data/" + name + "_2.fq"},
			Artifacts: []string{"/out/" + name + "_1.fq.bv", "/out/" + name + "_2.fq.bv"},
		}
	}
	return cat
}

var testOpts = schedule.Opts{Bin: "/bin/index_and_search", OutDir: "/out", Prefix: "tmp", K: 33, T: 2}

func TestTwoGroups(t *testing.T) {
	cat, err := catalog.Parse(strings.NewReader("A: a1.fq,a1.bv;a2.fq,a2.bv\nB: b1.fq,b1.bv\n"))
	assert.NoError(t, err)
	g, err := schedule.Build(cat, testOpts)
	assert.NoError(t, err)
	assert.EQ(t, g.Len(), 3)

	jobs := g.Jobs()
	expect.EQ(t, jobs[0].Kind, schedule.AllIn)
	expect.EQ(t, jobs[0].Name, "all_in_A")
	expect.EQ(t, jobs[1].Name, "A_in_B_in_A")
	expect.EQ(t, jobs[2].Name, "B_in_A_in_B_in_A")
	expect.EQ(t, jobs[0].Command().String(),
		"/bin/index_and_search -i /out/A_tmp.txt -s /out/queries_for_index_A_tmp.txt -o /out -t 2 -k 33 -l /out")
	expect.EQ(t, jobs[1].Command().Args[:4], []string{"-i", "/out/index_B_previous_A_tmp.txt", "-s", "/out/A_tmp.txt"})
	expect.EQ(t, jobs[2].Command().Args[:4], []string{"-i", "/out/index_A_previous_B_tmp.txt", "-s", "/out/B_tmp.txt"})

	// Refine indexes B's reads shared with A; backfill indexes A's reads
	// shared with B.
	expect.EQ(t, jobs[1].Index.Artifacts, []string{"/out/b1.fq_in_A.bv"})
	expect.EQ(t, jobs[2].Index.Artifacts, []string{"/out/a1.fq_in_B.bv", "/out/a2.fq_in_B.bv"})
	expect.EQ(t, jobs[1].Inputs(), []string{"/out/b1.fq_in_A.bv", "a1.bv", "a2.bv"})

	expect.True(t, len(jobs[0].Deps) == 0)
	expect.EQ(t, jobs[1].Deps, []*schedule.Job{jobs[0]})
	expect.EQ(t, jobs[2].Deps, []*schedule.Job{jobs[1]})
	expect.EQ(t, g.Terminal(), []*schedule.Job{jobs[2]})
}

func TestJobCounts(t *testing.T) {
	for n := 2; n <= 7; n++ {
		g, err := schedule.Build(makeCatalog(n), testOpts)
		assert.NoError(t, err)
		expect.EQ(t, g.Len(), (n-1)+n*(n-1), "n=%d", n)

		allIn := map[int]bool{}
		keys := map[uint64]bool{}
		pairs := map[[2]int]int{}
		for _, j := range g.Jobs() {
			expect.False(t, keys[j.Key()], "duplicate key for %s", j.Name)
			keys[j.Key()] = true
			switch j.Kind {
			case schedule.AllIn:
				expect.False(t, allIn[j.Ref])
				allIn[j.Ref] = true
				expect.EQ(t, len(j.Query), n-1-j.Ref)
			default:
				expect.True(t, j.Other > j.Ref)
				pairs[[2]int{j.Ref, j.Other}]++
			}
		}
		expect.EQ(t, len(allIn), n-1)
		expect.EQ(t, len(pairs), n*(n-1)/2)
		for p, count := range pairs {
			expect.EQ(t, count, 2, "pair %v", p)
		}
		expect.EQ(t, len(g.Terminal()), n*(n-1)/2)
	}
}

func TestAddIdempotent(t *testing.T) {
	g, err := schedule.Build(makeCatalog(3), testOpts)
	assert.NoError(t, err)
	n := g.Len()
	first := g.Jobs()[0]
	dup := &schedule.Job{Name: "again", Index: first.Index, Query: first.Query}
	got, err := g.Add(dup)
	assert.NoError(t, err)
	expect.True(t, got == first)
	expect.EQ(t, g.Len(), n)
}

func TestBuildErrors(t *testing.T) {
	unfiltered := catalog.Catalog{
		{Name: "A", Files: []string{"a.fq"}},
		{Name: "B", Files: []string{"b.fq"}},
	}
	_, err := schedule.Build(unfiltered, testOpts)
	expect.True(t, errors.Is(errors.Invalid, err), "err: %v", err)

	_, err = schedule.Build(makeCatalog(1), testOpts)
	expect.True(t, errors.Is(errors.Invalid, err), "err: %v", err)
}

func TestFingerprint(t *testing.T) {
	a, b := makeCatalog(3), makeCatalog(3)
	expect.EQ(t, schedule.Fingerprint(a), schedule.Fingerprint(b))
	b[2].Files[1] = "/data/other.fq"
	expect.True(t, schedule.Fingerprint(a) != schedule.Fingerprint(b))

	opts := testOpts
	opts.Prefix = ""
	g, err := schedule.Build(a, opts)
	assert.NoError(t, err)
	expect.EQ(t, g.Opts().Prefix, schedule.Fingerprint(a))
	expect.EQ(t, g.Opts().WorkDir, "/out")
}

func TestWriteFiles(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := context.Background()

	opts := testOpts
	opts.WorkDir = tmpdir
	cat := makeCatalog(3)
	g, err := schedule.Build(cat, opts)
	assert.NoError(t, err)
	assert.NoError(t, g.WriteFiles(ctx))

	// Per-group files, one query file per reference, two scoped index files
	// per pair.
	files, err := g.Files()
	assert.NoError(t, err)
	expect.EQ(t, len(files), 3+2+2*3)
	for _, path := range files {
		expect.EQ(t, filepath.Dir(path), tmpdir)
	}

	queries, err := catalog.Open(ctx, filepath.Join(tmpdir, "queries_for_index_S0_tmp.txt"))
	assert.NoError(t, err)
	expect.EQ(t, queries, cat[1:])

	data, err := ioutil.ReadFile(filepath.Join(tmpdir, "index_S2_previous_S1_tmp.txt"))
	assert.NoError(t, err)
	expect.EQ(t, string(data), "S2:/data/S2_1.fq,/out/S2_1.fq_in_S1.bv;/data/S2_2.fq,/out/S2_2.fq_in_S1.bv\n")
}

func TestExecute(t *testing.T) {
	g, err := schedule.Build(makeCatalog(3), testOpts)
	assert.NoError(t, err)
	filters := []*runner.Handle{{ID: "f1", Name: "filter_1"}, {ID: "f2", Name: "filter_2"}}
	rec := &runner.Recorder{}
	handles, err := schedule.Execute(context.Background(), g, rec, filters)
	assert.NoError(t, err)
	assert.EQ(t, len(rec.Submissions), g.Len())
	expect.EQ(t, len(handles), g.Len())
	for i, j := range g.Jobs() {
		sub := rec.Submissions[i]
		expect.EQ(t, sub.Command.Name, j.Name)
		expect.True(t, handles[j] == sub.Handle)
		if j.Kind == schedule.AllIn {
			expect.EQ(t, sub.Deps, filters)
			continue
		}
		assert.EQ(t, len(sub.Deps), 1)
		expect.True(t, sub.Deps[0] == handles[j.Deps[0]])
	}
}
