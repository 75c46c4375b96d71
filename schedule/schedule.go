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

/*
Package schedule builds the graph of index_and_search invocations that yields
every pairwise shared-read count of a catalog.

For groups 0..N-1 and each reference r in 0..N-2 the graph holds

  all_in_r            index r, query every group j > r
  r_in_j_in_r         index j restricted to its reads shared with r, query r
  j_in_r_in_j_in_r    index r restricted to its reads shared with j, query j

where the last two exist for every j > r and form a chain after the first.
Each index build serves all queries against it, so a full run performs
(N-1) + N(N-1) invocations. After the graph has run, the reads of file f of
group i shared with group j are selected by SharedArtifact(out, f, name_j).
*/
package schedule

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/commet/catalog"
	"github.com/grailbio/commet/runner"
	"github.com/minio/highwayhash"
)

// Kind distinguishes the three steps of the comparison of a pair.
type Kind int

const (
	// AllIn indexes the reference group and queries all later groups.
	AllIn Kind = iota
	// Refine indexes group j restricted to reads shared with the reference,
	// and queries the reference.
	Refine
	// Backfill indexes the reference restricted to reads shared with j, and
	// queries j.
	Backfill
)

func (k Kind) String() string {
	switch k {
	case AllIn:
		return "all-in"
	case Refine:
		return "refine"
	case Backfill:
		return "backfill"
	}
	return "kind" + strconv.Itoa(int(k))
}

// Opts configures graph construction.
type Opts struct {
	// Bin is the path of the index_and_search binary.
	Bin string
	// OutDir receives the shared-read artifacts and index_and_search logs.
	OutDir string
	// WorkDir receives the generated file-of-files. Defaults to OutDir.
	WorkDir string
	// Prefix is embedded in every file-of-files name. Defaults to
	// Fingerprint of the catalog.
	Prefix string
	// K is the k-mer size (-k).
	K int
	// T is the minimal number of shared k-mers (-t).
	T int
}

// SharedArtifact is the artifact index_and_search writes for readFile when it
// is queried against an index of the named group.
func SharedArtifact(outDir, readFile, indexGroup string) string {
	return filepath.Join(outDir, filepath.Base(readFile)+"_in_"+indexGroup+".bv")
}

// Fingerprint returns a name fragment derived from the catalog content. Equal
// catalogs give equal fingerprints.
func Fingerprint(cat catalog.Catalog) string {
	var b strings.Builder
	for _, g := range cat {
		b.WriteString(g.String())
		b.WriteByte('\n')
	}
	var key [highwayhash.Size]byte
	sum := highwayhash.Sum([]byte(b.String()), key[:])
	return "tmp_" + hex.EncodeToString(sum[:8])
}

// Job is one index_and_search invocation.
type Job struct {
	Kind Kind
	// Ref is the reference group index r.
	Ref int
	// Other is the partner group index j, or -1 for AllIn.
	Other int
	// Name is derived from the group names and is unique within a graph.
	Name string
	// Index is the single group indexed by the job.
	Index catalog.Group
	// Query lists the groups searched against the index.
	Query []catalog.Group
	// IndexFile and QueryFile are the file-of-files passed to -i and -s.
	IndexFile, QueryFile string
	// Deps are the jobs that must finish first.
	Deps []*Job

	identity string
	key      uint64
	command  runner.Command
}

// Key is a fingerprint of the job's structural identity (its index and query
// descriptors).
func (j *Job) Key() uint64 { return j.key }

// Command returns the invocation of the job.
func (j *Job) Command() runner.Command { return j.command }

// Inputs lists the artifacts the job reads.
func (j *Job) Inputs() []string {
	inputs := append([]string(nil), j.Index.Artifacts...)
	for _, q := range j.Query {
		inputs = append(inputs, q.Artifacts...)
	}
	return inputs
}

func (j *Job) String() string { return fmt.Sprintf("%s(%016x)", j.Name, j.key) }

func identity(index catalog.Group, query []catalog.Group) string {
	var b strings.Builder
	b.WriteString(index.String())
	b.WriteString("\n\n")
	for _, q := range query {
		b.WriteString(q.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Build returns the comparison graph of cat, whose groups must all carry
// filter artifacts.
func Build(cat catalog.Catalog, opts Opts) (*Graph, error) {
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	if !cat.Filtered() {
		return nil, errors.E(errors.Invalid, "schedule: catalog groups lack filter artifacts")
	}
	if opts.WorkDir == "" {
		opts.WorkDir = opts.OutDir
	}
	if opts.Prefix == "" {
		opts.Prefix = Fingerprint(cat)
	}
	g := newGraph(opts)
	n := len(cat)
	for r := 0; r < n-1; r++ {
		ref := cat[r]
		allIn, err := g.Add(&Job{
			Kind:      AllIn,
			Ref:       r,
			Other:     -1,
			Name:      "all_in_" + ref.Name,
			Index:     ref,
			Query:     append([]catalog.Group(nil), cat[r+1:]...),
			IndexFile: g.groupFile(ref),
			QueryFile: g.fofPath("queries_for_index_" + ref.Name),
		})
		if err != nil {
			return nil, err
		}
		for j := r + 1; j < n; j++ {
			other := cat[j]
			refine, err := g.Add(&Job{
				Kind:      Refine,
				Ref:       r,
				Other:     j,
				Name:      ref.Name + "_in_" + other.Name + "_in_" + ref.Name,
				Index:     scoped(other, ref.Name, opts.OutDir),
				Query:     []catalog.Group{ref},
				IndexFile: g.fofPath("index_" + other.Name + "_previous_" + ref.Name),
				QueryFile: g.groupFile(ref),
				Deps:      []*Job{allIn},
			})
			if err != nil {
				return nil, err
			}
			if _, err := g.Add(&Job{
				Kind:      Backfill,
				Ref:       r,
				Other:     j,
				Name:      other.Name + "_in_" + ref.Name + "_in_" + other.Name + "_in_" + ref.Name,
				Index:     scoped(ref, other.Name, opts.OutDir),
				Query:     []catalog.Group{other},
				IndexFile: g.fofPath("index_" + ref.Name + "_previous_" + other.Name),
				QueryFile: g.groupFile(other),
				Deps:      []*Job{refine},
			}); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// scoped returns g with each artifact replaced by the selection of its reads
// shared with the named group.
func scoped(g catalog.Group, with, outDir string) catalog.Group {
	return catalog.Catalog{g}.WithArtifacts(func(grp catalog.Group, fi int) string {
		return SharedArtifact(outDir, grp.Files[fi], with)
	})[0]
}

func (g *Graph) fofPath(stem string) string {
	return filepath.Join(g.opts.WorkDir, stem+"_"+g.opts.Prefix+".txt")
}

func (g *Graph) groupFile(grp catalog.Group) string {
	return g.fofPath(grp.Name)
}

func (g *Graph) command(j *Job) runner.Command {
	o := g.opts
	return runner.Command{
		Name: j.Name,
		Path: o.Bin,
		Args: []string{
			"-i", j.IndexFile,
			"-s", j.QueryFile,
			"-o", o.OutDir,
			"-t", strconv.Itoa(o.T),
			"-k", strconv.Itoa(o.K),
			"-l", o.OutDir,
		},
		Inputs: j.Inputs(),
	}
}

// fingerprint hashes a job identity. Replaced in tests.
var fingerprint = func(s string) uint64 { return farm.Fingerprint64([]byte(s)) }
