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
package schedule

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/commet/catalog"
)

// Graph is a DAG of jobs keyed by the fingerprint of their structural
// identity. Jobs are kept in the order they were added, which is a
// topological order.
type Graph struct {
	opts  Opts
	jobs  []*Job
	byKey map[uint64]*Job
}

func newGraph(opts Opts) *Graph {
	return &Graph{opts: opts, byKey: make(map[uint64]*Job)}
}

// Opts returns the options the graph was built with, defaults filled in.
func (g *Graph) Opts() Opts { return g.opts }

// Add inserts j and returns it. If a job with the same index and query
// descriptors is already present, the existing job is returned and j is
// dropped. Two different descriptors with the same fingerprint are an
// errors.Integrity error. Every job in j.Deps must already be in the graph.
func (g *Graph) Add(j *Job) (*Job, error) {
	id := identity(j.Index, j.Query)
	key := fingerprint(id)
	if old, ok := g.byKey[key]; ok {
		if old.identity != id {
			return nil, errors.E(errors.Integrity,
				fmt.Sprintf("schedule: jobs %s and %s share fingerprint %016x", j.Name, old.Name, key))
		}
		log.Debug.Printf("schedule: %s duplicates %s, skipped", j.Name, old.Name)
		return old, nil
	}
	for _, d := range j.Deps {
		if g.byKey[d.key] != d {
			log.Panicf("schedule: %s depends on %s, which is not in the graph", j.Name, d.Name)
		}
	}
	j.identity = id
	j.key = key
	j.command = g.command(j)
	g.byKey[key] = j
	g.jobs = append(g.jobs, j)
	return j, nil
}

// Jobs returns the jobs in topological order.
func (g *Graph) Jobs() []*Job { return g.jobs }

// Len returns the number of jobs.
func (g *Graph) Len() int { return len(g.jobs) }

// Terminal returns the jobs no other job depends on, in graph order.
func (g *Graph) Terminal() []*Job {
	hasDependent := make(map[*Job]bool)
	for _, j := range g.jobs {
		for _, d := range j.Deps {
			hasDependent[d] = true
		}
	}
	var terminal []*Job
	for _, j := range g.jobs {
		if !hasDependent[j] {
			terminal = append(terminal, j)
		}
	}
	return terminal
}

// fof is one file-of-files and the groups it lists.
type fof struct {
	path   string
	groups []catalog.Group
}

func (g *Graph) fofs() ([]fof, error) {
	var (
		list    []fof
		content = make(map[string]string)
	)
	add := func(path string, groups []catalog.Group) error {
		var b strings.Builder
		if err := catalog.Format(&b, groups...); err != nil {
			return err
		}
		if old, ok := content[path]; ok {
			if old != b.String() {
				return errors.E(errors.Integrity, "schedule: conflicting contents for", path)
			}
			return nil
		}
		content[path] = b.String()
		list = append(list, fof{path, groups})
		return nil
	}
	for _, j := range g.jobs {
		if err := add(j.IndexFile, []catalog.Group{j.Index}); err != nil {
			return nil, err
		}
		if err := add(j.QueryFile, j.Query); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// Files returns the path of every file-of-files referenced by the graph. It
// fails if two jobs need different contents under the same path.
func (g *Graph) Files() ([]string, error) {
	list, err := g.fofs()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(list))
	for i, f := range list {
		paths[i] = f.path
	}
	return paths, nil
}

// WriteFiles writes every file-of-files referenced by the graph.
func (g *Graph) WriteFiles(ctx context.Context) error {
	list, err := g.fofs()
	if err != nil {
		return err
	}
	for _, f := range list {
		if err := catalog.WriteFile(ctx, f.path, f.groups...); err != nil {
			return err
		}
		log.Debug.Printf("schedule: wrote %s", f.path)
	}
	return nil
}
