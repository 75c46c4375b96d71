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
	"io"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/commet/catalog"
	"github.com/grailbio/commet/filter"
	"github.com/grailbio/commet/runner"
	"github.com/grailbio/commet/schedule"
)

// Plan writes the jobs Run would submit for the manifest at input, without
// running anything or touching the filesystem beyond reading input. Each
// output line holds the job id, name, predecessor ids and command line. If
// groups is non-empty, only the jobs involving one of the named groups are
// listed.
func Plan(ctx context.Context, input string, opts Opts, groups []string, w io.Writer) error {
	opts, err := opts.Normalize()
	if err != nil {
		return err
	}
	cat, err := loadCatalog(ctx, input)
	if err != nil {
		return err
	}
	selected, err := selectGroups(cat, groups)
	if err != nil {
		return err
	}
	rec := &runner.Recorder{}
	cat, filterHandles, err := filter.Run(ctx, cat, opts.filterOpts(), rec)
	if err != nil {
		return err
	}
	g, err := schedule.Build(cat, opts.scheduleOpts())
	if err != nil {
		return err
	}
	handles, err := schedule.Execute(ctx, g, rec, filterHandles)
	if err != nil {
		return err
	}

	show := make(map[*runner.Handle]bool)
	for i, h := range filterHandles {
		show[h] = selected == nil || selected.files[rec.Submissions[i].Command.Args[0]]
	}
	for _, j := range g.Jobs() {
		show[handles[j]] = selected == nil || selected.involves(j)
	}
	tw := tsv.NewWriter(w)
	for _, s := range rec.Submissions {
		if !show[s.Handle] {
			continue
		}
		ids := make([]string, len(s.Deps))
		for i, d := range s.Deps {
			ids[i] = d.ID
		}
		deps := strings.Join(ids, ",")
		if deps == "" {
			deps = "-"
		}
		tw.WriteString(s.Handle.ID)
		tw.WriteString(s.Command.Name)
		tw.WriteString(deps)
		tw.WriteString(s.Command.String())
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

type groupSet struct {
	names map[string]bool
	files map[string]bool
}

func (s *groupSet) involves(j *schedule.Job) bool {
	if s.names[j.Index.Name] {
		return true
	}
	for _, q := range j.Query {
		if s.names[q.Name] {
			return true
		}
	}
	return false
}

// selectGroups returns nil if names is empty.
func selectGroups(cat catalog.Catalog, names []string) (*groupSet, error) {
	if len(names) == 0 {
		return nil, nil
	}
	s := &groupSet{names: make(map[string]bool), files: make(map[string]bool)}
	for _, name := range names {
		i := cat.Index(name)
		if i < 0 {
			msg := fmt.Sprintf("unknown group %q", name)
			if best := closest(name, cat.Names()); best != "" {
				msg += fmt.Sprintf(", did you mean %q?", best)
			}
			return nil, errors.E(errors.Invalid, msg)
		}
		s.names[name] = true
		for _, f := range cat[i].Files {
			s.files[f] = true
		}
	}
	return s, nil
}

// closest returns the candidate with the smallest edit distance to name,
// or "" if every candidate differs in more than half of its characters.
func closest(name string, candidates []string) string {
	best, bestDist := "", -1
	for _, c := range candidates {
		d := matchr.Levenshtein(name, c)
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist < 0 || 2*bestDist > len(best) {
		return ""
	}
	return best
}
