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

	"github.com/grailbio/base/errors"
	"github.com/grailbio/commet/runner"
)

// Execute submits the jobs of g to r in graph order, each with the handles of
// its predecessors. Jobs without predecessors are additionally held on after
// (typically the filter jobs). Execute stops at the first submission error.
func Execute(ctx context.Context, g *Graph, r runner.Runner, after []*runner.Handle) (map[*Job]*runner.Handle, error) {
	handles := make(map[*Job]*runner.Handle, g.Len())
	for _, j := range g.Jobs() {
		var deps []*runner.Handle
		if len(j.Deps) == 0 {
			deps = append(deps, after...)
		}
		for _, d := range j.Deps {
			deps = append(deps, handles[d])
		}
		h, err := r.Submit(ctx, j.Command(), deps)
		if err != nil {
			return handles, errors.E(err, "schedule: job", j.Name)
		}
		handles[j] = h
	}
	return handles, nil
}
