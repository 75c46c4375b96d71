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
package runner

import (
	"context"
	"strconv"
)

// Submission is one call to Recorder.Submit.
type Submission struct {
	Command Command
	Deps    []*Handle
	Handle  *Handle
}

// Recorder is a Runner that runs nothing and remembers each submission. It
// is used for dry runs.
type Recorder struct {
	Submissions []Submission
}

// Submit implements Runner.
func (r *Recorder) Submit(_ context.Context, c Command, deps []*Handle) (*Handle, error) {
	h := &Handle{ID: strconv.Itoa(len(r.Submissions) + 1), Name: c.Name}
	r.Submissions = append(r.Submissions, Submission{Command: c, Deps: append([]*Handle(nil), deps...), Handle: h})
	return h, nil
}
