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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// DefaultQsubArgs are passed to qsub before the dependency and name flags.
var DefaultQsubArgs = []string{"-cwd", "-j", "y"}

// Scheduled submits commands to an SGE-compatible scheduler. The command
// line is written to qsub's standard input, predecessors become a -hold_jid
// list, and Submit returns as soon as qsub has accepted the job. Dependency
// enforcement, retries and failure propagation are left to the scheduler.
type Scheduled struct {
	// Qsub is the submission program. Defaults to "qsub".
	Qsub string
	// Args replaces DefaultQsubArgs when non-nil.
	Args []string

	// exec runs the submission program; overridden in tests.
	exec func(ctx context.Context, stdin string, path string, args ...string) ([]byte, error)
}

// Submit implements Runner.
func (s *Scheduled) Submit(ctx context.Context, c Command, deps []*Handle) (*Handle, error) {
	qsub := s.Qsub
	if qsub == "" {
		qsub = "qsub"
	}
	args := s.Args
	if args == nil {
		args = DefaultQsubArgs
	}
	args = append([]string(nil), args...)
	if ids := holdList(deps); ids != "" {
		args = append(args, "-hold_jid", ids)
	}
	name := JobName(c.Name)
	args = append(args, "-N", name)

	run := s.exec
	if run == nil {
		run = pipe
	}
	out, err := run(ctx, c.String(), qsub, args...)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("submit %s", c.Name), err)
	}
	id, err := ParseJobID(string(out))
	if err != nil {
		return nil, errors.E(err, "submit", c.Name)
	}
	log.Printf("%s: submitted as job %s: %s", c.Name, id, c)
	return &Handle{ID: id, Name: c.Name}, nil
}

func holdList(deps []*Handle) string {
	ids := make([]string, 0, len(deps))
	for _, d := range deps {
		if d != nil && d.ID != "" {
			ids = append(ids, d.ID)
		}
	}
	return strings.Join(ids, ",")
}

// ParseJobID extracts the job id from qsub's confirmation, e.g.
//
//   Your job 4242 ("all_in_A") has been submitted
func ParseJobID(out string) (string, error) {
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return "", errors.E(errors.Invalid, fmt.Sprintf("unexpected qsub output %q", out))
	}
	return fields[2], nil
}

// JobName maps name to a valid scheduler job name: characters other than
// letters, digits, '_', '.' and '-' become '_', and a name starting with a
// digit is prefixed with 'j'.
func JobName(name string) string {
	b := []byte(name)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.', c == '-':
		default:
			b[i] = '_'
		}
	}
	if len(b) == 0 || (b[0] >= '0' && b[0] <= '9') {
		b = append([]byte{'j'}, b...)
	}
	return string(b)
}

func pipe(ctx context.Context, stdin string, path string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, &ExitError{Name: "qsub", Cmd: Command{Path: path, Args: args}.String(), Code: exitCode(err), Err: err, Stderr: lastBytes(stderr.String())}
	}
	return out, nil
}

func exitCode(err error) int {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
