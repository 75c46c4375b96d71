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
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// maxStderr bounds the stderr tail kept in an ExitError.
const maxStderr = 512

// Immediate runs each command synchronously in submission order. A command
// that exits non-zero is logged and recorded on its handle but does not stop
// the caller; commands depending on it are skipped. A missing input artifact
// of a command whose predecessors all succeeded is returned as an
// errors.NotExist error.
type Immediate struct {
	// Stdout, if set, receives the standard output of every command.
	Stdout io.Writer
	// Stderr, if set, receives the standard error of every command.
	Stderr io.Writer

	n int
}

// Submit implements Runner.
func (r *Immediate) Submit(ctx context.Context, c Command, deps []*Handle) (*Handle, error) {
	r.n++
	h := &Handle{ID: strconv.Itoa(r.n), Name: c.Name}
	for _, d := range deps {
		if d.Err != nil {
			h.Err = errors.E(fmt.Sprintf("%s: skipped, predecessor %s failed", c.Name, d.Name), d.Err)
			log.Error.Printf("%v", h.Err)
			return h, nil
		}
	}
	if err := CheckInputs(ctx, c); err != nil {
		return nil, err
	}
	log.Printf("%s: %s", c.Name, c)
	if err := run(ctx, c, r.Stdout, r.Stderr); err != nil {
		h.Err = err
		log.Error.Printf("%v", err)
	}
	return h, nil
}

// CheckInputs verifies that every input of c exists.
func CheckInputs(ctx context.Context, c Command) error {
	for _, path := range c.Inputs {
		if _, err := file.Stat(ctx, path); err != nil {
			return errors.E(errors.NotExist, fmt.Sprintf("%s: missing artifact %s", c.Name, path), err)
		}
	}
	return nil
}

// Output runs c and returns its standard output. Failures are reported as
// *ExitError.
func Output(ctx context.Context, c Command) ([]byte, error) {
	var stdout bytes.Buffer
	if err := run(ctx, c, &stdout, nil); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

func run(ctx context.Context, c Command, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	var tail bytes.Buffer
	cmd.Stdout = stdout
	if stderr != nil {
		cmd.Stderr = io.MultiWriter(stderr, &tail)
	} else {
		cmd.Stderr = &tail
	}
	err := cmd.Run()
	if err == nil {
		return nil
	}
	return &ExitError{Name: c.Name, Cmd: c.String(), Code: exitCode(err), Err: err, Stderr: lastBytes(tail.String())}
}

func lastBytes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		s = "..." + s[len(s)-maxStderr:]
	}
	return s
}
