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

// Package runner executes external commands, either immediately, one at a
// time, or by submitting them to an SGE-style batch scheduler with explicit
// predecessor lists.
package runner

import (
	"context"
	"fmt"
	"strings"
)

// Command is one invocation of an external program.
type Command struct {
	// Name identifies the command in logs and scheduler job names.
	Name string
	// Path is the program to run.
	Path string
	Args []string
	// Inputs lists the files the command reads that were produced by earlier
	// commands. Immediate verifies them before starting the process.
	Inputs []string
}

// String returns the command line, quoted for /bin/sh.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quote(c.Path))
	for _, a := range c.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		}
		return !strings.ContainsRune("-_./,:=+@%", r)
	}) < 0 {
		return s
	}
	return "'" + strings.Replace(s, "'", `'\''`, -1) + "'"
}

// Handle refers to a submitted command.
type Handle struct {
	// ID is the identifier assigned by the runner. For Scheduled it is the
	// scheduler's job id.
	ID   string
	Name string
	// Err is set by Immediate when the command failed or was skipped
	// because a predecessor failed.
	Err error
}

func (h *Handle) String() string { return fmt.Sprintf("%s(%s)", h.Name, h.ID) }

// Runner runs commands subject to dependencies. Submit must not start c
// before every handle in deps has finished.
type Runner interface {
	Submit(ctx context.Context, c Command, deps []*Handle) (*Handle, error)
}

// Failed returns the handles that recorded an error.
func Failed(handles []*Handle) []*Handle {
	var failed []*Handle
	for _, h := range handles {
		if h != nil && h.Err != nil {
			failed = append(failed, h)
		}
	}
	return failed
}

// ExitError reports an external process that could not be started or exited
// with a non-zero status.
type ExitError struct {
	Name string
	// Cmd is the command line.
	Cmd string
	// Code is the exit status, or -1 if the process did not run.
	Code int
	// Stderr is the tail of the process' standard error.
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: %s: exit status %d", e.Name, e.Cmd, e.Code)
	if e.Code < 0 && e.Err != nil {
		msg = fmt.Sprintf("%s: %s: %v", e.Name, e.Cmd, e.Err)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}
