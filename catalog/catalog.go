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

// Package catalog parses and formats read-set manifests. A manifest has one
// line per read-set group:
//
//   name: file1[,filter1];file2[,filter2];...
//
// The optional second token of each entry is the path of a boolean-vector
// artifact selecting the reads of the file that passed filtering. The same
// syntax is used for the file-of-files handed to index_and_search. Manifests
// whose name ends in ".gz" are read gzip-compressed.
package catalog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"
)

// Group is a named collection of read files representing one sample.
type Group struct {
	Name  string
	Files []string
	// Artifacts, if non-nil, has one boolean-vector path per element of Files,
	// in the same order.
	Artifacts []string
}

// Filtered reports whether g carries filter artifacts.
func (g Group) Filtered() bool { return g.Artifacts != nil }

// String returns g in manifest syntax, without a trailing newline.
func (g Group) String() string {
	var b strings.Builder
	b.WriteString(g.Name)
	b.WriteByte(':')
	for i, f := range g.Files {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(f)
		if g.Artifacts != nil {
			b.WriteByte(',')
			b.WriteString(g.Artifacts[i])
		}
	}
	return b.String()
}

// Catalog is an ordered list of groups. The order defines the order in which
// groups are used as comparison references.
type Catalog []Group

// Names returns the group names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, len(c))
	for i, g := range c {
		names[i] = g.Name
	}
	return names
}

// Index returns the position of the named group, or -1.
func (c Catalog) Index(name string) int {
	for i, g := range c {
		if g.Name == name {
			return i
		}
	}
	return -1
}

// Filtered reports whether every group carries filter artifacts.
func (c Catalog) Filtered() bool {
	for _, g := range c {
		if !g.Filtered() {
			return false
		}
	}
	return len(c) > 0
}

// WithArtifacts returns a copy of c where the artifact of file fi of group g
// is replaced by fn(g, fi). The receiver is not modified.
func (c Catalog) WithArtifacts(fn func(g Group, fi int) string) Catalog {
	out := make(Catalog, len(c))
	for gi, g := range c {
		ng := Group{
			Name:      g.Name,
			Files:     append([]string(nil), g.Files...),
			Artifacts: make([]string, len(g.Files)),
		}
		for fi := range g.Files {
			ng.Artifacts[fi] = fn(g, fi)
		}
		out[gi] = ng
	}
	return out
}

// Validate checks the invariants needed for pairwise comparison: at least two
// groups, unique non-empty names usable in file names, at least one non-empty
// file path per entry and artifact lists matching the file lists.
func (c Catalog) Validate() error {
	if len(c) < 2 {
		return errors.E(errors.Invalid, fmt.Sprintf("catalog has %d group(s), need at least 2", len(c)))
	}
	seen := make(map[string]bool, len(c))
	for _, g := range c {
		if g.Name == "" {
			return errors.E(errors.Invalid, "catalog: empty group name")
		}
		if strings.Contains(g.Name, "/") {
			return errors.E(errors.Invalid, fmt.Sprintf("catalog: group name %q must not contain '/'", g.Name))
		}
		if seen[g.Name] {
			return errors.E(errors.Invalid, "catalog: duplicate group name", g.Name)
		}
		seen[g.Name] = true
		if len(g.Files) == 0 {
			return errors.E(errors.Invalid, "catalog: group has no read files", g.Name)
		}
		for i, f := range g.Files {
			if f == "" {
				return errors.E(errors.Invalid, fmt.Sprintf("catalog: group %s: entry %d has an empty file path", g.Name, i+1))
			}
			if g.Artifacts != nil && i < len(g.Artifacts) && g.Artifacts[i] == "" {
				return errors.E(errors.Invalid, fmt.Sprintf("catalog: group %s: entry %d has an empty artifact path", g.Name, i+1))
			}
		}
		if g.Artifacts != nil && len(g.Artifacts) != len(g.Files) {
			return errors.E(errors.Invalid, fmt.Sprintf("catalog: group %s has %d files but %d artifacts",
				g.Name, len(g.Files), len(g.Artifacts)))
		}
	}
	return nil
}

// Parse reads a manifest.
//
// Whether the manifest carries filter artifacts is decided by the first data
// line alone: if its first entry has no comma, artifacts are ignored on every
// line. This mirrors the legacy tool. If the first entry has one, every entry
// must.
func Parse(r io.Reader) (Catalog, error) {
	var (
		cat      Catalog
		filtered bool
		lineno   int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 16<<20)
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("catalog line %d: missing ':' separator: %q", lineno, line))
		}
		if len(cat) == 0 {
			first := strings.SplitN(line[colon+1:], ";", 2)[0]
			filtered = strings.Contains(first, ",")
			log.Debug.Printf("catalog: filter artifacts present: %v (decided by line %d)", filtered, lineno)
		}
		g := Group{Name: strings.TrimSpace(line[:colon])}
		for _, entry := range strings.Split(line[colon+1:], ";") {
			entry = strings.TrimSpace(entry)
			tokens := strings.Split(entry, ",")
			g.Files = append(g.Files, strings.TrimSpace(tokens[0]))
			if !filtered {
				continue
			}
			if len(tokens) < 2 {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("catalog line %d: entry %q lacks a filter artifact", lineno, entry))
			}
			g.Artifacts = append(g.Artifacts, strings.TrimSpace(tokens[1]))
		}
		cat = append(cat, g)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, "catalog: read")
	}
	return cat, nil
}

// Open reads the manifest at path.
func Open(ctx context.Context, path string) (cat Catalog, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "catalog: open", path)
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	r := io.Reader(in.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.E(err, "catalog: gzip", path)
		}
		defer gz.Close() // nolint: errcheck
		r = gz
	}
	cat, err = Parse(r)
	if err != nil {
		err = errors.E(err, path)
	}
	return
}

// Format writes groups to w, one manifest line per group.
func Format(w io.Writer, groups ...Group) error {
	for _, g := range groups {
		if _, err := io.WriteString(w, g.String()+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile writes groups in manifest syntax to path.
func WriteFile(ctx context.Context, path string, groups ...Group) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "catalog: create", path)
	}
	defer func() {
		if e := out.Close(ctx); e != nil && err == nil {
			err = errors.E(e, "catalog: close", path)
		}
	}()
	if err = Format(out.Writer(ctx), groups...); err != nil {
		err = errors.E(err, "catalog: write", path)
	}
	return
}
