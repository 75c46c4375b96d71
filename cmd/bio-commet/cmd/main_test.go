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
package cmd

import (
	"flag"
	"testing"

	"github.com/grailbio/commet/commet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptsFlags(t *testing.T) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	opts := commet.DefaultOpts
	addOptsFlags(fs, &opts)
	addScheduleFlags(fs, &opts)
	require.NoError(t, fs.Parse(nil))
	assert.Equal(t, commet.DefaultOpts, opts)

	require.NoError(t, fs.Parse([]string{"-k", "21", "-t", "3", "-e", "1.5", "-m", "1000", "-sge", "-plot=false", "sets.txt"}))
	assert.Equal(t, 21, opts.K)
	assert.Equal(t, 3, opts.T)
	assert.Equal(t, 1.5, opts.E)
	assert.Equal(t, 1000, opts.M)
	assert.True(t, opts.SGE)
	assert.False(t, opts.Plot)
	assert.Equal(t, []string{"sets.txt"}, fs.Args())
}
