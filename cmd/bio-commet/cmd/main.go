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
	"fmt"
	"log"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/commet/commet"
	"v.io/x/lib/cmdline"
)

func addOptsFlags(fs *flag.FlagSet, o *commet.Opts) {
	d := commet.DefaultOpts
	fs.StringVar(&o.OutDir, "out", d.OutDir, "Output directory for artifacts, logs and matrices")
	fs.StringVar(&o.BinDir, "bin", d.BinDir, "Directory holding filter_reads, index_and_search and bvop")
	fs.StringVar(&o.ScriptDir, "scripts", d.ScriptDir, "Directory holding the dendro.R and heatmap.r plotting scripts")
	fs.IntVar(&o.K, "k", d.K, "k-mer size")
	fs.IntVar(&o.T, "t", d.T, "Minimal number of shared k-mers for two reads to be similar")
	fs.IntVar(&o.L, "l", d.L, "Minimal read length; raised to k*t if smaller")
	fs.IntVar(&o.N, "n", d.N, "Maximal number of Ns in a read; negative means any")
	fs.Float64Var(&o.E, "e", d.E, "Minimal Shannon index of a read, in [0,2]")
	fs.IntVar(&o.M, "m", d.M, "Maximal number of reads kept per set; negative means all")
	fs.IntVar(&o.Parallelism, "parallelism", d.Parallelism, "Maximal number of concurrent bvop calls while assembling the matrices")
	fs.BoolVar(&o.Plot, "plot", d.Plot, "Run the R plotting scripts on the matrices")
}

func addScheduleFlags(fs *flag.FlagSet, o *commet.Opts) {
	d := commet.DefaultOpts
	fs.BoolVar(&o.SGE, "sge", d.SGE, "Submit the jobs to an SGE scheduler instead of running them")
	fs.StringVar(&o.Qsub, "qsub", d.Qsub, "Submission program used with -sge")
	fs.BoolVar(&o.KeepFiles, "keep", d.KeepFiles, "Keep the temporary file-of-files")
}

func newCmdRun() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "run",
		Short:    "Filter the read sets, compare them all against all and compute the matrices",
		ArgsName: "manifest",
	}
	opts := commet.DefaultOpts
	addOptsFlags(&cmd.Flags, &opts)
	addScheduleFlags(&cmd.Flags, &opts)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("run takes one manifest argument, but got %v", argv)
		}
		_, err := commet.Run(vcontext.Background(), argv[0], opts)
		return err
	})
	return cmd
}

func newCmdAnalyze() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "analyze",
		Short:    "Compute the matrices from the artifacts of an earlier run",
		ArgsName: "manifest",
	}
	opts := commet.DefaultOpts
	addOptsFlags(&cmd.Flags, &opts)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("analyze takes one manifest argument, but got %v", argv)
		}
		_, err := commet.Analyze(vcontext.Background(), argv[0], opts)
		return err
	})
	return cmd
}

func newCmdPlan() *cmdline.Command {
	cmd := &cmdline.Command{
		Name: "plan",
		Short: `Print the jobs a run would submit, one per line: id, name, ids of the
jobs it waits for and command line`,
		ArgsName: "manifest",
	}
	opts := commet.DefaultOpts
	addOptsFlags(&cmd.Flags, &opts)
	groupsFlag := cmd.Flags.String("groups", "", "Comma-separated list of read sets; only the jobs involving one of them are printed")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("plan takes one manifest argument, but got %v", argv)
		}
		var groups []string
		if *groupsFlag != "" {
			groups = strings.Split(*groupsFlag, ",")
		}
		return commet.Plan(vcontext.Background(), argv[0], opts, groups, env.Stdout)
	})
	return cmd
}

// Run is the entry point of bio-commet.
func Run() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-commet",
			Short:    "Compare sets of reads all against all",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdRun(),
				newCmdAnalyze(),
				newCmdPlan(),
			},
		})
}
