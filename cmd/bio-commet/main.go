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

/*
bio-commet compares N sets of reads all against all and reports how many reads
of each set are shared with every other set.

A read-set manifest has one line per set. Each line names the set and lists
its read files, separated by semicolons:

    A: /data/a_1.fq;/data/a_2.fq
    B: /data/b_1.fq

If the reads were filtered by an earlier run, each file is followed by its
boolean-vector artifact:

    A: /data/a_1.fq,out/a_1.fq.bv;/data/a_2.fq,out/a_2.fq.bv

Sample usage:
bio-commet run \
    -out output_commet \
    -bin ./bin \
    sets.txt

With -sge, the jobs are submitted with qsub and the matrices are computed
later by "bio-commet analyze" with the same manifest and directories.
"bio-commet plan" prints the jobs without running them.
*/
package main

import "github.com/grailbio/commet/cmd/bio-commet/cmd"

func main() {
	cmd.Run()
}
