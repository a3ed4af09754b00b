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
allele-bayes is a Bayesian short-variant caller.  Given a coordinate-sorted
BAM/PAM and a reference FASTA, it reports at each covered position the
posterior probability that genetic variation exists among the samples, the
most probable joint genotype assignment, and per-sample marginal genotype
posteriors.

Only reference and SNP observations participate in genotype hypotheses;
indels are classified and discarded.

Sample usage:
allele-bayes \
    --theta 0.001 \
    --pvl 0.9 \
    --out calls.tsv \
    my.bam \
    ref.fa
*/
package main
