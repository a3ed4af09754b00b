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
package bayes

import "strconv"

// Combo is one joint assignment of genotypes to samples.  Genotypes[i] is the
// genotype handle for the i'th sample of the locus's (lexicographically
// ordered) sample list, and LogLik is the sum of the per-sample data
// log-likelihoods under that assignment.
type Combo struct {
	Genotypes []int
	LogLik    float64
}

func comboKey(genotypes []int) string {
	b := make([]byte, 0, 4*len(genotypes))
	for _, g := range genotypes {
		b = strconv.AppendInt(b, int64(g), 10)
		b = append(b, ',')
	}
	return string(b)
}

// EnumerateCombos builds the joint hypothesis set for a locus:
//
// 1. Banded combos around the per-sample maximum-likelihood genotypes: every
//    sample starts at its argmax, and up to banddepth samples (across the
//    whole combo) may instead take one of their top-bandwidth genotypes.
//
// 2. One all-homozygous combo per candidate allele, so that the variant
//    probability denominator always includes every no-variation hypothesis
//    even when none of them ranks inside the band.
//
// sorted[i] is sample i's likelihood vector in descending order; logLik[i][g]
// is sample i's log-likelihood for genotype handle g.  Combos are
// deduplicated on their genotype-handle tuples.
func EnumerateCombos(space *Space, sorted [][]GenotypeLikelihood, logLik [][]float64, bandwidth, banddepth int) []Combo {
	nSamples := len(sorted)
	var combos []Combo
	seen := make(map[string]bool)

	add := func(genotypes []int) {
		key := comboKey(genotypes)
		if seen[key] {
			return
		}
		seen[key] = true
		c := Combo{Genotypes: append([]int(nil), genotypes...)}
		for i, g := range c.Genotypes {
			c.LogLik += logLik[i][g]
		}
		combos = append(combos, c)
	}

	genotypes := make([]int, nSamples)
	var rec func(sample, depthLeft int)
	rec = func(sample, depthLeft int) {
		if sample == nSamples {
			add(genotypes)
			return
		}
		width := bandwidth
		if n := len(sorted[sample]); width > n {
			width = n
		}
		for rank := 0; rank < width; rank++ {
			d := depthLeft
			if rank > 0 {
				if d == 0 {
					break
				}
				d--
			}
			genotypes[sample] = sorted[sample][rank].Genotype
			rec(sample+1, d)
		}
	}
	rec(0, banddepth)

	for a := range space.Candidates {
		h := space.HomozygousFor(a)
		for i := range genotypes {
			genotypes[i] = h
		}
		add(genotypes)
	}
	return combos
}
