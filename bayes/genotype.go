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

import (
	"strings"

	"gonum.org/v1/gonum/stat/combin"
)

// genotype is one multiset of candidate alleles, stored canonically as
// ascending candidate indices with their multiplicities.
type genotype struct {
	alleles []int // ascending candidate indices, distinct
	counts  []int // parallel to alleles, sums to ploidy
}

// Space holds every genotype hypothesis for one locus: all multisets of size
// ploidy over the locus's candidate alleles.  Genotypes are referred to by
// their index (handle) into the enumeration; handles are only meaningful
// within the locus that produced them.
type Space struct {
	Ploidy     int
	Candidates []Candidate

	genotypes  []genotype
	copyBases  [][]string // per genotype, the ploidy base strings
	homozygous []int      // candidate index -> handle of its homozygous genotype
}

// NewSpace enumerates all multisets of size ploidy over the candidates, in
// lexicographic order of non-decreasing candidate index.
func NewSpace(ploidy int, candidates []Candidate) *Space {
	n := len(candidates)
	s := &Space{
		Ploidy:     ploidy,
		Candidates: candidates,
		genotypes:  make([]genotype, 0, combin.Binomial(n+ploidy-1, ploidy)),
		homozygous: make([]int, n),
	}
	idx := make([]int, ploidy)
	var rec func(pos, min int)
	rec = func(pos, min int) {
		if pos == ploidy {
			g := genotype{}
			for _, a := range idx {
				if k := len(g.alleles); k > 0 && g.alleles[k-1] == a {
					g.counts[k-1]++
				} else {
					g.alleles = append(g.alleles, a)
					g.counts = append(g.counts, 1)
				}
			}
			if len(g.alleles) == 1 {
				s.homozygous[g.alleles[0]] = len(s.genotypes)
			}
			s.genotypes = append(s.genotypes, g)
			return
		}
		for a := min; a < n; a++ {
			idx[pos] = a
			rec(pos+1, a)
		}
	}
	rec(0, 0)

	s.copyBases = make([][]string, len(s.genotypes))
	for h, g := range s.genotypes {
		bases := make([]string, 0, ploidy)
		for i, a := range g.alleles {
			for c := 0; c < g.counts[i]; c++ {
				bases = append(bases, candidates[a].Base)
			}
		}
		s.copyBases[h] = bases
	}
	return s
}

// NumGenotypes returns the size of the hypothesis space,
// C(n+ploidy-1, ploidy) for n candidates.
func (s *Space) NumGenotypes() int { return len(s.genotypes) }

// DistinctAlleles returns the candidate indices present in genotype g.
func (s *Space) DistinctAlleles(g int) []int { return s.genotypes[g].alleles }

// CountOf returns the multiplicity of candidate a in genotype g.
func (s *Space) CountOf(g, a int) int {
	gt := &s.genotypes[g]
	for i, x := range gt.alleles {
		if x == a {
			return gt.counts[i]
		}
	}
	return 0
}

// IsHomozygous reports whether genotype g contains a single distinct allele.
func (s *Space) IsHomozygous(g int) bool { return len(s.genotypes[g].alleles) == 1 }

// HomozygousFor returns the handle of the genotype made of ploidy copies of
// candidate a.
func (s *Space) HomozygousFor(a int) int { return s.homozygous[a] }

// AlternateAlleles returns the distinct alleles of g whose base differs from
// the reference base.
func (s *Space) AlternateAlleles(g int, refBase string) []Candidate {
	var alts []Candidate
	for _, a := range s.genotypes[g].alleles {
		if c := s.Candidates[a]; c.Base != refBase {
			alts = append(alts, c)
		}
	}
	return alts
}

// GenotypeString renders g as its bases joined by '/', e.g. "A/G".
func (s *Space) GenotypeString(g int) string {
	return strings.Join(s.copyBases[g], "/")
}

// FrequencySpectrum returns, for a joint assignment of genotypes, the total
// copy count of each candidate allele across all of them.
func (s *Space) FrequencySpectrum(gs []int) map[int]int {
	spectrum := make(map[int]int)
	for _, g := range gs {
		gt := &s.genotypes[g]
		for i, a := range gt.alleles {
			spectrum[a] += gt.counts[i]
		}
	}
	return spectrum
}

// CountFrequencies collapses an allele frequency spectrum to a map from copy
// count to the number of distinct alleles carrying that count.
func CountFrequencies(spectrum map[int]int) map[int]int {
	freq := make(map[int]int)
	for _, n := range spectrum {
		freq[n]++
	}
	return freq
}
