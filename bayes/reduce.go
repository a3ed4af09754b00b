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

import "sort"

// calledKinds is the set of observation kinds that participate in genotype
// hypotheses.  Indels and null calls are classified by the observation layer
// but never become candidates.
var calledKinds = [...]Kind{KindReference, KindSNP}

func kindCalled(k Kind) bool {
	for _, c := range calledKinds {
		if k == c {
			return true
		}
	}
	return false
}

// Reduction is the filtered view of one locus: the candidate alleles worth
// evaluating, and the surviving observations partitioned by sample.  Sample
// order is lexicographic so that downstream iteration is reproducible.
type Reduction struct {
	Candidates []Candidate
	Samples    []string
	SampleObs  map[string][]*Allele
	// Coverage is the number of observations surviving the kind filter.
	Coverage int
}

// Reduce filters and groups the observations at one locus.  It returns
// (nil, false) when the locus is degenerate: no observation of a called kind,
// or fewer than two candidate alleles surviving the quality and
// alt-observation gates.
func Reduce(obs []*Allele, opts *Opts) (*Reduction, bool) {
	filtered := obs[:0:0]
	for _, a := range obs {
		if kindCalled(a.Kind) {
			filtered = append(filtered, a)
		}
	}
	if len(filtered) == 0 {
		return nil, false
	}

	// Group into equivalence classes, in order of first appearance.  The
	// first member with sufficient mapping and base quality seeds the
	// candidate for its group.
	var groups [][]*Allele
grouping:
	for _, a := range filtered {
		for i, g := range groups {
			if g[0].Equivalent(a) {
				groups[i] = append(g, a)
				continue grouping
			}
		}
		groups = append(groups, []*Allele{a})
	}

	var candidates []Candidate
	for _, g := range groups {
		for _, a := range g {
			if a.MapQ >= opts.MQL1 && a.CurrentQuality() >= opts.BQL1 {
				candidates = append(candidates, a.Candidate())
				break
			}
		}
	}

	sampleObs := make(map[string][]*Allele)
	for _, a := range filtered {
		sampleObs[a.Sample] = append(sampleObs[a.Sample], a)
	}
	samples := make([]string, 0, len(sampleObs))
	for s := range sampleObs {
		samples = append(samples, s)
	}
	sort.Strings(samples)

	// A candidate survives iff at least one sample supports it with enough
	// observations, in both absolute count and fraction of that sample's
	// coverage.
	kept := candidates[:0]
	for _, c := range candidates {
		for _, s := range samples {
			so := sampleObs[s]
			n := 0
			for _, a := range so {
				if c.Matches(a) {
					n++
				}
			}
			if n >= opts.MinAltCount && float64(n)/float64(len(so)) >= opts.MinAltFraction {
				kept = append(kept, c)
				break
			}
		}
	}
	if len(kept) < 2 {
		return nil, false
	}

	return &Reduction{
		Candidates: kept,
		Samples:    samples,
		SampleObs:  sampleObs,
		Coverage:   len(filtered),
	}, true
}
