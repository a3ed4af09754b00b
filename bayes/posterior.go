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
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// ComboPosterior is a combo together with its unnormalized log posterior
// (Ewens prior plus summed data likelihoods).
type ComboPosterior struct {
	Combo
	LogPosterior float64
}

// Posterior is the aggregated result of the joint hypothesis search at one
// locus.
type Posterior struct {
	// Combos holds every enumerated combo, best first.
	Combos []ComboPosterior
	// LogZ is the log normalizer over all combos.
	LogZ float64
	// PVar is the posterior probability that variation exists among the
	// samples: one minus the mass on combos where every sample carries the
	// same homozygous genotype.
	PVar float64
}

// safeExp maps a -Inf log value to 0; finite values go through math.Exp,
// which underflows to 0 below about -745.  NaN inputs are returned as NaN.
func safeExp(x float64) float64 {
	if math.IsInf(x, -1) {
		return 0
	}
	return math.Exp(x)
}

// isHomozygousCombo reports whether every sample carries the same homozygous
// genotype.  Handles are canonical within a locus, so identical handles imply
// identical genotypes.
func isHomozygousCombo(space *Space, c *Combo) bool {
	first := c.Genotypes[0]
	if !space.IsHomozygous(first) {
		return false
	}
	for _, g := range c.Genotypes[1:] {
		if g != first {
			return false
		}
	}
	return true
}

// Aggregate scores every combo, normalizes in log space, fills in per-sample
// marginals, and computes the site-level variant probability.  results is
// indexed like the locus sample list (and like each combo's genotype slice).
// It returns (nil, false) when the combo set is empty or all posteriors
// underflow to -Inf.
func Aggregate(space *Space, combos []Combo, results []*SampleResult, theta float64) (*Posterior, bool) {
	if len(combos) == 0 {
		return nil, false
	}

	cps := make([]ComboPosterior, len(combos))
	logPosts := make([]float64, len(combos))
	for i, c := range combos {
		prior := EwensLogPrior(CountFrequencies(space.FrequencySpectrum(c.Genotypes)), theta)
		lp := prior + c.LogLik
		cps[i] = ComboPosterior{Combo: c, LogPosterior: lp}
		logPosts[i] = lp
		for s, g := range c.Genotypes {
			results[s].RawMarginals[g] = append(results[s].RawMarginals[g], lp)
		}
	}

	logZ := floats.LogSumExp(logPosts)
	if math.IsInf(logZ, -1) || math.IsNaN(logZ) {
		return nil, false
	}

	// Stable sort: ties keep enumeration order.
	sort.SliceStable(cps, func(i, j int) bool { return cps[i].LogPosterior > cps[j].LogPosterior })

	for _, r := range results {
		for g, raw := range r.RawMarginals {
			r.Marginals[g] = floats.LogSumExp(raw) - logZ
		}
	}

	pVar := 1.0
	for i := range cps {
		if isHomozygousCombo(space, &cps[i].Combo) {
			pVar -= safeExp(cps[i].LogPosterior - logZ)
		}
	}
	if pVar < 0 {
		pVar = 0
	} else if pVar > 1 {
		pVar = 1
	}

	return &Posterior{Combos: cps, LogZ: logZ, PVar: pVar}, true
}
