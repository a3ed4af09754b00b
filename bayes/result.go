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

// SampleResult accumulates everything the caller learns about one sample at
// one locus.  Genotypes are referred to by locus-local handles into the
// locus's Space.
type SampleResult struct {
	Sample string
	// Likelihoods is the sample's data-likelihood vector, best first.
	Likelihoods []GenotypeLikelihood
	// RawMarginals collects, per genotype, the unnormalized log posterior of
	// every enumerated combo that assigned that genotype to this sample.
	RawMarginals map[int][]float64
	// Marginals is the normalized log marginal posterior per genotype,
	// populated by the posterior aggregation pass.
	Marginals map[int]float64
	// Observations is the sample's observation vector at this locus.
	Observations []*Allele
}

func newSampleResult(sample string, likelihoods []GenotypeLikelihood, obs []*Allele) *SampleResult {
	return &SampleResult{
		Sample:       sample,
		Likelihoods:  likelihoods,
		RawMarginals: make(map[int][]float64),
		Marginals:    make(map[int]float64),
		Observations: obs,
	}
}

// LogLikelihood returns the sample's data log-likelihood for genotype g.
func (r *SampleResult) LogLikelihood(g int) float64 {
	for _, gl := range r.Likelihoods {
		if gl.Genotype == g {
			return gl.LogL
		}
	}
	return 0
}

// BestMarginalGenotype returns the genotype with the largest marginal
// posterior, with ties resolved to the smaller handle for determinism.
func (r *SampleResult) BestMarginalGenotype() (int, float64) {
	best := -1
	bestLog := 0.0
	for g, lp := range r.Marginals {
		if best < 0 || lp > bestLog || (lp == bestLog && g < best) {
			best = g
			bestLog = lp
		}
	}
	return best, bestLog
}
