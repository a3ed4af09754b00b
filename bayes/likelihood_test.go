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
	"testing"

	"github.com/stretchr/testify/assert"
)

func likByString(space *Space, gls []GenotypeLikelihood) map[string]float64 {
	m := make(map[string]float64)
	for _, gl := range gls {
		m[space.GenotypeString(gl.Genotype)] = gl.LogL
	}
	return m
}

func TestDataLikelihoodsHomozygote(t *testing.T) {
	space := NewSpace(2, snpCandidates("A", "G"))
	obs := mkObs("S1", "A", KindSNP, 30, 60, 10)
	lik := likByString(space, space.DataLikelihoods(obs))

	// A/A fits best, A/G pays ~log(2) per observation, G/G is hopeless.
	assert.True(t, lik["A/A"] > lik["A/G"])
	assert.True(t, lik["A/G"] > lik["G/G"])
	// Per observation, the homozygous match emits 1-1e-3.
	assert.InDelta(t, 10*math.Log1p(-1e-3), lik["A/A"], 1e-9)
	// The heterozygote emits ((1-eps) + eps/3)/2 per observation.
	perObs := math.Log(((1 - 1e-3) + 1e-3/3) / 2)
	assert.InDelta(t, 10*perObs, lik["A/G"], 1e-9)
	// The opposite homozygote emits eps/3.
	assert.InDelta(t, 10*math.Log(1e-3/3), lik["G/G"], 1e-9)
}

func TestDataLikelihoodsHeterozygote(t *testing.T) {
	space := NewSpace(2, snpCandidates("A", "G"))
	obs := append(mkObs("S1", "A", KindSNP, 30, 60, 10), mkObs("S1", "G", KindSNP, 30, 60, 10)...)
	gls := space.DataLikelihoods(obs)
	SortDataLikelihoods(gls)
	assert.Equal(t, "A/G", space.GenotypeString(gls[0].Genotype))
	// Symmetric data: the two homozygotes tie, up to the rounding of summing
	// the same terms in a different order.
	assert.InDelta(t, gls[1].LogL, gls[2].LogL, 1e-9)
}

func TestDataLikelihoodsQualitySensitivity(t *testing.T) {
	space := NewSpace(2, snpCandidates("A", "G"))
	mismatchLogLik := func(q int) float64 {
		lik := likByString(space, space.DataLikelihoods(mkObs("S1", "G", KindSNP, q, 60, 1)))
		return lik["A/A"]
	}
	// A mismatching observation is cheaper the worse its quality.
	assert.True(t, mismatchLogLik(3) > mismatchLogLik(10))
	assert.True(t, mismatchLogLik(10) > mismatchLogLik(30))
	assert.True(t, mismatchLogLik(30) > mismatchLogLik(93))
}

func TestDataLikelihoodsStableAtHighQuality(t *testing.T) {
	// Deep coverage at the phred ceiling must stay finite.
	space := NewSpace(2, snpCandidates("A", "G"))
	obs := append(mkObs("S1", "A", KindSNP, 93, 60, 500), mkObs("S1", "G", KindSNP, 93, 60, 500)...)
	for _, gl := range space.DataLikelihoods(obs) {
		assert.False(t, math.IsInf(gl.LogL, 0), "genotype %s", space.GenotypeString(gl.Genotype))
		assert.False(t, math.IsNaN(gl.LogL))
	}
}

func TestSortDataLikelihoodsStable(t *testing.T) {
	gls := []GenotypeLikelihood{{0, -2}, {1, -1}, {2, -2}}
	SortDataLikelihoods(gls)
	assert.Equal(t, 1, gls[0].Genotype)
	// Ties keep enumeration order.
	assert.Equal(t, 0, gls[1].Genotype)
	assert.Equal(t, 2, gls[2].Genotype)
}
