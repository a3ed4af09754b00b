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

func TestLogFactorial(t *testing.T) {
	assert.Equal(t, 0.0, logFactorial(0))
	assert.Equal(t, 0.0, logFactorial(1))
	assert.InDelta(t, math.Log(2), logFactorial(2), 1e-12)
	assert.InDelta(t, math.Log(720), logFactorial(6), 1e-12)
	// Table and Lgamma fallback must agree at the boundary.
	lg, _ := math.Lgamma(float64(nLogFactorial) + 1)
	assert.InDelta(t, lg, logFactorial(nLogFactorial), 1e-9)
	lg, _ = math.Lgamma(float64(nLogFactorial - 1 + 1))
	assert.InDelta(t, lg, logFactorial(nLogFactorial-1), 1e-6)
}

func TestEwensLogPriorExact(t *testing.T) {
	theta := 0.001
	// One diploid sample, heterozygous: two alleles seen once each.
	lgTheta, _ := math.Lgamma(theta)
	lgTheta2, _ := math.Lgamma(theta + 2)
	want := lgTheta - lgTheta2 + 2*math.Log(theta)
	assert.InDelta(t, want, EwensLogPrior(map[int]int{1: 2}, theta), 1e-12)

	// One diploid sample, homozygous: one allele seen twice.
	want = lgTheta - lgTheta2 + math.Log(theta) - math.Log(2)
	assert.InDelta(t, want, EwensLogPrior(map[int]int{2: 1}, theta), 1e-12)
}

func TestEwensLogPriorFavorsMonomorphism(t *testing.T) {
	// Under a small mutation rate, a shared homozygous allele is far more
	// probable a priori than segregating variation with the same N.
	for _, theta := range []float64{0.001, 0.01, 0.1} {
		hom := EwensLogPrior(map[int]int{4: 1}, theta)
		het := EwensLogPrior(map[int]int{2: 2}, theta)
		assert.True(t, hom > het, "theta=%g hom=%g het=%g", theta, hom, het)
	}
}

func TestEwensLogPriorThetaMonotonicity(t *testing.T) {
	// More mutation makes polymorphic spectra strictly more probable.
	het := map[int]int{1: 2}
	assert.True(t, EwensLogPrior(het, 0.1) > EwensLogPrior(het, 0.001))
	split := map[int]int{2: 2}
	assert.True(t, EwensLogPrior(split, 0.1) > EwensLogPrior(split, 0.001))
}
