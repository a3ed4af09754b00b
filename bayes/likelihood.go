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

// GenotypeLikelihood pairs a genotype handle with a log-space data
// likelihood.
type GenotypeLikelihood struct {
	Genotype int
	LogL     float64
}

// Phred qualities are capped at 93 by the encodings we read, so error
// probabilities can be tabulated once.
const nQual = 94

var (
	logMatchTable    [nQual]float64 // log(1 - eps)
	logMismatchTable [nQual]float64 // log(eps / 3)
)

func init() {
	for q := 0; q < nQual; q++ {
		eps := math.Exp(float64(q) * (-0.1 * math.Ln10))
		logMatchTable[q] = math.Log1p(-eps)
		logMismatchTable[q] = math.Log(eps) - math.Log(3)
	}
}

// Q=0 encodes an error probability of 1, which would make a matching copy
// impossible (log 0).  Qualities are floored at 1 so that a degenerate
// quality string cannot produce a -Inf likelihood on its own.
func logEmission(q int, match bool) float64 {
	if q < 1 {
		q = 1
	} else if q >= nQual {
		q = nQual - 1
	}
	if match {
		return logMatchTable[q]
	}
	return logMismatchTable[q]
}

// DataLikelihoods computes log P(obs | g) for every genotype in the space, in
// enumeration order.  Each observation is modeled as a draw from the uniform
// mixture over the genotype's ploidy allele copies; a copy emits the observed
// base with probability 1-eps when the bases agree and eps/3 otherwise, where
// eps is the observation's base-quality error probability.  All intermediate
// combination happens in log space.
func (s *Space) DataLikelihoods(obs []*Allele) []GenotypeLikelihood {
	logPloidy := math.Log(float64(s.Ploidy))
	copyLogs := make([]float64, s.Ploidy)
	out := make([]GenotypeLikelihood, s.NumGenotypes())
	for g := range out {
		bases := s.copyBases[g]
		logL := 0.0
		for _, o := range obs {
			q := o.CurrentQuality()
			for i, b := range bases {
				copyLogs[i] = logEmission(q, b == o.Base)
			}
			logL += floats.LogSumExp(copyLogs) - logPloidy
		}
		out[g] = GenotypeLikelihood{Genotype: g, LogL: logL}
	}
	return out
}

// SortDataLikelihoods orders a likelihood vector best-first.  The sort is
// stable so that ties resolve to genotype-enumeration order.
func SortDataLikelihoods(gls []GenotypeLikelihood) {
	sort.SliceStable(gls, func(i, j int) bool { return gls[i].LogL > gls[j].LogL })
}
