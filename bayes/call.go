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

// Package bayes implements a per-site Bayesian short-variant caller: given
// the allele observations at one reference position across one or more
// samples, it computes the posterior probability that the site is variant,
// the most probable joint genotype assignment, and per-sample marginal
// genotype posteriors.
package bayes

import (
	"fmt"

	"github.com/grailbio/base/log"
)

// Opts holds the inference parameters.
type Opts struct {
	// Ploidy is the number of allele copies per sample.
	Ploidy int
	// MQL1 is the minimum mapping quality for an observation to qualify a
	// candidate allele.
	MQL1 int
	// BQL1 is the minimum base quality for an observation to qualify a
	// candidate allele.
	BQL1 int
	// MinAltCount and MinAltFraction gate candidates on the strength of
	// their support in at least one sample.
	MinAltCount    int
	MinAltFraction float64
	// Theta is the scaled mutation rate of the Ewens allele-frequency prior.
	Theta float64
	// PVL is the minimum P(variant) for a locus to be emitted in tabular
	// mode.
	PVL float64
	// Bandwidth and Banddepth bound the joint genotype search.
	Bandwidth int
	Banddepth int
	// Format selects the emission record format, "structured" or "tabular".
	Format string
	// SuppressOutput runs inference without emitting records.
	SuppressOutput bool
}

// DefaultOpts is the standard diploid configuration.
var DefaultOpts = Opts{
	Ploidy:         2,
	MQL1:           40,
	BQL1:           10,
	MinAltCount:    2,
	MinAltFraction: 0.1,
	Theta:          0.001,
	PVL:            0,
	Bandwidth:      2,
	Banddepth:      2,
	Format:         FormatTabular,
}

// Validate refuses configurations the model cannot run under.
func (o *Opts) Validate() error {
	if o.Ploidy <= 0 {
		return fmt.Errorf("bayes: ploidy must be positive, got %d", o.Ploidy)
	}
	if o.MinAltFraction < 0 || o.MinAltFraction > 1 {
		return fmt.Errorf("bayes: min-alt-fraction must be in [0,1], got %g", o.MinAltFraction)
	}
	if o.Theta <= 0 {
		return fmt.Errorf("bayes: theta must be positive, got %g", o.Theta)
	}
	if o.PVL < 0 || o.PVL > 1 {
		return fmt.Errorf("bayes: pvl must be in [0,1], got %g", o.PVL)
	}
	if o.Bandwidth <= 0 || o.Banddepth <= 0 {
		return fmt.Errorf("bayes: bandwidth and banddepth must be positive, got (%d,%d)", o.Bandwidth, o.Banddepth)
	}
	if o.Format != FormatStructured && o.Format != FormatTabular {
		return fmt.Errorf("bayes: unrecognized format %q", o.Format)
	}
	return nil
}

// Caller runs per-locus inference under a fixed configuration.  It holds no
// per-locus state; every CallLocus invocation is independent.
type Caller struct {
	opts Opts
}

// NewCaller validates opts and returns a caller.
func NewCaller(opts Opts) (*Caller, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Caller{opts: opts}, nil
}

// Opts returns the caller's configuration.
func (c *Caller) Opts() *Opts { return &c.opts }

// Site is the full inference result for one locus, ready for emission.
type Site struct {
	Target  string
	Pos     int // 0-based
	RefBase string

	Space   *Space
	Samples []string
	Results []*SampleResult

	Best          ComboPosterior
	BestProb      float64
	BestEwensProb float64
	CombosTested  int
	Coverage      int
	LogZ          float64
	PVar          float64
}

// Result returns the SampleResult for the named sample, or nil.
func (s *Site) Result(sample string) *SampleResult {
	for i, name := range s.Samples {
		if name == sample {
			return s.Results[i]
		}
	}
	return nil
}

// CallLocus runs the full inference pipeline on one locus's observations.
// It returns nil when the locus is degenerate (no usable observations, fewer
// than two candidate alleles, or an empty/underflowed hypothesis set); such
// loci are skipped, not errors.
func (c *Caller) CallLocus(target string, pos int, refBase string, obs []*Allele) *Site {
	red, ok := Reduce(obs, &c.opts)
	if !ok {
		return nil
	}

	space := NewSpace(c.opts.Ploidy, red.Candidates)

	nSamples := len(red.Samples)
	results := make([]*SampleResult, nSamples)
	sorted := make([][]GenotypeLikelihood, nSamples)
	logLik := make([][]float64, nSamples)
	for i, sample := range red.Samples {
		sampleObs := red.SampleObs[sample]
		gls := space.DataLikelihoods(sampleObs)
		byGenotype := make([]float64, space.NumGenotypes())
		for _, gl := range gls {
			byGenotype[gl.Genotype] = gl.LogL
		}
		SortDataLikelihoods(gls)
		results[i] = newSampleResult(sample, gls, sampleObs)
		sorted[i] = gls
		logLik[i] = byGenotype
	}

	combos := EnumerateCombos(space, sorted, logLik, c.opts.Bandwidth, c.opts.Banddepth)
	post, ok := Aggregate(space, combos, results, c.opts.Theta)
	if !ok {
		log.Error.Printf("bayes: no usable genotype hypotheses at %s:%d, skipping locus", target, pos+1)
		return nil
	}

	best := post.Combos[0]
	bestSpectrum := CountFrequencies(space.FrequencySpectrum(best.Genotypes))
	return &Site{
		Target:        target,
		Pos:           pos,
		RefBase:       refBase,
		Space:         space,
		Samples:       red.Samples,
		Results:       results,
		Best:          best,
		BestProb:      safeExp(best.LogPosterior - post.LogZ),
		BestEwensProb: safeExp(EwensLogPrior(bestSpectrum, c.opts.Theta)),
		CombosTested:  len(combos),
		Coverage:      red.Coverage,
		LogZ:          post.LogZ,
		PVar:          post.PVar,
	}
}
