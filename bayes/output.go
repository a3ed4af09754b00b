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
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/grailbio/base/tsv"
)

// Emission formats.
const (
	// FormatStructured emits one JSON record per processed locus.
	FormatStructured = "structured"
	// FormatTabular emits one tab-delimited row per distinct alternate
	// allele, gated on P(variant).
	FormatTabular = "tabular"
)

// An Emitter converts Sites to an output record stream.  EmitHeader is
// called at most once, before any Emit; Flush once after the last.
type Emitter interface {
	EmitHeader() error
	Emit(site *Site) error
	Flush() error
}

// NewEmitter returns the emitter for opts.Format, writing to w.  roster
// fixes the per-sample column order of the tabular format.
func NewEmitter(w io.Writer, opts *Opts, roster []string) (Emitter, error) {
	switch opts.Format {
	case FormatStructured:
		return &structuredEmitter{w: w}, nil
	case FormatTabular:
		return &tabularEmitter{w: tsv.NewWriter(w), pvl: opts.PVL, roster: roster}, nil
	}
	return nil, fmt.Errorf("bayes: unrecognized format %q", opts.Format)
}

// phred converts an error probability 1-p to a phred-scaled integer, capped
// so that p == 1 (to machine precision) stays finite.
func phred(p float64, max int) int {
	e := 1 - p
	if e <= 0 {
		return max
	}
	q := int(math.Round(-10 * math.Log10(e)))
	if q < 0 {
		q = 0
	} else if q > max {
		q = max
	}
	return q
}

func formatProb(p float64) string {
	return strconv.FormatFloat(p, 'g', 6, 64)
}

// Structured emission: every processed locus becomes one JSON object.

type comboEntry struct {
	Sample        string  `json:"sample"`
	Genotype      string  `json:"genotype"`
	LogLikelihood float64 `json:"log_likelihood"`
}

type sampleEntry struct {
	BestGenotype string             `json:"best_genotype"`
	BestProb     float64            `json:"best_genotype_prob"`
	Coverage     int                `json:"coverage"`
	Marginals    map[string]float64 `json:"marginals"`
}

type siteRecord struct {
	Position                 int                    `json:"position"` // 1-based
	Sequence                 string                 `json:"sequence"`
	BestGenotypeCombo        []comboEntry           `json:"best_genotype_combo"`
	CombosTested             int                    `json:"combos_tested"`
	BestGenotypeComboProb    float64                `json:"best_genotype_combo_prob"`
	Coverage                 int                    `json:"coverage"`
	PosteriorNormalizer      float64                `json:"posterior_normalizer"`
	EwensSamplingProbability float64                `json:"ewens_sampling_probability"`
	Samples                  map[string]sampleEntry `json:"samples"`
}

type structuredEmitter struct {
	w io.Writer
}

func (e *structuredEmitter) EmitHeader() error { return nil }

func (e *structuredEmitter) Emit(site *Site) error {
	rec := siteRecord{
		Position:                 site.Pos + 1,
		Sequence:                 site.Target,
		CombosTested:             site.CombosTested,
		BestGenotypeComboProb:    site.BestProb,
		Coverage:                 site.Coverage,
		PosteriorNormalizer:      safeExp(site.LogZ),
		EwensSamplingProbability: site.BestEwensProb,
		Samples:                  make(map[string]sampleEntry, len(site.Samples)),
	}
	for i, sample := range site.Samples {
		r := site.Results[i]
		g := site.Best.Genotypes[i]
		rec.BestGenotypeCombo = append(rec.BestGenotypeCombo, comboEntry{
			Sample:        sample,
			Genotype:      site.Space.GenotypeString(g),
			LogLikelihood: r.LogLikelihood(g),
		})
		bestG, bestLog := r.BestMarginalGenotype()
		marginals := make(map[string]float64, len(r.Marginals))
		for mg, lp := range r.Marginals {
			marginals[site.Space.GenotypeString(mg)] = safeExp(lp)
		}
		rec.Samples[sample] = sampleEntry{
			BestGenotype: site.Space.GenotypeString(bestG),
			BestProb:     safeExp(bestLog),
			Coverage:     len(r.Observations),
			Marginals:    marginals,
		}
	}
	b, err := json.Marshal(&rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = e.w.Write(b)
	return err
}

func (e *structuredEmitter) Flush() error { return nil }

// Tabular emission: one row per distinct alternate allele across all
// samples' best marginal genotypes, suppressed unless PVar clears the
// reporting threshold.  Per-sample cells are GT:GQ:DP; samples with no
// observations at the locus render as ".".

type tabularEmitter struct {
	w      *tsv.Writer
	pvl    float64
	roster []string
}

func (e *tabularEmitter) EmitHeader() error {
	e.w.WriteString("#CHROM\tPOS\tREF\tALT\tPVAR\tQUAL\tESP\tNS\tDP")
	for _, sample := range e.roster {
		e.w.WriteString(sample)
	}
	return e.w.EndLine()
}

func (e *tabularEmitter) Emit(site *Site) error {
	if site.PVar < e.pvl {
		return nil
	}
	// Distinct alternate alleles across best marginal genotypes, in order of
	// first appearance: samples in locus order, and within each genotype in
	// candidate-enumeration order.
	altSeen := make(map[string]bool)
	var alts []string
	for _, r := range site.Results {
		g, _ := r.BestMarginalGenotype()
		for _, alt := range site.Space.AlternateAlleles(g, site.RefBase) {
			if !altSeen[alt.Base] {
				altSeen[alt.Base] = true
				alts = append(alts, alt.Base)
			}
		}
	}
	for _, alt := range alts {
		e.w.WriteString(site.Target)
		e.w.WriteUint32(uint32(site.Pos + 1))
		e.w.WriteString(site.RefBase)
		e.w.WriteString(alt)
		e.w.WriteString(formatProb(site.PVar))
		e.w.WriteString(strconv.Itoa(phred(site.PVar, 9999)))
		e.w.WriteString(formatProb(site.BestEwensProb))
		e.w.WriteString(strconv.Itoa(len(site.Samples)))
		e.w.WriteString(strconv.Itoa(site.Coverage))
		for _, sample := range e.roster {
			r := site.Result(sample)
			if r == nil {
				e.w.WriteString(".")
				continue
			}
			g, lp := r.BestMarginalGenotype()
			e.w.WriteString(fmt.Sprintf("%s:%d:%d",
				site.Space.GenotypeString(g), phred(safeExp(lp), 99), len(r.Observations)))
		}
		if err := e.w.EndLine(); err != nil {
			return err
		}
	}
	return nil
}

func (e *tabularEmitter) Flush() error { return e.w.Flush() }
