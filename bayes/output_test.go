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
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func disagreeingHomozygoteSite(t *testing.T) *Site {
	caller := mustCaller(t, permissiveOpts())
	obs := append(mkObs("S1", "A", KindReference, 30, 60, 20), mkObs("S2", "T", KindSNP, 30, 60, 20)...)
	site := caller.CallLocus("chr2", 41, "A", obs)
	require.NotNil(t, site)
	return site
}

func emitTabular(t *testing.T, site *Site, pvl float64, roster []string) string {
	var buf bytes.Buffer
	opts := permissiveOpts()
	opts.PVL = pvl
	emitter, err := NewEmitter(&buf, &opts, roster)
	require.NoError(t, err)
	require.NoError(t, emitter.EmitHeader())
	require.NoError(t, emitter.Emit(site))
	require.NoError(t, emitter.Flush())
	return buf.String()
}

func TestTabularEmission(t *testing.T) {
	site := disagreeingHomozygoteSite(t)
	out := emitTabular(t, site, 0, []string{"S1", "S2"})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Equal(t, 2, len(lines))
	assert.Equal(t, "#CHROM\tPOS\tREF\tALT\tPVAR\tQUAL\tESP\tNS\tDP\tS1\tS2", lines[0])

	cols := strings.Split(lines[1], "\t")
	require.Equal(t, 11, len(cols))
	assert.Equal(t, "chr2", cols[0])
	assert.Equal(t, "42", cols[1]) // 1-based
	assert.Equal(t, "A", cols[2])
	assert.Equal(t, "T", cols[3])
	pVar, err := strconv.ParseFloat(cols[4], 64)
	require.NoError(t, err)
	assert.True(t, pVar > 0.999)
	assert.True(t, strings.HasPrefix(cols[9], "A/A:"))
	assert.True(t, strings.HasPrefix(cols[10], "T/T:"))
	assert.True(t, strings.HasSuffix(cols[9], ":20"))
	assert.True(t, strings.HasSuffix(cols[10], ":20"))
}

func TestTabularEmissionRosterPermutation(t *testing.T) {
	site := disagreeingHomozygoteSite(t)
	fwd := emitTabular(t, site, 0, []string{"S1", "S2"})
	rev := emitTabular(t, site, 0, []string{"S2", "S1"})

	fwdCols := strings.Split(strings.Split(strings.TrimRight(fwd, "\n"), "\n")[1], "\t")
	revCols := strings.Split(strings.Split(strings.TrimRight(rev, "\n"), "\n")[1], "\t")
	// Shared columns are untouched; per-sample cells swap.
	assert.Equal(t, fwdCols[:9], revCols[:9])
	assert.Equal(t, fwdCols[9], revCols[10])
	assert.Equal(t, fwdCols[10], revCols[9])
}

func TestTabularEmissionGate(t *testing.T) {
	// A site well below the reporting threshold emits nothing.
	caller := mustCaller(t, permissiveOpts())
	obs := append(mkObs("S1", "A", KindReference, 30, 60, 20), mkObs("S1", "C", KindSNP, 5, 60, 1)...)
	site := caller.CallLocus("chr2", 7, "A", obs)
	require.NotNil(t, site)
	out := emitTabular(t, site, 0.9, []string{"S1"})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Equal(t, 1, len(lines)) // header only
}

func TestTabularEmissionMissingSample(t *testing.T) {
	site := disagreeingHomozygoteSite(t)
	out := emitTabular(t, site, 0, []string{"S1", "S3", "S2"})
	cols := strings.Split(strings.Split(strings.TrimRight(out, "\n"), "\n")[1], "\t")
	require.Equal(t, 12, len(cols))
	assert.Equal(t, ".", cols[10])
}

func TestStructuredEmission(t *testing.T) {
	site := disagreeingHomozygoteSite(t)
	var buf bytes.Buffer
	opts := permissiveOpts()
	opts.Format = FormatStructured
	emitter, err := NewEmitter(&buf, &opts, []string{"S1", "S2"})
	require.NoError(t, err)
	require.NoError(t, emitter.EmitHeader())
	require.NoError(t, emitter.Emit(site))
	require.NoError(t, emitter.Flush())

	var rec struct {
		Position     int     `json:"position"`
		Sequence     string  `json:"sequence"`
		CombosTested int     `json:"combos_tested"`
		BestProb     float64 `json:"best_genotype_combo_prob"`
		Coverage     int     `json:"coverage"`
		Normalizer   float64 `json:"posterior_normalizer"`
		Ewens        float64 `json:"ewens_sampling_probability"`
		BestCombo    []struct {
			Sample   string `json:"sample"`
			Genotype string `json:"genotype"`
		} `json:"best_genotype_combo"`
		Samples map[string]struct {
			BestGenotype string             `json:"best_genotype"`
			Marginals    map[string]float64 `json:"marginals"`
		} `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))

	assert.Equal(t, 42, rec.Position)
	assert.Equal(t, "chr2", rec.Sequence)
	assert.Equal(t, site.CombosTested, rec.CombosTested)
	assert.Equal(t, 40, rec.Coverage)
	assert.True(t, rec.Ewens > 0)
	require.Equal(t, 2, len(rec.BestCombo))
	assert.Equal(t, "S1", rec.BestCombo[0].Sample)
	assert.Equal(t, "A/A", rec.BestCombo[0].Genotype)
	assert.Equal(t, "T/T", rec.BestCombo[1].Genotype)
	require.Contains(t, rec.Samples, "S1")
	require.Contains(t, rec.Samples, "S2")
	assert.Equal(t, "T/T", rec.Samples["S2"].BestGenotype)
	total := 0.0
	for _, p := range rec.Samples["S1"].Marginals {
		total += p
	}
	assert.InDelta(t, 1.0, total, 1e-6)
}

func TestStructuredEmissionDeterministic(t *testing.T) {
	site := disagreeingHomozygoteSite(t)
	opts := permissiveOpts()
	opts.Format = FormatStructured
	var a, b bytes.Buffer
	for _, buf := range []*bytes.Buffer{&a, &b} {
		emitter, err := NewEmitter(buf, &opts, []string{"S1", "S2"})
		require.NoError(t, err)
		require.NoError(t, emitter.Emit(site))
		require.NoError(t, emitter.Flush())
	}
	assert.Equal(t, a.String(), b.String())
}

func TestPhred(t *testing.T) {
	assert.Equal(t, 0, phred(0, 99))
	assert.Equal(t, 10, phred(0.9, 99))
	assert.Equal(t, 20, phred(0.99, 99))
	// Saturation clamps instead of overflowing.
	assert.Equal(t, 99, phred(1, 99))
	assert.Equal(t, 99, phred(1-1e-30, 99))
}
