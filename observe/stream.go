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

// Package observe turns a coordinate-sorted BAM/PAM plus a reference FASTA
// into an ordered stream of per-locus allele observations, one pull per
// covered reference position.
package observe

import (
	"context"
	"sort"
	"strings"

	"github.com/grailbio/allelebayes/bayes"
	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	gbam "github.com/grailbio/bio/encoding/bam"
	"github.com/grailbio/bio/encoding/bamprovider"
	"github.com/grailbio/bio/encoding/fasta"
	"github.com/grailbio/bio/interval"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

var rgTag = sam.Tag{'R', 'G'}

// Opts configures the observation stream.
type Opts struct {
	// IndexPath is the BAM index; defaults to xampath + ".bai".
	IndexPath string
	// Region restricts the stream to contig[:start-end] (1-based, inclusive).
	Region string
	// FallbackSample is assigned to reads without a resolvable read group.
	FallbackSample string
	// FlagExclude drops reads whose FLAG intersects it.
	FlagExclude int
}

// DefaultOpts excludes secondary, QC-fail, duplicate and supplementary reads
// (FLAG bits 0x100, 0x200, 0x400 and 0x800).
var DefaultOpts = Opts{
	FallbackSample: "unknown",
	FlagExclude:    0xf00,
}

// Locus is one covered reference position and its observations.
type Locus struct {
	Target  string
	Pos     int // 0-based
	RefBase string
	Alleles []*bayes.Allele
}

// Stream yields loci in reference order.  Usage follows the scanner idiom:
//
//	for s.Scan() {
//		locus := s.Locus()
//		...
//	}
//	err := s.Err()
type Stream struct {
	provider bamprovider.Provider
	fa       fasta.Fasta
	opts     Opts
	rgSample map[string]string
	samples  []string
	shards   []gbam.Shard

	shardIdx int
	iter     bamprovider.Iterator
	shard    gbam.Shard
	refName  string
	refSeq   string
	pending  map[int][]*bayes.Allele
	ready    []*Locus
	readyIdx int
	cur      *Locus
	err      error
}

// New opens the BAM/PAM and FASTA and prepares the stream.  With an empty
// Region the stream covers every reference in header order.
func New(ctx context.Context, xampath, fapath string, opts Opts) (*Stream, error) {
	if opts.FallbackSample == "" {
		opts.FallbackSample = DefaultOpts.FallbackSample
	}
	provider := bamprovider.NewProvider(xampath, bamprovider.ProviderOpts{Index: opts.IndexPath})
	header, err := provider.GetHeader()
	if err != nil {
		return nil, errors.Wrapf(err, "observe: reading header of %s", xampath)
	}
	rgSample, samples, err := sampleRoster(header, opts.FallbackSample)
	if err != nil {
		return nil, err
	}
	fa, err := loadFa(ctx, fapath)
	if err != nil {
		return nil, errors.Wrapf(err, "observe: loading reference %s", fapath)
	}

	var shards []gbam.Shard
	if opts.Region != "" {
		entry, err := interval.ParseRegionString(opts.Region)
		if err != nil {
			return nil, err
		}
		var ref *sam.Reference
		for _, r := range header.Refs() {
			if r.Name() == entry.ChrName {
				ref = r
				break
			}
		}
		if ref == nil {
			return nil, errors.Errorf("observe: region contig %q not in BAM/PAM header", entry.ChrName)
		}
		end := int(entry.End)
		if end > ref.Len() {
			end = ref.Len()
		}
		shards = []gbam.Shard{{StartRef: ref, EndRef: ref, Start: int(entry.Start0), End: end}}
	} else {
		for _, ref := range header.Refs() {
			shards = append(shards, gbam.Shard{StartRef: ref, EndRef: ref, Start: 0, End: ref.Len()})
		}
	}

	return &Stream{
		provider: provider,
		fa:       fa,
		opts:     opts,
		rgSample: rgSample,
		samples:  samples,
		shards:   shards,
	}, nil
}

// loadFa reads an entire (possibly compressed) FASTA into memory.
func loadFa(ctx context.Context, fapath string) (fa fasta.Fasta, err error) {
	var in file.File
	if in, err = file.Open(ctx, fapath); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader, _ := compress.NewReader(in.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return fasta.New(reader)
}

// Samples returns the ordered sample roster from the BAM header.
func (s *Stream) Samples() []string { return s.samples }

// Locus returns the locus produced by the last successful Scan.
func (s *Stream) Locus() *Locus { return s.cur }

// Err returns the first error encountered by the stream.
func (s *Stream) Err() error { return s.err }

// Close releases the underlying provider.
func (s *Stream) Close() error { return s.provider.Close() }

// Scan advances to the next covered locus.  It returns false at end of
// stream or on error.
func (s *Stream) Scan() bool {
	if s.err != nil {
		return false
	}
	for {
		if s.readyIdx < len(s.ready) {
			s.cur = s.ready[s.readyIdx]
			s.readyIdx++
			return true
		}
		s.ready = s.ready[:0]
		s.readyIdx = 0

		if s.iter == nil {
			if s.shardIdx == len(s.shards) {
				return false
			}
			s.shard = s.shards[s.shardIdx]
			s.shardIdx++
			if err := s.enterShard(); err != nil {
				s.err = err
				return false
			}
			continue
		}

		if !s.iter.Scan() {
			// Shard exhausted: flush everything still pending, then close.
			s.flushBefore(s.shard.End)
			err := s.iter.Close()
			s.iter = nil
			if err != nil && s.err == nil {
				s.err = err
				return false
			}
			continue
		}
		rec := s.iter.Record()
		if (s.opts.FlagExclude&int(rec.Flags)) != 0 || len(rec.Cigar) == 0 {
			continue
		}
		s.flushBefore(rec.Pos)
		if err := s.pileRecord(rec); err != nil {
			s.err = err
			return false
		}
	}
}

func (s *Stream) enterShard() error {
	ref := s.shard.StartRef
	s.refName = ref.Name()
	length, err := s.fa.Len(s.refName)
	if err != nil {
		return errors.Wrapf(err, "observe: contig %s absent from reference", s.refName)
	}
	seq, err := s.fa.Get(s.refName, 0, length)
	if err != nil {
		return err
	}
	s.refSeq = strings.ToUpper(seq)
	s.pending = make(map[int][]*bayes.Allele)
	s.iter = s.provider.NewIterator(s.shard)
	return nil
}

// flushBefore moves every pending position < bound, in order, to the ready
// queue.  Reads arrive sorted by position, so those positions can no longer
// gain observations.
func (s *Stream) flushBefore(bound int) {
	var done []int
	for pos := range s.pending {
		if pos < bound {
			done = append(done, pos)
		}
	}
	if len(done) == 0 {
		return
	}
	sort.Ints(done)
	for _, pos := range done {
		alleles := s.pending[pos]
		delete(s.pending, pos)
		if pos < s.shard.Start || pos >= s.shard.End {
			continue
		}
		s.ready = append(s.ready, &Locus{
			Target:  s.refName,
			Pos:     pos,
			RefBase: s.refSeq[pos : pos+1],
			Alleles: alleles,
		})
	}
}

func (s *Stream) sampleOf(rec *sam.Record) string {
	if aux := rec.AuxFields.Get(rgTag); aux != nil {
		if sample, ok := s.rgSample[aux.Value().(string)]; ok {
			return sample
		}
	}
	return s.opts.FallbackSample
}

func (s *Stream) qualAt(rec *sam.Record, posInRead int) int {
	if posInRead < len(rec.Qual) {
		return int(rec.Qual[posInRead])
	}
	return 0
}

// pileRecord classifies each aligned base (and indel) of one read and files
// it under its reference position.
func (s *Stream) pileRecord(rec *sam.Record) error {
	sample := s.sampleOf(rec)
	mapQ := int(rec.MapQ)
	seq := rec.Seq.Expand()
	posInRef := rec.Pos
	posInRead := 0
	for _, co := range rec.Cigar {
		cLen := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			for i := 0; i < cLen; i++ {
				pos := posInRef + i
				if pos < 0 || pos >= len(s.refSeq) {
					continue
				}
				base := seq[posInRead+i] &^ 0x20 // uppercase
				kind := bayes.KindSNP
				if base == 'N' {
					kind = bayes.KindNull
				} else if base == s.refSeq[pos] {
					kind = bayes.KindReference
				}
				s.pending[pos] = append(s.pending[pos], &bayes.Allele{
					Kind:   kind,
					Base:   string(rune(base)),
					Length: 1,
					MapQ:   mapQ,
					Quals:  []int{s.qualAt(rec, posInRead+i)},
					Sample: sample,
				})
			}
			posInRef += cLen
			posInRead += cLen
		case sam.CigarInsertion:
			quals := make([]int, cLen)
			for i := range quals {
				quals[i] = s.qualAt(rec, posInRead+i)
			}
			if posInRef >= 0 && posInRef < len(s.refSeq) {
				s.pending[posInRef] = append(s.pending[posInRef], &bayes.Allele{
					Kind:   bayes.KindInsertion,
					Base:   string(seq[posInRead : posInRead+cLen]),
					Length: cLen,
					MapQ:   mapQ,
					Quals:  quals,
					Sample: sample,
				})
			}
			posInRead += cLen
		case sam.CigarDeletion:
			if posInRef >= 0 && posInRef < len(s.refSeq) {
				s.pending[posInRef] = append(s.pending[posInRef], &bayes.Allele{
					Kind:   bayes.KindDeletion,
					Length: cLen,
					MapQ:   mapQ,
					Sample: sample,
				})
			}
			posInRef += cLen
		case sam.CigarSkipped:
			posInRef += cLen
		case sam.CigarSoftClipped:
			posInRead += cLen
		case sam.CigarHardClipped, sam.CigarPadded:
			// consumes neither
		default:
			return errors.Errorf("observe: unexpected CIGAR op %v in read %s", co, rec.Name)
		}
	}
	return nil
}

// Layout returns the reference names of a BAM/PAM in header order, plus the
// sample roster; the CLI uses it to fan out one stream per contig while
// emitting a single header.
func Layout(xampath, indexPath, fallbackSample string) (targets, roster []string, err error) {
	provider := bamprovider.NewProvider(xampath, bamprovider.ProviderOpts{Index: indexPath})
	defer func() {
		if e := provider.Close(); e != nil && err == nil {
			err = e
		}
	}()
	header, err := provider.GetHeader()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "observe: reading header of %s", xampath)
	}
	if fallbackSample == "" {
		fallbackSample = DefaultOpts.FallbackSample
	}
	_, roster, err = sampleRoster(header, fallbackSample)
	if err != nil {
		return nil, nil, err
	}
	for _, ref := range header.Refs() {
		targets = append(targets, ref.Name())
	}
	return targets, roster, nil
}
