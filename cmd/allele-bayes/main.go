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
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/grailbio/allelebayes/bayes"
	"github.com/grailbio/allelebayes/observe"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/vcontext"
)

var (
	ploidy         = flag.Int("ploidy", bayes.DefaultOpts.Ploidy, "Number of allele copies per sample")
	mql1           = flag.Int("mql1", bayes.DefaultOpts.MQL1, "Minimum mapping quality for an observation to qualify a candidate allele")
	bql1           = flag.Int("bql1", bayes.DefaultOpts.BQL1, "Minimum base quality for an observation to qualify a candidate allele")
	minAltCount    = flag.Int("min-alt-count", bayes.DefaultOpts.MinAltCount, "Minimum alternate observations in at least one sample to retain a candidate")
	minAltFraction = flag.Float64("min-alt-fraction", bayes.DefaultOpts.MinAltFraction, "Minimum alternate fraction in that sample (0..1)")
	theta          = flag.Float64("theta", bayes.DefaultOpts.Theta, "Scaled mutation rate of the Ewens allele-frequency prior")
	pvl            = flag.Float64("pvl", bayes.DefaultOpts.PVL, "Minimum P(variant) for a locus to be reported in tabular mode")
	bandwidth      = flag.Int("bandwidth", bayes.DefaultOpts.Bandwidth, "Number of top-ranked genotypes per sample eligible for substitution in the joint search")
	banddepth      = flag.Int("banddepth", bayes.DefaultOpts.Banddepth, "Maximum genotype substitutions per joint assignment")
	format         = flag.String("format", bayes.DefaultOpts.Format, "Output format; 'structured' and 'tabular' supported")
	suppressOutput = flag.Bool("suppress-output", false, "Run inference without emitting records")
	region         = flag.String("region", "", "Restrict calling to the specified region. Format as <contig ID>:<1-based first pos>-<last pos>, <contig ID>:<1-based pos>, or just <contig ID>")
	bamIndexPath   = flag.String("index", "", "Input BAM index path. Defaults to bampath + .bai")
	sampleName     = flag.String("sample", observe.DefaultOpts.FallbackSample, "Sample name assigned to reads without a resolvable read group")
	flagExclude    = flag.Int("flag-exclude", observe.DefaultOpts.FlagExclude, "Reads with a FLAG bit intersecting this value are skipped")
	outPath        = flag.String("out", "", "Output path; default is standard output")
	parallelism    = flag.Int("parallelism", 0, "Maximum number of contigs processed simultaneously; 0 = runtime.NumCPU()")
)

func alleleBayesUsage() {
	fmt.Printf("Usage: %s [OPTIONS] {b,p}ampath fapath\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = alleleBayesUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 2 {
		log.Fatalf("Expected exactly two positional arguments ({b,p}ampath and fapath); please check flag syntax: '%s'", strings.Join(flag.Args(), " "))
	}
	ctx := vcontext.Background()
	bopts := bayes.Opts{
		Ploidy:         *ploidy,
		MQL1:           *mql1,
		BQL1:           *bql1,
		MinAltCount:    *minAltCount,
		MinAltFraction: *minAltFraction,
		Theta:          *theta,
		PVL:            *pvl,
		Bandwidth:      *bandwidth,
		Banddepth:      *banddepth,
		Format:         *format,
		SuppressOutput: *suppressOutput,
	}
	oopts := observe.Opts{
		IndexPath:      *bamIndexPath,
		Region:         *region,
		FallbackSample: *sampleName,
		FlagExclude:    *flagExclude,
	}
	if err := run(ctx, flag.Arg(0), flag.Arg(1), bopts, oopts, *outPath, *parallelism); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, xampath, fapath string, bopts bayes.Opts, oopts observe.Opts, outPath string, parallelism int) (err error) {
	caller, err := bayes.NewCaller(bopts)
	if err != nil {
		return err
	}
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	var out io.Writer = os.Stdout
	if outPath != "" {
		var dst file.File
		if dst, err = file.Create(ctx, outPath); err != nil {
			return err
		}
		defer file.CloseAndReport(ctx, dst, &err)
		out = dst.Writer(ctx)
	}

	// A restricted region, or parallelism 1, runs as one serial stream.
	// Otherwise each contig gets its own stream and emission buffer, and
	// buffers are concatenated in header order so the output is identical to
	// the serial run.
	if oopts.Region != "" || parallelism == 1 {
		var stream *observe.Stream
		if stream, err = observe.New(ctx, xampath, fapath, oopts); err != nil {
			return err
		}
		defer func() {
			if e := stream.Close(); e != nil && err == nil {
				err = e
			}
		}()
		var emitter bayes.Emitter
		if emitter, err = bayes.NewEmitter(out, caller.Opts(), stream.Samples()); err != nil {
			return err
		}
		if !bopts.SuppressOutput {
			if err = emitter.EmitHeader(); err != nil {
				return err
			}
		}
		if err = callStream(caller, stream, emitter); err != nil {
			return err
		}
		return emitter.Flush()
	}

	targets, roster, err := observe.Layout(xampath, oopts.IndexPath, oopts.FallbackSample)
	if err != nil {
		return err
	}
	if !bopts.SuppressOutput {
		headEmitter, err := bayes.NewEmitter(out, caller.Opts(), roster)
		if err != nil {
			return err
		}
		if err := headEmitter.EmitHeader(); err != nil {
			return err
		}
		if err := headEmitter.Flush(); err != nil {
			return err
		}
	}
	if parallelism > len(targets) {
		parallelism = len(targets)
	}
	buffers := make([]bytes.Buffer, len(targets))
	err = traverse.Each(parallelism, func(jobIdx int) error {
		for i := jobIdx; i < len(targets); i += parallelism {
			if err := callTarget(ctx, xampath, fapath, targets[i], caller, oopts, roster, &buffers[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := range buffers {
		if _, err := out.Write(buffers[i].Bytes()); err != nil {
			return err
		}
	}
	log.Debug.Printf("allele-bayes: %d contigs processed", len(targets))
	return nil
}

// callTarget runs one contig through its own stream, buffering emission so
// contigs can run concurrently while output stays in header order.
func callTarget(ctx context.Context, xampath, fapath, target string, caller *bayes.Caller, oopts observe.Opts, roster []string, buf *bytes.Buffer) (err error) {
	oopts.Region = target
	stream, err := observe.New(ctx, xampath, fapath, oopts)
	if err != nil {
		return err
	}
	defer func() {
		if e := stream.Close(); e != nil && err == nil {
			err = e
		}
	}()
	emitter, err := bayes.NewEmitter(buf, caller.Opts(), roster)
	if err != nil {
		return err
	}
	if err := callStream(caller, stream, emitter); err != nil {
		return err
	}
	return emitter.Flush()
}

// callStream pulls loci one at a time, runs inference, and emits the
// processed sites in stream order.  Degenerate loci are skipped silently.
func callStream(caller *bayes.Caller, stream *observe.Stream, emitter bayes.Emitter) error {
	suppress := caller.Opts().SuppressOutput
	for stream.Scan() {
		locus := stream.Locus()
		site := caller.CallLocus(locus.Target, locus.Pos, locus.RefBase, locus.Alleles)
		if site == nil || suppress {
			continue
		}
		if err := emitter.Emit(site); err != nil {
			return err
		}
	}
	return stream.Err()
}
