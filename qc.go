// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// QCStage identifies one stage of the filter engine. Stages run in
// declaration order, one-directionally.
type QCStage int

const (
	StageMask        QCStage = iota // multi-allelic masking
	StageMissingness                // sample missingness filtering
	StageFrequency                  // variant allele-frequency filtering
	stageDone
)

func (s QCStage) String() string {
	switch s {
	case StageMask:
		return "multi-allelic masking"
	case StageMissingness:
		return "sample missingness"
	case StageFrequency:
		return "variant frequency"
	default:
		return fmt.Sprintf("QCStage(%d)", int(s))
	}
}

// QCFilter applies the three-stage genotype QC pass: multi-allelic
// masking, then sample removal above the missingness threshold, then
// variant removal below the minor-allele-frequency threshold.
// Thresholds must be in [0,1]. Equal-count alleles in the masking
// stage rank by first appearance in sample order, so results are
// deterministic for a given input order.
type QCFilter struct {
	Missingness float64
	MAF         float64
}

func (f *QCFilter) Flags(flags *flag.FlagSet) {
	flags.Float64Var(&f.Missingness, "missingness", 0.05, "remove samples with missing-call rate above `R`")
	flags.Float64Var(&f.MAF, "maf", 0.05, "remove variants with minor-allele frequency below `F`")
}

func (f *QCFilter) Check() error {
	if f.Missingness < 0 || f.Missingness > 1 {
		return &InvalidThresholdError{Name: "missingness", Value: f.Missingness}
	}
	if f.MAF < 0 || f.MAF > 1 {
		return &InvalidThresholdError{Name: "maf", Value: f.MAF}
	}
	return nil
}

// RemovedSample and RemovedVariant record why the engine dropped an
// entry, for auditing.
type RemovedSample struct {
	ID          string  `json:"id"`
	MissingRate float64 `json:"missing_rate"`
}

type RemovedVariant struct {
	Index int     `json:"index"`
	MAF   float64 `json:"maf"`
}

// QCReport summarizes one filter pass.
type QCReport struct {
	MaskedCalls     int              `json:"masked_calls"`
	RemovedSamples  []RemovedSample  `json:"removed_samples"`
	RemovedVariants []RemovedVariant `json:"removed_variants"`
}

// Apply runs the stages in order on m, mutating it in place. It stops
// with an InsufficientDataError naming the stage that would have run
// on an empty sample or variant set.
func (f *QCFilter) Apply(m *Matrix) (*QCReport, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}
	report := &QCReport{}
	for stage := StageMask; stage != stageDone; stage++ {
		if m.NSamples() == 0 || m.NVariants() == 0 {
			return report, &InsufficientDataError{Stage: stage, Samples: m.NSamples(), Variants: m.NVariants()}
		}
		var err error
		switch stage {
		case StageMask:
			err = f.maskMultiAllelic(m, report)
		case StageMissingness:
			err = f.filterSamples(m, report)
		case StageFrequency:
			err = f.filterVariants(m, report)
		}
		if err != nil {
			return report, fmt.Errorf("%s stage: %w", stage, err)
		}
	}
	return report, nil
}

// maskMultiAllelic sets to missing every call containing an allele
// outside the two most-common at variants with more than two observed
// alleles. Variants are independent, so the work is fanned out; each
// worker touches only its own variant column.
func (f *QCFilter) maskMultiAllelic(m *Matrix, report *QCReport) error {
	var mtx sync.Mutex
	masked := 0
	throttle := throttle{Max: runtime.NumCPU()}
	for _, variant := range m.VariantIndexes() {
		variant := variant
		throttle.Go(func() error {
			summary, err := m.AlleleCounts(variant)
			if err != nil {
				return err
			}
			if summary.Distinct() <= 2 {
				return nil
			}
			ranked := summary.RankedAscending()
			drop := map[byte]bool{}
			for _, allele := range ranked[:len(ranked)-2] {
				drop[allele] = true
			}
			var maskIDs []string
			err = m.EachGenotype(variant, func(id string, call GenotypeCall) {
				if !call.Missing() && (drop[call[0]] || drop[call[1]]) {
					maskIDs = append(maskIDs, id)
				}
			})
			if err != nil {
				return err
			}
			for _, id := range maskIDs {
				if err := m.SetMissing(id, variant); err != nil {
					return err
				}
			}
			mtx.Lock()
			masked += len(maskIDs)
			mtx.Unlock()
			return nil
		})
	}
	if err := throttle.Wait(); err != nil {
		return err
	}
	report.MaskedCalls = masked
	return nil
}

// filterSamples removes every sample whose missing-call rate strictly
// exceeds the threshold. Rates are computed for all samples before any
// removal, so order does not matter.
func (f *QCFilter) filterSamples(m *Matrix, report *QCReport) error {
	var remove []RemovedSample
	for _, id := range m.SampleIDs() {
		rate, err := m.MissingRate(id)
		if err != nil {
			return err
		}
		if rate > f.Missingness {
			remove = append(remove, RemovedSample{ID: id, MissingRate: rate})
		}
	}
	for _, r := range remove {
		if err := m.RemoveSample(r.ID); err != nil {
			return err
		}
		log.WithFields(log.Fields{"sample": r.ID, "missingRate": r.MissingRate}).Debug("removed sample")
	}
	report.RemovedSamples = remove
	return nil
}

// filterVariants recomputes minor-allele frequencies over the
// surviving samples and removes every variant strictly below the
// threshold. Frequencies are computed in parallel; removal happens
// serially in ascending variant order.
func (f *QCFilter) filterVariants(m *Matrix, report *QCReport) error {
	var mtx sync.Mutex
	mafs := map[int]float64{}
	throttle := throttle{Max: runtime.NumCPU()}
	for _, variant := range m.VariantIndexes() {
		variant := variant
		throttle.Go(func() error {
			summary, err := m.AlleleCounts(variant)
			if err != nil {
				return err
			}
			maf := summary.MAF()
			mtx.Lock()
			mafs[variant] = maf
			mtx.Unlock()
			return nil
		})
	}
	if err := throttle.Wait(); err != nil {
		return err
	}
	var remove []RemovedVariant
	for variant, maf := range mafs {
		if maf < f.MAF {
			remove = append(remove, RemovedVariant{Index: variant, MAF: maf})
		}
	}
	sort.Slice(remove, func(i, j int) bool { return remove[i].Index < remove[j].Index })
	for _, r := range remove {
		if err := m.RemoveVariant(r.Index); err != nil {
			return err
		}
	}
	report.RemovedVariants = remove
	return nil
}

type qccmd struct {
	filter QCFilter
}

func (cmd *qccmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "input pedigree `file` (.ped or .ped.gz)")
	outputFilename := flags.String("o", "-", "output pedigree `file`")
	configFilename := flags.String("config", "", "JSON configuration `file`")
	auditFilename := flags.String("audit", "", "write masked/removed report as JSON to `file`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	cmd.filter.Flags(flags)
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	if *configFilename != "" {
		var config Config
		config, err = LoadConfig(*configFilename)
		if err != nil {
			return 1
		}
		set := flagsSet(flags)
		if !set["missingness"] {
			cmd.filter.Missingness = config.MissingnessThreshold
		}
		if !set["maf"] {
			cmd.filter.MAF = config.MAFThreshold
		}
		if !set["i"] && config.PedFile != "" {
			*inputFilename = config.PedFile
		}
		if !set["o"] && config.OutPrefix != "" {
			*outputFilename = config.OutPrefix + ".ped"
		}
	}

	log.Print("reading")
	samples, err := ReadPedFile(*inputFilename, stdin)
	if err != nil {
		return 1
	}
	matrix, err := NewMatrix(samples)
	if err != nil {
		return 1
	}
	log.Printf("reading done, %d samples, %d variants", matrix.NSamples(), matrix.NVariants())

	log.Print("filtering")
	report, err := cmd.filter.Apply(matrix)
	if err != nil {
		return 1
	}
	log.Printf("filtering done: masked %d calls, removed %d samples and %d variants",
		report.MaskedCalls, len(report.RemovedSamples), len(report.RemovedVariants))

	if *auditFilename != "" {
		var auditFile io.WriteCloser
		auditFile, err = os.OpenFile(*auditFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return 1
		}
		err = json.NewEncoder(auditFile).Encode(report)
		if err != nil {
			auditFile.Close()
			return 1
		}
		err = auditFile.Close()
		if err != nil {
			return 1
		}
	}

	output, err := openOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	bufw := bufio.NewWriter(output)
	err = matrix.WritePed(bufw)
	if err != nil {
		output.Close()
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		output.Close()
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

// flagsSet reports which flags were given explicitly on the command
// line, so config file values only fill in unset ones.
func flagsSet(flags *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	flags.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}
