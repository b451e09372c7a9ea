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

	log "github.com/sirupsen/logrus"
)

type statscmd struct{}

func (cmd *statscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "input pedigree `file`")
	outputFilename := flags.String("o", "-", "output `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	samples, err := ReadPedFile(*inputFilename, stdin)
	if err != nil {
		return 1
	}
	matrix, err := NewMatrix(samples)
	if err != nil {
		return 1
	}

	output, err := openOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	bufw := bufio.NewWriter(output)
	err = doStats(matrix, bufw)
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

// doStats summarizes the matrix as JSON: per-sample missingness,
// per-variant minor-allele frequency, monomorphic and multi-allelic
// counts, and (when both cases and controls are present) a per-variant
// carrier/case chi-squared p-value.
func doStats(m *Matrix, output io.Writer) error {
	var ret struct {
		Samples      int
		Variants     int
		SampleIDs    []string
		MissingRate  []float64
		MAF          []float64
		Monomorphic  int
		MultiAllelic int
		Cases        int
		Controls     int
		CaseControlP []float64 `json:",omitempty"`
	}

	ret.Samples = m.NSamples()
	ret.Variants = m.NVariants()
	ret.SampleIDs = m.SampleIDs()

	isCase := make([]bool, 0, ret.Samples)
	for _, id := range ret.SampleIDs {
		rate, err := m.MissingRate(id)
		if err != nil {
			return err
		}
		ret.MissingRate = append(ret.MissingRate, rate)
		sample, err := m.Sample(id)
		if err != nil {
			return err
		}
		isCase = append(isCase, sample.IsCase())
		if sample.IsCase() {
			ret.Cases++
		} else if sample.IsControl() {
			ret.Controls++
		}
	}

	withPheno := ret.Cases > 0 && ret.Controls > 0
	for _, variant := range m.VariantIndexes() {
		summary, err := m.AlleleCounts(variant)
		if err != nil {
			return err
		}
		ret.MAF = append(ret.MAF, summary.MAF())
		switch {
		case summary.Distinct() > 2:
			ret.MultiAllelic++
		case summary.Distinct() < 2:
			ret.Monomorphic++
		}
		if withPheno {
			minor := summary.MinorAllele()
			carrier := make([]bool, 0, ret.Samples)
			err = m.EachGenotype(variant, func(id string, call GenotypeCall) {
				carrier = append(carrier, minor != 0 && call.Has(minor))
			})
			if err != nil {
				return err
			}
			ret.CaseControlP = append(ret.CaseControlP, pvalue(carrier, isCase))
		}
	}
	log.WithFields(log.Fields{"samples": ret.Samples, "variants": ret.Variants}).Debug("stats computed")

	return json.NewEncoder(output).Encode(ret)
}
