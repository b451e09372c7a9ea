// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

type exportNumpy struct{}

func (cmd *exportNumpy) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "input pedigree `file`")
	outputFilename := flags.String("o", "-", "output `file` (.npy)")
	onehot := flags.Bool("one-hot", false, "recode dosages as one-hot columns")
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
	out, rows, cols, err := intDosageMatrix(matrix)
	if err != nil {
		return 1
	}
	if *onehot {
		out, cols = recodeOnehot(out, cols)
	}
	log.Printf("writing %d rows, %d cols", rows, cols)

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return 1
	}
	npw.Shape = []int{rows, cols}
	err = npw.WriteInt16(out)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

// intDosageMatrix recodes the present calls as minor-allele dosages
// (0, 1, 2), with -1 for missing. No imputation: raw export keeps the
// holes visible.
func intDosageMatrix(m *Matrix) (data []int16, rows, cols int, err error) {
	ids := m.SampleIDs()
	variants := m.VariantIndexes()
	rows, cols = len(ids), len(variants)
	data = make([]int16, rows*cols)
	for col, variant := range variants {
		summary, err := m.AlleleCounts(variant)
		if err != nil {
			return nil, 0, 0, err
		}
		minor := summary.MinorAllele()
		row := 0
		err = m.EachGenotype(variant, func(id string, call GenotypeCall) {
			switch {
			case call.Missing():
				data[row*cols+col] = -1
			case minor == 0:
				data[row*cols+col] = 0
			default:
				var d int16
				if call[0] == minor {
					d++
				}
				if call[1] == minor {
					d++
				}
				data[row*cols+col] = d
			}
			row++
		})
		if err != nil {
			return nil, 0, 0, err
		}
	}
	return data, rows, cols, nil
}

// recodeOnehot expands each dosage column into one indicator column
// per dosage level up to the column's maximum (0..2). Missing entries
// (-1) leave the whole group zero.
func recodeOnehot(in []int16, incols int) ([]int16, int) {
	rows := len(in) / incols
	maxlevel := make([]int16, incols)
	for row := 0; row < rows; row++ {
		for col := 0; col < incols; col++ {
			if v := in[row*incols+col]; v > maxlevel[col] {
				maxlevel[col] = v
			}
		}
	}
	outcol := make([]int, incols)
	outcols := 0
	for col, max := range maxlevel {
		outcol[col] = outcols
		outcols += int(max) + 1
	}
	out := make([]int16, rows*outcols)
	for row := 0; row < rows; row++ {
		for col := 0; col < incols; col++ {
			if v := in[row*incols+col]; v >= 0 {
				out[row*outcols+outcol[col]+int(v)] = 1
			}
		}
	}
	return out, outcols
}
