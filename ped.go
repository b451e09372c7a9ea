// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
)

// GenotypeCall is the unordered pair of alleles observed for one
// sample at one variant. The zero allele byte '0' marks a no-call;
// a call with either allele missing is treated as entirely missing.
type GenotypeCall [2]byte

var missingCall = GenotypeCall{'0', '0'}

func (g GenotypeCall) Missing() bool {
	return g == missingCall
}

func (g GenotypeCall) Has(allele byte) bool {
	return g[0] == allele || g[1] == allele
}

func (g GenotypeCall) String() string {
	return string(g[:])
}

// Sample is one pedigree record: six identity fields plus the ordered
// genotype calls, one per variant, in file order.
type Sample struct {
	FamilyID     string
	IndividualID string
	PaternalID   string
	MaternalID   string
	Sex          int
	Phenotype    int
	Calls        []GenotypeCall
}

// IsCase and IsControl follow the PLINK phenotype coding
// (1=control, 2=case, anything else missing).
func (s *Sample) IsCase() bool    { return s.Phenotype == 2 }
func (s *Sample) IsControl() bool { return s.Phenotype == 1 }

// ReadPed reads pedigree-style text records: per line, family ID,
// individual ID, paternal ID, maternal ID, sex code, phenotype code,
// then a whitespace-separated sequence of two-character genotype
// calls ("AG", "AA", "00" for missing).
func ReadPed(r io.Reader) ([]Sample, error) {
	var samples []Sample
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<28)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 7 {
			return nil, fmt.Errorf("line %d: %d fields, want 6 identity fields plus genotypes", line, len(fields))
		}
		sex, err := strconv.Atoi(fields[4])
		if err != nil {
			return nil, fmt.Errorf("line %d: sex code %q: %w", line, fields[4], err)
		}
		pheno, err := strconv.Atoi(fields[5])
		if err != nil {
			return nil, fmt.Errorf("line %d: phenotype code %q: %w", line, fields[5], err)
		}
		sample := Sample{
			FamilyID:     fields[0],
			IndividualID: fields[1],
			PaternalID:   fields[2],
			MaternalID:   fields[3],
			Sex:          sex,
			Phenotype:    pheno,
			Calls:        make([]GenotypeCall, 0, len(fields)-6),
		}
		for _, tok := range fields[6:] {
			if len(tok) != 2 {
				return nil, fmt.Errorf("line %d: malformed genotype call %q", line, tok)
			}
			call := GenotypeCall{tok[0], tok[1]}
			if call[0] == '0' || call[1] == '0' {
				call = missingCall
			}
			sample.Calls = append(sample.Calls, call)
		}
		samples = append(samples, sample)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading pedigree records: %w", err)
	}
	return samples, nil
}

// ReadPedFile reads a pedigree file, decompressing transparently when
// the name ends in .gz. "-" means stdin.
func ReadPedFile(filename string, stdin io.Reader) ([]Sample, error) {
	var in io.Reader
	if filename == "-" {
		in = stdin
	} else {
		f, err := os.Open(filename)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}
	if strings.HasSuffix(filename, ".gz") {
		gz, err := pgzip.NewReader(in)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		defer gz.Close()
		in = gz
	}
	return ReadPed(in)
}

// writePedRecord writes one pedigree line with the given calls.
func writePedRecord(w io.Writer, s *Sample, calls []GenotypeCall) error {
	var b strings.Builder
	b.WriteString(s.FamilyID)
	b.WriteByte(' ')
	b.WriteString(s.IndividualID)
	b.WriteByte(' ')
	b.WriteString(s.PaternalID)
	b.WriteByte(' ')
	b.WriteString(s.MaternalID)
	fmt.Fprintf(&b, " %d %d", s.Sex, s.Phenotype)
	for _, call := range calls {
		b.WriteByte(' ')
		b.Write(call[:])
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

// openOutput opens filename for writing, compressing when the name
// ends in .gz. "-" means stdout.
func openOutput(filename string, stdout io.Writer) (io.WriteCloser, error) {
	if filename == "-" {
		return nopCloser{stdout}, nil
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(filename, ".gz") {
		return &gzWriteCloser{pgzip.NewWriter(f), f}, nil
	}
	return f, nil
}

type gzWriteCloser struct {
	*pgzip.Writer
	file *os.File
}

func (w *gzWriteCloser) Close() error {
	if err := w.Writer.Close(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
