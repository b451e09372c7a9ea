// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import (
	"fmt"
	"io"
)

// Matrix holds genotype calls for N samples × M variants. Removing a
// sample excludes it from iteration but keeps the record for audit;
// removing a variant excludes the position from every sample's view.
// Variant indexes are always original (file-order) positions, so they
// stay stable across removals.
type Matrix struct {
	samples []Sample
	index   map[string]int // individual ID -> samples offset
	present []bool
	gone    []bool // variant removed
	freq    []*AlleleSummary
}

// NewMatrix builds a matrix from an ordered sequence of pedigree
// records. Every record must carry the same number of genotype calls
// as the first one.
func NewMatrix(samples []Sample) (*Matrix, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no pedigree records")
	}
	want := len(samples[0].Calls)
	m := &Matrix{
		samples: samples,
		index:   make(map[string]int, len(samples)),
		present: make([]bool, len(samples)),
		gone:    make([]bool, want),
		freq:    make([]*AlleleSummary, want),
	}
	for i := range samples {
		s := &samples[i]
		if len(s.Calls) != want {
			return nil, &MalformedRecordError{SampleID: s.IndividualID, Line: i + 1, Calls: len(s.Calls), Want: want}
		}
		if _, dup := m.index[s.IndividualID]; dup {
			return nil, fmt.Errorf("duplicate individual ID %q", s.IndividualID)
		}
		m.index[s.IndividualID] = i
		m.present[i] = true
	}
	return m, nil
}

// NSamples returns the number of samples currently present.
func (m *Matrix) NSamples() int {
	n := 0
	for _, p := range m.present {
		if p {
			n++
		}
	}
	return n
}

// NVariants returns the number of variants currently present.
func (m *Matrix) NVariants() int {
	n := 0
	for _, g := range m.gone {
		if !g {
			n++
		}
	}
	return n
}

// VariantIndexes returns the original indexes of the variants still
// present, in ascending order.
func (m *Matrix) VariantIndexes() []int {
	var idxs []int
	for v, g := range m.gone {
		if !g {
			idxs = append(idxs, v)
		}
	}
	return idxs
}

// SampleIDs returns the individual IDs of the samples still present,
// in file order.
func (m *Matrix) SampleIDs() []string {
	var ids []string
	for i, p := range m.present {
		if p {
			ids = append(ids, m.samples[i].IndividualID)
		}
	}
	return ids
}

// RemovedSampleIDs returns the individual IDs of removed samples, in
// file order.
func (m *Matrix) RemovedSampleIDs() []string {
	var ids []string
	for i, p := range m.present {
		if !p {
			ids = append(ids, m.samples[i].IndividualID)
		}
	}
	return ids
}

// Sample returns the stored record for an individual ID, present or
// removed.
func (m *Matrix) Sample(id string) (*Sample, error) {
	i, ok := m.index[id]
	if !ok {
		return nil, fmt.Errorf("unknown sample %q", id)
	}
	return &m.samples[i], nil
}

func (m *Matrix) checkVariant(variant int) error {
	if variant < 0 || variant >= len(m.gone) {
		return fmt.Errorf("variant index %d out of range [0,%d)", variant, len(m.gone))
	}
	if m.gone[variant] {
		return fmt.Errorf("variant %d has been removed", variant)
	}
	return nil
}

// EachGenotype calls f once per present sample with that sample's call
// at the given variant, in file order.
func (m *Matrix) EachGenotype(variant int, f func(sampleID string, call GenotypeCall)) error {
	if err := m.checkVariant(variant); err != nil {
		return err
	}
	for i, p := range m.present {
		if p {
			f(m.samples[i].IndividualID, m.samples[i].Calls[variant])
		}
	}
	return nil
}

// GenotypesForSample returns the sample's calls at the variants still
// present, in variant order.
func (m *Matrix) GenotypesForSample(id string) ([]GenotypeCall, error) {
	i, ok := m.index[id]
	if !ok {
		return nil, fmt.Errorf("unknown sample %q", id)
	}
	calls := make([]GenotypeCall, 0, len(m.gone))
	for v, g := range m.gone {
		if !g {
			calls = append(calls, m.samples[i].Calls[v])
		}
	}
	return calls, nil
}

// SetMissing overwrites one genotype call with the missing sentinel
// and invalidates the variant's cached allele summary.
func (m *Matrix) SetMissing(id string, variant int) error {
	i, ok := m.index[id]
	if !ok {
		return fmt.Errorf("unknown sample %q", id)
	}
	if err := m.checkVariant(variant); err != nil {
		return err
	}
	m.samples[i].Calls[variant] = missingCall
	m.freq[variant] = nil
	return nil
}

// RemoveSample excludes a sample from all subsequent iteration. The
// record itself is retained for auditing. All cached allele summaries
// are invalidated.
func (m *Matrix) RemoveSample(id string) error {
	i, ok := m.index[id]
	if !ok {
		return fmt.Errorf("unknown sample %q", id)
	}
	if !m.present[i] {
		return fmt.Errorf("sample %q already removed", id)
	}
	m.present[i] = false
	for v := range m.freq {
		m.freq[v] = nil
	}
	return nil
}

// RemoveVariant excludes a variant position from all views.
func (m *Matrix) RemoveVariant(variant int) error {
	if err := m.checkVariant(variant); err != nil {
		return err
	}
	m.gone[variant] = true
	m.freq[variant] = nil
	return nil
}

// AlleleCounts returns the allele summary for a variant, computed over
// the samples currently present. Summaries are cached until a call at
// the variant is masked or the sample set changes.
func (m *Matrix) AlleleCounts(variant int) (*AlleleSummary, error) {
	if err := m.checkVariant(variant); err != nil {
		return nil, err
	}
	if s := m.freq[variant]; s != nil {
		return s, nil
	}
	s := &AlleleSummary{Counts: map[byte]int{}}
	for i, p := range m.present {
		if !p {
			continue
		}
		call := m.samples[i].Calls[variant]
		if call.Missing() {
			continue
		}
		s.add(call[0])
		s.add(call[1])
	}
	m.freq[variant] = s
	return s, nil
}

// MissingRate returns the fraction of a present sample's calls, over
// the variants currently present, that are missing.
func (m *Matrix) MissingRate(id string) (float64, error) {
	calls, err := m.GenotypesForSample(id)
	if err != nil {
		return 0, err
	}
	if len(calls) == 0 {
		return 0, fmt.Errorf("sample %q has no variants", id)
	}
	missing := 0
	for _, call := range calls {
		if call.Missing() {
			missing++
		}
	}
	return float64(missing) / float64(len(calls)), nil
}

// WritePed writes the present samples and variants in pedigree record
// layout.
func (m *Matrix) WritePed(w io.Writer) error {
	for i, p := range m.present {
		if !p {
			continue
		}
		calls, err := m.GenotypesForSample(m.samples[i].IndividualID)
		if err != nil {
			return err
		}
		if err := writePedRecord(w, &m.samples[i], calls); err != nil {
			return err
		}
	}
	return nil
}

// AlleleSummary is the per-variant allele census over the present
// samples: observed counts plus first-appearance order for
// deterministic ranking of equal counts.
type AlleleSummary struct {
	Counts map[byte]int
	order  []byte
}

func (s *AlleleSummary) add(allele byte) {
	if _, seen := s.Counts[allele]; !seen {
		s.order = append(s.order, allele)
	}
	s.Counts[allele]++
}

// Distinct returns the number of distinct alleles observed.
func (s *AlleleSummary) Distinct() int { return len(s.order) }

// Total returns the number of non-missing allele observations.
func (s *AlleleSummary) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// RankedAscending returns the observed alleles ordered by count
// ascending; equal counts keep first-appearance order.
func (s *AlleleSummary) RankedAscending() []byte {
	ranked := append([]byte(nil), s.order...)
	// insertion sort, stable over first-appearance order
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && s.Counts[ranked[j]] < s.Counts[ranked[j-1]]; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	return ranked
}

// MinorAllele returns the second-most-common allele, or 0 when the
// variant is monomorphic or entirely missing.
func (s *AlleleSummary) MinorAllele() byte {
	ranked := s.RankedAscending()
	if len(ranked) < 2 {
		return 0
	}
	return ranked[len(ranked)-2]
}

// MAF returns the minor-allele frequency: the count of the
// second-most-common allele over all non-missing observations;
// 0 when fewer than two alleles remain observed.
func (s *AlleleSummary) MAF() float64 {
	minor := s.MinorAllele()
	if minor == 0 {
		return 0
	}
	return float64(s.Counts[minor]) / float64(s.Total())
}
