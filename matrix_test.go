// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import (
	"strings"

	"gopkg.in/check.v1"
)

type matrixSuite struct{}

var _ = check.Suite(&matrixSuite{})

func (s *matrixSuite) matrix(c *check.C, ped string) *Matrix {
	samples, err := ReadPed(strings.NewReader(ped))
	c.Assert(err, check.IsNil)
	m, err := NewMatrix(samples)
	c.Assert(err, check.IsNil)
	return m
}

func (s *matrixSuite) TestMalformedRecord(c *check.C) {
	samples, err := ReadPed(strings.NewReader("f a 0 0 1 1 AA AG\nf b 0 0 1 1 AA\n"))
	c.Assert(err, check.IsNil)
	_, err = NewMatrix(samples)
	c.Assert(err, check.FitsTypeOf, &MalformedRecordError{})
	mre := err.(*MalformedRecordError)
	c.Check(mre.SampleID, check.Equals, "b")
	c.Check(mre.Calls, check.Equals, 1)
	c.Check(mre.Want, check.Equals, 2)
}

func (s *matrixSuite) TestDuplicateID(c *check.C) {
	samples, err := ReadPed(strings.NewReader("f a 0 0 1 1 AA\ng a 0 0 1 1 AA\n"))
	c.Assert(err, check.IsNil)
	_, err = NewMatrix(samples)
	c.Check(err, check.ErrorMatches, `duplicate individual ID "a"`)
}

func (s *matrixSuite) TestIteration(c *check.C) {
	m := s.matrix(c, "f a 0 0 1 1 AA AG\nf b 0 0 1 1 AG GG\nf c 0 0 1 1 GG 00\n")
	var got []string
	err := m.EachGenotype(0, func(id string, call GenotypeCall) {
		got = append(got, id+":"+call.String())
	})
	c.Assert(err, check.IsNil)
	c.Check(got, check.DeepEquals, []string{"a:AA", "b:AG", "c:GG"})

	// restartable: a second pass sees the same sequence
	var again []string
	err = m.EachGenotype(0, func(id string, call GenotypeCall) {
		again = append(again, id+":"+call.String())
	})
	c.Assert(err, check.IsNil)
	c.Check(again, check.DeepEquals, got)
}

func (s *matrixSuite) TestRemoveSample(c *check.C) {
	m := s.matrix(c, "f a 0 0 1 1 AA AG\nf b 0 0 1 1 AG GG\nf c 0 0 1 1 GG 00\n")
	c.Assert(m.RemoveSample("b"), check.IsNil)
	c.Check(m.NSamples(), check.Equals, 2)
	c.Check(m.SampleIDs(), check.DeepEquals, []string{"a", "c"})
	c.Check(m.RemovedSampleIDs(), check.DeepEquals, []string{"b"})

	var got []string
	err := m.EachGenotype(1, func(id string, call GenotypeCall) {
		got = append(got, id)
	})
	c.Assert(err, check.IsNil)
	c.Check(got, check.DeepEquals, []string{"a", "c"})

	// removed sample's record is retained for audit
	sample, err := m.Sample("b")
	c.Assert(err, check.IsNil)
	c.Check(sample.Calls, check.HasLen, 2)

	c.Check(m.RemoveSample("b"), check.ErrorMatches, `sample "b" already removed`)
}

func (s *matrixSuite) TestRemoveVariant(c *check.C) {
	m := s.matrix(c, "f a 0 0 1 1 AA AG CC\nf b 0 0 1 1 AG GG CT\n")
	c.Assert(m.RemoveVariant(1), check.IsNil)
	c.Check(m.NVariants(), check.Equals, 2)
	c.Check(m.VariantIndexes(), check.DeepEquals, []int{0, 2})

	calls, err := m.GenotypesForSample("a")
	c.Assert(err, check.IsNil)
	c.Check(calls, check.DeepEquals, []GenotypeCall{{'A', 'A'}, {'C', 'C'}})

	err = m.EachGenotype(1, func(string, GenotypeCall) {})
	c.Check(err, check.ErrorMatches, `variant 1 has been removed`)
}

func (s *matrixSuite) TestSetMissingInvalidatesSummary(c *check.C) {
	m := s.matrix(c, "f a 0 0 1 1 AG\nf b 0 0 1 1 AG\n")
	summary, err := m.AlleleCounts(0)
	c.Assert(err, check.IsNil)
	c.Check(summary.Counts[byte('G')], check.Equals, 2)

	c.Assert(m.SetMissing("a", 0), check.IsNil)
	summary, err = m.AlleleCounts(0)
	c.Assert(err, check.IsNil)
	c.Check(summary.Counts[byte('G')], check.Equals, 1)
	c.Check(summary.Total(), check.Equals, 2)
}

func (s *matrixSuite) TestRemoveSampleInvalidatesSummary(c *check.C) {
	m := s.matrix(c, "f a 0 0 1 1 AG\nf b 0 0 1 1 AA\n")
	summary, err := m.AlleleCounts(0)
	c.Assert(err, check.IsNil)
	c.Check(summary.MAF(), check.Equals, 0.25)

	c.Assert(m.RemoveSample("a"), check.IsNil)
	summary, err = m.AlleleCounts(0)
	c.Assert(err, check.IsNil)
	c.Check(summary.MAF(), check.Equals, 0.0)
	c.Check(summary.Distinct(), check.Equals, 1)
}

func (s *matrixSuite) TestMissingRate(c *check.C) {
	m := s.matrix(c, "f a 0 0 1 1 00 AG 00 AA\nf b 0 0 1 1 AA AA AA AA\n")
	rate, err := m.MissingRate("a")
	c.Assert(err, check.IsNil)
	c.Check(rate, check.Equals, 0.5)

	// rate is relative to the variants still present
	c.Assert(m.RemoveVariant(0), check.IsNil)
	rate, err = m.MissingRate("a")
	c.Assert(err, check.IsNil)
	c.Check(rate, check.Equals, 1.0/3)
}

func (s *matrixSuite) TestRankedAscendingTieBreak(c *check.C) {
	// G and T both appear once; G appears first in sample order
	m := s.matrix(c, "f a 0 0 1 1 AG\nf b 0 0 1 1 AT\nf c 0 0 1 1 AA\n")
	summary, err := m.AlleleCounts(0)
	c.Assert(err, check.IsNil)
	c.Check(summary.RankedAscending(), check.DeepEquals, []byte{'G', 'T', 'A'})
	c.Check(summary.MinorAllele(), check.Equals, byte('T'))
}

func (s *matrixSuite) TestMAF(c *check.C) {
	m := s.matrix(c, "f a 0 0 1 1 AG 00 AA\nf b 0 0 1 1 AA AA AA\n")
	summary, err := m.AlleleCounts(0)
	c.Assert(err, check.IsNil)
	c.Check(summary.MAF(), check.Equals, 0.25)

	// missing calls are excluded from the denominator
	summary, err = m.AlleleCounts(1)
	c.Assert(err, check.IsNil)
	c.Check(summary.Total(), check.Equals, 2)
	c.Check(summary.MAF(), check.Equals, 0.0)
}
