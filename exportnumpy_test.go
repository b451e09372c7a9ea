// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/kshedden/gonpy"
	"gopkg.in/check.v1"
)

type exportSuite struct{}

var _ = check.Suite(&exportSuite{})

func (s *exportSuite) TestIntDosageMatrix(c *check.C) {
	ped := `f a 0 0 1 1 AG CT
f b 0 0 1 1 AA 00
f c 0 0 1 1 GG CC
f d 0 0 1 1 AA CC
`
	samples, err := ReadPed(strings.NewReader(ped))
	c.Assert(err, check.IsNil)
	m, err := NewMatrix(samples)
	c.Assert(err, check.IsNil)
	data, rows, cols, err := intDosageMatrix(m)
	c.Assert(err, check.IsNil)
	c.Check(rows, check.Equals, 4)
	c.Check(cols, check.Equals, 2)
	// variant 0: minor G; variant 1: minor T, missing stays -1
	c.Check(data, check.DeepEquals, []int16{
		1, 1,
		0, -1,
		2, 0,
		0, 0,
	})
}

func (s *exportSuite) TestOnehot(c *check.C) {
	for _, trial := range []struct {
		in      []int16
		incols  int
		out     []int16
		outcols int
	}{
		{
			in:      []int16{0, 1},
			incols:  1,
			out:     []int16{1, 0, 0, 1},
			outcols: 2,
		},
		{
			in:      []int16{0, 1, 2, 0},
			incols:  1,
			out:     []int16{1, 0, 0, 0, 1, 0, 0, 0, 1, 1, 0, 0},
			outcols: 3,
		},
		{
			// missing leaves the whole group zero
			in:      []int16{0, -1, 1, 1},
			incols:  2,
			out:     []int16{1, 0, 0, 0, 0, 1, 0, 1},
			outcols: 4,
		},
	} {
		out, outcols := recodeOnehot(trial.in, trial.incols)
		c.Check(out, check.DeepEquals, trial.out, check.Commentf("%v", trial))
		c.Check(outcols, check.Equals, trial.outcols, check.Commentf("%v", trial))
	}
}

func (s *exportSuite) TestRunCommand(c *check.C) {
	tmpdir := c.MkDir()
	input := filepath.Join(tmpdir, "test.ped")
	c.Assert(os.WriteFile(input, []byte("f a 0 0 1 1 AG AA\nf b 0 0 1 1 AA 00\n"), 0666), check.IsNil)
	output := filepath.Join(tmpdir, "matrix.npy")

	var stdout, stderr bytes.Buffer
	exited := (&exportNumpy{}).RunCommand("otterseq export-numpy", []string{
		"-i", input, "-o", output,
	}, &bytes.Buffer{}, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("stderr: %s", stderr.String()))

	f, err := os.Open(output)
	c.Assert(err, check.IsNil)
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	c.Assert(err, check.IsNil)
	c.Check(npy.Shape, check.DeepEquals, []int{2, 2})
	dosages, err := npy.GetInt16()
	c.Assert(err, check.IsNil)
	c.Check(dosages, check.DeepEquals, []int16{1, 0, 0, -1})
}
