// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/check.v1"
)

type plinkSuite struct{}

var _ = check.Suite(&plinkSuite{})

func (s *plinkSuite) TestCommandLine(c *check.C) {
	runner := plinkRunner{Name: "test", Args: []string{"--bfile", "data", "--genome"}}
	c.Check(runner.CommandLine(), check.Equals, "plink --bfile data --genome")
	runner.Exe = "/opt/plink2"
	c.Check(runner.CommandLine(), check.Equals, "/opt/plink2 --bfile data --genome")
}

func (s *plinkSuite) TestRunMissingExecutable(c *check.C) {
	runner := plinkRunner{Name: "test", Exe: "/nonexistent/plink"}
	err := runner.Run(context.Background())
	c.Check(err, check.ErrorMatches, `test: /nonexistent/plink: .*`)
}

func (s *plinkSuite) TestRequireFiles(c *check.C) {
	tmpdir := c.MkDir()
	prefix := filepath.Join(tmpdir, "data")
	for _, suffix := range []string{".bed", ".bim"} {
		c.Assert(os.WriteFile(prefix+suffix, nil, 0666), check.IsNil)
	}
	c.Check(requireFiles(prefix, ".bed", ".bim"), check.IsNil)
	c.Check(requireFiles(prefix, ".bed", ".bim", ".fam"), check.ErrorMatches, `required input: .*\.fam.*`)
}

func (s *plinkSuite) TestFindPedFiles(c *check.C) {
	tmpdir := c.MkDir()
	for _, name := range []string{"a.ped", "b.ped", "c.map"} {
		c.Assert(os.WriteFile(filepath.Join(tmpdir, name), nil, 0666), check.IsNil)
	}

	// directory
	found, err := findPedFiles(tmpdir)
	c.Assert(err, check.IsNil)
	c.Check(found, check.DeepEquals, []string{filepath.Join(tmpdir, "a.ped"), filepath.Join(tmpdir, "b.ped")})

	// explicit file
	found, err = findPedFiles(filepath.Join(tmpdir, "a.ped"))
	c.Assert(err, check.IsNil)
	c.Check(found, check.DeepEquals, []string{filepath.Join(tmpdir, "a.ped")})

	// fileset prefix
	found, err = findPedFiles(filepath.Join(tmpdir, "b"))
	c.Assert(err, check.IsNil)
	c.Check(found, check.DeepEquals, []string{filepath.Join(tmpdir, "b.ped")})

	_, err = findPedFiles(filepath.Join(tmpdir, "missing"))
	c.Check(err, check.ErrorMatches, `required input: .*`)

	_, err = findPedFiles(c.MkDir())
	c.Check(err, check.ErrorMatches, `no \.ped files found in .*`)
}

func (s *plinkSuite) TestBinarizeDryRun(c *check.C) {
	tmpdir := c.MkDir()
	for _, name := range []string{"a.ped", "b.ped"} {
		c.Assert(os.WriteFile(filepath.Join(tmpdir, name), nil, 0666), check.IsNil)
	}
	outdir := c.MkDir()
	var stdout, stderr bytes.Buffer
	exited := (&binarizer{}).RunCommand("otterseq binarize", []string{
		"-i", tmpdir, "-o", outdir, "-dry-run", "-exe", "plink19",
	}, &bytes.Buffer{}, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("stderr: %s", stderr.String()))
	lines := strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n")
	c.Assert(lines, check.HasLen, 2)
	c.Check(lines[0], check.Equals, "plink19 --file "+filepath.Join(tmpdir, "a")+" --make-bed --out "+filepath.Join(outdir, "a"))
	c.Check(lines[1], check.Equals, "plink19 --file "+filepath.Join(tmpdir, "b")+" --make-bed --out "+filepath.Join(outdir, "b"))
}

func (s *plinkSuite) TestBinarizeMissingArgs(c *check.C) {
	var stdout, stderr bytes.Buffer
	exited := (&binarizer{}).RunCommand("otterseq binarize", nil, &bytes.Buffer{}, &stdout, &stderr)
	c.Check(exited, check.Equals, 2)
}

func (s *plinkSuite) TestIBDDryRun(c *check.C) {
	tmpdir := c.MkDir()
	prefix := filepath.Join(tmpdir, "cohort")
	for _, suffix := range []string{".bed", ".bim", ".fam"} {
		c.Assert(os.WriteFile(prefix+suffix, nil, 0666), check.IsNil)
	}
	var stdout, stderr bytes.Buffer
	exited := (&ibdcmd{}).RunCommand("otterseq ibd", []string{
		"-bfile", prefix, "-min", "0.2", "-dry-run",
	}, &bytes.Buffer{}, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("stderr: %s", stderr.String()))
	c.Check(stdout.String(), check.Equals, "plink --bfile "+prefix+" --genome --out "+prefix+" --min 0.2\n")
}

func (s *plinkSuite) TestBinarizeConfig(c *check.C) {
	tmpdir := c.MkDir()
	pedFile := filepath.Join(tmpdir, "cohort.ped")
	c.Assert(os.WriteFile(pedFile, nil, 0666), check.IsNil)
	config := filepath.Join(tmpdir, "config.json")
	c.Assert(os.WriteFile(config, []byte(`{"ped_file": "`+pedFile+`", "plink_exe": "plink2"}`), 0666), check.IsNil)
	outdir := c.MkDir()
	var stdout, stderr bytes.Buffer
	exited := (&binarizer{}).RunCommand("otterseq binarize", []string{
		"-config", config, "-o", outdir, "-dry-run",
	}, &bytes.Buffer{}, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("stderr: %s", stderr.String()))
	c.Check(stdout.String(), check.Equals, "plink2 --file "+filepath.Join(tmpdir, "cohort")+" --make-bed --out "+filepath.Join(outdir, "cohort")+"\n")
}

func (s *plinkSuite) TestIBDLogLevel(c *check.C) {
	tmpdir := c.MkDir()
	prefix := filepath.Join(tmpdir, "cohort")
	for _, suffix := range []string{".bed", ".bim", ".fam"} {
		c.Assert(os.WriteFile(prefix+suffix, nil, 0666), check.IsNil)
	}
	var stdout, stderr bytes.Buffer
	exited := (&ibdcmd{}).RunCommand("otterseq ibd", []string{
		"-bfile", prefix, "-dry-run", "-loglevel", "debug",
	}, &bytes.Buffer{}, &stdout, &stderr)
	c.Check(exited, check.Equals, 0, check.Commentf("stderr: %s", stderr.String()))

	exited = (&ibdcmd{}).RunCommand("otterseq ibd", []string{
		"-bfile", prefix, "-dry-run", "-loglevel", "bogus",
	}, &bytes.Buffer{}, &stdout, &stderr)
	c.Check(exited, check.Equals, 2)
}

func (s *plinkSuite) TestIBDConfig(c *check.C) {
	tmpdir := c.MkDir()
	prefix := filepath.Join(tmpdir, "cohort")
	for _, suffix := range []string{".bed", ".bim", ".fam"} {
		c.Assert(os.WriteFile(prefix+suffix, nil, 0666), check.IsNil)
	}
	outPrefix := filepath.Join(tmpdir, "kinship")
	config := filepath.Join(tmpdir, "config.json")
	c.Assert(os.WriteFile(config, []byte(`{"plink_exe": "plink2", "out_prefix": "`+outPrefix+`"}`), 0666), check.IsNil)
	var stdout, stderr bytes.Buffer
	exited := (&ibdcmd{}).RunCommand("otterseq ibd", []string{
		"-bfile", prefix, "-config", config, "-dry-run",
	}, &bytes.Buffer{}, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("stderr: %s", stderr.String()))
	c.Check(stdout.String(), check.Equals, "plink2 --bfile "+prefix+" --genome --out "+outPrefix+"\n")
}

func (s *plinkSuite) TestIBDMissingFileset(c *check.C) {
	var stdout, stderr bytes.Buffer
	exited := (&ibdcmd{}).RunCommand("otterseq ibd", []string{
		"-bfile", filepath.Join(c.MkDir(), "nope"), "-dry-run",
	}, &bytes.Buffer{}, &stdout, &stderr)
	c.Check(exited, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?s)required input: .*`)
}
