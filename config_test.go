// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/check.v1"
)

type configSuite struct{}

var _ = check.Suite(&configSuite{})

func (s *configSuite) TestDefaults(c *check.C) {
	config := DefaultConfig()
	c.Check(config.PlinkExe, check.Equals, "plink")
	c.Check(config.MissingnessThreshold, check.Equals, 0.05)
	c.Check(config.MAFThreshold, check.Equals, 0.05)
	c.Check(config.Validate(), check.IsNil)
}

func (s *configSuite) TestLoadConfig(c *check.C) {
	tmpdir := c.MkDir()
	filename := filepath.Join(tmpdir, "config.json")
	c.Assert(os.WriteFile(filename, []byte(`{
		"ped_file": "cohort.ped",
		"maf_threshold": 0.01
	}`), 0666), check.IsNil)
	config, err := LoadConfig(filename)
	c.Assert(err, check.IsNil)
	c.Check(config.PedFile, check.Equals, "cohort.ped")
	c.Check(config.MAFThreshold, check.Equals, 0.01)
	// unset keys keep their defaults
	c.Check(config.MissingnessThreshold, check.Equals, 0.05)
	c.Check(config.PlinkExe, check.Equals, "plink")
}

func (s *configSuite) TestLoadConfigInvalidThreshold(c *check.C) {
	tmpdir := c.MkDir()
	filename := filepath.Join(tmpdir, "config.json")
	c.Assert(os.WriteFile(filename, []byte(`{"missingness_threshold": 2}`), 0666), check.IsNil)
	_, err := LoadConfig(filename)
	var ite *InvalidThresholdError
	c.Assert(errors.As(err, &ite), check.Equals, true)
	c.Check(ite.Name, check.Equals, "missingness_threshold")
	c.Check(ite.Value, check.Equals, 2.0)
}

func (s *configSuite) TestLoadConfigBadJSON(c *check.C) {
	tmpdir := c.MkDir()
	filename := filepath.Join(tmpdir, "config.json")
	c.Assert(os.WriteFile(filename, []byte(`{`), 0666), check.IsNil)
	_, err := LoadConfig(filename)
	c.Check(err, check.NotNil)
}

func (s *configSuite) TestLoadConfigMissingFile(c *check.C) {
	_, err := LoadConfig(filepath.Join(c.MkDir(), "nope.json"))
	c.Check(os.IsNotExist(err), check.Equals, true)
}
