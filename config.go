// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the run configuration: file paths plus default QC
// thresholds. It is loaded once, validated, and passed by value; the
// engine never consults process-wide state.
type Config struct {
	PedFile              string  `json:"ped_file"`
	MapFile              string  `json:"map_file"`
	EigenvecFile         string  `json:"eigenvec_file"`
	OutPrefix            string  `json:"out_prefix"`
	PlinkExe             string  `json:"plink_exe"`
	MissingnessThreshold float64 `json:"missingness_threshold"`
	MAFThreshold         float64 `json:"maf_threshold"`
}

// DefaultConfig returns the documented defaults: both thresholds 0.05,
// "plink" on $PATH.
func DefaultConfig() Config {
	return Config{
		PlinkExe:             "plink",
		MissingnessThreshold: 0.05,
		MAFThreshold:         0.05,
	}
}

// LoadConfig reads a JSON configuration file over the defaults and
// validates it.
func LoadConfig(filename string) (Config, error) {
	config := DefaultConfig()
	f, err := os.Open(filename)
	if err != nil {
		return config, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&config); err != nil {
		return config, fmt.Errorf("%s: %w", filename, err)
	}
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("%s: %w", filename, err)
	}
	return config, nil
}

func (c Config) Validate() error {
	if c.MissingnessThreshold < 0 || c.MissingnessThreshold > 1 {
		return &InvalidThresholdError{Name: "missingness_threshold", Value: c.MissingnessThreshold}
	}
	if c.MAFThreshold < 0 || c.MAFThreshold > 1 {
		return &InvalidThresholdError{Name: "maf_threshold", Value: c.MAFThreshold}
	}
	return nil
}
