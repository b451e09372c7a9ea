// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import (
	_ "embed"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
)

//go:embed plot.py
var plotscript string

// plotcmd renders a PCA scatter of an .eigenvec file as a PNG,
// labelling points by sex and phenotype when a .fam file is given.
type plotcmd struct{}

func (cmd *plotcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "", "input `file` (.eigenvec)")
	famFilename := flags.String("fam", "", "pedigree `file` (.fam) providing sex/phenotype labels")
	outputFilename := flags.String("o", "", "output `filename` (e.g., './plot.png')")
	xComponent := flags.Int("x", 1, "1-based component to plot on x axis")
	yComponent := flags.Int("y", 2, "1-based component to plot on y axis")
	configFilename := flags.String("config", "", "JSON configuration `file`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
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
		if !set["i"] && config.EigenvecFile != "" {
			*inputFilename = config.EigenvecFile
		}
		if !set["o"] && config.OutPrefix != "" {
			*outputFilename = config.OutPrefix + ".png"
		}
	}
	if *inputFilename == "" || *outputFilename == "" {
		flags.Usage()
		return 2
	}

	rows, err := readEigenvec(*inputFilename)
	if err != nil {
		return 1
	}
	if len(rows) == 0 {
		err = fmt.Errorf("%s: no rows", *inputFilename)
		return 1
	}
	components := len(rows[0].Components)
	if *xComponent < 1 || *xComponent > components || *yComponent < 1 || *yComponent > components {
		err = fmt.Errorf("components -x %d -y %d out of range: %s has %d components", *xComponent, *yComponent, *inputFilename, components)
		return 1
	}
	if *famFilename == "" {
		log.Warn("no -fam file, phenotypes will not be plotted")
	} else if _, err = os.Stat(*famFilename); err != nil {
		return 1
	}

	python := exec.Command("python3", "-",
		*inputFilename,
		fmt.Sprintf("%d", *xComponent),
		fmt.Sprintf("%d", *yComponent),
		*famFilename,
		*outputFilename)
	python.Stdin = strings.NewReader(plotscript)
	python.Stdout = stdout
	python.Stderr = stderr
	err = python.Run()
	if err != nil {
		return 1
	}
	fmt.Fprintln(stdout, *outputFilename)
	return 0
}
