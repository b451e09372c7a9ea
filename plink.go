// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// plinkRunner invokes the external PLINK binary: the one collaborator
// this package delegates statistical genetics to. It knows nothing
// about what the flags mean; callers assemble Args and check that the
// input filesets exist first.
type plinkRunner struct {
	Name string // label for log messages
	Exe  string // executable, default "plink"
	Args []string
	Dir  string // working directory, default current
}

func (r *plinkRunner) CommandLine() string {
	exe := r.Exe
	if exe == "" {
		exe = "plink"
	}
	return strings.Join(append([]string{exe}, r.Args...), " ")
}

func (r *plinkRunner) Run(ctx context.Context) error {
	exe := r.Exe
	if exe == "" {
		exe = "plink"
	}
	logger := log.WithField("command", r.Name)
	logger.Info(r.CommandLine())
	cmd := exec.CommandContext(ctx, exe, r.Args...)
	cmd.Dir = r.Dir
	w := logger.WriterLevel(log.DebugLevel)
	defer w.Close()
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %s: %w", r.Name, exe, err)
	}
	return nil
}

// requireFiles checks that prefix+suffix exists for every suffix.
func requireFiles(prefix string, suffixes ...string) error {
	for _, suffix := range suffixes {
		if _, err := os.Stat(prefix + suffix); err != nil {
			return fmt.Errorf("required input: %w", err)
		}
	}
	return nil
}

// findPedFiles resolves a path argument the way the pipeline accepts
// it: a directory (all .ped files inside), a .ped file, or a fileset
// prefix.
func findPedFiles(path string) ([]string, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		pedFiles, err := filepath.Glob(filepath.Join(path, "*.ped"))
		if err != nil {
			return nil, err
		}
		if len(pedFiles) == 0 {
			return nil, fmt.Errorf("no .ped files found in %s", path)
		}
		return pedFiles, nil
	}
	if !strings.HasSuffix(path, ".ped") {
		path += ".ped"
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("required input: %w", err)
	}
	return []string{path}, nil
}

// binarizer converts pedigree text filesets to PLINK binary filesets
// (.bed/.bim/.fam) via the external PLINK binary.
type binarizer struct {
	input  string
	outdir string
	exe    string
	dryRun bool
}

func (cmd *binarizer) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.input, "i", "", ".ped `file`, fileset prefix, or directory of .ped files")
	flags.StringVar(&cmd.outdir, "o", "", "output `directory`")
	flags.StringVar(&cmd.exe, "exe", "plink", "PLINK `executable`")
	flags.BoolVar(&cmd.dryRun, "dry-run", false, "print the PLINK invocations but do not run them")
	configFilename := flags.String("config", "", "JSON configuration `file`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *configFilename != "" {
		var config Config
		config, err = LoadConfig(*configFilename)
		if err != nil {
			return 1
		}
		set := flagsSet(flags)
		if !set["i"] && config.PedFile != "" {
			cmd.input = config.PedFile
		}
		if !set["exe"] && config.PlinkExe != "" {
			cmd.exe = config.PlinkExe
		}
	}
	if cmd.input == "" || cmd.outdir == "" {
		flags.Usage()
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	pedFiles, err := findPedFiles(cmd.input)
	if err != nil {
		return 1
	}
	err = os.MkdirAll(cmd.outdir, 0777)
	if err != nil {
		return 1
	}
	for _, pedFile := range pedFiles {
		prefix := strings.TrimSuffix(pedFile, ".ped")
		out := filepath.Join(cmd.outdir, filepath.Base(prefix))
		runner := plinkRunner{
			Name: "binarize",
			Exe:  cmd.exe,
			Args: []string{"--file", prefix, "--make-bed", "--out", out},
		}
		if cmd.dryRun {
			fmt.Fprintln(stdout, runner.CommandLine())
			continue
		}
		err = runner.Run(context.Background())
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, out)
	}
	return 0
}

// ibdcmd estimates pairwise identity-by-descent over a PLINK binary
// fileset via the external PLINK binary (--genome).
type ibdcmd struct {
	bfile  string
	out    string
	minPI  float64
	exe    string
	dryRun bool
}

func (cmd *ibdcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.bfile, "bfile", "", "PLINK binary fileset `prefix`")
	flags.StringVar(&cmd.out, "o", "", "output `prefix` (default: same as -bfile)")
	flags.Float64Var(&cmd.minPI, "min", 0, "only report pairs with PI_HAT at least `P`")
	flags.StringVar(&cmd.exe, "exe", "plink", "PLINK `executable`")
	flags.BoolVar(&cmd.dryRun, "dry-run", false, "print the PLINK invocation but do not run it")
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
		if !set["exe"] && config.PlinkExe != "" {
			cmd.exe = config.PlinkExe
		}
		if !set["o"] && config.OutPrefix != "" {
			cmd.out = config.OutPrefix
		}
	}
	if cmd.bfile == "" {
		flags.Usage()
		return 2
	}
	if cmd.out == "" {
		cmd.out = cmd.bfile
	}

	err = requireFiles(cmd.bfile, ".bed", ".bim", ".fam")
	if err != nil {
		return 1
	}
	plinkArgs := []string{"--bfile", cmd.bfile, "--genome", "--out", cmd.out}
	if cmd.minPI > 0 {
		plinkArgs = append(plinkArgs, "--min", fmt.Sprintf("%g", cmd.minPI))
	}
	runner := plinkRunner{
		Name: "ibd",
		Exe:  cmd.exe,
		Args: plinkArgs,
	}
	if cmd.dryRun {
		fmt.Fprintln(stdout, runner.CommandLine())
		return 0
	}
	err = runner.Run(context.Background())
	if err != nil {
		return 1
	}
	fmt.Fprintln(stdout, cmd.out+".genome")
	return 0
}
