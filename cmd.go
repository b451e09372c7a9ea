// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// version is overridden at build time with -ldflags "-X ...".
var version = "dev"

// A subcommand parses its own flags and reports its exit code.
type subcommand interface {
	RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int
}

var handler = multi(map[string]subcommand{
	"version":   versionCommand{},
	"-version":  versionCommand{},
	"--version": versionCommand{},

	"qc":           &qccmd{},
	"stats":        &statscmd{},
	"binarize":     &binarizer{},
	"merge":        &merger{},
	"ibd":          &ibdcmd{},
	"pca":          &pcacmd{},
	"plot":         &plotcmd{},
	"assoc":        &assoccmd{},
	"export-numpy": &exportNumpy{},
})

type multi map[string]subcommand

func (m multi) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintf(stderr, "usage: %s command [options]\n", prog)
		m.usage(stderr)
		return 2
	}
	cmd, ok := m[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "%s: unrecognized command %q\n", prog, args[0])
		m.usage(stderr)
		return 2
	}
	return cmd.RunCommand(prog+" "+args[0], args[1:], stdin, stdout, stderr)
}

func (m multi) usage(w io.Writer) {
	var names []string
	for name := range m {
		if name[0] != '-' {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	fmt.Fprint(w, "\nAvailable commands:\n")
	for _, name := range names {
		fmt.Fprintf(w, "    %s\n", name)
	}
}

type versionCommand struct{}

func (versionCommand) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "otterseq %s (%s)\n", version, runtime.Version())
	return 0
}

func Main() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.StandardLogger().Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	os.Exit(handler.RunCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
