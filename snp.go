// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// SNP is one row of a PLINK .bim or .map variant table.
//
// .bim columns: chromosome, ID, cM position, bp position, allele 1
// (usually minor), allele 2 (usually major). A .map row carries the
// first four columns only.
type SNP struct {
	Chromosome string
	ID         string
	Morgans    string
	Position   int
	Allele1    string
	Allele2    string
}

// ReadSNPTable reads a .bim or .map file.
func ReadSNPTable(filename string) ([]SNP, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var snps []SNP
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 4 && len(fields) != 6 {
			return nil, fmt.Errorf("%s: line %d: %d columns, want 4 (.map) or 6 (.bim)", filename, line, len(fields))
		}
		pos, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: position %q: %w", filename, line, fields[3], err)
		}
		snp := SNP{
			Chromosome: fields[0],
			ID:         fields[1],
			Morgans:    fields[2],
			Position:   pos,
		}
		if len(fields) == 6 {
			snp.Allele1 = fields[4]
			snp.Allele2 = fields[5]
		}
		snps = append(snps, snp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return snps, nil
}

// checkDuplicateIDs fails with a DuplicateVariantError if the table
// contains the same variant ID twice (a multi-allelic site split
// across rows).
func checkDuplicateIDs(filename string, snps []SNP) error {
	seen := make(map[string]bool, len(snps))
	for _, snp := range snps {
		if seen[snp.ID] {
			return &DuplicateVariantError{File: filename, ID: snp.ID}
		}
		seen[snp.ID] = true
	}
	return nil
}

// CommonSNPs intersects the variant IDs of every .bim file in dir,
// returning the sorted intersection. Each file is checked for
// duplicated IDs first. The intersection short-circuits once empty.
func CommonSNPs(dir string) ([]string, error) {
	bimFiles, err := filepath.Glob(filepath.Join(dir, "*.bim"))
	if err != nil {
		return nil, err
	}
	if len(bimFiles) == 0 {
		return nil, fmt.Errorf("no .bim files found in %s", dir)
	}
	sort.Strings(bimFiles)

	var common map[string]bool
	for _, filename := range bimFiles {
		snps, err := ReadSNPTable(filename)
		if err != nil {
			return nil, err
		}
		if err := checkDuplicateIDs(filename, snps); err != nil {
			return nil, err
		}
		ids := make(map[string]bool, len(snps))
		for _, snp := range snps {
			ids[snp.ID] = true
		}
		if common == nil {
			common = ids
			continue
		}
		for id := range common {
			if !ids[id] {
				delete(common, id)
			}
		}
		if len(common) == 0 {
			log.Debugf("%s: intersection empty, stopping", filename)
			break
		}
	}

	out := make([]string, 0, len(common))
	for id := range common {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// bimPrefixes returns the fileset prefixes (paths minus .bim) of every
// .bim file in dir, sorted.
func bimPrefixes(dir string) ([]string, error) {
	bimFiles, err := filepath.Glob(filepath.Join(dir, "*.bim"))
	if err != nil {
		return nil, err
	}
	if len(bimFiles) == 0 {
		return nil, fmt.Errorf("no .bim files found in %s", dir)
	}
	sort.Strings(bimFiles)
	prefixes := make([]string, len(bimFiles))
	for i, f := range bimFiles {
		prefixes[i] = strings.TrimSuffix(f, ".bim")
	}
	return prefixes, nil
}

func writeLines(filename string, lines []string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// merger intersects the SNP tables of a directory of PLINK binary
// filesets, writes common_snps.txt and merge_list.txt, and drives the
// external PLINK merge.
type merger struct {
	dir        string
	outdir     string
	prefix     string
	onlyCommon bool
	dryRun     bool
	exe        string
}

func (cmd *merger) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.dir, "dir", ".", "`directory` containing the PLINK filesets to merge")
	flags.StringVar(&cmd.outdir, "o", "", "output `directory` (default: same as -dir)")
	flags.StringVar(&cmd.prefix, "prefix", "merged_snps", "output fileset `prefix`")
	flags.BoolVar(&cmd.onlyCommon, "only-common", true, "restrict the merged fileset to SNPs present in every input")
	flags.BoolVar(&cmd.dryRun, "dry-run", false, "write the merge lists but do not invoke PLINK")
	flags.StringVar(&cmd.exe, "exe", "plink", "PLINK `executable`")
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
		if !set["prefix"] && config.OutPrefix != "" {
			cmd.prefix = config.OutPrefix
		}
	}
	if cmd.outdir == "" {
		cmd.outdir = cmd.dir
	}
	err = os.MkdirAll(cmd.outdir, 0777)
	if err != nil {
		return 1
	}

	prefixes, err := bimPrefixes(cmd.dir)
	if err != nil {
		return 1
	}
	for _, prefix := range prefixes {
		if err = requireFiles(prefix, ".bed", ".bim", ".fam"); err != nil {
			return 1
		}
	}
	mergeList := filepath.Join(cmd.outdir, "merge_list.txt")
	err = writeLines(mergeList, prefixes)
	if err != nil {
		return 1
	}
	log.Printf("merging %d filesets", len(prefixes))

	plinkArgs := []string{"--merge-list", mergeList, "--make-bed", "--out", filepath.Join(cmd.outdir, cmd.prefix)}
	if cmd.onlyCommon {
		var common []string
		common, err = CommonSNPs(cmd.dir)
		if err != nil {
			return 1
		}
		commonFile := filepath.Join(cmd.outdir, "common_snps.txt")
		err = writeLines(commonFile, common)
		if err != nil {
			return 1
		}
		log.Printf("%d SNPs common to all filesets", len(common))
		plinkArgs = append(plinkArgs, "--extract", commonFile)
	}

	runner := plinkRunner{
		Name: "merge",
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
	fmt.Fprintln(stdout, filepath.Join(cmd.outdir, cmd.prefix))
	return 0
}
