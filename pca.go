// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"
	"strings"

	"github.com/james-bowman/nlp"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// The HLA region on chromosome 6 is conventionally excluded from
// population-structure PCA because its extreme LD dominates the top
// components.
const (
	hlaChromosome = "6"
	hlaStart      = 25_000_000
	hlaEnd        = 35_000_000
)

// excludeHLA removes variants falling in the HLA window. snps must be
// the variant table matching the matrix's original variant order.
func excludeHLA(m *Matrix, snps []SNP) (int, error) {
	excluded := 0
	for _, variant := range m.VariantIndexes() {
		if variant >= len(snps) {
			return excluded, fmt.Errorf("variant table has %d rows, matrix has variant index %d", len(snps), variant)
		}
		snp := snps[variant]
		if snp.Chromosome == hlaChromosome && snp.Position >= hlaStart && snp.Position < hlaEnd {
			if err := m.RemoveVariant(variant); err != nil {
				return excluded, err
			}
			excluded++
		}
	}
	return excluded, nil
}

// dosageMatrix recodes the present genotype calls as minor-allele
// dosages (0, 1, 2), row per sample, column per present variant.
// Missing calls impute to the variant's mean dosage. Monomorphic
// variants recode to all zeros.
func dosageMatrix(m *Matrix) (data []float64, rows, cols int, ids []string, err error) {
	ids = m.SampleIDs()
	variants := m.VariantIndexes()
	rows, cols = len(ids), len(variants)
	data = make([]float64, rows*cols)
	for col, variant := range variants {
		summary, err2 := m.AlleleCounts(variant)
		if err2 != nil {
			return nil, 0, 0, nil, err2
		}
		minor := summary.MinorAllele()
		var sum float64
		var nonmissing int
		missingRows := make([]int, 0)
		row := 0
		err2 = m.EachGenotype(variant, func(id string, call GenotypeCall) {
			if call.Missing() {
				missingRows = append(missingRows, row)
			} else {
				d := 0.0
				if minor != 0 {
					if call[0] == minor {
						d++
					}
					if call[1] == minor {
						d++
					}
				}
				data[row*cols+col] = d
				sum += d
				nonmissing++
			}
			row++
		})
		if err2 != nil {
			return nil, 0, 0, nil, err2
		}
		mean := 0.0
		if nonmissing > 0 {
			mean = sum / float64(nonmissing)
		}
		for _, row := range missingRows {
			data[row*cols+col] = mean
		}
	}
	return data, rows, cols, ids, nil
}

// writeEigenvec writes PLINK-style .eigenvec rows: family ID,
// individual ID, then one column per component.
func writeEigenvec(w io.Writer, m *Matrix, scores []float64, rows, cols int) error {
	ids := m.SampleIDs()
	for row := 0; row < rows; row++ {
		sample, err := m.Sample(ids[row])
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s %s", sample.FamilyID, sample.IndividualID); err != nil {
			return err
		}
		for col := 0; col < cols; col++ {
			if _, err := fmt.Fprintf(w, " %g", scores[row*cols+col]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

// eigenvecRow is one parsed .eigenvec record.
type eigenvecRow struct {
	FamilyID     string
	IndividualID string
	Components   []float64
}

// readEigenvec parses a PLINK-style .eigenvec file.
func readEigenvec(filename string) ([]eigenvecRow, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rows []eigenvecRow
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("%s: line %d: %d columns, want at least 3", filename, line, len(fields))
		}
		row := eigenvecRow{FamilyID: fields[0], IndividualID: fields[1]}
		for _, field := range fields[2:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: line %d: component %q: %w", filename, line, field, err)
			}
			row.Components = append(row.Components, v)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return rows, nil
}

// fitPCA fits a PCA over the dosage data (rows samples × cols
// variants) and returns the per-sample scores for the requested
// number of components.
func fitPCA(data []float64, rows, cols, components int) ([]float64, error) {
	if components <= 0 {
		return nil, fmt.Errorf("number of components must be greater than 0, got %d", components)
	}
	if components > cols {
		return nil, fmt.Errorf("number of components %d exceeds variant count %d", components, cols)
	}
	mtx := mat.Matrix(mat.NewDense(rows, cols, data).T())
	transformer := nlp.NewPCA(components)
	transformer.Fit(mtx)
	mtx, err := transformer.Transform(mtx)
	if err != nil {
		return nil, err
	}
	mtx = mtx.T()
	outRows, outCols := mtx.Dims()
	out := make([]float64, outRows*outCols)
	for i := 0; i < outRows; i++ {
		for j := 0; j < outCols; j++ {
			out[i*outCols+j] = mtx.At(i, j)
		}
	}
	return out, nil
}

type pcacmd struct {
	filter QCFilter
	runQC  bool
}

func (cmd *pcacmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "input pedigree `file`")
	outputPrefix := flags.String("o", "", "output `prefix` (writes prefix.eigenvec)")
	mapFilename := flags.String("map", "", "variant table `file` (.map or .bim), required for -exclude-hla")
	npyFilename := flags.String("npy", "", "also write the scores as a NumPy array to `file`")
	components := flags.Int("components", 20, "number of principal components")
	excludeHLAFlag := flags.Bool("exclude-hla", false, "exclude the chr6 HLA region before fitting")
	flags.BoolVar(&cmd.runQC, "qc", false, "run the QC filter pass before fitting")
	configFilename := flags.String("config", "", "JSON configuration `file`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	cmd.filter.Flags(flags)
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
			*inputFilename = config.PedFile
		}
		if !set["map"] && config.MapFile != "" {
			*mapFilename = config.MapFile
		}
		if !set["o"] && config.OutPrefix != "" {
			*outputPrefix = config.OutPrefix
		}
		if !set["missingness"] {
			cmd.filter.Missingness = config.MissingnessThreshold
		}
		if !set["maf"] {
			cmd.filter.MAF = config.MAFThreshold
		}
	}
	if *outputPrefix == "" {
		flags.Usage()
		return 2
	}
	if *excludeHLAFlag && *mapFilename == "" {
		err = fmt.Errorf("-exclude-hla requires -map")
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	log.Print("reading")
	samples, err := ReadPedFile(*inputFilename, stdin)
	if err != nil {
		return 1
	}
	matrix, err := NewMatrix(samples)
	if err != nil {
		return 1
	}

	if cmd.runQC {
		log.Print("filtering")
		_, err = cmd.filter.Apply(matrix)
		if err != nil {
			return 1
		}
	}

	if *excludeHLAFlag {
		var snps []SNP
		snps, err = ReadSNPTable(*mapFilename)
		if err != nil {
			return 1
		}
		var excluded int
		excluded, err = excludeHLA(matrix, snps)
		if err != nil {
			return 1
		}
		log.Printf("excluded %d HLA-region variants", excluded)
	}

	log.Print("recoding genotypes as dosages")
	data, rows, cols, _, err := dosageMatrix(matrix)
	if err != nil {
		return 1
	}

	log.Printf("fitting %d components over %d samples × %d variants", *components, rows, cols)
	scores, err := fitPCA(data, rows, cols, *components)
	if err != nil {
		return 1
	}

	eigenvecFilename := *outputPrefix + ".eigenvec"
	output, err := os.OpenFile(eigenvecFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return 1
	}
	bufw := bufio.NewWriter(output)
	err = writeEigenvec(bufw, matrix, scores, rows, *components)
	if err != nil {
		output.Close()
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		output.Close()
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}

	if *npyFilename != "" {
		var npyFile *os.File
		npyFile, err = os.OpenFile(*npyFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return 1
		}
		npyBuf := bufio.NewWriter(npyFile)
		var npw *gonpy.NpyWriter
		npw, err = gonpy.NewWriter(nopCloser{npyBuf})
		if err != nil {
			npyFile.Close()
			return 1
		}
		npw.Shape = []int{rows, *components}
		err = npw.WriteFloat64(scores)
		if err != nil {
			npyFile.Close()
			return 1
		}
		err = npyBuf.Flush()
		if err != nil {
			npyFile.Close()
			return 1
		}
		err = npyFile.Close()
		if err != nil {
			return 1
		}
	}

	fmt.Fprintln(stdout, eigenvecFilename)
	log.Print("done")
	return 0
}
