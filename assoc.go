// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"math"
	"net/http"
	_ "net/http/pprof"
	"runtime"
	"sync"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            stdlog.New(io.Discard, "", 0),
}

func normalize(a []float64) {
	mean, std := stat.MeanStdDev(a, nil)
	if std == 0 {
		return
	}
	for i, x := range a {
		a[i] = (x - mean) / std
	}
}

// assocSample pairs a case/control outcome with principal-component
// covariates. Samples with a missing phenotype or no matching
// .eigenvec row are excluded before model fitting.
type assocSample struct {
	id     string
	isCase bool
	pcs    []float64
}

// glmTestFunc fits the covariate-only null model once and returns a
// function testing one variant's dosage vector against it with a
// likelihood-ratio test: odds ratio for the dosage term and the
// chi-squared (k=1) p-value. Singular or non-converging fits yield
// NaN.
func glmTestFunc(samples []assocSample, nPCA int) (func(dosage []float64) (or, p float64), error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples with phenotype and covariates")
	}
	pcaNames := make([]string, 0, nPCA)
	covars := make([][]statmodel.Dtype, 0, nPCA)
	for pca := 0; pca < nPCA; pca++ {
		series := make([]statmodel.Dtype, 0, len(samples))
		for _, s := range samples {
			series = append(series, s.pcs[pca])
		}
		normalize(series)
		covars = append(covars, series)
		pcaNames = append(pcaNames, fmt.Sprintf("pc%d", pca+1))
	}

	outcome := make([]statmodel.Dtype, 0, len(samples))
	constants := make([]statmodel.Dtype, 0, len(samples))
	for _, s := range samples {
		if s.isCase {
			outcome = append(outcome, 1)
		} else {
			outcome = append(outcome, 0)
		}
		constants = append(constants, 1)
	}
	nullData := append([][]statmodel.Dtype{outcome, constants}, covars...)
	nullNames := append([]string{"outcome", "constants"}, pcaNames...)
	nullModel, err := glm.NewGLM(statmodel.NewDataset(nullData, nullNames), "outcome", nullNames[1:], glmConfig)
	if err != nil {
		return nil, fmt.Errorf("covariate-only model: %w", err)
	}
	logNull := nullModel.Fit().LogLike()

	return func(dosage []float64) (or, p float64) {
		defer func() {
			if recover() != nil {
				// typically "matrix singular or near-singular with condition number +Inf"
				or, p = math.NaN(), math.NaN()
			}
		}()
		variant := make([]statmodel.Dtype, len(dosage))
		copy(variant, dosage)
		data := append([][]statmodel.Dtype{outcome, variant, constants}, covars...)
		names := append([]string{"outcome", "variant", "constants"}, pcaNames...)
		model, err := glm.NewGLM(statmodel.NewDataset(data, names), "outcome", names[1:], glmConfig)
		if err != nil {
			return math.NaN(), math.NaN()
		}
		result := model.Fit()
		dist := distuv.ChiSquared{K: 1}
		return math.Exp(result.Params()[0]), dist.Survival(-2 * (logNull - result.LogLike()))
	}, nil
}

// assocResult is one row of the association output table.
type assocResult struct {
	variant int // original index
	minor   byte
	nmiss   int
	or      float64
	p       float64
}

// runAssociation tests every present variant for association with
// case status, adjusting for the given covariates. Results come back
// in variant order.
func runAssociation(m *Matrix, eigenvec []eigenvecRow, nPCA int) ([]assocResult, error) {
	pcsByID := map[string][]float64{}
	for _, row := range eigenvec {
		pcsByID[row.IndividualID] = row.Components
	}

	var samples []assocSample
	var sampleIDs []string
	for _, id := range m.SampleIDs() {
		sample, err := m.Sample(id)
		if err != nil {
			return nil, err
		}
		if !sample.IsCase() && !sample.IsControl() {
			continue
		}
		pcs, ok := pcsByID[id]
		if !ok {
			log.WithField("sample", id).Warn("no covariate row, excluding")
			continue
		}
		if len(pcs) < nPCA {
			return nil, fmt.Errorf("sample %q has %d covariate components, want %d", id, len(pcs), nPCA)
		}
		samples = append(samples, assocSample{id: id, isCase: sample.IsCase(), pcs: pcs})
		sampleIDs = append(sampleIDs, id)
	}
	test, err := glmTestFunc(samples, nPCA)
	if err != nil {
		return nil, err
	}

	variants := m.VariantIndexes()
	results := make([]assocResult, len(variants))
	var mtx sync.Mutex
	throttle := throttle{Max: runtime.NumCPU()}
	for i, variant := range variants {
		i, variant := i, variant
		throttle.Go(func() error {
			summary, err := m.AlleleCounts(variant)
			if err != nil {
				return err
			}
			minor := summary.MinorAllele()
			dosage := make([]float64, len(samples))
			var sum float64
			var missingIdx []int
			nonmissing := 0
			for j, id := range sampleIDs {
				sample, err := m.Sample(id)
				if err != nil {
					return err
				}
				call := sample.Calls[variant]
				if call.Missing() {
					missingIdx = append(missingIdx, j)
					continue
				}
				d := 0.0
				if minor != 0 {
					if call[0] == minor {
						d++
					}
					if call[1] == minor {
						d++
					}
				}
				dosage[j] = d
				sum += d
				nonmissing++
			}
			mean := 0.0
			if nonmissing > 0 {
				mean = sum / float64(nonmissing)
			}
			for _, j := range missingIdx {
				dosage[j] = mean
			}
			or, p := test(dosage)
			mtx.Lock()
			results[i] = assocResult{variant: variant, minor: minor, nmiss: nonmissing, or: or, p: p}
			mtx.Unlock()
			return nil
		})
	}
	if err := throttle.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// writeAssocTable writes the association results in the
// .assoc.logistic column convention. snps may be nil, in which case
// placeholder chromosome/ID/position columns are emitted.
func writeAssocTable(w io.Writer, results []assocResult, snps []SNP) error {
	if _, err := fmt.Fprintln(w, "CHR\tSNP\tBP\tA1\tTEST\tNMISS\tOR\tP"); err != nil {
		return err
	}
	for _, r := range results {
		chr, id, bp := "0", fmt.Sprintf("var%d", r.variant+1), r.variant+1
		if snps != nil && r.variant < len(snps) {
			chr, id, bp = snps[r.variant].Chromosome, snps[r.variant].ID, snps[r.variant].Position
		}
		a1 := "."
		if r.minor != 0 {
			a1 = string(r.minor)
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%d\t%s\tADD\t%d\t%.6g\t%.6g\n", chr, id, bp, a1, r.nmiss, r.or, r.p); err != nil {
			return err
		}
	}
	return nil
}

type assoccmd struct{}

func (cmd *assoccmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	outputFilename := flags.String("o", "-", "output association table `file`")
	eigenvecFilename := flags.String("pca", "", "covariate `file` (.eigenvec) from the pca command")
	mapFilename := flags.String("map", "", "variant table `file` (.map or .bim) for output annotation")
	components := flags.Int("components", 0, "number of covariate components to use (0 = all)")
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
			*inputFilename = config.PedFile
		}
		if !set["pca"] && config.EigenvecFile != "" {
			*eigenvecFilename = config.EigenvecFile
		}
		if !set["map"] && config.MapFile != "" {
			*mapFilename = config.MapFile
		}
		if !set["o"] && config.OutPrefix != "" {
			*outputFilename = config.OutPrefix + ".assoc.logistic"
		}
	}
	if *eigenvecFilename == "" {
		fmt.Fprintln(stderr, "cannot run association without -pca covariates")
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
	eigenvec, err := readEigenvec(*eigenvecFilename)
	if err != nil {
		return 1
	}
	if len(eigenvec) == 0 {
		err = fmt.Errorf("%s: no covariate rows", *eigenvecFilename)
		return 1
	}
	nPCA := *components
	if nPCA <= 0 {
		nPCA = len(eigenvec[0].Components)
	}
	var snps []SNP
	if *mapFilename != "" {
		snps, err = ReadSNPTable(*mapFilename)
		if err != nil {
			return 1
		}
	}

	log.Printf("testing %d variants with %d covariate components", matrix.NVariants(), nPCA)
	results, err := runAssociation(matrix, eigenvec, nPCA)
	if err != nil {
		return 1
	}

	output, err := openOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	bufw := bufio.NewWriter(output)
	err = writeAssocTable(bufw, results, snps)
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
	log.Print("done")
	return 0
}
