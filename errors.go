// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import "fmt"

// MalformedRecordError reports a pedigree record whose genotype
// sequence length disagrees with the rest of the file.
type MalformedRecordError struct {
	SampleID string
	Line     int
	Calls    int
	Want     int
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed pedigree record for sample %q (line %d): %d genotype calls, want %d", e.SampleID, e.Line, e.Calls, e.Want)
}

// InsufficientDataError reports that a QC stage was about to run on an
// empty sample or variant set.
type InsufficientDataError struct {
	Stage    QCStage
	Samples  int
	Variants int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s stage: insufficient data (%d samples, %d variants remaining)", e.Stage, e.Samples, e.Variants)
}

// InvalidThresholdError reports a configured threshold outside [0,1].
type InvalidThresholdError struct {
	Name  string
	Value float64
}

func (e *InvalidThresholdError) Error() string {
	return fmt.Sprintf("invalid %s threshold %v: must be in [0,1]", e.Name, e.Value)
}

// DuplicateVariantError reports duplicated variant IDs in a SNP table,
// i.e. a multi-allelic site split across rows.
type DuplicateVariantError struct {
	File string
	ID   string
}

func (e *DuplicateVariantError) Error() string {
	return fmt.Sprintf("%s: multi-allelic variant: duplicated ID %q", e.File, e.ID)
}
