// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package otterseq

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

var chisquared = distuv.ChiSquared{K: 1, Src: rand.NewSource(rand.Uint64())}

// pvalue returns the chi-squared (1 df) p-value for independence of a
// per-sample carrier flag and case status, from the 2×2 contingency
// table. Degenerate margins (no carriers, no cases, etc.) return 1.
func pvalue(carrier, isCase []bool) float64 {
	var obs [2][2]float64
	for i, c := range carrier {
		row, col := 0, 0
		if c {
			row = 1
		}
		if isCase[i] {
			col = 1
		}
		obs[row][col]++
	}
	n := float64(len(carrier))
	rowTotal := [2]float64{obs[0][0] + obs[0][1], obs[1][0] + obs[1][1]}
	colTotal := [2]float64{obs[0][0] + obs[1][0], obs[0][1] + obs[1][1]}
	if rowTotal[0] == 0 || rowTotal[1] == 0 || colTotal[0] == 0 || colTotal[1] == 0 {
		return 1
	}
	var sum float64
	for row := range obs {
		for col := range obs[row] {
			expected := rowTotal[row] * colTotal[col] / n
			d := obs[row][col] - expected
			sum += d * d / expected
		}
	}
	return 1 - chisquared.CDF(sum)
}
