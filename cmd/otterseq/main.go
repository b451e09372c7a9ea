// Copyright (C) The Otterseq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"github.com/vipese/otterseq"
)

func main() {
	otterseq.Main()
}
