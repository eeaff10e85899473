// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package media

var (
	ParseProbe   = parseProbe
	ParseRate    = parseRate
	SelectFilter = selectFilter
	VideoFilter  = videoFilter
	Fit          = fit
)
