// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package gcpspeech

var (
	Fragments        = fragments
	RecognizeRequest = recognizeRequest
	Classify         = classify
)
