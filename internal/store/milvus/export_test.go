// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package milvus

var (
	Eq          = eq
	Truncate    = truncate
	Schema      = schema
	ReadOptions = readOptions
)
