// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

// IndexConfig controls which index backend the factory builds.
type IndexConfig struct {
	Backend    string // sqlite (default), postgres, milvus or memory
	Dimensions int    // 0 uses the default (1024)
	DataDir    string

	PostgresDSN string

	MilvusAddress    string
	MilvusUsername   string
	MilvusPassword   string
	MilvusAPIKey     string
	MilvusCollection string
}

// VideoConfig controls which registry backend the factory builds.
type VideoConfig struct {
	Backend string // sqlite (default), bolt or memory
	DataDir string
}
