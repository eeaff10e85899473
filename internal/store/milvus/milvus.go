// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package milvus is an observation index on a Milvus (or Zilliz Cloud)
// collection with an HNSW cosine index over the vector field.
package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

const (
	fieldID     = "id"
	fieldScope  = "scope_id"
	fieldKind   = "kind"
	fieldTS     = "ts"
	fieldText   = "text"
	fieldVector = "vector"

	maxTextLen  = 8192
	maxScopeLen = 128

	// HNSW build and search parameters.
	hnswM              = 8
	hnswEfConstruction = 200
	hnswEf             = 74
)

var _ store.Index = (*Index)(nil)

func init() {
	store.RegisterIndexBackend("milvus", func(ctx context.Context, cfg store.IndexConfig) (store.Index, error) {
		if cfg.MilvusAddress == "" {
			return nil, reelerr.New(reelerr.CodeStoreIndexOpenInvalid, "milvus index requires storage.index.milvus.address")
		}
		return New(ctx, Config{
			Address:    cfg.MilvusAddress,
			Username:   cfg.MilvusUsername,
			Password:   cfg.MilvusPassword,
			APIKey:     cfg.MilvusAPIKey,
			Collection: cfg.MilvusCollection,
		})
	})
}

type Config struct {
	Address    string
	Username   string
	Password   string
	APIKey     string // Zilliz Cloud
	Collection string
}

type Index struct {
	mc   client.Client
	coll string
	dim  int
}

func New(ctx context.Context, cfg Config) (*Index, error) {
	mc, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		APIKey:   cfg.APIKey,
	})
	if err != nil {
		return nil, reelerr.Wrapf(err, reelerr.CodeStoreDatabaseFailure, "connecting to milvus at %s", cfg.Address)
	}

	coll := cfg.Collection
	if coll == "" {
		coll = "reel_observations"
	}
	return &Index{mc: mc, coll: coll}, nil
}

func schema(coll string, dim int) *entity.Schema {
	return entity.NewSchema().
		WithName(coll).
		WithDescription("reel timestamped observations").
		WithField(entity.NewField().WithName(fieldID).WithDataType(entity.FieldTypeInt64).WithIsPrimaryKey(true).WithIsAutoID(true)).
		WithField(entity.NewField().WithName(fieldScope).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxScopeLen)).
		WithField(entity.NewField().WithName(fieldKind).WithDataType(entity.FieldTypeVarChar).WithMaxLength(16)).
		WithField(entity.NewField().WithName(fieldTS).WithDataType(entity.FieldTypeDouble)).
		WithField(entity.NewField().WithName(fieldText).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxTextLen)).
		WithField(entity.NewField().WithName(fieldVector).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dim)))
}

func (x *Index) Open(ctx context.Context, dim int, metric store.Metric) error {
	if err := store.CheckOpen(dim, metric); err != nil {
		return err
	}

	has, err := x.mc.HasCollection(ctx, x.coll)
	if err != nil {
		return reelerr.Wrapf(err, reelerr.CodeStoreDatabaseFailure, "checking collection %s", x.coll)
	}

	if has {
		existing, err := x.collectionDim(ctx)
		if err != nil {
			return err
		}
		if existing != dim {
			return reelerr.Errorf(reelerr.CodeStoreIndexOpenInvalid,
				"collection %s was created with dimension %d, configured dimension is %d", x.coll, existing, dim)
		}
	} else {
		if err := x.mc.CreateCollection(ctx, schema(x.coll, dim), 2); err != nil {
			return reelerr.Wrapf(err, reelerr.CodeStoreDatabaseFailure, "creating collection %s", x.coll)
		}
		idx, err := entity.NewIndexHNSW(entity.COSINE, hnswM, hnswEfConstruction)
		if err != nil {
			return fmt.Errorf("building hnsw index params: %w", err)
		}
		if err := x.mc.CreateIndex(ctx, x.coll, fieldVector, idx, false, client.WithIndexName("idx_vector")); err != nil {
			return reelerr.Wrapf(err, reelerr.CodeStoreDatabaseFailure, "creating vector index")
		}
	}

	if err := x.mc.LoadCollection(ctx, x.coll, false); err != nil {
		return reelerr.Wrapf(err, reelerr.CodeStoreDatabaseFailure, "loading collection %s", x.coll)
	}
	x.dim = dim
	return nil
}

func (x *Index) collectionDim(ctx context.Context) (int, error) {
	coll, err := x.mc.DescribeCollection(ctx, x.coll)
	if err != nil {
		return 0, reelerr.Wrapf(err, reelerr.CodeStoreDatabaseFailure, "describing collection %s", x.coll)
	}
	for _, f := range coll.Schema.Fields {
		if f.Name != fieldVector {
			continue
		}
		dim, err := strconv.Atoi(f.TypeParams[entity.TypeParamDim])
		if err != nil {
			return 0, reelerr.Errorf(reelerr.CodeStoreIndexOpenInvalid, "collection %s has no usable vector dimension", x.coll)
		}
		return dim, nil
	}
	return 0, reelerr.Errorf(reelerr.CodeStoreIndexOpenInvalid, "collection %s has no %q field", x.coll, fieldVector)
}

func (x *Index) Insert(ctx context.Context, scope string, obs []store.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	if err := store.ValidateBatch(x.dim, scope, obs); err != nil {
		return 0, err
	}

	scopes := make([]string, len(obs))
	kinds := make([]string, len(obs))
	stamps := make([]float64, len(obs))
	texts := make([]string, len(obs))
	vectors := make([][]float32, len(obs))
	for i, o := range obs {
		scopes[i] = scope
		kinds[i] = string(store.NormalizeKind(o.Kind))
		stamps[i] = o.Timestamp
		texts[i] = truncate(o.Text, maxTextLen)
		vectors[i] = o.Embedding
	}

	_, err := x.mc.Insert(ctx, x.coll, "",
		entity.NewColumnVarChar(fieldScope, scopes),
		entity.NewColumnVarChar(fieldKind, kinds),
		entity.NewColumnDouble(fieldTS, stamps),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnFloatVector(fieldVector, x.dim, vectors),
	)
	if err != nil {
		return 0, reelerr.Wrapf(err, reelerr.CodeStoreDatabaseFailure, "inserting observation batch")
	}
	return len(obs), nil
}

func (x *Index) Search(ctx context.Context, query []float32, scope string, topK int) ([]store.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(query) != x.dim {
		return nil, reelerr.Errorf(reelerr.CodeStoreIndexInsertDimension,
			"query has %d dimensions, index expects %d", len(query), x.dim)
	}

	sp, err := entity.NewIndexHNSWSearchParam(max(hnswEf, topK))
	if err != nil {
		return nil, fmt.Errorf("building search params: %w", err)
	}

	var expr string
	if scope != store.AllScopes {
		expr = eq(fieldScope, scope)
	}

	res, err := x.mc.Search(ctx, x.coll, []string{}, expr,
		[]string{fieldScope, fieldKind, fieldTS, fieldText},
		[]entity.Vector{entity.FloatVector(query)}, fieldVector, entity.COSINE, topK, sp, readOptions()...)
	if err != nil {
		return nil, reelerr.Wrapf(err, reelerr.CodeStoreIndexQueryDatabase, "searching observations")
	}

	var results []store.SearchResult
	for _, r := range res {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		for i := 0; i < r.ResultCount; i++ {
			results = append(results, store.SearchResult{
				ScopeID:   varchar(cols[fieldScope], i),
				Kind:      store.SourceKind(varchar(cols[fieldKind], i)),
				Timestamp: double(cols[fieldTS], i),
				Text:      varchar(cols[fieldText], i),
				// COSINE scores are similarities, higher is better.
				Score: float64(r.Scores[i]),
			})
		}
	}
	return results, nil
}

func (x *Index) Delete(ctx context.Context, scope string) (int, error) {
	return x.deleteWhere(ctx, eq(fieldScope, scope))
}

func (x *Index) DeleteKind(ctx context.Context, scope string, kind store.SourceKind) (int, error) {
	return x.deleteWhere(ctx, eq(fieldScope, scope)+" && "+eq(fieldKind, string(kind)))
}

// deleteWhere counts before deleting; Milvus does not report removed rows.
func (x *Index) deleteWhere(ctx context.Context, expr string) (int, error) {
	n, err := x.count(ctx, expr)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := x.mc.Delete(ctx, x.coll, "", expr); err != nil {
		return 0, reelerr.Wrapf(err, reelerr.CodeStoreDatabaseFailure, "deleting observations")
	}
	return n, nil
}

func (x *Index) Count(ctx context.Context, scope string) (int, error) {
	expr := ""
	if scope != store.AllScopes {
		expr = eq(fieldScope, scope)
	}
	return x.count(ctx, expr)
}

func (x *Index) count(ctx context.Context, expr string) (int, error) {
	rs, err := x.mc.Query(ctx, x.coll, []string{}, expr, []string{"count(*)"}, readOptions()...)
	if err != nil {
		return 0, reelerr.Wrapf(err, reelerr.CodeStoreIndexQueryDatabase, "counting observations")
	}
	col, ok := rs.GetColumn("count(*)").(*entity.ColumnInt64)
	if !ok || col.Len() == 0 {
		return 0, nil
	}
	return int(col.Data()[0]), nil
}

func (x *Index) Close() error {
	return x.mc.Close()
}

// readOptions makes searches and counts see every write and delete that
// returned before them, so a re-index never surfaces stale observations.
func readOptions() []client.SearchQueryOptionFunc {
	return []client.SearchQueryOptionFunc{client.WithSearchQueryConsistencyLevel(entity.ClStrong)}
}

// eq renders a boolean-expression equality on a VarChar field.
func eq(field, value string) string {
	return field + ` == "` + escape(value) + `"`
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func varchar(c entity.Column, i int) string {
	if col, ok := c.(*entity.ColumnVarChar); ok {
		if data := col.Data(); i < len(data) {
			return data[i]
		}
	}
	return ""
}

func double(c entity.Column, i int) float64 {
	if col, ok := c.(*entity.ColumnDouble); ok {
		if data := col.Data(); i < len(data) {
			return data[i]
		}
	}
	return 0
}
