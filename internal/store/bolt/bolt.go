// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package bolt is an embedded key-value video registry on bbolt. Each
// record is one JSON value; Update runs inside a single bbolt write
// transaction, which bbolt serialises.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

var bucketVideos = []byte("videos")

var _ store.VideoStore = (*VideoStore)(nil)

func init() {
	store.RegisterVideoBackend("bolt", func(_ context.Context, cfg store.VideoConfig) (store.VideoStore, error) {
		return NewVideoStore(filepath.Join(cfg.DataDir, "videos.bolt"))
	})
}

type VideoStore struct {
	db *bbolt.DB
}

func NewVideoStore(path string) (*VideoStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVideos)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating videos bucket: %w", err)
	}

	return &VideoStore{db: db}, nil
}

func (s *VideoStore) Get(_ context.Context, id string) (*store.VideoRecord, error) {
	var rec *store.VideoRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		rec, err = getVideo(tx.Bucket(bucketVideos), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *VideoStore) List(_ context.Context) ([]*store.VideoRecord, error) {
	var out []*store.VideoRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVideos).ForEach(func(k, v []byte) error {
			var rec store.VideoRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding video %s: %w", k, err)
			}
			out = append(out, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	store.SortNewestFirst(out)
	return out, nil
}

func (s *VideoStore) Upsert(_ context.Context, rec *store.VideoRecord) error {
	if rec.ID == "" {
		return reelerr.New(reelerr.CodeStoreVideoUpsertInvalid, "video id must not be empty")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		store.Stamp(rec)
		return putVideo(tx.Bucket(bucketVideos), rec)
	})
}

func (s *VideoStore) Update(_ context.Context, id string, fn func(*store.VideoRecord) error) (*store.VideoRecord, error) {
	var rec *store.VideoRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVideos)
		var err error
		if rec, err = getVideo(b, id); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		rec.ID = id
		store.Stamp(rec)
		return putVideo(b, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *VideoStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVideos)
		if b.Get([]byte(id)) == nil {
			return store.ErrVideoNotFound(id)
		}
		return b.Delete([]byte(id))
	})
}

func (s *VideoStore) Close() error {
	return s.db.Close()
}

func getVideo(b *bbolt.Bucket, id string) (*store.VideoRecord, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, store.ErrVideoNotFound(id)
	}
	var rec store.VideoRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding video %s: %w", id, err)
	}
	return &rec, nil
}

func putVideo(b *bbolt.Bucket, rec *store.VideoRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding video %s: %w", rec.ID, err)
	}
	return b.Put([]byte(rec.ID), data)
}
