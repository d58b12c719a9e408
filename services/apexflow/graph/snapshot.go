// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDB key prefixes for vertex graph snapshots.
const (
	keyPrefixSnap      = "apexflow:snap:"
	keyPrefixSnapIndex = "apexflow:snap:index:"
	keySuffixData      = ":data"
	keySuffixMeta      = ":meta"
	keySuffixLatest    = ":latest"
)

// defaultListLimit caps List results when the caller passes limit <= 0.
const defaultListLimit = 100

// SnapshotMetadata describes a saved vertex graph snapshot.
type SnapshotMetadata struct {
	// SnapshotID is SHA256(Root + BuiltAtMilli)[:16].
	SnapshotID string `json:"snapshot_id"`

	// Root is the source set name of the graph.
	Root string `json:"root"`

	// RootHash is SHA256(Root)[:16] for key grouping.
	RootHash string `json:"root_hash"`

	// GraphHash is the deterministic hash of the graph structure.
	GraphHash string `json:"graph_hash"`

	// Label is an optional human-readable label.
	Label string `json:"label,omitempty"`

	// CreatedAtMilli is when the snapshot was saved (Unix milliseconds UTC).
	CreatedAtMilli int64 `json:"created_at_milli"`

	// VertexCount is the number of vertices in the graph.
	VertexCount int `json:"vertex_count"`

	// EdgeCount is the number of edges in the graph.
	EdgeCount int `json:"edge_count"`

	// SchemaVersion is the serialization schema version.
	SchemaVersion string `json:"schema_version"`

	// CompressedSize is the size of the gzip-compressed JSON payload in bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the SHA256 hash of the compressed payload.
	ContentHash string `json:"content_hash"`
}

// SnapshotManager saves frozen vertex graphs in BadgerDB so a path run can
// start without rebuilding the graph. Safe for concurrent use.
type SnapshotManager struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewSnapshotManager wraps an open database. The caller closes db.
func NewSnapshotManager(db *badger.DB, logger *slog.Logger) (*SnapshotManager, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &SnapshotManager{db: db, logger: logger}, nil
}

// Save persists a graph snapshot and moves the "latest" pointer for its root.
//
// Key Schema:
//
//	apexflow:snap:{rootHash}:{snapshotID}:data → gzip(JSON(SerializableGraph))
//	apexflow:snap:{rootHash}:{snapshotID}:meta → JSON(SnapshotMetadata)
//	apexflow:snap:{rootHash}:latest            → snapshotID
//	apexflow:snap:index:{snapshotID}           → rootHash
func (m *SnapshotManager) Save(ctx context.Context, g *Graph, label string) (*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}

	sg := g.ToSerializable()
	jsonData, err := json.Marshal(sg)
	if err != nil {
		return nil, fmt.Errorf("marshaling graph: %w", err)
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing graph: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	compressedData := compressed.Bytes()

	rootHash := RootHash(g.Root)
	snapshotID := hashString(fmt.Sprintf("%s:%d", g.Root, g.BuiltAtMilli))[:16]

	meta := &SnapshotMetadata{
		SnapshotID:     snapshotID,
		Root:           g.Root,
		RootHash:       rootHash,
		GraphHash:      sg.GraphHash,
		Label:          label,
		CreatedAtMilli: time.Now().UnixMilli(),
		VertexCount:    g.VertexCount(),
		EdgeCount:      g.EdgeCount(),
		SchemaVersion:  GraphSchemaVersion,
		CompressedSize: int64(len(compressedData)),
		ContentHash:    hashBytes(compressedData),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataKey(rootHash, snapshotID)), compressedData); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set([]byte(metaKey(rootHash, snapshotID)), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set([]byte(keyPrefixSnap+rootHash+keySuffixLatest), []byte(snapshotID)); err != nil {
			return fmt.Errorf("updating latest pointer: %w", err)
		}
		if err := txn.Set([]byte(keyPrefixSnapIndex+snapshotID), []byte(rootHash)); err != nil {
			return fmt.Errorf("storing reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot to badger: %w", err)
	}

	m.logger.Info("snapshot saved",
		slog.String("snapshot_id", snapshotID),
		slog.String("root", g.Root),
		slog.Int("vertex_count", meta.VertexCount),
		slog.Int("edge_count", meta.EdgeCount),
		slog.Int64("compressed_size", meta.CompressedSize),
	)
	return meta, nil
}

// Load retrieves a graph snapshot by its ID.
//
// Errors:
//
//	Wraps ErrSnapshotNotFound when the ID is unknown. Fails when the stored
//	payload does not match its recorded content hash.
func (m *SnapshotManager) Load(ctx context.Context, snapshotID string) (*Graph, *SnapshotMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if snapshotID == "" {
		return nil, nil, fmt.Errorf("snapshot ID must not be empty")
	}
	rootHash, err := m.readString(keyPrefixSnapIndex + snapshotID)
	if err != nil {
		return nil, nil, fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	return m.loadByKeys(rootHash, snapshotID)
}

// Latest loads the most recent snapshot saved for a source set root.
func (m *SnapshotManager) Latest(ctx context.Context, root string) (*Graph, *SnapshotMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	rootHash := RootHash(root)
	snapshotID, err := m.readString(keyPrefixSnap + rootHash + keySuffixLatest)
	if err != nil {
		return nil, nil, fmt.Errorf("reading latest pointer for %q: %w", root, err)
	}
	return m.loadByKeys(rootHash, snapshotID)
}

// List returns snapshot metadata newest first, optionally for one source
// set root. limit <= 0 means defaultListLimit.
func (m *SnapshotManager) List(ctx context.Context, root string, limit int) ([]*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	prefix := keyPrefixSnap
	if root != "" {
		prefix = keyPrefixSnap + RootHash(root) + ":"
	}

	var results []*SnapshotMetadata
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.Key())
			if !isMetaKey(key) {
				continue
			}
			var meta SnapshotMetadata
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				m.logger.Warn("skipping corrupt metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAtMilli > results[j].CreatedAtMilli
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a snapshot. If it was the latest for its root, the latest
// pointer is removed as well.
func (m *SnapshotManager) Delete(ctx context.Context, snapshotID string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if snapshotID == "" {
		return fmt.Errorf("snapshot ID must not be empty")
	}
	rootHash, err := m.readString(keyPrefixSnapIndex + snapshotID)
	if err != nil {
		return fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}

	latestKey := keyPrefixSnap + rootHash + keySuffixLatest
	err = m.db.Update(func(txn *badger.Txn) error {
		for _, key := range []string{
			dataKey(rootHash, snapshotID),
			metaKey(rootHash, snapshotID),
			keyPrefixSnapIndex + snapshotID,
		} {
			if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
		}

		item, err := txn.Get([]byte(latestKey))
		if err != nil {
			return nil
		}
		var current string
		_ = item.Value(func(val []byte) error {
			current = string(val)
			return nil
		})
		if current == snapshotID {
			if err := txn.Delete([]byte(latestKey)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("deleting latest pointer: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", snapshotID, err)
	}

	m.logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

func (m *SnapshotManager) loadByKeys(rootHash, snapshotID string) (*Graph, *SnapshotMetadata, error) {
	var compressedData, metaJSON []byte
	err := m.db.View(func(txn *badger.Txn) error {
		dataItem, err := txn.Get([]byte(dataKey(rootHash, snapshotID)))
		if err != nil {
			return notFound(err)
		}
		if compressedData, err = dataItem.ValueCopy(nil); err != nil {
			return fmt.Errorf("copying data: %w", err)
		}
		metaItem, err := txn.Get([]byte(metaKey(rootHash, snapshotID)))
		if err != nil {
			return notFound(err)
		}
		if metaJSON, err = metaItem.ValueCopy(nil); err != nil {
			return fmt.Errorf("copying metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reading snapshot %s: %w", snapshotID, err)
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling metadata for %s: %w", snapshotID, err)
	}
	if actual := hashBytes(compressedData); meta.ContentHash != "" && meta.ContentHash != actual {
		return nil, nil, fmt.Errorf("integrity check failed for %s: expected hash %s, got %s", snapshotID, meta.ContentHash, actual)
	}

	gr, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing snapshot %s: %w", snapshotID, err)
	}
	defer gr.Close()
	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, nil, fmt.Errorf("reading decompressed data for %s: %w", snapshotID, err)
	}

	var sg SerializableGraph
	if err := json.Unmarshal(jsonData, &sg); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling graph for %s: %w", snapshotID, err)
	}
	g, err := FromSerializable(&sg)
	if err != nil {
		return nil, nil, fmt.Errorf("reconstructing graph for %s: %w", snapshotID, err)
	}
	return g, &meta, nil
}

func (m *SnapshotManager) readString(key string) (string, error) {
	var out string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return notFound(err)
		}
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	return out, err
}

// RootHash returns SHA256(root)[:16], the key prefix for a source set.
func RootHash(root string) string {
	return hashString(root)[:16]
}

func notFound(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrSnapshotNotFound
	}
	return err
}

func dataKey(rootHash, snapshotID string) string {
	return keyPrefixSnap + rootHash + ":" + snapshotID + keySuffixData
}

func metaKey(rootHash, snapshotID string) string {
	return keyPrefixSnap + rootHash + ":" + snapshotID + keySuffixMeta
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func isMetaKey(key string) bool {
	return len(key) > len(keySuffixMeta) && key[len(key)-len(keySuffixMeta):] == keySuffixMeta
}
