// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package metastore implements the meta table: the authoritative directory
// of the partitions of every table and of the tables' administrative state,
// stored in Pebble.
package metastore

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/cockroachdb/rangelocator/pkg/base"
	"github.com/cockroachdb/rangelocator/pkg/keys"
	"github.com/cockroachdb/rangelocator/pkg/roachpb"
	"github.com/cockroachdb/rangelocator/pkg/util/encoding"
	"github.com/cockroachdb/rangelocator/pkg/util/log"
	"github.com/cockroachdb/rangelocator/pkg/util/syncutil"
)

// tableDisabled is the state value of a disabled table.
const tableDisabled byte = 1

// Store is a meta table backed by Pebble. Lookups may run concurrently with
// each other and with topology changes; topology changes are serialized.
type Store struct {
	db       *pebble.DB
	prefetch int

	lookupCount atomic.Int64

	// mu serializes the read-modify-write topology changes.
	mu syncutil.Mutex
}

// Open opens the meta store described by cfg. An empty cfg.Dir opens an
// in-memory store.
func Open(cfg base.MetaStoreConfig) (*Store, error) {
	opts := &pebble.Options{Logger: pebbleLogger{}}
	dir := cfg.Dir
	if dir == "" {
		opts.FS = vfs.NewMem()
		dir = "meta"
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening meta store in %q", cfg.Dir)
	}
	return &Store{db: db, prefetch: cfg.Prefetch}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// LookupCount returns the number of RangeLookup calls served so far.
func (s *Store) LookupCount() int64 {
	return s.lookupCount.Load()
}

// RangeLookup returns the descriptor of the partition of table containing
// key, followed by up to the configured number of neighbouring descriptors
// in scan direction: the partitions after it for a forward lookup, the ones
// before it for an inverted lookup. With inverted set, the partition
// containing the greatest key strictly less than key is returned.
func (s *Store) RangeLookup(
	ctx context.Context, table roachpb.TableName, key roachpb.Key, inverted bool,
) ([]roachpb.PartitionDescriptor, error) {
	s.lookupCount.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The containing partition is the first one whose upper bound is
	// greater than key, or, with inverted containment, at least key.
	seek := key
	if !inverted {
		seek = key.Next()
	}
	lower, upper := makeMetaSpan(table)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var descs []roachpb.PartitionDescriptor
	for valid := it.SeekGE(makeMetaSeekKey(table, seek)); valid && len(descs) <= s.prefetch; {
		desc, err := decodeDescriptor(it.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "decoding meta entry of table %s", table)
		}
		descs = append(descs, desc)
		if inverted {
			valid = it.Prev()
		} else {
			valid = it.Next()
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	if len(descs) == 0 || !containsKey(&descs[0], key, inverted) {
		return nil, errors.Newf("no partition of table %s contains %s (inverted: %t)", table, key, inverted)
	}
	log.VEventf(ctx, 2, "meta lookup of %s in table %s: %s (+%d prefetched)",
		key, table, &descs[0], len(descs)-1)
	return descs, nil
}

func containsKey(desc *roachpb.PartitionDescriptor, key roachpb.Key, inverted bool) bool {
	if inverted {
		return desc.ContainsKeyInverted(key)
	}
	return desc.ContainsKey(key)
}

// Partitions returns the partitions of table in key order.
func (s *Store) Partitions(ctx context.Context, table roachpb.TableName) ([]roachpb.PartitionDescriptor, error) {
	lower, upper := makeMetaSpan(table)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()
	var descs []roachpb.PartitionDescriptor
	for valid := it.First(); valid; valid = it.Next() {
		desc, err := decodeDescriptor(it.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "decoding meta entry of table %s", table)
		}
		descs = append(descs, desc)
	}
	return descs, it.Error()
}

// getContaining returns the partition of table containing key.
func (s *Store) getContaining(
	table roachpb.TableName, key roachpb.Key,
) (roachpb.PartitionDescriptor, error) {
	lower, upper := makeMetaSpan(table)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return roachpb.PartitionDescriptor{}, err
	}
	defer func() { _ = it.Close() }()
	if !it.SeekGE(makeMetaSeekKey(table, key.Next())) {
		if err := it.Error(); err != nil {
			return roachpb.PartitionDescriptor{}, err
		}
		return roachpb.PartitionDescriptor{}, errors.Newf("no partition of table %s contains %s", table, key)
	}
	desc, err := decodeDescriptor(it.Value())
	if err != nil {
		return roachpb.PartitionDescriptor{}, err
	}
	if !desc.ContainsKey(key) {
		return roachpb.PartitionDescriptor{}, errors.Newf("no partition of table %s contains %s", table, key)
	}
	return desc, nil
}

// getByStartKey returns the partition of table starting at startKey.
func (s *Store) getByStartKey(
	table roachpb.TableName, startKey roachpb.Key,
) (roachpb.PartitionDescriptor, error) {
	desc, err := s.getContaining(table, startKey)
	if err != nil {
		return desc, err
	}
	if !desc.StartKey.Equal(startKey) {
		return roachpb.PartitionDescriptor{}, errors.Newf(
			"no partition of table %s starts at %s; %s contains it", table, startKey, &desc)
	}
	return desc, nil
}

// allocateNameLocked returns a new partition name, recording the allocated
// id in b. s.mu must be held and b must be indexed, so that names allocated
// earlier in the same batch are seen.
func (s *Store) allocateNameLocked(
	b *pebble.Batch, table roachpb.TableName, startKey roachpb.Key,
) (roachpb.PartitionName, error) {
	s.mu.AssertHeld()
	var id uint64
	val, closer, err := b.Get(seqKey)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		_, id, err = encoding.DecodeUint64Ascending(val)
		_ = closer.Close()
		if err != nil {
			return nil, errors.Wrap(err, "decoding partition id sequence")
		}
	}
	id++
	if err := b.Set(seqKey, encoding.EncodeUint64Ascending(nil, id), nil); err != nil {
		return nil, err
	}
	return keys.MakePartitionName(table, startKey, int64(id)), nil
}

func setDescriptor(b *pebble.Batch, desc *roachpb.PartitionDescriptor) error {
	return b.Set(makeMetaKey(desc.Table, desc.EndKey), encodeDescriptor(desc), nil)
}

// PutPartition writes desc, replacing a partition with the same bounds. A
// partition overlapping desc with different bounds is an error. An unnamed
// desc is given a new name.
func (s *Store) PutPartition(
	ctx context.Context, desc roachpb.PartitionDescriptor,
) (roachpb.PartitionDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.Partitions(ctx, desc.Table)
	if err != nil {
		return desc, err
	}
	for i := range existing {
		if existing[i].Overlaps(&desc) && !existing[i].SameBounds(&desc) {
			return desc, errors.Newf("partition %s overlaps %s", &desc, &existing[i])
		}
	}

	b := s.db.NewIndexedBatch()
	defer func() { _ = b.Close() }()
	if len(desc.Name) == 0 {
		if desc.Name, err = s.allocateNameLocked(b, desc.Table, desc.StartKey); err != nil {
			return desc, err
		}
	}
	if err := desc.Validate(); err != nil {
		return desc, err
	}
	if err := setDescriptor(b, &desc); err != nil {
		return desc, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return desc, err
	}
	log.VEventf(ctx, 1, "put partition %s", &desc)
	return desc, nil
}

// Split splits the partition of table containing splitKey into
// [StartKey, splitKey) and [splitKey, EndKey). Both halves get new names and
// the parent's generation plus one. If newServer is set, the right half's
// primary replica is hosted on it.
func (s *Store) Split(
	ctx context.Context, table roachpb.TableName, splitKey roachpb.Key, newServer roachpb.ServerName,
) (left, right roachpb.PartitionDescriptor, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, err := s.getContaining(table, splitKey)
	if err != nil {
		return left, right, err
	}
	if parent.StartKey.Equal(splitKey) {
		return left, right, errors.Newf("cannot split %s at its start key", &parent)
	}

	b := s.db.NewIndexedBatch()
	defer func() { _ = b.Close() }()
	left = *parent.Clone()
	left.EndKey = splitKey.Clone()
	left.Generation++
	right = *parent.Clone()
	right.StartKey = splitKey.Clone()
	right.Generation++
	if !newServer.Empty() {
		if err := newServer.Validate(); err != nil {
			return left, right, err
		}
		right = *right.WithReplicaServer(0, newServer)
	}
	if left.Name, err = s.allocateNameLocked(b, table, left.StartKey); err != nil {
		return left, right, err
	}
	if right.Name, err = s.allocateNameLocked(b, table, right.StartKey); err != nil {
		return left, right, err
	}
	// The right half shares the parent's meta key and overwrites it.
	if err := setDescriptor(b, &left); err != nil {
		return left, right, err
	}
	if err := setDescriptor(b, &right); err != nil {
		return left, right, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return left, right, err
	}
	log.Infof(ctx, "split %s at %s", &parent, splitKey)
	return left, right, nil
}

// Merge merges the partition of table starting at leftStart with the
// partition following it. The merged partition keeps the left partition's
// replicas and gets a new name and a generation above both inputs.
func (s *Store) Merge(
	ctx context.Context, table roachpb.TableName, leftStart roachpb.Key,
) (roachpb.PartitionDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	left, err := s.getByStartKey(table, leftStart)
	if err != nil {
		return roachpb.PartitionDescriptor{}, err
	}
	if left.IsOpenEnded() {
		return roachpb.PartitionDescriptor{}, errors.Newf("cannot merge %s: it is the last partition", &left)
	}
	right, err := s.getByStartKey(table, left.EndKey)
	if err != nil {
		return roachpb.PartitionDescriptor{}, err
	}

	b := s.db.NewIndexedBatch()
	defer func() { _ = b.Close() }()
	merged := *left.Clone()
	merged.EndKey = right.EndKey.Clone()
	merged.Generation = left.Generation
	if right.Generation > merged.Generation {
		merged.Generation = right.Generation
	}
	merged.Generation++
	if merged.Name, err = s.allocateNameLocked(b, table, merged.StartKey); err != nil {
		return roachpb.PartitionDescriptor{}, err
	}
	if err := b.Delete(makeMetaKey(table, left.EndKey), nil); err != nil {
		return roachpb.PartitionDescriptor{}, err
	}
	if err := setDescriptor(b, &merged); err != nil {
		return roachpb.PartitionDescriptor{}, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return roachpb.PartitionDescriptor{}, err
	}
	log.Infof(ctx, "merged %s and %s", &left, &right)
	return merged, nil
}

// MovePartition moves the given replica of the partition of table starting
// at startKey to server, bumping the partition's generation.
func (s *Store) MovePartition(
	ctx context.Context,
	table roachpb.TableName,
	startKey roachpb.Key,
	replicaID int32,
	server roachpb.ServerName,
) (roachpb.PartitionDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	desc, err := s.getByStartKey(table, startKey)
	if err != nil {
		return desc, err
	}
	from, ok := desc.Replica(replicaID)
	if !ok {
		return desc, errors.Newf("partition %s has no replica %d", &desc, replicaID)
	}
	moved := desc.WithReplicaServer(replicaID, server)
	moved.Generation++
	if err := moved.Validate(); err != nil {
		return desc, err
	}

	b := s.db.NewBatch()
	defer func() { _ = b.Close() }()
	if err := setDescriptor(b, moved); err != nil {
		return desc, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return desc, err
	}
	log.Infof(ctx, "moved replica %d of %s from %s to %s", replicaID, &desc, from.Server, server)
	return *moved, nil
}

// SetTableDisabled sets the administrative state of table.
func (s *Store) SetTableDisabled(ctx context.Context, table roachpb.TableName, disabled bool) error {
	var err error
	if disabled {
		err = s.db.Set(makeStateKey(table), []byte{tableDisabled}, pebble.Sync)
	} else {
		err = s.db.Delete(makeStateKey(table), pebble.Sync)
	}
	if err != nil {
		return errors.Wrapf(err, "setting state of table %s", table)
	}
	log.Infof(ctx, "table %s disabled: %t", table, disabled)
	return nil
}

// IsTableDisabled returns whether table has been administratively disabled.
func (s *Store) IsTableDisabled(ctx context.Context, table roachpb.TableName) (bool, error) {
	val, closer, err := s.db.Get(makeStateKey(table))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, errors.Wrapf(err, "reading state of table %s", table)
	}
	defer func() { _ = closer.Close() }()
	return len(val) == 1 && val[0] == tableDisabled, nil
}

// pebbleLogger routes Pebble's log messages to the process log.
type pebbleLogger struct{}

var _ pebble.Logger = pebbleLogger{}

func (pebbleLogger) Infof(format string, args ...interface{}) {
	log.InfofDepth(context.Background(), 1, format, args...)
}

func (pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Errorf(context.Background(), format, args...)
}

func (pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Errorf(context.Background(), format, args...)
	panic(fmt.Sprintf(format, args...))
}
