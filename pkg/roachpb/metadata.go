// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package roachpb

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// PartitionName is the unique name of a partition. It is built from the
// table, the partition's start key and an id (see keys.MakePartitionName).
type PartitionName []byte

// Equal returns whether the two names are equal.
func (n PartitionName) Equal(o PartitionName) bool {
	return bytes.Equal(n, o)
}

func (n PartitionName) String() string {
	return string(n)
}

// ReplicaDescriptor describes one replica of a partition and the server
// hosting it. ReplicaID 0 is the primary replica.
type ReplicaDescriptor struct {
	ReplicaID int32
	Server    ServerName
}

// PartitionDescriptor describes a contiguous row-key range [StartKey, EndKey)
// of a table and the servers hosting its replicas. An empty EndKey means the
// partition has no upper bound.
//
// Descriptors handed out by the location cache are snapshots and must not be
// mutated by their recipients.
type PartitionDescriptor struct {
	Table    TableName
	Name     PartitionName
	StartKey Key
	EndKey   Key
	// Generation is incremented every time the partition's bounds or replicas
	// change. A descriptor with a higher generation supersedes any overlapping
	// descriptor with a lower one.
	Generation int64
	Replicas   []ReplicaDescriptor
}

// IsOpenEnded returns whether the partition has no upper bound.
func (d *PartitionDescriptor) IsOpenEnded() bool {
	return len(d.EndKey) == 0
}

// UpperBound returns the exclusive upper bound of the partition, with KeyMax
// standing in for an open-ended partition.
func (d *PartitionDescriptor) UpperBound() Key {
	if d.IsOpenEnded() {
		return KeyMax
	}
	return d.EndKey
}

// ContainsKey returns whether the partition contains the given key:
// StartKey <= key < EndKey.
func (d *PartitionDescriptor) ContainsKey(key Key) bool {
	if key.Less(d.StartKey) {
		return false
	}
	return d.IsOpenEnded() || key.Less(d.EndKey)
}

// ContainsKeyInverted is like ContainsKey, but the range's start key is
// exclusive and its end key inclusive: StartKey < key <= EndKey. It returns
// whether the partition contains the greatest key strictly less than key,
// which is the question a reverse scan starting before key asks.
func (d *PartitionDescriptor) ContainsKeyInverted(key Key) bool {
	if !d.StartKey.Less(key) {
		return false
	}
	return d.IsOpenEnded() || !d.EndKey.Less(key)
}

// Overlaps returns whether the two partitions share any key. Partitions of
// different tables never overlap.
func (d *PartitionDescriptor) Overlaps(o *PartitionDescriptor) bool {
	if d.Table != o.Table {
		return false
	}
	if !o.IsOpenEnded() && !d.StartKey.Less(o.EndKey) {
		return false
	}
	if !d.IsOpenEnded() && !o.StartKey.Less(d.EndKey) {
		return false
	}
	return true
}

// SameBounds returns whether the two descriptors describe the same range of
// the same table, regardless of generation or replica placement.
func (d *PartitionDescriptor) SameBounds(o *PartitionDescriptor) bool {
	return d.Table == o.Table && d.StartKey.Equal(o.StartKey) && d.EndKey.Equal(o.EndKey)
}

// Replica returns the replica with the given id.
func (d *PartitionDescriptor) Replica(replicaID int32) (ReplicaDescriptor, bool) {
	for _, r := range d.Replicas {
		if r.ReplicaID == replicaID {
			return r, true
		}
	}
	return ReplicaDescriptor{}, false
}

// HostedOn returns whether any replica of the partition is hosted on the
// given server.
func (d *PartitionDescriptor) HostedOn(server ServerName) bool {
	for _, r := range d.Replicas {
		if r.Server.Equal(server) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the descriptor.
func (d *PartitionDescriptor) Clone() *PartitionDescriptor {
	c := *d
	c.Name = append(PartitionName(nil), d.Name...)
	c.StartKey = d.StartKey.Clone()
	c.EndKey = d.EndKey.Clone()
	c.Replicas = append([]ReplicaDescriptor(nil), d.Replicas...)
	return &c
}

// WithReplicaMoved returns a copy of the descriptor in which the replica
// hosted on from is hosted on to instead. The receiver is not modified.
func (d *PartitionDescriptor) WithReplicaMoved(from, to ServerName) *PartitionDescriptor {
	c := d.Clone()
	for i := range c.Replicas {
		if c.Replicas[i].Server.Equal(from) {
			c.Replicas[i].Server = to
		}
	}
	return c
}

// WithReplicaServer returns a copy of the descriptor in which the replica
// with the given id is hosted on server. The receiver is not modified.
func (d *PartitionDescriptor) WithReplicaServer(
	replicaID int32, server ServerName,
) *PartitionDescriptor {
	c := d.Clone()
	for i := range c.Replicas {
		if c.Replicas[i].ReplicaID == replicaID {
			c.Replicas[i].Server = server
		}
	}
	return c
}

// Locations returns one location per replica, with the requested replica
// first and the remaining replicas in descriptor order.
func (d *PartitionDescriptor) Locations(replicaID int32) ([]PartitionLocation, error) {
	first, ok := d.Replica(replicaID)
	if !ok {
		return nil, errors.Newf("partition %s has no replica %d", d, replicaID)
	}
	locs := make([]PartitionLocation, 0, len(d.Replicas))
	locs = append(locs, PartitionLocation{Desc: d, ReplicaID: first.ReplicaID, Server: first.Server})
	for _, r := range d.Replicas {
		if r.ReplicaID == replicaID {
			continue
		}
		locs = append(locs, PartitionLocation{Desc: d, ReplicaID: r.ReplicaID, Server: r.Server})
	}
	return locs, nil
}

// Validate checks the descriptor's invariants.
func (d *PartitionDescriptor) Validate() error {
	if len(d.Name) == 0 {
		return errors.Newf("partition of table %s has no name", d.Table)
	}
	if !d.IsOpenEnded() && d.EndKey.Less(d.StartKey) {
		return errors.Newf("partition %s: end key sorts before start key", d)
	}
	if len(d.Replicas) == 0 {
		return errors.Newf("partition %s has no replicas", d)
	}
	seen := make(map[int32]struct{}, len(d.Replicas))
	for _, r := range d.Replicas {
		if _, ok := seen[r.ReplicaID]; ok {
			return errors.Newf("partition %s: duplicate replica %d", d, r.ReplicaID)
		}
		if err := r.Server.Validate(); err != nil {
			return errors.Wrapf(err, "partition %s: replica %d", d, r.ReplicaID)
		}
		seen[r.ReplicaID] = struct{}{}
	}
	return nil
}

func (d *PartitionDescriptor) String() string {
	return redact.StringWithoutMarkers(d)
}

// SafeFormat implements the redact.SafeFormatter interface.
func (d *PartitionDescriptor) SafeFormat(w redact.SafePrinter, _ rune) {
	var end Key
	if d.IsOpenEnded() {
		end = KeyMax
	} else {
		end = d.EndKey
	}
	w.Printf("%s:[%s-%s) gen=%d", d.Table, d.StartKey, end, d.Generation)
	for i, r := range d.Replicas {
		if i == 0 {
			w.SafeString(" replicas=")
		} else {
			w.SafeRune(',')
		}
		w.Printf("%d@%s", r.ReplicaID, r.Server)
	}
}

// PartitionLocation pairs a partition with the server hosting one of its
// replicas.
type PartitionLocation struct {
	Desc      *PartitionDescriptor
	ReplicaID int32
	Server    ServerName
}

func (l PartitionLocation) String() string {
	return redact.StringWithoutMarkers(l)
}

// SafeFormat implements the redact.SafeFormatter interface.
func (l PartitionLocation) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s on %s (replica %d)", l.Desc, l.Server, l.ReplicaID)
}

// ScanDescriptor is the part of a scan needed to locate the partition that
// serves it.
type ScanDescriptor struct {
	// StartRow is the first row considered by the scan. For a reversed scan
	// it is the highest row. Empty means unset.
	StartRow        Key
	IncludeStartRow bool
	Reversed        bool
}

// HasStartRow returns whether the scan has an explicit start row.
func (s ScanDescriptor) HasStartRow() bool {
	return len(s.StartRow) > 0
}
