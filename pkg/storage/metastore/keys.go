// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package metastore

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/rangelocator/pkg/roachpb"
	"github.com/cockroachdb/rangelocator/pkg/util/encoding"
)

// Key layout:
//
//	/meta  <table> <bounded: 0x00 <end key>|open-ended: 0x01>  -> descriptor
//	/state <table>                                             -> table state
//	/seq                                                       -> last partition id
//
// Table names and end keys are encoded with encoding.EncodeBytesAscending,
// which preserves their order, so a table's partitions are stored in key
// order and the open-ended partition sorts last.
const (
	metaPrefix  byte = 0x02
	statePrefix byte = 0x03
	seqPrefix   byte = 0x04

	boundedTag   byte = 0x00
	openEndedTag byte = 0x01
)

var seqKey = []byte{seqPrefix}

func makeTablePrefix(prefix byte, table roachpb.TableName) []byte {
	return encoding.EncodeStringAscending([]byte{prefix}, string(table))
}

// makeMetaKey returns the meta key of the partition of table with the given
// upper bound. An empty end key is the open-ended partition.
func makeMetaKey(table roachpb.TableName, end roachpb.Key) []byte {
	k := makeTablePrefix(metaPrefix, table)
	if len(end) == 0 {
		return append(k, openEndedTag)
	}
	return encoding.EncodeBytesAscending(append(k, boundedTag), end)
}

// makeMetaSeekKey returns the key at which to seek for the first partition
// whose upper bound is at least key.
func makeMetaSeekKey(table roachpb.TableName, key roachpb.Key) []byte {
	k := makeTablePrefix(metaPrefix, table)
	return encoding.EncodeBytesAscending(append(k, boundedTag), key)
}

// makeMetaSpan returns the bounds of the meta keys of table.
func makeMetaSpan(table roachpb.TableName) (lower, upper []byte) {
	lower = makeTablePrefix(metaPrefix, table)
	upper = append(append([]byte(nil), lower...), openEndedTag+1)
	return lower, upper
}

func makeStateKey(table roachpb.TableName) []byte {
	return makeTablePrefix(statePrefix, table)
}

// descriptorVersion is the version of the descriptor value encoding.
const descriptorVersion = 1

// encodeDescriptor encodes desc as a meta value.
func encodeDescriptor(desc *roachpb.PartitionDescriptor) []byte {
	b := encoding.EncodeUvarintAscending(nil, descriptorVersion)
	b = encoding.EncodeStringAscending(b, string(desc.Table))
	b = encoding.EncodeBytesAscending(b, desc.Name)
	b = encoding.EncodeBytesAscending(b, desc.StartKey)
	b = encoding.EncodeBytesAscending(b, desc.EndKey)
	b = encoding.EncodeVarintAscending(b, desc.Generation)
	b = encoding.EncodeUvarintAscending(b, uint64(len(desc.Replicas)))
	for _, r := range desc.Replicas {
		b = encoding.EncodeVarintAscending(b, int64(r.ReplicaID))
		b = encoding.EncodeStringAscending(b, r.Server.Host)
		b = encoding.EncodeUvarintAscending(b, uint64(r.Server.Port))
		b = encoding.EncodeVarintAscending(b, r.Server.StartCode)
	}
	return b
}

// decodeDescriptor decodes a meta value. The result does not alias b.
func decodeDescriptor(b []byte) (roachpb.PartitionDescriptor, error) {
	var desc roachpb.PartitionDescriptor
	b, version, err := encoding.DecodeUvarintAscending(b)
	if err != nil {
		return desc, errors.Wrap(err, "decoding descriptor version")
	}
	if version != descriptorVersion {
		return desc, errors.Newf("unsupported descriptor version %d", version)
	}
	var table string
	if b, table, err = encoding.DecodeStringAscending(b); err != nil {
		return desc, errors.Wrap(err, "decoding table")
	}
	desc.Table = roachpb.TableName(table)
	var name, start, end []byte
	if b, name, err = encoding.DecodeBytesAscending(b, []byte{}); err != nil {
		return desc, errors.Wrap(err, "decoding name")
	}
	if b, start, err = encoding.DecodeBytesAscending(b, []byte{}); err != nil {
		return desc, errors.Wrap(err, "decoding start key")
	}
	if b, end, err = encoding.DecodeBytesAscending(b, []byte{}); err != nil {
		return desc, errors.Wrap(err, "decoding end key")
	}
	desc.Name, desc.StartKey, desc.EndKey = name, start, end
	if b, desc.Generation, err = encoding.DecodeVarintAscending(b); err != nil {
		return desc, errors.Wrap(err, "decoding generation")
	}
	var n uint64
	if b, n, err = encoding.DecodeUvarintAscending(b); err != nil {
		return desc, errors.Wrap(err, "decoding replica count")
	}
	desc.Replicas = make([]roachpb.ReplicaDescriptor, 0, n)
	for i := uint64(0); i < n; i++ {
		var id, startCode int64
		var port uint64
		var host string
		if b, id, err = encoding.DecodeVarintAscending(b); err != nil {
			return desc, errors.Wrapf(err, "decoding replica %d", i)
		}
		if b, host, err = encoding.DecodeStringAscending(b); err != nil {
			return desc, errors.Wrapf(err, "decoding replica %d", i)
		}
		if b, port, err = encoding.DecodeUvarintAscending(b); err != nil {
			return desc, errors.Wrapf(err, "decoding replica %d", i)
		}
		if b, startCode, err = encoding.DecodeVarintAscending(b); err != nil {
			return desc, errors.Wrapf(err, "decoding replica %d", i)
		}
		if port == 0 || port > math.MaxInt32 {
			return desc, errors.Newf("decoding replica %d: invalid port %d", i, port)
		}
		desc.Replicas = append(desc.Replicas, roachpb.ReplicaDescriptor{
			ReplicaID: int32(id),
			Server:    roachpb.ServerName{Host: host, Port: int32(port), StartCode: startCode},
		})
	}
	if len(b) != 0 {
		return desc, errors.Newf("%d trailing bytes after descriptor", len(b))
	}
	return desc, nil
}
