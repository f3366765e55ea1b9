// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package keys

import (
	"bytes"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/rangelocator/pkg/roachpb"
)

// partitionNameDelimiter separates the components of a partition name.
const partitionNameDelimiter = ','

// CloseRowBefore returns a key that sorts immediately before key, for use as
// a probe by reverse scans.
//
// The empty key and KeyMax are returned as KeyMax: both stand for "no upper
// limit" and the probe for them is the sentinel itself. A key ending in a
// zero byte has an exact predecessor, the key with that byte removed.
// Otherwise the last byte is decremented and KeyMax is appended, which sorts
// after every key sharing the decremented prefix that a real table uses.
func CloseRowBefore(key roachpb.Key) roachpb.Key {
	if len(key) == 0 || key.IsMax() {
		return roachpb.KeyMax
	}
	if key[len(key)-1] == 0 {
		return key[:len(key)-1:len(key)-1].Clone()
	}
	res := make(roachpb.Key, 0, len(key)+len(roachpb.KeyMax))
	res = append(res, key[:len(key)-1]...)
	res = append(res, key[len(key)-1]-1)
	return append(res, roachpb.KeyMax...)
}

// ReverseProbe returns the key used to locate the partition serving the first
// chunk of the reverse scan, and whether the lookup must use inverted
// containment.
func ReverseProbe(scan roachpb.ScanDescriptor) (probe roachpb.Key, inverted bool) {
	if !scan.HasStartRow() || scan.StartRow.IsMax() {
		return CloseRowBefore(roachpb.KeyMax), false
	}
	if scan.IncludeStartRow {
		return scan.StartRow, false
	}
	return scan.StartRow, true
}

// MakePartitionName builds the name of a partition from its table, start key
// and id: "<table>,<startKey>,<id>".
func MakePartitionName(
	table roachpb.TableName, startKey roachpb.Key, id int64,
) roachpb.PartitionName {
	idStr := strconv.FormatInt(id, 10)
	name := make(roachpb.PartitionName, 0, len(table)+len(startKey)+len(idStr)+2)
	name = append(name, table...)
	name = append(name, partitionNameDelimiter)
	name = append(name, startKey...)
	name = append(name, partitionNameDelimiter)
	return append(name, idStr...)
}

// DecodePartitionName splits a name produced by MakePartitionName. Table
// names may not contain the delimiter, start keys may.
func DecodePartitionName(
	name roachpb.PartitionName,
) (table roachpb.TableName, startKey roachpb.Key, id int64, err error) {
	first := bytes.IndexByte(name, partitionNameDelimiter)
	last := bytes.LastIndexByte(name, partitionNameDelimiter)
	if first <= 0 || first == last {
		return "", nil, 0, errors.Newf("malformed partition name %q", []byte(name))
	}
	id, err = strconv.ParseInt(string(name[last+1:]), 10, 64)
	if err != nil {
		return "", nil, 0, errors.Wrapf(err, "malformed partition name %q", []byte(name))
	}
	table = roachpb.TableName(name[:first])
	startKey = roachpb.Key(name[first+1 : last]).Clone()
	return table, startKey, id, nil
}
