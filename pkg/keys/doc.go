// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package keys contains the row boundary arithmetic used to locate the
// partition serving a reverse scan, and the construction of partition names.
//
// A reverse scan reads rows in descending order starting at its start row.
// Locating the partition that serves the first chunk of such a scan means
// finding the partition that contains the highest row the scan may return:
//
//	+-----------------------+--------------------------------------------+
//	| scan start row        | partition to locate                        |
//	+-----------------------+--------------------------------------------+
//	| unset or /Max         | the one containing /Max (open-ended)       |
//	| r, inclusive          | the one containing r                       |
//	| r, exclusive          | the one containing the greatest row < r    |
//	+-----------------------+--------------------------------------------+
//
// The last case cannot be expressed as a plain key: there is no greatest key
// below r in an unbounded byte-string keyspace. Instead the lookup is made for
// r with inverted containment (see roachpb.PartitionDescriptor.ContainsKeyInverted),
// which selects the partition whose range (StartKey, EndKey] includes r.
package keys
