// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package roachpb

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// TableUnavailableError is returned when a table has been administratively
// disabled. It is fatal to the operation that observed it and must not be
// retried by the client.
type TableUnavailableError struct {
	Table TableName
}

// NewTableUnavailableError creates a TableUnavailableError.
func NewTableUnavailableError(table TableName) *TableUnavailableError {
	return &TableUnavailableError{Table: table}
}

func (e *TableUnavailableError) Error() string {
	return fmt.Sprint(e)
}

// SafeFormatError implements the errors.SafeFormatter interface.
func (e *TableUnavailableError) SafeFormatError(p errors.Printer) (next error) {
	p.Printf("table %s is disabled", e.Table)
	return nil
}

// Format implements fmt.Formatter.
func (e *TableUnavailableError) Format(s fmt.State, verb rune) { errors.FormatError(e, s, verb) }

// IsTableUnavailableError returns whether err is, or wraps, a
// TableUnavailableError.
func IsTableUnavailableError(err error) bool {
	return errors.HasType(err, (*TableUnavailableError)(nil))
}

// ErrPartitionLookupFailed marks errors that occurred while resolving the
// partition owning a key. These are transient from the point of view of the
// location cache: the caller applies its own retry policy.
var ErrPartitionLookupFailed = errors.New("partition lookup failed")

// MarkPartitionLookupFailure marks err as a partition lookup failure.
func MarkPartitionLookupFailure(err error) error {
	return errors.Mark(err, ErrPartitionLookupFailed)
}

// IsPartitionLookupFailure returns whether err was marked as a partition
// lookup failure.
func IsPartitionLookupFailure(err error) bool {
	return errors.Is(err, ErrPartitionLookupFailed)
}

// NotServingPartitionError is returned by a server asked to serve a
// partition it does not (or no longer) host.
type NotServingPartitionError struct {
	Partition PartitionName
	Server    ServerName
}

// NewNotServingPartitionError creates a NotServingPartitionError.
func NewNotServingPartitionError(
	partition PartitionName, server ServerName,
) *NotServingPartitionError {
	return &NotServingPartitionError{Partition: partition, Server: server}
}

func (e *NotServingPartitionError) Error() string {
	return fmt.Sprintf("partition %s is not served by %s", e.Partition, e.Server)
}

// PartitionMovedError is returned by a server that knows where a partition it
// no longer hosts has moved to.
type PartitionMovedError struct {
	Partition PartitionName
	NewServer ServerName
}

// NewPartitionMovedError creates a PartitionMovedError.
func NewPartitionMovedError(partition PartitionName, newServer ServerName) *PartitionMovedError {
	return &PartitionMovedError{Partition: partition, NewServer: newServer}
}

func (e *PartitionMovedError) Error() string {
	return fmt.Sprintf("partition %s moved to %s", e.Partition, e.NewServer)
}

// IsStaleLocationError returns whether err reports that the server contacted
// for a partition was not the partition's owner.
func IsStaleLocationError(err error) bool {
	return errors.HasType(err, (*NotServingPartitionError)(nil)) ||
		errors.HasType(err, (*PartitionMovedError)(nil))
}
