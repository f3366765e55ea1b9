// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package kvcoord holds the client-side coordination of scans: locating the
// partition that serves each chunk of a scan and repairing the location
// cache when a located server turns out not to own it.
package kvcoord

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/rangelocator/pkg/keys"
	"github.com/cockroachdb/rangelocator/pkg/kv/kvclient/rangecache"
	"github.com/cockroachdb/rangelocator/pkg/roachpb"
	"github.com/cockroachdb/rangelocator/pkg/util/log"
)

// LocationCache resolves partition locations and accepts reports of stale
// ones. It is implemented by *rangecache.RangeCache.
type LocationCache interface {
	Locate(
		ctx context.Context, table roachpb.TableName, key roachpb.Key, opts rangecache.LocateOptions,
	) ([]roachpb.PartitionLocation, error)
	Invalidate(ctx context.Context, req rangecache.InvalidationRequest)
}

// TableAvailabilityGuard reports whether a table has been administratively
// disabled.
type TableAvailabilityGuard interface {
	IsTableDisabled(ctx context.Context, table roachpb.TableName) (bool, error)
}

var _ LocationCache = (*rangecache.RangeCache)(nil)

// locatorState is the state of a ReverseScanLocator.
type locatorState int

const (
	// stateUnresolved: no location is held; Prepare must be called.
	stateUnresolved locatorState = iota
	// stateResolved: Prepare returned a location that has not been reported
	// as failed.
	stateResolved
	// stateFailedFatal: the table is disabled. Terminal.
	stateFailedFatal
)

func (s locatorState) String() string {
	switch s {
	case stateUnresolved:
		return "UNRESOLVED"
	case stateResolved:
		return "RESOLVED"
	case stateFailedFatal:
		return "FAILED_FATAL"
	default:
		return "UNKNOWN"
	}
}

// SafeValue implements the redact.SafeValue interface.
func (locatorState) SafeValue() {}

// ResolutionResult is the location chosen for the current step of a scan.
type ResolutionResult struct {
	// Location is the partition serving the step and the server to contact.
	Location roachpb.PartitionLocation
	// ProbeKey and Inverted are the parameters the location was looked up
	// with.
	ProbeKey roachpb.Key
	Inverted bool
}

// ReverseScanLocator locates the partition serving the next chunk of a
// reverse scan and repairs the location cache when the located server fails
// to serve it.
//
// A locator belongs to a single scan and its methods must be called
// sequentially: Prepare, then either proceed or ReportFailure followed by
// another Prepare. Locators of different scans share nothing but the cache.
type ReverseScanLocator struct {
	cache     LocationCache
	guard     TableAvailabilityGuard
	table     roachpb.TableName
	scan      roachpb.ScanDescriptor
	replicaID int32

	state    locatorState
	resolved ResolutionResult
	// fatalErr is the error returned by every Prepare in stateFailedFatal.
	fatalErr error
}

// NewReverseScanLocator creates a locator for a reversed scan of table,
// locating the given replica of each partition. Forward scans are rejected.
func NewReverseScanLocator(
	cache LocationCache,
	guard TableAvailabilityGuard,
	table roachpb.TableName,
	scan roachpb.ScanDescriptor,
	replicaID int32,
) (*ReverseScanLocator, error) {
	if !scan.Reversed {
		return nil, errors.AssertionFailedf("reverse scan locator used for a forward scan of %s", table)
	}
	return &ReverseScanLocator{
		cache:     cache,
		guard:     guard,
		table:     table,
		scan:      scan,
		replicaID: replicaID,
	}, nil
}

// Prepare resolves the partition serving the scan's next chunk.
//
// Every call issues exactly one Locate with the same parameters, whatever
// the value of reload: the cache is always allowed to answer from its
// entries, and a previously resolved location is never handed out again
// without asking it. reload only records that the caller is retrying; a
// stale entry is removed from the cache by ReportFailure, not by bypassing
// it.
//
// Prepare fails with a *roachpb.TableUnavailableError, without a lookup, if
// the table is disabled; the locator is then unusable. Lookup errors are
// returned unchanged.
func (l *ReverseScanLocator) Prepare(ctx context.Context, reload bool) (ResolutionResult, error) {
	ctx = logtags.AddTag(ctx, "rscan", l.table)
	if l.state == stateFailedFatal {
		return ResolutionResult{}, l.fatalErr
	}
	l.state = stateUnresolved
	l.resolved = ResolutionResult{}

	disabled, err := l.guard.IsTableDisabled(ctx, l.table)
	if err != nil {
		return ResolutionResult{}, err
	}
	if disabled {
		l.state = stateFailedFatal
		l.fatalErr = roachpb.NewTableUnavailableError(l.table)
		log.VEventf(ctx, 1, "table %s is disabled", l.table)
		return ResolutionResult{}, l.fatalErr
	}

	probe, inverted := keys.ReverseProbe(l.scan)
	locs, err := l.cache.Locate(ctx, l.table, probe, rangecache.LocateOptions{
		UseCache:  true,
		Retry:     true,
		Inverted:  inverted,
		ReplicaID: l.replicaID,
	})
	if err != nil {
		return ResolutionResult{}, err
	}
	if len(locs) == 0 {
		return ResolutionResult{}, errors.AssertionFailedf(
			"location cache returned no location for %s in table %s", probe, l.table)
	}
	l.resolved = ResolutionResult{Location: locs[0], ProbeKey: probe, Inverted: inverted}
	l.state = stateResolved
	log.VEventf(ctx, 2, "resolved %s (probe %s, inverted: %t, reload: %t)",
		l.resolved.Location, probe, inverted, reload)
	return l.resolved, nil
}

// ReportFailure reports that the server returned by the last Prepare failed
// with err. It asks the cache to drop, or repair, exactly the location that
// Prepare returned; concurrent scans of other partitions of the table keep
// their cached locations.
//
// If err reports that the partition moved and the caller has not retried
// yet, the new server is handed to the cache so that the next Prepare can
// be served without a meta lookup. A report without a resolved location,
// such as a second report of the same failure, is a no-op.
func (l *ReverseScanLocator) ReportFailure(ctx context.Context, err error, didRetry bool) {
	if l.state != stateResolved {
		log.VEventf(ctx, 2, "ignoring failure report in state %s: %v", l.state, err)
		return
	}
	loc := l.resolved.Location
	req := rangecache.InvalidationRequest{
		Table:         l.table,
		PartitionName: loc.Desc.Name,
		LowerBound:    loc.Desc.StartKey,
		UpperBound:    loc.Desc.UpperBound(),
		Generation:    loc.Desc.Generation,
		FailedServer:  loc.Server,
		Cause:         err,
	}
	var moved *roachpb.PartitionMovedError
	if !didRetry && errors.As(err, &moved) && moved.Partition.Equal(loc.Desc.Name) {
		newServer := moved.NewServer
		req.NewServer = &newServer
	}
	l.state = stateUnresolved
	l.resolved = ResolutionResult{}

	log.VEventf(ctx, 1, "invalidating %s after failure: %v", loc, err)
	l.cache.Invalidate(ctx, req)
}
