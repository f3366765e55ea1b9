// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package kvcoord

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/rangelocator/pkg/base"
	"github.com/cockroachdb/rangelocator/pkg/keys"
	"github.com/cockroachdb/rangelocator/pkg/kv/kvclient/rangecache"
	"github.com/cockroachdb/rangelocator/pkg/roachpb"
	"github.com/cockroachdb/rangelocator/pkg/storage/metastore"
	"github.com/kr/pretty"
	"github.com/stretchr/testify/require"
)

const testTable roachpb.TableName = "T"

var (
	testServer1 = roachpb.ServerName{Host: "localhost", Port: 60030, StartCode: 123}
	testServer2 = roachpb.ServerName{Host: "localhost", Port: 60031, StartCode: 456}
	testServer3 = roachpb.ServerName{Host: "localhost", Port: 60032, StartCode: 789}
)

type locateCall struct {
	Table roachpb.TableName
	Key   roachpb.Key
	Opts  rangecache.LocateOptions
}

// recordingCache is a LocationCache that serves a fixed partition and
// records every call.
type recordingCache struct {
	desc *roachpb.PartitionDescriptor
	err  error

	locateCalls   []locateCall
	invalidations []rangecache.InvalidationRequest
}

func (c *recordingCache) Locate(
	_ context.Context, table roachpb.TableName, key roachpb.Key, opts rangecache.LocateOptions,
) ([]roachpb.PartitionLocation, error) {
	c.locateCalls = append(c.locateCalls, locateCall{Table: table, Key: key, Opts: opts})
	if c.err != nil {
		return nil, c.err
	}
	return c.desc.Locations(opts.ReplicaID)
}

func (c *recordingCache) Invalidate(_ context.Context, req rangecache.InvalidationRequest) {
	c.invalidations = append(c.invalidations, req)
}

// fakeGuard is a TableAvailabilityGuard with a fixed answer.
type fakeGuard struct {
	disabled bool
	err      error
	calls    int
}

func (g *fakeGuard) IsTableDisabled(context.Context, roachpb.TableName) (bool, error) {
	g.calls++
	return g.disabled, g.err
}

func makeDesc(start, end roachpb.Key, servers ...roachpb.ServerName) *roachpb.PartitionDescriptor {
	desc := &roachpb.PartitionDescriptor{
		Table:    testTable,
		Name:     keys.MakePartitionName(testTable, start, 1),
		StartKey: start,
		EndKey:   end,
	}
	for i, s := range servers {
		desc.Replicas = append(desc.Replicas, roachpb.ReplicaDescriptor{ReplicaID: int32(i), Server: s})
	}
	return desc
}

func newTestLocator(
	t *testing.T, cache LocationCache, guard TableAvailabilityGuard, scan roachpb.ScanDescriptor,
) *ReverseScanLocator {
	t.Helper()
	l, err := NewReverseScanLocator(cache, guard, testTable, scan, 0 /* replicaID */)
	require.NoError(t, err)
	return l
}

var row1Scan = roachpb.ScanDescriptor{StartRow: roachpb.Key("row1"), IncludeStartRow: true, Reversed: true}

// TestPrepareQueriesOnEveryCall resolves a scan starting at row1 twice, the
// second time with reload set: both calls query the cache, identically.
func TestPrepareQueriesOnEveryCall(t *testing.T) {
	ctx := context.Background()
	cache := &recordingCache{desc: makeDesc(roachpb.KeyMin, nil, testServer1)}
	l := newTestLocator(t, cache, &fakeGuard{}, row1Scan)

	first, err := l.Prepare(ctx, false /* reload */)
	require.NoError(t, err)
	second, err := l.Prepare(ctx, true /* reload */)
	require.NoError(t, err)

	require.Len(t, cache.locateCalls, 2)
	expected := locateCall{
		Table: testTable,
		Key:   roachpb.Key("row1"),
		Opts:  rangecache.LocateOptions{UseCache: true, Retry: true, Inverted: false, ReplicaID: 0},
	}
	for i, call := range cache.locateCalls {
		if diff := pretty.Diff(expected, call); len(diff) > 0 {
			t.Errorf("call %d: unexpected locate parameters:\n%s", i, diff)
		}
	}
	require.Equal(t, first, second)
	require.Equal(t, testServer1, first.Location.Server)
	require.Same(t, cache.desc, first.Location.Desc)
	require.Equal(t, stateResolved, l.state)
}

// TestPrepareDisabledTable verifies that a disabled table fails the scan
// without any location query, and for good.
func TestPrepareDisabledTable(t *testing.T) {
	ctx := context.Background()
	cache := &recordingCache{desc: makeDesc(roachpb.KeyMin, nil, testServer1)}
	guard := &fakeGuard{disabled: true}
	l := newTestLocator(t, cache, guard, row1Scan)

	_, err := l.Prepare(ctx, true /* reload */)
	require.True(t, roachpb.IsTableUnavailableError(err), "%+v", err)
	require.Empty(t, cache.locateCalls)
	require.Equal(t, stateFailedFatal, l.state)

	// The state is terminal: the guard is not consulted again, even if the
	// table were re-enabled.
	guard.disabled = false
	_, err = l.Prepare(ctx, false /* reload */)
	require.True(t, roachpb.IsTableUnavailableError(err), "%+v", err)
	require.Equal(t, 1, guard.calls)
	require.Empty(t, cache.locateCalls)

	// There is nothing to report a failure against.
	l.ReportFailure(ctx, errors.New("boom"), false /* didRetry */)
	require.Empty(t, cache.invalidations)
}

func TestPrepareGuardError(t *testing.T) {
	ctx := context.Background()
	guardErr := errors.New("meta store unavailable")
	cache := &recordingCache{desc: makeDesc(roachpb.KeyMin, nil, testServer1)}
	l := newTestLocator(t, cache, &fakeGuard{err: guardErr}, row1Scan)

	_, err := l.Prepare(ctx, false /* reload */)
	require.Equal(t, guardErr, err)
	require.Empty(t, cache.locateCalls)
	require.Equal(t, stateUnresolved, l.state)
}

// TestPrepareLookupFailure verifies that lookup errors reach the caller
// unchanged and leave nothing to report a failure against.
func TestPrepareLookupFailure(t *testing.T) {
	ctx := context.Background()
	lookupErr := roachpb.MarkPartitionLookupFailure(errors.New("meta lookup timed out"))
	cache := &recordingCache{desc: makeDesc(roachpb.KeyMin, nil, testServer1)}
	l := newTestLocator(t, cache, &fakeGuard{}, row1Scan)

	_, err := l.Prepare(ctx, false /* reload */)
	require.NoError(t, err)

	cache.err = lookupErr
	_, err = l.Prepare(ctx, true /* reload */)
	require.Equal(t, lookupErr, err)
	require.True(t, roachpb.IsPartitionLookupFailure(err))
	require.Equal(t, stateUnresolved, l.state)

	l.ReportFailure(ctx, errors.New("connection refused"), false /* didRetry */)
	require.Empty(t, cache.invalidations)

	// The locator recovers once lookups succeed again.
	cache.err = nil
	res, err := l.Prepare(ctx, true /* reload */)
	require.NoError(t, err)
	require.Equal(t, testServer1, res.Location.Server)
	require.Len(t, cache.locateCalls, 3)
}

// TestReportFailureOpenEndedPartition resolves a scan without a start row
// to the last partition of the table, spanning
// [CloseRowBefore(KeyMax), open), and reports a failure of its server.
func TestReportFailureOpenEndedPartition(t *testing.T) {
	ctx := context.Background()
	desc := makeDesc(keys.CloseRowBefore(roachpb.KeyMax), nil, testServer1, testServer2)
	desc.Generation = 4
	cache := &recordingCache{desc: desc}
	l := newTestLocator(t, cache, &fakeGuard{}, roachpb.ScanDescriptor{Reversed: true})

	res, err := l.Prepare(ctx, false /* reload */)
	require.NoError(t, err)
	require.Equal(t, roachpb.KeyMax, res.ProbeKey)
	require.False(t, res.Inverted)
	require.True(t, res.Location.Desc.ContainsKey(res.ProbeKey))

	failure := errors.New("connection refused")
	l.ReportFailure(ctx, failure, false /* didRetry */)
	require.Len(t, cache.invalidations, 1)
	require.Equal(t, rangecache.InvalidationRequest{
		Table:         testTable,
		PartitionName: desc.Name,
		LowerBound:    keys.CloseRowBefore(roachpb.KeyMax),
		UpperBound:    roachpb.KeyMax,
		Generation:    desc.Generation,
		FailedServer:  testServer1,
		Cause:         failure,
	}, cache.invalidations[0])
	require.Equal(t, stateUnresolved, l.state)
}

// TestReportFailureIdempotent verifies that a repeated report of the same
// failure issues no second invalidation.
func TestReportFailureIdempotent(t *testing.T) {
	ctx := context.Background()
	cache := &recordingCache{desc: makeDesc(roachpb.Key("a"), roachpb.Key("m"), testServer1)}
	l := newTestLocator(t, cache, &fakeGuard{}, row1Scan)

	_, err := l.Prepare(ctx, false /* reload */)
	require.NoError(t, err)
	failure := errors.New("connection refused")
	l.ReportFailure(ctx, failure, false /* didRetry */)
	l.ReportFailure(ctx, failure, true /* didRetry */)
	require.Len(t, cache.invalidations, 1)
	require.Equal(t, roachpb.Key("m"), cache.invalidations[0].UpperBound)

	// A new report needs a new resolution.
	_, err = l.Prepare(ctx, true /* reload */)
	require.NoError(t, err)
	l.ReportFailure(ctx, failure, true /* didRetry */)
	require.Len(t, cache.invalidations, 2)
}

// TestReportFailurePartitionMoved verifies that the new location carried by
// a PartitionMovedError is passed on, unless the caller already retried or
// the error concerns another partition.
func TestReportFailurePartitionMoved(t *testing.T) {
	ctx := context.Background()
	desc := makeDesc(roachpb.KeyMin, nil, testServer1)

	testCases := []struct {
		name      string
		err       error
		didRetry  bool
		newServer *roachpb.ServerName
	}{
		{"moved", roachpb.NewPartitionMovedError(desc.Name, testServer3), false, &testServer3},
		{"wrapped", errors.Wrap(roachpb.NewPartitionMovedError(desc.Name, testServer3), "scan"), false, &testServer3},
		{"retried", roachpb.NewPartitionMovedError(desc.Name, testServer3), true, nil},
		{"other partition", roachpb.NewPartitionMovedError(roachpb.PartitionName("T,x,9"), testServer3), false, nil},
		{"not serving", roachpb.NewNotServingPartitionError(desc.Name, testServer1), false, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cache := &recordingCache{desc: desc}
			l := newTestLocator(t, cache, &fakeGuard{}, row1Scan)
			_, err := l.Prepare(ctx, false /* reload */)
			require.NoError(t, err)

			l.ReportFailure(ctx, tc.err, tc.didRetry)
			require.Len(t, cache.invalidations, 1)
			require.Equal(t, tc.newServer, cache.invalidations[0].NewServer)
			require.Equal(t, testServer1, cache.invalidations[0].FailedServer)
		})
	}
}

func TestExclusiveStartRowUsesInvertedLookup(t *testing.T) {
	ctx := context.Background()
	cache := &recordingCache{desc: makeDesc(roachpb.KeyMin, nil, testServer1, testServer2)}
	scan := row1Scan
	scan.IncludeStartRow = false
	l, err := NewReverseScanLocator(cache, &fakeGuard{}, testTable, scan, 1 /* replicaID */)
	require.NoError(t, err)

	res, err := l.Prepare(ctx, false /* reload */)
	require.NoError(t, err)
	require.True(t, res.Inverted)
	require.Equal(t, testServer2, res.Location.Server)
	require.Equal(t, rangecache.LocateOptions{UseCache: true, Retry: true, Inverted: true, ReplicaID: 1},
		cache.locateCalls[0].Opts)
}

func TestNewReverseScanLocatorRejectsForwardScan(t *testing.T) {
	_, err := NewReverseScanLocator(&recordingCache{}, &fakeGuard{}, testTable,
		roachpb.ScanDescriptor{StartRow: roachpb.Key("row1")}, 0 /* replicaID */)
	require.Error(t, err)
	require.True(t, errors.IsAssertionFailure(err))
}

// TestReverseScanLocatorOverRangeCache runs the locator against the real
// cache and meta store: a failure report evicts exactly the failed
// partition, and the next resolution observes where it moved.
func TestReverseScanLocatorOverRangeCache(t *testing.T) {
	ctx := context.Background()
	store, err := metastore.Open(base.MetaStoreConfig{Prefetch: 2})
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	for _, desc := range []*roachpb.PartitionDescriptor{
		makeDesc(roachpb.KeyMin, roachpb.Key("m"), testServer1),
		makeDesc(roachpb.Key("m"), nil, testServer2),
	} {
		desc.Name = nil
		_, err := store.PutPartition(ctx, *desc)
		require.NoError(t, err)
	}
	rc := rangecache.New(store, base.DefaultConfig().RangeCache, nil)
	l := newTestLocator(t, rc, store, roachpb.ScanDescriptor{Reversed: true})

	res, err := l.Prepare(ctx, false /* reload */)
	require.NoError(t, err)
	require.Equal(t, testServer2, res.Location.Server)
	require.True(t, res.Location.Desc.IsOpenEnded())
	require.EqualValues(t, 1, store.LookupCount())
	// The preceding partition was prefetched.
	unrelated := rc.GetCached(testTable, roachpb.Key("a"), false /* inverted */)
	require.NotNil(t, unrelated)

	// Served from the cache.
	_, err = l.Prepare(ctx, true /* reload */)
	require.NoError(t, err)
	require.EqualValues(t, 1, store.LookupCount())

	_, err = store.MovePartition(ctx, testTable, roachpb.Key("m"), 0, testServer3)
	require.NoError(t, err)
	failure := roachpb.NewNotServingPartitionError(res.Location.Desc.Name, testServer2)
	l.ReportFailure(ctx, failure, false /* didRetry */)
	l.ReportFailure(ctx, failure, false /* didRetry */)
	require.Nil(t, rc.GetCached(testTable, roachpb.KeyMax, false /* inverted */))
	require.Same(t, unrelated, rc.GetCached(testTable, roachpb.Key("a"), false /* inverted */))

	res, err = l.Prepare(ctx, false /* reload */)
	require.NoError(t, err)
	require.Equal(t, testServer3, res.Location.Server)
	require.EqualValues(t, 2, store.LookupCount())

	// A disabled table is refused before any lookup.
	require.NoError(t, store.SetTableDisabled(ctx, testTable, true))
	_, err = l.Prepare(ctx, true /* reload */)
	require.True(t, roachpb.IsTableUnavailableError(err), "%+v", err)
	require.EqualValues(t, 2, store.LookupCount())
}
