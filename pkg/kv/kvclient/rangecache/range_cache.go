// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package rangecache caches the location of table partitions. Locations are
// read from a MetaDB on a miss and kept, per table, in a B-tree ordered by
// partition start key.
package rangecache

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/rangelocator/pkg/base"
	"github.com/cockroachdb/rangelocator/pkg/roachpb"
	"github.com/cockroachdb/rangelocator/pkg/util/log"
	"github.com/cockroachdb/rangelocator/pkg/util/syncutil"
	"github.com/cockroachdb/rangelocator/pkg/util/timeutil"
	"github.com/google/btree"
	"golang.org/x/sync/singleflight"
)

// btreeDegree is the degree of the per-table B-trees.
const btreeDegree = 32

// MetaDB is the authoritative directory of partitions, consulted by the
// cache on a miss.
type MetaDB interface {
	// RangeLookup returns the descriptor of the partition of table containing
	// key, followed by up to a configured number of neighbouring descriptors
	// in key order. With inverted set, containment is evaluated as by
	// PartitionDescriptor.ContainsKeyInverted.
	RangeLookup(
		ctx context.Context, table roachpb.TableName, key roachpb.Key, inverted bool,
	) ([]roachpb.PartitionDescriptor, error)
}

// LocateOptions parameterize RangeCache.Locate.
type LocateOptions struct {
	// UseCache allows a cached descriptor to serve the request. When false
	// the MetaDB is always consulted; its answer is still cached.
	UseCache bool
	// Retry retries failed meta lookups with exponential backoff.
	Retry bool
	// Inverted selects the partition containing the greatest key strictly
	// less than the requested key.
	Inverted bool
	// ReplicaID is the replica whose location is returned first.
	ReplicaID int32
}

// InvalidationRequest identifies a cached partition location that was found
// to be wrong. The request only takes effect if the cache still holds exactly
// that location.
type InvalidationRequest struct {
	Table         roachpb.TableName
	PartitionName roachpb.PartitionName
	// LowerBound and UpperBound are the bounds of the partition. An empty
	// UpperBound is equivalent to KeyMax.
	LowerBound roachpb.Key
	UpperBound roachpb.Key
	// Generation is the generation of the descriptor the failed location
	// came from. A cached descriptor of a newer generation is left alone.
	Generation int64
	// FailedServer is the server that did not serve the partition.
	FailedServer roachpb.ServerName
	// NewServer, if set, is where the partition's replica on FailedServer
	// moved to.
	NewServer *roachpb.ServerName
	// Cause is the error that prompted the invalidation.
	Cause error
}

// TestingKnobs are hooks for tests.
type TestingKnobs struct {
	// OnLookupJoined, if set, is called by every cache miss once it has
	// joined a meta lookup flight, whether it started the flight or not.
	OnLookupJoined func()
}

// Option configures a RangeCache.
type Option func(*RangeCache)

// WithClock sets the clock used for entry freshness.
func WithClock(clock timeutil.TimeSource) Option {
	return func(rc *RangeCache) { rc.clock = clock }
}

// WithTestingKnobs installs testing knobs.
func WithTestingKnobs(knobs TestingKnobs) Option {
	return func(rc *RangeCache) { rc.knobs = knobs }
}

// cacheEntry is a cached descriptor.
type cacheEntry struct {
	desc       *roachpb.PartitionDescriptor
	insertedAt time.Time
	// elem is the entry's position in the insertion order list.
	elem *list.Element
}

// cacheItem is the B-tree item for an entry, ordered by start key.
type cacheItem struct {
	startKey roachpb.Key
	entry    *cacheEntry
}

// Less implements the btree.Item interface.
func (i *cacheItem) Less(than btree.Item) bool {
	return i.startKey.Less(than.(*cacheItem).startKey)
}

// RangeCache is used to retrieve the location of the partition containing an
// arbitrary key. Descriptors are initially queried from a MetaDB, but are
// cached for subsequent lookups. It is safe for concurrent use.
type RangeCache struct {
	db      MetaDB
	cfg     base.RangeCacheConfig
	metrics *Metrics
	clock   timeutil.TimeSource
	knobs   TestingKnobs

	lookupErrorLog log.EveryN

	mu struct {
		syncutil.RWMutex
		tables map[roachpb.TableName]*btree.BTree
		// order lists the entries oldest first.
		order *list.List
	}

	// lookupRequests coalesces concurrent meta lookups that are expected to
	// return the same descriptor. See makeLookupRequestKey.
	lookupRequests singleflight.Group
}

// New returns a RangeCache reading descriptors from db. Unusable zero values
// in cfg are replaced by defaults. A nil metrics creates unregistered
// metrics.
func New(db MetaDB, cfg base.RangeCacheConfig, metrics *Metrics, opts ...Option) *RangeCache {
	cfg.InitDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil, base.DefaultMetricsNamespace)
	}
	rc := &RangeCache{
		db:             db,
		cfg:            cfg,
		metrics:        metrics,
		clock:          timeutil.DefaultTimeSource{},
		lookupErrorLog: log.Every(10 * time.Second),
	}
	rc.mu.tables = make(map[roachpb.TableName]*btree.BTree)
	rc.mu.order = list.New()
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// lookupRequest identifies one cache miss.
type lookupRequest struct {
	key roachpb.Key
}

// lookupResult is the outcome of a meta lookup flight.
type lookupResult struct {
	desc *roachpb.PartitionDescriptor
	// leader is the request that started the flight.
	leader *lookupRequest
}

// lookupCoalescingError is returned by tryLocate when the request was grouped
// with a lookup for another key and the descriptor that lookup returned does
// not contain the request's key. The lookup should be retried.
type lookupCoalescingError struct {
	key       roachpb.Key
	wrongDesc *roachpb.PartitionDescriptor
}

func (e lookupCoalescingError) Error() string {
	return fmt.Sprintf("key %s not contained in partition lookup's resulting descriptor %s",
		e.key, e.wrongDesc)
}

// makeLookupRequestKey constructs the key under which a meta lookup is
// coalesced with others.
//
// If the cache holds a descriptor containing the key that could not be used
// (it expired, or the caller bypassed the cache), requests for all keys it
// covers are coalesced: they are expected to land in the same partition,
// or in one of the few partitions it was split into, which the lookup
// prefetches. The descriptor's generation is part of the key so that
// requests keyed on descriptors that were since split do not coalesce with
// requests for the new ones. Otherwise requests are coalesced by key.
func makeLookupRequestKey(
	table roachpb.TableName, key roachpb.Key, prev *roachpb.PartitionDescriptor, inverted bool,
) string {
	var b strings.Builder
	b.WriteString(string(table))
	if prev != nil {
		b.WriteString(":desc:")
		b.Write(prev.StartKey)
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(prev.Generation, 10))
	} else {
		b.WriteString(":key:")
		b.Write(key)
	}
	b.WriteByte(':')
	b.WriteString(strconv.FormatBool(inverted))
	return b.String()
}

// Locate returns the locations of the replicas of the partition of table
// containing key, opts.ReplicaID first. On success at least one location is
// returned. Meta lookup failures, lookup timeouts included, are marked with
// roachpb.ErrPartitionLookupFailed. If ctx is canceled while waiting for a
// lookup, ctx's error is returned wrapped but unmarked: the lookup itself
// carries on for other callers.
func (rc *RangeCache) Locate(
	ctx context.Context, table roachpb.TableName, key roachpb.Key, opts LocateOptions,
) ([]roachpb.PartitionLocation, error) {
	rc.metrics.Lookups.Inc()
	// Retry while we're hitting lookupCoalescingErrors.
	for {
		desc, err := rc.tryLocate(ctx, table, key, opts)
		if errors.HasType(err, lookupCoalescingError{}) {
			log.VEventf(ctx, 2, "bad lookup coalescing; retrying: %s", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		return desc.Locations(opts.ReplicaID)
	}
}

// tryLocate can return a lookupCoalescingError.
func (rc *RangeCache) tryLocate(
	ctx context.Context, table roachpb.TableName, key roachpb.Key, opts LocateOptions,
) (*roachpb.PartitionDescriptor, error) {
	rc.mu.RLock()
	entry := rc.getCachedLocked(table, key, opts.Inverted)
	if entry != nil && opts.UseCache && !rc.expired(entry) {
		rc.mu.RUnlock()
		rc.metrics.CacheHits.Inc()
		return entry.desc, nil
	}
	rc.metrics.CacheMisses.Inc()

	if log.V(2) {
		log.Infof(ctx, "lookup partition: table=%s key=%s (inverted: %t)", table, key, opts.Inverted)
	}

	var prev *roachpb.PartitionDescriptor
	if entry != nil {
		prev = entry.desc
	}
	req := &lookupRequest{key: key}
	requestKey := makeLookupRequestKey(table, key, prev, opts.Inverted)
	resC := rc.lookupRequests.DoChan(requestKey, func() (interface{}, error) {
		res := lookupResult{leader: req}
		// Clear the context's cancelation. This lookup services potentially
		// many callers waiting for its result, and using the leader's
		// cancelation doesn't make sense. The timeout bounds it instead.
		ctx := logtags.WithTags(context.Background(), logtags.FromContext(ctx))
		ctx, cancel := context.WithTimeout(ctx, rc.cfg.LookupTimeout)
		defer cancel()

		start := timeutil.Now()
		descs, err := rc.performLookup(ctx, table, key, opts)
		rc.metrics.LookupLatency.Observe(timeutil.Since(start).Seconds())
		if err == nil {
			err = validateLookup(table, key, opts.Inverted, descs)
		}
		if err != nil {
			rc.metrics.LookupErrors.Inc()
			if rc.lookupErrorLog.ShouldLog() {
				log.Warningf(ctx, "partition lookup for %s in table %s failed: %v", key, table, err)
			}
			return res, roachpb.MarkPartitionLookupFailure(
				errors.Wrapf(err, "locating partition of %s in table %s", key, table))
		}

		// All goroutines that missed the cache must have joined this flight
		// before the cache is populated, and all later ones must hit. This
		// requires atomicity across population and notification, hence the
		// exclusive lock.
		rc.mu.Lock()
		defer rc.mu.Unlock()
		for i := range descs {
			rc.insertLocked(ctx, &descs[i], true /* authoritative */)
		}
		res.desc = &descs[0]
		return res, nil
	})

	// DoChan lets us release the lock only once the request has joined the
	// flight; releasing it earlier would race with a flight populating the
	// cache.
	rc.mu.RUnlock()
	if fn := rc.knobs.OnLookupJoined; fn != nil {
		fn()
	}

	var res singleflight.Result
	select {
	case res = <-resC:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "aborted during partition lookup")
	}

	lookupRes, _ := res.Val.(lookupResult)
	if lookupRes.leader != req {
		rc.metrics.CoalescedLookups.Inc()
		log.VEventf(ctx, 2, "coalesced partition lookup onto in-flight one")
	}
	if res.Err != nil {
		return nil, res.Err
	}
	log.VEventf(ctx, 3, "looked up partition descriptor: %s", lookupRes.desc)

	// The flight may have looked up another key of the same stale
	// descriptor, and that key may since have been split away from ours.
	// The retry is likely to hit the descriptors the flight prefetched.
	if !containsKey(lookupRes.desc, key, opts.Inverted) {
		return nil, lookupCoalescingError{key: key, wrongDesc: lookupRes.desc}
	}
	return lookupRes.desc, nil
}

// performLookup reads from the MetaDB, retrying failures with exponential
// backoff if asked to.
func (rc *RangeCache) performLookup(
	ctx context.Context, table roachpb.TableName, key roachpb.Key, opts LocateOptions,
) ([]roachpb.PartitionDescriptor, error) {
	ctx = logtags.AddTag(ctx, "range-lookup", key)
	if !opts.Retry {
		return rc.db.RangeLookup(ctx, table, key, opts.Inverted)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rc.cfg.RetryInitialBackoff
	b.MaxInterval = rc.cfg.RetryMaxBackoff
	b.MaxElapsedTime = 0 // bounded by the retry count and the context

	var descs []roachpb.PartitionDescriptor
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		descs, err = rc.db.RangeLookup(ctx, table, key, opts.Inverted)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		log.VEventf(ctx, 1, "partition lookup attempt %d failed: %v", attempt, err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(rc.cfg.LookupRetries)), ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "after %d attempts", attempt)
	}
	return descs, nil
}

// validateLookup checks a MetaDB answer for key.
func validateLookup(
	table roachpb.TableName, key roachpb.Key, inverted bool, descs []roachpb.PartitionDescriptor,
) error {
	if len(descs) == 0 {
		return errors.Newf("no partition descriptors returned for %s", key)
	}
	for i := range descs {
		if descs[i].Table != table {
			return errors.Newf("lookup in table %s returned descriptor of table %s", table, descs[i].Table)
		}
		if err := descs[i].Validate(); err != nil {
			return err
		}
	}
	if !containsKey(&descs[0], key, inverted) {
		return errors.Newf("lookup returned %s, which does not contain %s", &descs[0], key)
	}
	return nil
}

func containsKey(desc *roachpb.PartitionDescriptor, key roachpb.Key, inverted bool) bool {
	if inverted {
		return desc.ContainsKeyInverted(key)
	}
	return desc.ContainsKey(key)
}

// expired returns whether the entry is too old to serve lookups.
func (rc *RangeCache) expired(e *cacheEntry) bool {
	return rc.cfg.MaxEntryAge > 0 && rc.clock.Since(e.insertedAt) > rc.cfg.MaxEntryAge
}

// Invalidate removes or repairs a cached location known to be wrong.
//
// This is a "compare-and-erase": the request only takes effect if the cache
// holds an entry for req.Table starting at req.LowerBound, with the same
// name and upper bound, a generation no newer than req.Generation, and with
// a replica on req.FailedServer. Anything else
// means the entry was already invalidated or replaced by a fresher one, and
// the request is ignored. With req.NewServer set the entry is replaced by a
// copy whose replica on the failed server is moved to the new one;
// otherwise it is evicted and the next lookup goes to the MetaDB.
func (rc *RangeCache) Invalidate(ctx context.Context, req InvalidationRequest) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	upper := req.UpperBound
	if len(upper) == 0 {
		upper = roachpb.KeyMax
	}
	e := rc.getByStartKeyLocked(req.Table, req.LowerBound)
	if e == nil ||
		!e.desc.Name.Equal(req.PartitionName) ||
		!e.desc.UpperBound().Equal(upper) ||
		e.desc.Generation > req.Generation ||
		!e.desc.HostedOn(req.FailedServer) {
		rc.metrics.Invalidations.WithLabelValues(invalidationNoop).Inc()
		log.VEventf(ctx, 2, "ignoring invalidation of %s on %s: no matching cache entry",
			req.PartitionName, req.FailedServer)
		return
	}
	rc.metrics.Invalidations.WithLabelValues(invalidationApplied).Inc()

	rc.removeLocked(e)
	if req.NewServer != nil && !req.NewServer.Empty() {
		replacement := e.desc.WithReplicaMoved(req.FailedServer, *req.NewServer)
		rc.addLocked(replacement)
		log.VEventf(ctx, 2, "moved cached %s from %s to %s: %v",
			e.desc, req.FailedServer, *req.NewServer, req.Cause)
		return
	}
	log.VEventf(ctx, 2, "evicted cached %s after failure on %s: %v", e.desc, req.FailedServer, req.Cause)
}

// InvalidateTable evicts every cached descriptor of table.
func (rc *RangeCache) InvalidateTable(ctx context.Context, table roachpb.TableName) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	tree, ok := rc.mu.tables[table]
	if !ok {
		return
	}
	log.VEventf(ctx, 2, "evicting %d cached descriptors of table %s", tree.Len(), table)
	tree.Ascend(func(i btree.Item) bool {
		rc.mu.order.Remove(i.(*cacheItem).entry.elem)
		return true
	})
	delete(rc.mu.tables, table)
	rc.metrics.Entries.Set(float64(rc.mu.order.Len()))
}

// GetCached returns the cached descriptor of the partition of table
// containing key, regardless of its age, or nil if there is none. inverted
// is interpreted as by LocateOptions.
func (rc *RangeCache) GetCached(
	table roachpb.TableName, key roachpb.Key, inverted bool,
) *roachpb.PartitionDescriptor {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if e := rc.getCachedLocked(table, key, inverted); e != nil {
		return e.desc
	}
	return nil
}

// getCachedLocked is like GetCached but returns the entry. The caller must
// hold rc.mu for reading.
func (rc *RangeCache) getCachedLocked(
	table roachpb.TableName, key roachpb.Key, inverted bool,
) *cacheEntry {
	tree, ok := rc.mu.tables[table]
	if !ok {
		return nil
	}
	var found *cacheEntry
	tree.DescendLessOrEqual(&cacheItem{startKey: key}, func(i btree.Item) bool {
		item := i.(*cacheItem)
		// With inverted containment a partition does not contain its own
		// start key; the one before it might.
		if inverted && item.startKey.Equal(key) {
			return true
		}
		found = item.entry
		return false
	})
	if found == nil || !containsKey(found.desc, key, inverted) {
		return nil
	}
	return found
}

// getByStartKeyLocked returns the entry of table starting exactly at
// startKey. The caller must hold rc.mu for reading.
func (rc *RangeCache) getByStartKeyLocked(
	table roachpb.TableName, startKey roachpb.Key,
) *cacheEntry {
	tree, ok := rc.mu.tables[table]
	if !ok {
		return nil
	}
	if i := tree.Get(&cacheItem{startKey: startKey}); i != nil {
		return i.(*cacheItem).entry
	}
	return nil
}

// Insert inserts the provided descriptors in the cache. A descriptor is
// ignored if an overlapping descriptor of the same or a newer generation is
// cached; overlapping descriptors of older generations are evicted.
func (rc *RangeCache) Insert(ctx context.Context, descs ...roachpb.PartitionDescriptor) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for i := range descs {
		rc.insertLocked(ctx, descs[i].Clone(), false /* authoritative */)
	}
}

// insertLocked inserts desc unless a newer overlapping descriptor is cached.
// An authoritative descriptor, freshly read from the MetaDB, also replaces
// overlapping descriptors of its own generation. The caller must hold rc.mu.
func (rc *RangeCache) insertLocked(
	ctx context.Context, desc *roachpb.PartitionDescriptor, authoritative bool,
) {
	if !rc.clearOlderOverlappingLocked(ctx, desc, authoritative) {
		// The descriptor is already in the cache, or is stale.
		return
	}
	if log.V(2) {
		log.Infof(ctx, "adding descriptor: %s", desc)
	}
	rc.addLocked(desc)
}

// clearOlderOverlappingLocked clears any cache entries which overlap desc and
// are superseded by it. Returns false if an overlapping entry supersedes
// desc instead. Note that even if false is returned, superseded entries are
// still cleared.
func (rc *RangeCache) clearOlderOverlappingLocked(
	ctx context.Context, desc *roachpb.PartitionDescriptor, authoritative bool,
) bool {
	tree, ok := rc.mu.tables[desc.Table]
	if !ok {
		return true
	}
	var overlapping []*cacheEntry
	// The entry starting at or before desc may extend into it.
	tree.DescendLessOrEqual(&cacheItem{startKey: desc.StartKey}, func(i btree.Item) bool {
		if e := i.(*cacheItem).entry; e.desc.Overlaps(desc) {
			overlapping = append(overlapping, e)
		}
		return false
	})
	// So do all entries starting inside desc.
	collect := func(i btree.Item) bool {
		if item := i.(*cacheItem); !item.startKey.Equal(desc.StartKey) {
			overlapping = append(overlapping, item.entry)
		}
		return true
	}
	if desc.IsOpenEnded() {
		tree.AscendGreaterOrEqual(&cacheItem{startKey: desc.StartKey}, collect)
	} else {
		tree.AscendRange(&cacheItem{startKey: desc.StartKey}, &cacheItem{startKey: desc.EndKey}, collect)
	}

	newest := true
	var toEvict []*cacheEntry
	for _, e := range overlapping {
		if e.desc.Generation > desc.Generation ||
			(e.desc.Generation == desc.Generation && !authoritative) {
			newest = false
			continue
		}
		toEvict = append(toEvict, e)
	}
	for _, e := range toEvict {
		if log.V(2) {
			log.Infof(ctx, "clearing overlapping descriptor: %s", e.desc)
		}
		rc.removeLocked(e)
	}
	return newest
}

// addLocked adds desc to the cache, evicting the oldest entries if the cache
// grows past its size. The caller must hold rc.mu and must have cleared
// overlapping entries.
func (rc *RangeCache) addLocked(desc *roachpb.PartitionDescriptor) {
	tree, ok := rc.mu.tables[desc.Table]
	if !ok {
		tree = btree.New(btreeDegree)
		rc.mu.tables[desc.Table] = tree
	}
	e := &cacheEntry{desc: desc, insertedAt: rc.clock.Now()}
	e.elem = rc.mu.order.PushBack(e)
	if old := tree.ReplaceOrInsert(&cacheItem{startKey: desc.StartKey, entry: e}); old != nil {
		rc.mu.order.Remove(old.(*cacheItem).entry.elem)
	}
	for rc.cfg.Size > 0 && rc.mu.order.Len() > rc.cfg.Size {
		oldest := rc.mu.order.Front().Value.(*cacheEntry)
		rc.removeLocked(oldest)
		rc.metrics.Evictions.Inc()
	}
	rc.metrics.Entries.Set(float64(rc.mu.order.Len()))
}

// removeLocked removes the entry from the cache. The caller must hold rc.mu.
func (rc *RangeCache) removeLocked(e *cacheEntry) {
	rc.mu.AssertHeld()
	if tree, ok := rc.mu.tables[e.desc.Table]; ok {
		tree.Delete(&cacheItem{startKey: e.desc.StartKey})
		if tree.Len() == 0 {
			delete(rc.mu.tables, e.desc.Table)
		}
	}
	rc.mu.order.Remove(e.elem)
	rc.metrics.Entries.Set(float64(rc.mu.order.Len()))
}

// Clear clears all descriptors from the cache.
func (rc *RangeCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.mu.tables = make(map[roachpb.TableName]*btree.BTree)
	rc.mu.order.Init()
	rc.metrics.Entries.Set(0)
}

// Len returns the number of cached descriptors.
func (rc *RangeCache) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.mu.order.Len()
}

func (rc *RangeCache) String() string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	tables := make([]string, 0, len(rc.mu.tables))
	for t := range rc.mu.tables {
		tables = append(tables, string(t))
	}
	sort.Strings(tables)
	var buf strings.Builder
	for _, t := range tables {
		rc.mu.tables[roachpb.TableName(t)].Ascend(func(i btree.Item) bool {
			fmt.Fprintf(&buf, "%s\n", i.(*cacheItem).entry.desc)
			return true
		})
	}
	return buf.String()
}
