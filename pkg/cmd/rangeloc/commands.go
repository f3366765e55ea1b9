// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/rangelocator/pkg/base"
	"github.com/cockroachdb/rangelocator/pkg/kv/kvclient/kvcoord"
	"github.com/cockroachdb/rangelocator/pkg/kv/kvclient/rangecache"
	"github.com/cockroachdb/rangelocator/pkg/roachpb"
	"github.com/cockroachdb/rangelocator/pkg/storage/metastore"
	"github.com/cockroachdb/rangelocator/pkg/util/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type options struct {
	configPath   string
	topologyPath string
	table        string
	startRow     string
	exclusive    bool
	replicaID    int32
	verbosity    int32
	printMetrics bool
	moveTo       string
}

func (o *options) addFlags(f *pflag.FlagSet) {
	f.StringVar(&o.configPath, "config", "", "YAML configuration file; defaults apply when unset")
	f.StringVar(&o.topologyPath, "topology", "", "YAML file describing the tables and their partitions")
	f.StringVar(&o.table, "table", "", "table to scan")
	f.StringVar(&o.startRow, "start-row", "", "highest row of the scan; unset scans from the end of the table")
	f.BoolVar(&o.exclusive, "exclusive", false, "exclude the start row from the scan")
	f.Int32Var(&o.replicaID, "replica", 0, "replica to locate")
	f.Int32VarP(&o.verbosity, "verbosity", "v", -1, "log verbosity; overrides the configuration when set")
	f.BoolVar(&o.printMetrics, "metrics", false, "print the location cache metrics when done")
}

func newRootCmd() *cobra.Command {
	var opts options
	rootCmd := &cobra.Command{
		Use:           "rangeloc",
		Short:         "locate the partitions serving reverse scans",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.addFlags(rootCmd.PersistentFlags())

	locateCmd := &cobra.Command{
		Use:   "locate",
		Short: "locate the partition serving the first chunk of the scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, &opts, runLocate)
		},
	}
	walkCmd := &cobra.Command{
		Use:   "walk",
		Short: "locate every partition a reverse scan visits, one chunk per partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, &opts, runWalk)
		},
	}
	failCmd := &cobra.Command{
		Use:   "fail",
		Short: "locate the scan's partition, report its server as failed and locate it again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, &opts, runFail)
		},
	}
	failCmd.Flags().StringVar(&opts.moveTo, "move-to", "",
		"server (host:port#startcode) the failed replica moves to before the failure is reported")

	rootCmd.AddCommand(locateCmd, walkCmd, failCmd)
	return rootCmd
}

// env is the state shared by the commands: a meta store holding the
// topology and a location cache in front of it.
type env struct {
	opts  *options
	out   io.Writer
	store *metastore.Store
	cache *rangecache.RangeCache
	reg   *prometheus.Registry
}

func withEnv(cmd *cobra.Command, opts *options, fn func(context.Context, *env) error) error {
	if opts.topologyPath == "" {
		return errors.New("--topology is required")
	}
	if opts.table == "" {
		return errors.New("--table is required")
	}
	cfg := base.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = base.LoadConfig(opts.configPath); err != nil {
			return err
		}
	}
	if opts.verbosity >= 0 {
		cfg.Log.Verbosity = opts.verbosity
	}
	defer log.SetVerbosity(log.SetVerbosity(cfg.Log.Verbosity))
	log.SetRedactable(cfg.Log.Redactable)

	topo, err := loadTopology(opts.topologyPath)
	if err != nil {
		return err
	}
	ctx := logtags.AddTag(cmd.Context(), "rangeloc", nil)
	store, err := metastore.Open(cfg.MetaStore)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err := topo.apply(ctx, store); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	e := &env{
		opts:  opts,
		out:   cmd.OutOrStdout(),
		store: store,
		cache: rangecache.New(store, cfg.RangeCache, rangecache.NewMetrics(reg, cfg.Metrics.Namespace)),
		reg:   reg,
	}
	if err := fn(ctx, e); err != nil {
		return err
	}
	if opts.printMetrics {
		return e.writeMetrics()
	}
	return nil
}

func (e *env) scan() roachpb.ScanDescriptor {
	return roachpb.ScanDescriptor{
		StartRow:        roachpb.Key(e.opts.startRow),
		IncludeStartRow: !e.opts.exclusive,
		Reversed:        true,
	}
}

func (e *env) newLocator(scan roachpb.ScanDescriptor) (*kvcoord.ReverseScanLocator, error) {
	return kvcoord.NewReverseScanLocator(e.cache, e.store, roachpb.TableName(e.opts.table), scan, e.opts.replicaID)
}

func (e *env) printResult(prefix string, res kvcoord.ResolutionResult) {
	fmt.Fprintf(e.out, "%s%s %s on %s (probe %s, inverted: %t)\n", prefix,
		res.Location.Desc.Name, res.Location.Desc, res.Location.Server, res.ProbeKey, res.Inverted)
}

func runLocate(ctx context.Context, e *env) error {
	l, err := e.newLocator(e.scan())
	if err != nil {
		return err
	}
	res, err := l.Prepare(ctx, false /* reload */)
	if err != nil {
		return err
	}
	e.printResult("", res)
	return nil
}

// runWalk resolves one chunk per partition, from the scan's start row down
// to the first partition of the table. Each chunk continues the scan below
// the start of the previous chunk's partition.
func runWalk(ctx context.Context, e *env) error {
	scan := e.scan()
	var prevStart roachpb.Key
	for i := 0; ; i++ {
		l, err := e.newLocator(scan)
		if err != nil {
			return err
		}
		res, err := l.Prepare(ctx, false /* reload */)
		if err != nil {
			return errors.Wrapf(err, "chunk %d", i)
		}
		desc := res.Location.Desc
		if i > 0 && !desc.StartKey.Less(prevStart) {
			return errors.Newf("chunk %d: %s does not precede the previous chunk's partition", i, desc)
		}
		fmt.Fprintf(e.out, "chunk %d: ", i)
		e.printResult("", res)
		if len(desc.StartKey) == 0 {
			return nil
		}
		prevStart = desc.StartKey
		scan = roachpb.ScanDescriptor{StartRow: desc.StartKey, IncludeStartRow: false, Reversed: true}
	}
}

// runFail resolves the scan, optionally moves the resolved replica to
// another server, reports the resolved server as failed and resolves again.
func runFail(ctx context.Context, e *env) error {
	l, err := e.newLocator(e.scan())
	if err != nil {
		return err
	}
	res, err := l.Prepare(ctx, false /* reload */)
	if err != nil {
		return err
	}
	e.printResult("resolved: ", res)

	loc := res.Location
	var failure error = roachpb.NewNotServingPartitionError(loc.Desc.Name, loc.Server)
	if e.opts.moveTo != "" {
		newServer, err := roachpb.ParseServerName(e.opts.moveTo)
		if err != nil {
			return err
		}
		if _, err := e.store.MovePartition(ctx, loc.Desc.Table, loc.Desc.StartKey, loc.ReplicaID, newServer); err != nil {
			return err
		}
		failure = roachpb.NewPartitionMovedError(loc.Desc.Name, newServer)
	}
	fmt.Fprintf(e.out, "reporting: %v\n", failure)
	l.ReportFailure(ctx, failure, false /* didRetry */)

	res, err = l.Prepare(ctx, true /* reload */)
	if err != nil {
		return err
	}
	e.printResult("re-resolved: ", res)
	fmt.Fprintf(e.out, "meta lookups: %d\n", e.store.LookupCount())
	return nil
}

// writeMetrics prints the value of every counter and gauge registered by the
// location cache.
func (e *env) writeMetrics() error {
	families, err := e.reg.Gather()
	if err != nil {
		return err
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, l := range m.GetLabel() {
				name += fmt.Sprintf("{%s=%q}", l.GetName(), l.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(e.out, "%s %g\n", name, m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				fmt.Fprintf(e.out, "%s %g\n", name, m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				fmt.Fprintf(e.out, "%s_count %d\n", name, m.GetHistogram().GetSampleCount())
			}
		}
	}
	return nil
}
