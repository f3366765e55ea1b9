// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package main

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/rangelocator/pkg/roachpb"
	"github.com/cockroachdb/rangelocator/pkg/storage/metastore"
	"gopkg.in/yaml.v2"
)

// topology describes the partitions of a set of tables. Partitions are
// listed in any order; an empty end key makes a partition open-ended.
//
//	tables:
//	- name: orders
//	  partitions:
//	  - {start: "", end: m, replicas: ["localhost:60030#123"]}
//	  - {start: m, replicas: ["localhost:60031#456", "localhost:60030#123"]}
type topology struct {
	Tables []tableTopology `yaml:"tables"`
}

type tableTopology struct {
	Name       string              `yaml:"name"`
	Disabled   bool                `yaml:"disabled,omitempty"`
	Partitions []partitionTopology `yaml:"partitions"`
}

type partitionTopology struct {
	Start string `yaml:"start"`
	End   string `yaml:"end,omitempty"`
	// Replicas are server names (host:port#startcode), the primary first.
	Replicas []string `yaml:"replicas"`
}

func parseTopology(data []byte) (*topology, error) {
	var t topology
	if err := yaml.UnmarshalStrict(data, &t); err != nil {
		return nil, errors.Wrap(err, "parsing topology")
	}
	if len(t.Tables) == 0 {
		return nil, errors.New("topology has no tables")
	}
	for _, tbl := range t.Tables {
		if tbl.Name == "" {
			return nil, errors.New("topology has a table without a name")
		}
		if len(tbl.Partitions) == 0 {
			return nil, errors.Newf("table %s has no partitions", tbl.Name)
		}
	}
	return &t, nil
}

func loadTopology(path string) (*topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading topology %s", path)
	}
	t, err := parseTopology(data)
	return t, errors.Wrapf(err, "in %s", path)
}

// apply writes the topology to store.
func (t *topology) apply(ctx context.Context, store *metastore.Store) error {
	for _, tbl := range t.Tables {
		table := roachpb.TableName(tbl.Name)
		for i, p := range tbl.Partitions {
			desc := roachpb.PartitionDescriptor{
				Table:    table,
				StartKey: roachpb.Key(p.Start),
				EndKey:   roachpb.Key(p.End),
			}
			for id, s := range p.Replicas {
				server, err := roachpb.ParseServerName(s)
				if err != nil {
					return errors.Wrapf(err, "table %s, partition %d", tbl.Name, i)
				}
				desc.Replicas = append(desc.Replicas, roachpb.ReplicaDescriptor{
					ReplicaID: int32(id), Server: server,
				})
			}
			if _, err := store.PutPartition(ctx, desc); err != nil {
				return errors.Wrapf(err, "table %s, partition %d", tbl.Name, i)
			}
		}
		if tbl.Disabled {
			if err := store.SetTableDisabled(ctx, table, true); err != nil {
				return err
			}
		}
	}
	return nil
}
