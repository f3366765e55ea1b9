// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/rangelocator/pkg/testutils"
	"github.com/cockroachdb/rangelocator/pkg/util/log"
	"github.com/stretchr/testify/require"
)

// TestRangeloc runs the commands under testdata/commands against
// testdata/topology.yaml. Each command gets a fresh meta store.
func TestRangeloc(t *testing.T) {
	defer log.SetOutput(io.Discard)()
	topologyPath := testutils.TestDataPath(t, "topology.yaml")

	datadriven.RunTest(t, testutils.TestDataPath(t, "commands"), func(t *testing.T, d *datadriven.TestData) string {
		if d.Cmd != "rangeloc" {
			d.Fatalf(t, "unknown command: %s", d.Cmd)
		}
		args := append(strings.Fields(d.Input), "--topology="+topologyPath)
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetArgs(args)
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		if err := cmd.Execute(); err != nil {
			fmt.Fprintf(&out, "ERROR: %v\n", err)
		}
		return out.String()
	})
}

func TestParseTopology(t *testing.T) {
	topo, err := parseTopology([]byte(`
tables:
- name: t
  partitions:
  - {start: "", replicas: ["localhost:60030#123"]}
`))
	require.NoError(t, err)
	require.Len(t, topo.Tables, 1)
	require.Empty(t, topo.Tables[0].Partitions[0].End)

	for _, tc := range []struct {
		data string
		err  string
	}{
		{`tables: []`, "topology has no tables"},
		{"tables:\n- partitions: [{start: a, replicas: [x]}]", "table without a name"},
		{"tables:\n- name: t", "table t has no partitions"},
		{"tables:\n- name: t\n  owner: me", "field owner not found"},
	} {
		_, err := parseTopology([]byte(tc.data))
		require.ErrorContains(t, err, tc.err)
	}
}
