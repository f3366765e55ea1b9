// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package roachpb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	testServer1 = ServerName{Host: "localhost", Port: 60030, StartCode: 123}
	testServer2 = ServerName{Host: "localhost", Port: 60031, StartCode: 456}
)

func makeDesc(start, end string) *PartitionDescriptor {
	return &PartitionDescriptor{
		Table:    "t",
		Name:     PartitionName("t," + start + ",1"),
		StartKey: Key(start),
		EndKey:   Key(end),
		Replicas: []ReplicaDescriptor{{ReplicaID: 0, Server: testServer1}},
	}
}

func TestPartitionDescriptorContainsKey(t *testing.T) {
	bounded := makeDesc("b", "d")
	openEnded := makeDesc("d", "")
	everything := makeDesc("", "")

	testCases := []struct {
		desc     *PartitionDescriptor
		key      Key
		contains bool
		inverted bool
	}{
		{bounded, Key("a"), false, false},
		{bounded, Key("b"), true, false},
		{bounded, Key("c"), true, true},
		{bounded, Key("d"), false, true},
		{bounded, Key("e"), false, false},
		{openEnded, Key("d"), true, false},
		{openEnded, Key("zzz"), true, true},
		{openEnded, KeyMax, true, true},
		{everything, KeyMin, true, false},
		{everything, KeyMax, true, true},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.contains, tc.desc.ContainsKey(tc.key), "%s contains %s", tc.desc, tc.key)
		require.Equal(t, tc.inverted, tc.desc.ContainsKeyInverted(tc.key), "%s contains inverted %s", tc.desc, tc.key)
	}
}

func TestPartitionDescriptorUpperBound(t *testing.T) {
	require.Equal(t, Key("d"), makeDesc("b", "d").UpperBound())
	require.Equal(t, KeyMax, makeDesc("d", "").UpperBound())
	require.True(t, makeDesc("d", "").IsOpenEnded())
}

func TestPartitionDescriptorOverlaps(t *testing.T) {
	ab := makeDesc("a", "b")
	bc := makeDesc("b", "c")
	ac := makeDesc("a", "c")
	cOpen := makeDesc("c", "")
	other := makeDesc("a", "c")
	other.Table = "u"

	require.False(t, ab.Overlaps(bc))
	require.False(t, bc.Overlaps(ab))
	require.True(t, ac.Overlaps(ab))
	require.True(t, ac.Overlaps(bc))
	require.False(t, ac.Overlaps(cOpen))
	require.True(t, makeDesc("", "").Overlaps(cOpen))
	require.True(t, cOpen.Overlaps(makeDesc("x", "y")))
	require.False(t, ac.Overlaps(other))
}

func TestPartitionDescriptorLocations(t *testing.T) {
	desc := makeDesc("a", "b")
	desc.Replicas = append(desc.Replicas, ReplicaDescriptor{ReplicaID: 1, Server: testServer2})

	locs, err := desc.Locations(0)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	require.Equal(t, testServer1, locs[0].Server)
	require.Equal(t, testServer2, locs[1].Server)

	locs, err = desc.Locations(1)
	require.NoError(t, err)
	require.Equal(t, int32(1), locs[0].ReplicaID)
	require.Equal(t, testServer2, locs[0].Server)
	require.Same(t, desc, locs[0].Desc)

	_, err = desc.Locations(7)
	require.Error(t, err)
}

func TestPartitionDescriptorWithReplicaMoved(t *testing.T) {
	desc := makeDesc("a", "b")
	moved := desc.WithReplicaMoved(testServer1, testServer2)
	require.True(t, moved.HostedOn(testServer2))
	require.False(t, moved.HostedOn(testServer1))
	// The original must be untouched.
	require.True(t, desc.HostedOn(testServer1))
	require.True(t, desc.SameBounds(moved))
}

func TestPartitionDescriptorValidate(t *testing.T) {
	require.NoError(t, makeDesc("a", "b").Validate())
	require.NoError(t, makeDesc("a", "").Validate())
	require.Error(t, makeDesc("b", "a").Validate())

	noName := makeDesc("a", "b")
	noName.Name = nil
	require.Error(t, noName.Validate())

	noReplicas := makeDesc("a", "b")
	noReplicas.Replicas = nil
	require.Error(t, noReplicas.Validate())

	dup := makeDesc("a", "b")
	dup.Replicas = append(dup.Replicas, ReplicaDescriptor{ReplicaID: 0, Server: testServer2})
	require.Error(t, dup.Validate())

	badPort := makeDesc("a", "b")
	badPort.Replicas[0].Server.Port = -60030
	require.ErrorContains(t, badPort.Validate(), "port must be positive")
}

func TestPartitionDescriptorWithReplicaServer(t *testing.T) {
	desc := makeDesc("a", "b")
	desc.Replicas = []ReplicaDescriptor{
		{ReplicaID: 0, Server: testServer1},
		{ReplicaID: 1, Server: testServer1},
	}
	moved := desc.WithReplicaServer(1, testServer2)
	require.Equal(t, []ReplicaDescriptor{
		{ReplicaID: 0, Server: testServer1},
		{ReplicaID: 1, Server: testServer2},
	}, moved.Replicas)
	require.Equal(t, testServer1, desc.Replicas[1].Server)
}

func TestPartitionDescriptorString(t *testing.T) {
	desc := makeDesc("a", "")
	desc.Generation = 3
	require.Equal(t, `t:["a"-/Max) gen=3 replicas=0@localhost:60030#123`, desc.String())
}
