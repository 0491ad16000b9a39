// Copyright (c) 2017 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package path

import (
	"strings"
	"testing"
	"time"

	pb "github.com/openconfig/gnmi/proto/gnmi"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"/", nil},
		{"/a/b/c", []string{"a", "b", "c"}},
		{"/interfaces/interface[name=Ethernet1/1]/state",
			[]string{"interfaces", "interface[name=Ethernet1/1]", "state"}},
		{`/a[k=\]]/b`, []string{`a[k=\]]`, "b"}},
	}
	for _, c := range cases {
		got := Split(c.in)
		require.Equal(t, c.want, got, c.in)
	}
}

func TestParseStringKeyContainingSlash(t *testing.T) {
	p, err := ParseString("/a/b[k=v/x]/c")
	require.NoError(t, err)
	require.Len(t, p.Elem, 3)
	require.Equal(t, "b", p.Elem[1].Name)
	require.Equal(t, map[string]string{"k": "v/x"}, p.Elem[1].Key)
}

func TestParseStringKeyContainingEquals(t *testing.T) {
	// Key values may themselves contain "=": only the first "="
	// separates key from value.
	p, err := ParseString("/acl/entry[rule=src=10.0.0.0]/state")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"rule": "src=10.0.0.0"}, p.Elem[1].Key)
}

func TestJoin(t *testing.T) {
	require.Equal(t, "a/b", Join("a", "b"))
	require.Equal(t, "a/b", Join("a/", "/b"))
	require.Equal(t, "a", Join("a", ""))
	require.Equal(t, "b", Join("", "/b"))
	require.Equal(t, "", Join("", ""))
	require.Equal(t, "mod:a/b/c", Join("mod:a", "b/c"))
}

func TestRender(t *testing.T) {
	p := &pb.Path{
		Origin: "openconfig-interfaces",
		Elem: []*pb.PathElem{
			{Name: "interfaces"},
			{Name: "interface", Key: map[string]string{"name": "Gi0"}},
			{Name: "state"},
		},
	}
	require.Equal(t, "openconfig-interfaces:interfaces/interface/state", Render(p))
	require.Equal(t, "", Render(nil))
	require.Equal(t, "a/b", Render(&pb.Path{Elem: []*pb.PathElem{{Name: "a"}, {Name: "b"}}}))
}

func TestStrPath(t *testing.T) {
	p := &pb.Path{Elem: []*pb.PathElem{
		{Name: "interfaces"},
		{Name: "interface", Key: map[string]string{"name": "Ethernet1"}},
	}}
	require.Equal(t, "/interfaces/interface[name=Ethernet1]", StrPath(p))
	require.Equal(t, "/", StrPath(nil))
}

func TestIndexName(t *testing.T) {
	date := time.Date(2023, 3, 4, 0, 0, 0, 0, time.UTC)
	got := IndexName("/interfaces/interface[name=Ethernet1]/state", date)
	want := "interfaces-interface-name=ethernet1-state-2023.03.04"
	require.Equal(t, want, got)
}

func TestIndexNameTruncation(t *testing.T) {
	date := time.Date(2023, 3, 4, 0, 0, 0, 0, time.UTC)
	long := "/" + stringsRepeat("segment", 60)
	got := IndexName(long, date)
	require.LessOrEqual(t, len(got), 255)
	require.True(t, strings.HasSuffix(got, "-2023.03.04"))
}

func TestIndexNameIdempotent(t *testing.T) {
	date := time.Date(2023, 3, 4, 0, 0, 0, 0, time.UTC)
	first := IndexName("Cisco-IOS-XR-infra-statsd-oper:infra-statistics/interfaces/interface", date)
	again := IndexName(strings.TrimSuffix(first, "-2023.03.04"), date)
	require.Equal(t, first, again)
}

func stringsRepeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s + "/"
	}
	return out
}

func BenchmarkSplit(b *testing.B) {
	p := "/interfaces/interface[name=Ethernet1/1]/state/counters/in-octets"
	for i := 0; i < b.N; i++ {
		Split(p)
	}
}

func BenchmarkIndexName(b *testing.B) {
	date := time.Date(2023, 3, 4, 0, 0, 0, 0, time.UTC)
	p := "Cisco-IOS-XR-infra-statsd-oper:infra-statistics/interfaces/interface/latest/generic-counters"
	for i := 0; i < b.N; i++ {
		IndexName(p, date)
	}
}
