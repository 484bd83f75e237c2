/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package main

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"macvendor/common/ouidb"

	"github.com/fatih/color"
	"github.com/klauspost/oui"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testDataset = `# nmap-mac-prefixes excerpt
58CB52 Google
009000 Acme Inc
00000C Cisco Systems
bogus
`

	mockOUI = `
OUI/MA-L			Organization
company_id			Organization
				Address

58-CB-52   (hex)		Google Inc.
58CB52     (base 16)		Google Inc.
				1600 Amphitheatre Parkway
				Mountain View CA 94043
				US

`
)

func init() {
	color.NoColor = true
}

func newTestLookup(t *testing.T, backend, dataset string,
	opts ...ouidb.Option) (*ouidb.Lookup, func()) {

	dir, err := ioutil.TempDir("", "ouisearch-test")
	require.NoError(t, err)

	log := zaptest.NewLogger(t).Sugar()
	store, err := ouidb.OpenStore(backend, filepath.Join(dir, "index.db"), log)
	require.NoError(t, err)

	opts = append([]ouidb.Option{ouidb.WithLogger(log)}, opts...)
	l := ouidb.New(store, ouidb.TextSource{Label: "test", Text: dataset},
		opts...)
	return l, func() {
		store.Close()
		os.RemoveAll(dir)
	}
}

func findCmd(t *testing.T, name string, flags ...string) *cobra.Command {
	cmd, _, err := newRootCmd().Find([]string{name})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags(flags))
	return cmd
}

func TestResolveSettingsDefaults(t *testing.T) {
	assert := require.New(t)

	s := resolveSettings(findCmd(t, "serve"), Cfg{})
	assert.Equal(defaultIndex, s.dbPath)
	assert.Equal(ouidb.BackendSQLite, s.backend)
	assert.Equal(defaultDataset, s.dataset)
	assert.Equal(defaultIEEEFile, s.ieeeFile)
	assert.Equal(defaultDatasetURL, s.datasetURL)
	assert.Equal(defaultListen, s.listen)
	assert.Equal(defaultCacheSize, s.cacheSize)
}

func TestResolveSettingsEnv(t *testing.T) {
	assert := require.New(t)

	env := Cfg{
		Root:      "/opt/ap",
		Backend:   ouidb.BackendBolt,
		Dataset:   "/data/prefixes",
		CacheSize: "10",
	}
	s := resolveSettings(findCmd(t, "serve"), env)
	assert.Equal("/opt/ap/etc/"+defaultIndex, s.dbPath)
	assert.Equal(ouidb.BackendBolt, s.backend)
	assert.Equal("/data/prefixes", s.dataset)
	assert.Equal("/opt/ap/etc/"+defaultIEEEFile, s.ieeeFile)
	assert.Equal(10, s.cacheSize)
}

func TestResolveSettingsFlags(t *testing.T) {
	assert := require.New(t)

	env := Cfg{
		DBPath:    "/env/index.db",
		Backend:   ouidb.BackendBolt,
		Listen:    "0.0.0.0:80",
		CacheSize: "10",
	}
	cmd := findCmd(t, "serve", "--db", "/flag/index.db",
		"--backend", "sqlite", "--listen", ":9000", "--cache-size", "0")
	s := resolveSettings(cmd, env)
	assert.Equal("/flag/index.db", s.dbPath)
	assert.Equal(ouidb.BackendSQLite, s.backend)
	assert.Equal(":9000", s.listen)
	assert.Equal(0, s.cacheSize)
}

func TestResolveSettingsCacheSize(t *testing.T) {
	assert := require.New(t)

	testCases := []struct {
		env   string
		flags []string
		want  int
	}{
		{"", nil, defaultCacheSize},
		{"0", nil, 0},
		{"64", nil, 64},
		{"bogus", nil, defaultCacheSize},
		{"-3", nil, defaultCacheSize},
		{"64", []string{"--cache-size", "0"}, 0},
		{"0", []string{"--cache-size", "32"}, 32},
	}
	for _, tc := range testCases {
		s := resolveSettings(findCmd(t, "lookup", tc.flags...),
			Cfg{CacheSize: tc.env})
		assert.Equal(tc.want, s.cacheSize, "env %q flags %v",
			tc.env, tc.flags)
	}
}

func TestPrintLookups(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()

	l, cleanup := newTestLookup(t, ouidb.BackendSQLite, testDataset)
	defer cleanup()

	var out bytes.Buffer
	macs := []string{"00:90:00:aa:bb:cc", "11:22:33:44:55:66", "AB:CD"}
	assert.NoError(printLookups(ctx, &out, l, macs))
	assert.Contains(out.String(), "prefix index is cold")

	assert.NoError(l.Initialize(ctx, false))
	out.Reset()
	assert.NoError(printLookups(ctx, &out, l, macs))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(lines, 4)
	assert.Contains(lines[0], "VENDOR")
	assert.Contains(lines[1], "009000")
	assert.Contains(lines[1], "Acme Inc")
	assert.Contains(lines[2], unknownVendor)
	assert.Contains(lines[3], "-invalid-")
	assert.NotContains(out.String(), "cold")
}

func TestPrintCompare(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()

	l, cleanup := newTestLookup(t, ouidb.BackendBolt, testDataset)
	defer cleanup()
	assert.NoError(l.Initialize(ctx, false))

	ieee, err := oui.OpenStatic(strings.NewReader(mockOUI))
	assert.NoError(err)

	var out bytes.Buffer
	n, err := printCompare(ctx, &out, l, ieee,
		[]string{"58:cb:52:12:34:56", "00:90:00:11:22:33"})
	assert.NoError(err)
	assert.Equal(1, n)
	assert.Contains(out.String(), "Google Inc.")
	assert.Contains(out.String(), "1 of 2 addresses")

	out.Reset()
	n, err = printCompare(ctx, &out, l, ieee, []string{"58:cb:52:12:34:56"})
	assert.NoError(err)
	assert.Equal(0, n)
	assert.Contains(out.String(), "all 1 addresses agree")
}

func TestPrintStatus(t *testing.T) {
	assert := require.New(t)

	s := settings{
		dbPath:  "/tmp/index.db",
		backend: ouidb.BackendSQLite,
		dataset: "/tmp/nmap-mac-prefixes",
	}

	var out bytes.Buffer
	assert.NoError(printStatus(&out, s, true, 3))
	assert.Contains(out.String(), "/tmp/index.db")
	assert.Contains(out.String(), "populated")
	assert.Contains(out.String(), "3")

	out.Reset()
	assert.NoError(printStatus(&out, s, false, 0))
	assert.Contains(out.String(), "cold")
}

func TestPrintLoadStats(t *testing.T) {
	assert := require.New(t)

	var out bytes.Buffer
	printLoadStats(&out, ouidb.LoadStats{Source: "test", Loaded: 3})
	assert.Equal("loaded 3 entries from test in 0s\n", out.String())

	out.Reset()
	printLoadStats(&out, ouidb.LoadStats{
		Source:   "test",
		Loaded:   3,
		Skipped:  1,
		Duration: 1500 * time.Millisecond,
	})
	assert.Contains(out.String(), "in 1.5s")
	assert.Contains(out.String(), "1 malformed lines skipped")
}

func TestWaitAsync(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()

	l, cleanup := newTestLookup(t, ouidb.BackendSQLite, testDataset)
	defer cleanup()

	var out bytes.Buffer
	assert.NoError(waitAsync(&out, l.InitializeAsync(ctx, false),
		time.Millisecond))
	assert.True(strings.HasSuffix(out.String(), "\n"))
	assert.Equal(3, l.LastLoad().Loaded)
}

const nmapXML = `<?xml version="1.0" encoding="UTF-8"?>
<nmaprun scanner="nmap" args="nmap -sn -oX - 192.168.1.0/24" start="1583020800" version="7.80">
<host starttime="1583020800" endtime="1583020801">
<status state="up" reason="arp-response" reason_ttl="0"/>
<address addr="192.168.1.10" addrtype="ipv4"/>
<address addr="00:90:00:AA:BB:CC" addrtype="mac" vendor="Acme"/>
</host>
<host starttime="1583020800" endtime="1583020801">
<status state="up" reason="localhost-response" reason_ttl="0"/>
<address addr="192.168.1.1" addrtype="ipv4"/>
</host>
<host starttime="1583020800" endtime="1583020801">
<status state="up" reason="arp-response" reason_ttl="0"/>
<address addr="192.168.1.20" addrtype="ipv4"/>
<address addr="58:CB:52:01:02:03" addrtype="mac" vendor="Google"/>
</host>
</nmaprun>
`

func TestNmapAddresses(t *testing.T) {
	assert := require.New(t)

	macs, err := nmapAddresses([]byte(nmapXML))
	assert.NoError(err)
	assert.Equal([]string{"00:90:00:AA:BB:CC", "58:CB:52:01:02:03"}, macs)

	_, err = nmapAddresses([]byte("<nmaprun"))
	assert.Error(err)
}

func TestMacArgs(t *testing.T) {
	assert := require.New(t)

	dir, err := ioutil.TempDir("", "ouisearch-test")
	assert.NoError(err)
	defer os.RemoveAll(dir)

	xmlFile := filepath.Join(dir, "scan.xml")
	assert.NoError(ioutil.WriteFile(xmlFile, []byte(nmapXML), 0644))

	macs, err := macArgs(findCmd(t, "lookup"), []string{"11:22:33:44:55:66"})
	assert.NoError(err)
	assert.Equal([]string{"11:22:33:44:55:66"}, macs)

	macs, err = macArgs(findCmd(t, "lookup", "--nmap-xml", xmlFile),
		[]string{"11:22:33:44:55:66"})
	assert.NoError(err)
	assert.Len(macs, 3)
	assert.Equal("58:CB:52:01:02:03", macs[2])

	_, err = macArgs(findCmd(t, "compare"), nil)
	assert.Error(err)

	_, err = macArgs(findCmd(t, "lookup", "--nmap-xml",
		filepath.Join(dir, "missing.xml")), nil)
	assert.Error(err)
}
