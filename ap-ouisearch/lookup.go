/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package main

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"macvendor/common/ouidb"

	"github.com/fatih/color"
	"github.com/klauspost/oui"
	nmap "github.com/lair-framework/go-nmap"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	prettytable "github.com/tatsushid/go-prettytable"
)

const unknownVendor = "-unknown-"

func prefixOf(mac string) string {
	if p, err := ouidb.Normalize(mac); err == nil {
		return p
	}
	return "-invalid-"
}

func printLookups(ctx context.Context, w io.Writer, l *ouidb.Lookup,
	macs []string) error {

	if !l.IsPopulated(ctx) {
		fmt.Fprintln(w, color.YellowString(
			"warning: prefix index is cold; run 'load' first"))
	}

	table, err := prettytable.NewTable(
		prettytable.Column{Header: "HWADDR"},
		prettytable.Column{Header: "PREFIX"},
		prettytable.Column{Header: "VENDOR"},
	)
	if err != nil {
		return err
	}
	table.Separator = "  "

	for _, mac := range macs {
		vendor, ok := l.GetVendor(ctx, mac)
		if !ok {
			vendor = unknownVendor
		}
		table.AddRow(mac, prefixOf(mac), vendor)
	}
	_, err = table.WriteTo(w)
	return err
}

// nmapAddresses returns the hardware addresses of the hosts found by an nmap
// scan, in the order nmap reported them.
func nmapAddresses(content []byte) ([]string, error) {
	scan, err := nmap.Parse(content)
	if err != nil {
		return nil, errors.Wrap(err, "parsing nmap results")
	}

	macs := make([]string, 0)
	for _, host := range scan.Hosts {
		for _, addr := range host.Addresses {
			if addr.AddrType == "mac" {
				macs = append(macs, addr.Addr)
			}
		}
	}
	return macs, nil
}

// macArgs collects the addresses named on the command line and those in the
// nmap XML file given with --nmap-xml.
func macArgs(cmd *cobra.Command, args []string) ([]string, error) {
	macs := args
	if xmlFile, _ := cmd.Flags().GetString("nmap-xml"); xmlFile != "" {
		content, err := ioutil.ReadFile(xmlFile)
		if err != nil {
			return nil, errors.Wrap(err, "reading nmap results")
		}
		scanned, err := nmapAddresses(content)
		if err != nil {
			return nil, errors.Wrap(err, xmlFile)
		}
		macs = append(macs, scanned...)
	}
	if len(macs) == 0 {
		return nil, errors.New("no hardware addresses given")
	}
	return macs, nil
}

func lookupMain(cmd *cobra.Command, args []string) error {
	macs, err := macArgs(cmd, args)
	if err != nil {
		return err
	}

	s := resolveSettings(cmd, environ)
	l, closer, err := openLookup(s)
	if err != nil {
		return err
	}
	defer closer()

	return printLookups(context.Background(), os.Stdout, l, macs)
}

func newLookupCmd() *cobra.Command {
	lookupCmd := &cobra.Command{
		Use:   "lookup [MAC...]",
		Short: "Look up the manufacturer of each MAC address",
		RunE:  lookupMain,
	}
	lookupCmd.Flags().String("nmap-xml", "", "also look up the hosts in an nmap -oX results file")
	return lookupCmd
}

// printCompare looks up each address in both the prefix index and the IEEE
// registry, and returns the number of addresses on which they disagree.
func printCompare(ctx context.Context, w io.Writer, l *ouidb.Lookup,
	ieee oui.StaticDB, macs []string) (int, error) {

	table, err := prettytable.NewTable(
		prettytable.Column{Header: "HWADDR"},
		prettytable.Column{Header: "INDEX"},
		prettytable.Column{Header: "IEEE"},
		prettytable.Column{Header: ""},
	)
	if err != nil {
		return 0, err
	}
	table.Separator = "  "

	var disagree int
	for _, mac := range macs {
		vendor, ok := l.GetVendor(ctx, mac)
		if !ok {
			vendor = unknownVendor
		}

		registered := unknownVendor
		if entry, err := ieee.Query(mac); err == nil {
			registered = entry.Manufacturer
		} else {
			slog.Debugw("IEEE query failed", "hwaddr", mac, "error", err)
		}

		mark := ""
		if ok != (registered != unknownVendor) {
			mark = "*"
			disagree++
		}
		table.AddRow(mac, vendor, registered, mark)
	}
	if _, err = table.WriteTo(w); err != nil {
		return disagree, err
	}

	if disagree > 0 {
		fmt.Fprintln(w, color.RedString("%d of %d addresses resolved in only one source",
			disagree, len(macs)))
	} else {
		fmt.Fprintln(w, color.GreenString("all %d addresses agree", len(macs)))
	}
	return disagree, nil
}

func compareMain(cmd *cobra.Command, args []string) error {
	macs, err := macArgs(cmd, args)
	if err != nil {
		return err
	}

	s := resolveSettings(cmd, environ)

	ieee, err := oui.OpenStaticFile(s.ieeeFile)
	if err != nil {
		return errors.Wrapf(err, "opening IEEE registry %s", s.ieeeFile)
	}
	slog.Infow("opened IEEE registry", "path", s.ieeeFile,
		"generated", ieee.Generated())

	l, closer, err := openLookup(s)
	if err != nil {
		return err
	}
	defer closer()

	_, err = printCompare(context.Background(), os.Stdout, l, ieee, macs)
	return err
}

func newCompareCmd() *cobra.Command {
	compareCmd := &cobra.Command{
		Use:   "compare [MAC...]",
		Short: "Compare index results with an IEEE oui.txt registry",
		RunE:  compareMain,
	}
	compareCmd.Flags().String("nmap-xml", "", "also compare the hosts in an nmap -oX results file")
	compareCmd.Flags().String("ieee-file", "", "IEEE oui.txt path [$OUISEARCH_IEEE_FILE]")
	return compareCmd
}
