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
	"os"
	"strconv"
	"time"

	"macvendor/common/ouidb"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	prettytable "github.com/tatsushid/go-prettytable"
)

const progressInterval = 500 * time.Millisecond

func printLoadStats(w io.Writer, st ouidb.LoadStats) {
	fmt.Fprintf(w, "loaded %d entries from %s in %s",
		st.Loaded, st.Source, st.Duration.Round(time.Millisecond))
	if st.Rejected > 0 || st.Skipped > 0 {
		fmt.Fprintf(w, " (%d rejected, %d malformed lines skipped)",
			st.Rejected, st.Skipped)
	}
	fmt.Fprintln(w)
}

// waitAsync blocks on an asynchronous initialization, writing a progress dot
// to w every interval.
func waitAsync(w io.Writer, done <-chan error, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			fmt.Fprintln(w)
			return err
		case <-ticker.C:
			fmt.Fprint(w, ".")
		}
	}
}

func loadMain(cmd *cobra.Command, args []string) error {
	reinit, _ := cmd.Flags().GetBool("reinit")
	async, _ := cmd.Flags().GetBool("async")

	s := resolveSettings(cmd, environ)
	l, closer, err := openLookup(s)
	if err != nil {
		return err
	}
	defer closer()

	ctx := context.Background()
	if !reinit && l.IsPopulated(ctx) {
		fmt.Printf("prefix index %s is already populated; use --reinit to rebuild\n",
			s.dbPath)
		return nil
	}

	if async {
		fmt.Printf("loading %s", s.dataset)
		err = waitAsync(os.Stdout, l.InitializeAsync(ctx, reinit),
			progressInterval)
	} else {
		err = l.Initialize(ctx, reinit)
	}
	if err != nil {
		if ouidb.IsDatasetReadError(err) {
			return errors.Wrap(err, "dataset unavailable")
		}
		return err
	}

	printLoadStats(os.Stdout, l.LastLoad())
	return nil
}

func newLoadCmd() *cobra.Command {
	loadCmd := &cobra.Command{
		Use:   "load",
		Short: "Build the prefix index from the dataset",
		Args:  cobra.NoArgs,
		RunE:  loadMain,
	}
	loadCmd.Flags().Bool("reinit", false, "drop and rebuild an existing index")
	loadCmd.Flags().Bool("async", false, "load on a background goroutine")
	return loadCmd
}

func printStatus(w io.Writer, s settings, populated bool, count int) error {
	table, err := prettytable.NewTable(
		prettytable.Column{Header: "SETTING"},
		prettytable.Column{Header: "VALUE"},
	)
	if err != nil {
		return err
	}
	table.Separator = "  "

	state := color.GreenString("populated")
	if !populated {
		state = color.YellowString("cold")
	}

	table.AddRow("index", s.dbPath)
	table.AddRow("backend", s.backend)
	table.AddRow("dataset", s.dataset)
	table.AddRow("state", state)
	table.AddRow("entries", strconv.Itoa(count))

	_, err = table.WriteTo(w)
	return err
}

func statusMain(cmd *cobra.Command, args []string) error {
	s := resolveSettings(cmd, environ)
	l, closer, err := openLookup(s)
	if err != nil {
		return err
	}
	defer closer()

	ctx := context.Background()
	count, err := l.Store().Count(ctx)
	if err != nil {
		return errors.Wrap(err, "counting prefixes")
	}
	return printStatus(os.Stdout, s, count > 0, count)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the state of the prefix index",
		Args:  cobra.NoArgs,
		RunE:  statusMain,
	}
}
