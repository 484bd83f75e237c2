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
	"os"

	"macvendor/common/urlfetch"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func fetchMain(cmd *cobra.Command, args []string) error {
	reload, _ := cmd.Flags().GetBool("reload")
	s := resolveSettings(cmd, environ)

	ctx := context.Background()
	fetcher := urlfetch.New(slog)
	changed, err := fetcher.FetchURL(ctx, s.datasetURL, s.dataset,
		s.dataset+".meta")
	if err != nil {
		return err
	}
	if !changed {
		fmt.Printf("%s is up to date\n", s.dataset)
		if !reload {
			return nil
		}
	} else {
		fmt.Printf("downloaded %s\n", s.dataset)
	}

	if !reload {
		return nil
	}

	l, closer, err := openLookup(s)
	if err != nil {
		return err
	}
	defer closer()

	// An unchanged dataset only needs loading if the index is cold.
	if err = l.Initialize(ctx, changed); err != nil {
		return errors.Wrap(err, "reloading prefix index")
	}
	if st := l.LastLoad(); !st.Started.IsZero() {
		printLoadStats(os.Stdout, st)
	}
	return nil
}

func newFetchCmd() *cobra.Command {
	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the latest dataset",
		Args:  cobra.NoArgs,
		RunE:  fetchMain,
	}
	fetchCmd.Flags().String("url", "", "dataset URL [$OUISEARCH_DATASET_URL]")
	fetchCmd.Flags().Bool("reload", false, "rebuild the prefix index if the dataset changed")
	return fetchCmd
}
