/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// ap-ouisearch maintains a persistent OUI prefix index built from an
// nmap-mac-prefixes style dataset, and answers manufacturer queries against
// it from the command line or over HTTP.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"macvendor/common/daemonutils"
	"macvendor/common/ouidb"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tomazk/envcfg"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	pname = "ap-ouisearch"

	defaultDataset    = "nmap-mac-prefixes"
	defaultIndex      = "oui-index.db"
	defaultIEEEFile   = "oui.txt"
	defaultDatasetURL = "https://raw.githubusercontent.com/nmap/nmap/master/nmap-mac-prefixes"
	defaultListen     = "127.0.0.1:9280"
	defaultCacheSize  = 1024
)

// Cfg defines the environment variables used to configure the app.  Command
// line flags take precedence.
type Cfg struct {
	Root       string `envcfg:"APROOT"`
	DBPath     string `envcfg:"OUISEARCH_DB_PATH"`
	Backend    string `envcfg:"OUISEARCH_BACKEND"`
	Dataset    string `envcfg:"OUISEARCH_DATASET"`
	DatasetURL string `envcfg:"OUISEARCH_DATASET_URL"`
	IEEEFile   string `envcfg:"OUISEARCH_IEEE_FILE"`
	Listen     string `envcfg:"OUISEARCH_LISTEN"`
	CacheSize  string `envcfg:"OUISEARCH_CACHE_SIZE"`
}

// settings is the effective configuration after flags, environment and
// defaults have been merged.
type settings struct {
	dbPath     string
	backend    string
	dataset    string
	datasetURL string
	ieeeFile   string
	listen     string
	cacheSize  int
}

var (
	environ Cfg
	slog    = zap.NewNop().Sugar()

	logLevel = daemonutils.LevelFlag{Level: zapcore.WarnLevel}
	logType  daemonutils.LogType
)

func processEnv() error {
	return envcfg.Unmarshal(&environ)
}

func pick(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveSettings merges the flags of cmd with env.  Files default to the
// "etc" directory under APROOT when that is set, and to the working
// directory otherwise.
func resolveSettings(cmd *cobra.Command, env Cfg) settings {
	flag := func(name string) string {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			return f.Value.String()
		}
		return ""
	}

	dataDir := "."
	if env.Root != "" {
		dataDir = filepath.Join(env.Root, "etc")
	}

	s := settings{
		dbPath: pick(flag("db"), env.DBPath,
			filepath.Join(dataDir, defaultIndex)),
		backend: pick(flag("backend"), env.Backend, ouidb.BackendSQLite),
		dataset: pick(flag("dataset"), env.Dataset,
			filepath.Join(dataDir, defaultDataset)),
		datasetURL: pick(flag("url"), env.DatasetURL, defaultDatasetURL),
		ieeeFile: pick(flag("ieee-file"), env.IEEEFile,
			filepath.Join(dataDir, defaultIEEEFile)),
		listen:    pick(flag("listen"), env.Listen, defaultListen),
		cacheSize: defaultCacheSize,
	}

	// An explicit 0 from either source disables the cache.
	if size := pick(flag("cache-size"), env.CacheSize); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n < 0 {
			slog.Warnw("ignoring bad cache size", "value", size,
				"default", defaultCacheSize)
		} else {
			s.cacheSize = n
		}
	}
	return s
}

// openLookup opens the configured index and wraps it in a Lookup.  The
// returned function closes the index.
func openLookup(s settings, opts ...ouidb.Option) (*ouidb.Lookup, func(), error) {
	store, err := ouidb.OpenStore(s.backend, s.dbPath, slog)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening prefix index")
	}

	opts = append([]ouidb.Option{
		ouidb.WithLogger(slog),
		ouidb.WithCache(s.cacheSize),
	}, opts...)
	l := ouidb.New(store, ouidb.NewFileSource(nil, s.dataset), opts...)

	return l, func() {
		if err := store.Close(); err != nil {
			slog.Warnw("closing prefix index", "error", err)
		}
	}, nil
}

func setupLogging(cmd *cobra.Command, args []string) error {
	// Usage is only useful for argument validation failures, which have
	// already happened by now.
	cmd.SilenceUsage = true

	log, err := daemonutils.NewLogger(logType, logLevel.Level)
	if err != nil {
		return errors.Wrap(err, "can't zap")
	}
	slog = log.Named(pname)
	return nil
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               pname,
		Short:             "Look up the manufacturer of a MAC address",
		PersistentPreRunE: setupLogging,
	}
	pf := rootCmd.PersistentFlags()
	pf.String("db", "", "prefix index path [$OUISEARCH_DB_PATH]")
	pf.String("backend", "", "prefix index backend: sqlite or bolt [$OUISEARCH_BACKEND]")
	pf.String("dataset", "", "nmap-mac-prefixes dataset path [$OUISEARCH_DATASET]")
	pf.Int("cache-size", 0, "lookup cache entries, 0 to disable [$OUISEARCH_CACHE_SIZE]")
	pf.Var(&logLevel, "log-level", "log level [debug,info,warn,error]")
	pf.Var(&logType, "log-type", "logging style [dev|prod]")

	rootCmd.AddCommand(newLoadCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newLookupCmd())
	rootCmd.AddCommand(newCompareCmd())
	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}

func main() {
	if err := processEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Environment Error: %s\n", err)
		os.Exit(2)
	}

	err := newRootCmd().Execute()
	_ = slog.Sync()
	os.Exit(map[bool]int{true: 0, false: 1}[err == nil])
}
