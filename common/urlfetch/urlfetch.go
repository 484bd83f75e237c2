/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package urlfetch downloads reference datasets, using a sidecar metadata
// file to send conditional requests on later runs.
package urlfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type downloadMeta struct {
	Time     time.Time
	Modified string
	Etag     string
	Size     int64
}

// Fetcher downloads files onto a filesystem.
type Fetcher struct {
	Fs     afero.Fs
	Client *http.Client
	Log    *zap.SugaredLogger
}

// New returns a Fetcher writing to the OS filesystem with the default HTTP
// client.
func New(log *zap.SugaredLogger) *Fetcher {
	return &Fetcher{
		Fs:     afero.NewOsFs(),
		Client: http.DefaultClient,
		Log:    log,
	}
}

func (f *Fetcher) getDownloadMeta(name string) (*downloadMeta, error) {
	var meta downloadMeta

	file, err := afero.ReadFile(f.Fs, name)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %v", name, err)
	}

	if err = json.Unmarshal(file, &meta); err != nil {
		return nil, fmt.Errorf("failed to load %s: %v", name, err)
	}
	return &meta, nil
}

func (f *Fetcher) putDownloadMeta(name string, meta *downloadMeta) error {
	s, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record %v: %v", meta, err)
	}

	if err = afero.WriteFile(f.Fs, name, s, 0644); err != nil {
		return fmt.Errorf("failed to write meta file %s: %v", name, err)
	}
	return nil
}

// FetchURL downloads url into target.  If meta is not empty, the ETag and
// Last-Modified headers of the response are cached there and replayed on
// the next call, so an unchanged file is not transferred again.  The
// boolean result reports whether target was (re)written.
func (f *Fetcher) FetchURL(ctx context.Context, url, target, meta string) (bool, error) {
	var old *downloadMeta
	var err error

	log := f.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return false, errors.Wrap(err, "unable to download "+url)
	}
	req = req.WithContext(ctx)

	if meta != "" {
		if old, err = f.getDownloadMeta(meta); err != nil {
			log.Warnw("ignoring download metadata", "target", target,
				"error", err)
		}
		if old != nil {
			if old.Etag != "" {
				req.Header.Add("If-None-Match", old.Etag)
			}
			if old.Modified != "" {
				req.Header.Add("If-Modified-Since", old.Modified)
			}
		}
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "unable to connect to "+url)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && old != nil {
		log.Infow("content unchanged", "target", target,
			"since", old.Time.Format(time.RFC3339))
		return false, nil
	} else if resp.StatusCode != http.StatusOK {
		return false, errors.Errorf("unable to fetch %s: %s", url,
			resp.Status)
	}

	tmpFile := target + ".tmp"
	outFile, err := f.Fs.Create(tmpFile)
	if err != nil {
		return false, errors.Wrap(err, "failed to create "+tmpFile)
	}

	size, err := io.Copy(outFile, resp.Body)
	if cerr := outFile.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		f.Fs.Remove(tmpFile)
		return false, errors.Wrap(err, "failed to download "+url)
	}
	if err = f.Fs.Rename(tmpFile, target); err != nil {
		f.Fs.Remove(tmpFile)
		return false, errors.Wrap(err, "failed to install "+target)
	}

	now := time.Now()
	if meta != "" {
		// Some servers append this suffix to the tag they send but
		// don't recognize it when it comes back.
		etag := strings.Replace(resp.Header.Get("Etag"), "-gzip", "", 1)

		err = f.putDownloadMeta(meta, &downloadMeta{
			Time:     now,
			Etag:     etag,
			Modified: resp.Header.Get("Last-Modified"),
			Size:     size,
		})
		if err != nil {
			log.Warnw("download metadata not saved", "error", err)
		}
	}

	action := "downloaded"
	if old != nil {
		action = "refreshed"
	}
	log.Infow("dataset "+action, "target", target, "bytes", size,
		"at", now.Format(time.RFC3339))
	return true, nil
}
