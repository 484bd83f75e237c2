/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package urlfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const prefixes = "009000 Acme Inc\n00000C Cisco Systems\n"

func newServer(hits *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(hits, 1)
			if r.Header.Get("If-None-Match") == `"v1"` {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("Etag", `"v1"`)
			w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
			w.Write([]byte(prefixes))
		}))
}

func TestFetchURL(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()

	var hits int32
	srv := newServer(&hits)
	defer srv.Close()

	f := &Fetcher{
		Fs:     afero.NewMemMapFs(),
		Client: srv.Client(),
		Log:    zaptest.NewLogger(t).Sugar(),
	}

	changed, err := f.FetchURL(ctx, srv.URL, "/prefixes", "/prefixes.meta")
	assert.NoError(err)
	assert.True(changed)

	body, err := afero.ReadFile(f.Fs, "/prefixes")
	assert.NoError(err)
	assert.Equal(prefixes, string(body))

	meta, err := f.getDownloadMeta("/prefixes.meta")
	assert.NoError(err)
	assert.Equal(`"v1"`, meta.Etag)
	assert.Equal(int64(len(prefixes)), meta.Size)

	changed, err = f.FetchURL(ctx, srv.URL, "/prefixes", "/prefixes.meta")
	assert.NoError(err)
	assert.False(changed)
	assert.Equal(int32(2), atomic.LoadInt32(&hits))

	exists, err := afero.Exists(f.Fs, "/prefixes.tmp")
	assert.NoError(err)
	assert.False(exists)
}

func TestFetchURLNoMeta(t *testing.T) {
	assert := require.New(t)

	var hits int32
	srv := newServer(&hits)
	defer srv.Close()

	f := &Fetcher{Fs: afero.NewMemMapFs(), Client: srv.Client()}
	for i := 0; i < 2; i++ {
		changed, err := f.FetchURL(context.Background(), srv.URL,
			"/prefixes", "")
		assert.NoError(err)
		assert.True(changed)
	}
}

func TestFetchURLError(t *testing.T) {
	assert := require.New(t)

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := &Fetcher{Fs: afero.NewMemMapFs(), Client: srv.Client()}
	changed, err := f.FetchURL(context.Background(), srv.URL, "/prefixes", "")
	assert.Error(err)
	assert.False(changed)
	assert.Contains(err.Error(), "404")

	exists, _ := afero.Exists(f.Fs, "/prefixes")
	assert.False(exists)
}
