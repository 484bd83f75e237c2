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
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"macvendor/common/ouidb"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/mux"
	apachelog "github.com/lestrrat-go/apache-logformat"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tevino/abool"
	"github.com/unrolled/secure"
	"github.com/urfave/negroni"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type server struct {
	lookup  *ouidb.Lookup
	log     *zap.SugaredLogger
	ready   *abool.AtomicBool
	loading *abool.AtomicBool

	// Background loads run under ctx; stop cancels it and waits on wg.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type vendorResponse struct {
	HWAddr string `json:"hwaddr"`
	Prefix string `json:"prefix"`
	Vendor string `json:"vendor"`
}

type statusResponse struct {
	Ready    bool             `json:"ready"`
	Loading  bool             `json:"loading"`
	Entries  int              `json:"entries"`
	Source   string           `json:"source,omitempty"`
	LastLoad *ouidb.LoadStats `json:"last_load,omitempty"`
}

func newServer(l *ouidb.Lookup, log *zap.SugaredLogger) *server {
	ctx, cancel := context.WithCancel(context.Background())
	return &server{
		lookup:  l,
		log:     log,
		ready:   abool.New(),
		loading: abool.New(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// start kicks off a background initialization unless one is already
// running.  Lookups are refused until it completes.
func (s *server) start(reinitialize bool) bool {
	if !s.loading.SetToIf(false, true) {
		return false
	}
	if reinitialize {
		s.ready.UnSet()
	}
	s.wg.Add(1)
	s.lookup.InitializeAsyncFunc(s.ctx, reinitialize, s.loaded)
	return true
}

// stop cancels any running load, which rolls back its transaction, and
// waits for it to finish.  The index may be closed once stop returns.
func (s *server) stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *server) loaded(err error) {
	defer s.wg.Done()
	defer s.loading.UnSet()

	if err != nil {
		s.log.Errorw("prefix index initialization failed", "error", err)
	}
	s.ready.SetTo(s.lookup.IsPopulated(context.Background()))
	if s.ready.IsSet() {
		s.log.Infow("prefix index ready")
	}
}

func (s *server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Errorw("failed to marshal response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		s.log.Warnw("failed to write response", "error", err)
	}
}

// GET /v1/vendor/{mac}
func (s *server) vendorHandler(w http.ResponseWriter, r *http.Request) {
	if !s.ready.IsSet() {
		http.Error(w, "prefix index not ready", http.StatusServiceUnavailable)
		return
	}

	mac := mux.Vars(r)["mac"]
	prefix, err := ouidb.Normalize(mac)
	if err != nil {
		http.Error(w, "invalid hardware address", http.StatusBadRequest)
		return
	}

	vendor, ok := s.lookup.GetVendor(r.Context(), mac)
	if !ok {
		http.Error(w, "no vendor for "+prefix, http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, &vendorResponse{
		HWAddr: mac,
		Prefix: prefix,
		Vendor: vendor,
	})
}

// GET /v1/status
func (s *server) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Ready:   s.ready.IsSet(),
		Loading: s.loading.IsSet(),
	}
	if src := s.lookup.Source(); src != nil {
		resp.Source = src.Name()
	}
	if st := s.lookup.LastLoad(); !st.Started.IsZero() {
		resp.LastLoad = &st
	}

	count, err := s.lookup.Store().Count(r.Context())
	if err != nil {
		s.log.Errorw("counting prefixes", "error", err)
		http.Error(w, "index unavailable", http.StatusInternalServerError)
		return
	}
	resp.Entries = count
	s.writeJSON(w, http.StatusOK, &resp)
}

// POST /v1/reload
func (s *server) reloadHandler(w http.ResponseWriter, r *http.Request) {
	if !s.start(true) {
		http.Error(w, "reload already in progress", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) router(gatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/v1/vendor/{mac}", s.vendorHandler).Methods("GET")
	router.HandleFunc("/v1/status", s.statusHandler).Methods("GET")
	router.HandleFunc("/v1/reload", s.reloadHandler).Methods("POST")
	router.Handle("/metrics", promhttp.HandlerFor(gatherer,
		promhttp.HandlerOpts{}))
	return router
}

// handler wraps the router in the middleware stack.  Requests are written to
// accessLog in Apache combined format when it is not nil.
func (s *server) handler(gatherer prometheus.Gatherer, accessLog io.Writer) http.Handler {
	secureMW := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
	})

	var h http.Handler = gziphandler.GzipHandler(s.router(gatherer))
	if accessLog != nil {
		h = apachelog.CombinedLog.Wrap(h, accessLog)
	}

	n := negroni.New(negroni.NewRecovery())
	n.Use(negroni.HandlerFunc(secureMW.HandlerFuncWithNext))
	n.UseHandler(h)
	return n
}

func serveMain(cmd *cobra.Command, args []string) error {
	st := resolveSettings(cmd, environ)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())

	l, closer, err := openLookup(st, ouidb.WithRegisterer(reg))
	if err != nil {
		return err
	}
	defer closer()

	srv := newServer(l, slog)
	defer srv.stop()
	srv.start(false)

	var accessLog io.Writer
	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		accessLog = os.Stderr
	}

	httpSrv := &http.Server{
		Addr:    st.listen,
		Handler: srv.handler(reg, accessLog),
	}
	errs := make(chan error, 1)
	go func() {
		slog.Infow("listening", "addr", st.listen)
		errs <- httpSrv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		slog.Infof("Signal (%v) received, stopping", s)
	case err = <-errs:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer vendor queries over HTTP",
		Args:  cobra.NoArgs,
		RunE:  serveMain,
	}
	serveCmd.Flags().String("listen", "", "listen address [$OUISEARCH_LISTEN]")
	serveCmd.Flags().Bool("quiet", false, "suppress the access log")
	return serveCmd
}
