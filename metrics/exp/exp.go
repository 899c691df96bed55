// Copyright 2025 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package exp serves the metrics registry over HTTP.
package exp

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sunyihoo/duplexrpc/log"
	"github.com/sunyihoo/duplexrpc/metrics"
)

// PrometheusPath is where the scrape endpoint is mounted.
const PrometheusPath = "/debug/metrics/prometheus"

// Handler returns the Prometheus scrape handler for r.
func Handler(r *metrics.Registry) http.Handler {
	if r == nil {
		r = metrics.DefaultRegistry
	}
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

// Exp registers the scrape handler on the given mux.
func Exp(mux *http.ServeMux, r *metrics.Registry) {
	mux.Handle(PrometheusPath, Handler(r))
}

// Setup starts a dedicated metrics server on address.
func Setup(address string) *http.Server {
	mux := http.NewServeMux()
	Exp(mux, metrics.DefaultRegistry)
	srv := &http.Server{Addr: address, Handler: mux}
	log.Info("Starting metrics server", "addr", "http://"+address+PrometheusPath)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Failure in running metrics server", "err", err)
		}
	}()
	return srv
}
