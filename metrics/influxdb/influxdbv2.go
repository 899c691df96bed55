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

package influxdb

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/sunyihoo/duplexrpc/log"
	"github.com/sunyihoo/duplexrpc/metrics"
)

type v2Reporter struct {
	reg      *metrics.Registry
	interval time.Duration

	endpoint     string
	token        string
	bucket       string
	organization string
	namespace    string
	tags         map[string]string

	client influxdb2.Client
	write  api.WriteAPI
}

// InfluxDBV2WithTags starts InfluxDB reporter which will post the metrics from
// the given registry at each d interval with the specified tags, until ctx is
// cancelled.
func InfluxDBV2WithTags(ctx context.Context, r *metrics.Registry, d time.Duration, endpoint string, token string, bucket string, organization string, namespace string, tags map[string]string) {
	rep := newV2Reporter(r, d, endpoint, token, bucket, organization, namespace, tags)
	rep.run(ctx)
}

func newV2Reporter(r *metrics.Registry, d time.Duration, endpoint, token, bucket, organization, namespace string, tags map[string]string) *v2Reporter {
	rep := &v2Reporter{
		reg:          r,
		interval:     d,
		endpoint:     endpoint,
		token:        token,
		bucket:       bucket,
		organization: organization,
		namespace:    namespace,
		tags:         tags,
	}
	rep.client = influxdb2.NewClient(rep.endpoint, rep.token)
	rep.write = rep.client.WriteAPI(rep.organization, rep.bucket)
	return rep
}

func (r *v2Reporter) run(ctx context.Context) {
	intervalTicker := time.NewTicker(r.interval)
	defer intervalTicker.Stop()
	defer r.client.Close()

	errs := r.write.Errors()
	for {
		select {
		case <-ctx.Done():
			r.write.Flush()
			return
		case <-intervalTicker.C:
			r.send(time.Now())
		case err := <-errs:
			log.Warn("Unable to send to InfluxDB", "err", err)
		}
	}
}

// send queues the current measurements on the non-blocking write API.
func (r *v2Reporter) send(now time.Time) {
	for _, m := range readMeters(r.reg, r.namespace, r.tags) {
		r.write.WritePoint(influxdb2.NewPoint(m.name, m.tags, m.fields, now))
	}
}
