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
	"fmt"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"github.com/sunyihoo/duplexrpc/log"
	"github.com/sunyihoo/duplexrpc/metrics"
)

type reporter struct {
	reg      *metrics.Registry
	interval time.Duration

	url       string
	database  string
	username  string
	password  string
	namespace string
	tags      map[string]string

	client client.Client
}

// InfluxDBWithTags starts a InfluxDB reporter which will post the from the
// given metrics.Registry at each d interval with the specified tags, until
// ctx is cancelled.
func InfluxDBWithTags(ctx context.Context, r *metrics.Registry, d time.Duration, url, database, username, password, namespace string, tags map[string]string) {
	rep := &reporter{
		reg:       r,
		interval:  d,
		url:       url,
		database:  database,
		username:  username,
		password:  password,
		namespace: namespace,
		tags:      tags,
	}
	if err := rep.makeClient(); err != nil {
		log.Warn("Unable to make InfluxDB client", "err", err)
		return
	}
	rep.run(ctx)
}

// InfluxDBWithTagsOnce runs once an InfluxDB reporter and post the given
// metrics.Registry with the specified tags.
func InfluxDBWithTagsOnce(r *metrics.Registry, url, database, username, password, namespace string, tags map[string]string) error {
	rep := &reporter{
		reg:       r,
		url:       url,
		database:  database,
		username:  username,
		password:  password,
		namespace: namespace,
		tags:      tags,
	}
	if err := rep.makeClient(); err != nil {
		return fmt.Errorf("unable to make InfluxDB client. err: %v", err)
	}
	defer rep.client.Close()
	if err := rep.send(time.Now()); err != nil {
		return fmt.Errorf("unable to send to InfluxDB. err: %v", err)
	}
	return nil
}

func (r *reporter) makeClient() (err error) {
	r.client, err = client.NewHTTPClient(client.HTTPConfig{
		Addr:     r.url,
		Username: r.username,
		Password: r.password,
		Timeout:  10 * time.Second,
	})
	return
}

func (r *reporter) run(ctx context.Context) {
	intervalTicker := time.NewTicker(r.interval)
	pingTicker := time.NewTicker(time.Second * 5)
	defer intervalTicker.Stop()
	defer pingTicker.Stop()
	defer r.client.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-intervalTicker.C:
			if err := r.send(time.Now()); err != nil {
				log.Warn("Unable to send to InfluxDB", "err", err)
			}
		case <-pingTicker.C:
			_, _, err := r.client.Ping(0)
			if err != nil {
				log.Warn("Got error while sending a ping to InfluxDB, trying to recreate client", "err", err)
				if err = r.makeClient(); err != nil {
					log.Warn("Unable to make InfluxDB client", "err", err)
				}
			}
		}
	}
}

func (r *reporter) send(now time.Time) error {
	bps, err := client.NewBatchPoints(client.BatchPointsConfig{Database: r.database})
	if err != nil {
		return err
	}
	for _, m := range readMeters(r.reg, r.namespace, r.tags) {
		pt, err := client.NewPoint(m.name, m.tags, m.fields, now)
		if err != nil {
			log.Warn("Could not create influxdb point", "measurement", m.name, "err", err)
			continue
		}
		bps.AddPoint(pt)
	}
	return r.client.Write(bps)
}
