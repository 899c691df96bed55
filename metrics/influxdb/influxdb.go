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

// Package influxdb pushes the metrics registry to InfluxDB, either through the
// v1 HTTP API (database, username and password) or the v2 API (organization,
// bucket and token).
package influxdb

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/sunyihoo/duplexrpc/log"
	"github.com/sunyihoo/duplexrpc/metrics"
)

// measurement is a single point derived from a gathered metric.
type measurement struct {
	name   string
	tags   map[string]string
	fields map[string]interface{}
}

// readMeters converts the current state of the registry into measurements.
// Label pairs become tags next to the static tags of the reporter.
func readMeters(r *metrics.Registry, namespace string, tags map[string]string) []measurement {
	families, err := r.Gatherer().Gather()
	if err != nil {
		log.Warn("Unable to gather metrics", "err", err)
	}
	var out []measurement
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			fields := readFields(mf.GetType(), m)
			if fields == nil {
				continue
			}
			out = append(out, measurement{
				name:   namespace + mf.GetName(),
				tags:   mergeTags(tags, m.GetLabel()),
				fields: fields,
			})
		}
	}
	return out
}

func readFields(typ dto.MetricType, m *dto.Metric) map[string]interface{} {
	switch typ {
	case dto.MetricType_COUNTER:
		return map[string]interface{}{"count": m.GetCounter().GetValue()}
	case dto.MetricType_GAUGE:
		return map[string]interface{}{"value": m.GetGauge().GetValue()}
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		count := h.GetSampleCount()
		mean := 0.0
		if count > 0 {
			mean = h.GetSampleSum() / float64(count)
		}
		return map[string]interface{}{
			"count": int64(count),
			"sum":   h.GetSampleSum(),
			"mean":  mean,
		}
	default:
		return nil
	}
}

func mergeTags(static map[string]string, labels []*dto.LabelPair) map[string]string {
	tags := make(map[string]string, len(static)+len(labels))
	for k, v := range static {
		tags[k] = v
	}
	for _, l := range labels {
		tags[l.GetName()] = l.GetValue()
	}
	return tags
}
