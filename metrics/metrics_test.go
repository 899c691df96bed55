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

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromName(t *testing.T) {
	assert.Equal(t, "rpc_duration_all", promName("rpc/duration/all"))
	assert.Equal(t, "rpc_duration_Calculator_Add_int_int", promName("rpc/duration/Calculator/Add(int,int)"))
	assert.Equal(t, "_1x", promName("1x"))
}

func TestRegistryReuse(t *testing.T) {
	r := NewRegistry()
	a := NewRegisteredCounter("rpc/requests", r)
	b := NewRegisteredCounter("rpc/requests", r)
	assert.Same(t, a.c, b.c)

	var names []string
	r.Each(func(name string) { names = append(names, name) })
	assert.Equal(t, []string{"rpc/requests"}, names)
}

func TestMetersRespectEnable(t *testing.T) {
	r := NewRegistry()
	c := NewRegisteredCounter("test/counter", r)
	g := NewRegisteredGauge("test/gauge", r)
	tm := NewRegisteredTimer("test/timer", r)

	enabled.Store(false)
	c.Inc(3)
	g.Inc(2)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.c))
	assert.Equal(t, 0.0, testutil.ToFloat64(g.g))

	Enable()
	defer enabled.Store(false)
	c.Inc(3)
	g.Inc(2)
	g.Dec(1)
	tm.Update(time.Millisecond)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.c))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.g))

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() == "test_timer" {
			found = true
			assert.Equal(t, uint64(1), mf.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
	assert.True(t, found)
}
