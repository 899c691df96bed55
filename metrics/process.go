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
	"context"
	"runtime"
	"time"
)

// processMeters are the gauges updated by CollectProcessMetrics.
type processMeters struct {
	cpuSysLoad    *Gauge
	cpuSysWait    *Gauge
	cpuProcLoad   *Gauge
	cpuGoroutines *Gauge

	memRSS    *Gauge
	memHeld   *Gauge
	memUsed   *Gauge
	memPauses *Counter

	lastCPU  CPUStats
	lastGC   uint32
	lastTime time.Time
}

func newProcessMeters(r *Registry) *processMeters {
	return &processMeters{
		cpuSysLoad:    NewRegisteredGauge("system/cpu/sysload", r),
		cpuSysWait:    NewRegisteredGauge("system/cpu/syswait", r),
		cpuProcLoad:   NewRegisteredGauge("system/cpu/procload", r),
		cpuGoroutines: NewRegisteredGauge("system/cpu/goroutines", r),
		memRSS:        NewRegisteredGauge("system/memory/rss", r),
		memHeld:       NewRegisteredGauge("system/memory/held", r),
		memUsed:       NewRegisteredGauge("system/memory/used", r),
		memPauses:     NewRegisteredCounter("system/memory/pauses", r),
	}
}

// update samples the runtime and the OS once. CPU loads are reported as
// percentages of one core over the time since the previous sample.
func (m *processMeters) update(now time.Time) {
	var (
		cpu CPUStats
		mem runtime.MemStats
	)
	ReadCPUStats(&cpu)
	runtime.ReadMemStats(&mem)

	if !m.lastTime.IsZero() {
		secs := now.Sub(m.lastTime).Seconds()
		if secs > 0 {
			m.cpuSysLoad.Update(int64((cpu.GlobalTime - m.lastCPU.GlobalTime) / secs * 100))
			m.cpuSysWait.Update(int64((cpu.GlobalWait - m.lastCPU.GlobalWait) / secs * 100))
			m.cpuProcLoad.Update(int64((cpu.LocalTime - m.lastCPU.LocalTime) / secs * 100))
		}
	}
	m.cpuGoroutines.Update(int64(runtime.NumGoroutine()))
	m.memRSS.Update(int64(readProcessRSS()))
	m.memHeld.Update(int64(mem.HeapSys - mem.HeapReleased))
	m.memUsed.Update(int64(mem.Alloc))
	m.memPauses.Inc(int64(mem.NumGC - m.lastGC))

	m.lastCPU, m.lastGC, m.lastTime = cpu, mem.NumGC, now
}

// CollectProcessMetrics periodically collects various metrics about the running
// process until ctx is cancelled.
func CollectProcessMetrics(ctx context.Context, refresh time.Duration) {
	// Short circuit if the metrics system is disabled
	if !Enabled() {
		return
	}
	m := newProcessMeters(DefaultRegistry)
	m.update(time.Now())

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.update(now)
		}
	}
}
