// Copyright 2020 The go-ethereum Authors
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

package rpc

import (
	"time"

	"github.com/sunyihoo/duplexrpc/metrics"
)

var (
	rpcRequestGauge        = metrics.NewRegisteredGauge("rpc/requests", nil) // 请求计数器
	successfulRequestGauge = metrics.NewRegisteredGauge("rpc/success", nil)
	failedRequestGauge     = metrics.NewRegisteredGauge("rpc/failure", nil)

	rpcServingTimer = metrics.NewRegisteredTimer("rpc/duration/all", nil)

	connectionGauge = metrics.NewRegisteredGauge("rpc/connections", nil)
	flowGauge       = metrics.NewRegisteredGauge("rpc/flows", nil) // active streams, subscriptions and ingests

	decodeErrorMeter      = metrics.NewRegisteredCounter("rpc/decode/errors", nil)
	heartbeatTimeoutMeter = metrics.NewRegisteredCounter("rpc/heartbeat/timeouts", nil)
	ackFailureMeter       = metrics.NewRegisteredCounter("rpc/acks/failed", nil)
	reconnectMeter        = metrics.NewRegisteredCounter("rpc/reconnects", nil)
)

// updateServeMetrics tracks the outcome and serving time of a request.
func updateServeMetrics(success bool, start time.Time) {
	rpcRequestGauge.Inc(1)
	if success {
		successfulRequestGauge.Inc(1)
	} else {
		failedRequestGauge.Inc(1)
	}
	rpcServingTimer.UpdateSince(start)
}
