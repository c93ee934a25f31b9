// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"log/slog"
	"time"
)

// SerialConfig describes a serial line. The zero value is unusable; fill in
// at least Device. Parity is "N", "E" or "O".
type SerialConfig struct {
	Device   string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
}

func (c *SerialConfig) applyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = 19200
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.StopBits == 0 {
		c.StopBits = 1
	}
	if c.Parity == "" {
		c.Parity = "N"
	}
}

// Option is a functional option for configuring the client.
type Option func(*clientOptions)

type clientOptions struct {
	// Connection settings
	unitID  UnitID
	timeout time.Duration

	// Pause between writing a request and reading the reply on
	// half-duplex links.
	settleDelay time.Duration

	// Logging
	logger *slog.Logger
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		unitID:      1,
		timeout:     DefaultTimeout,
		settleDelay: DefaultSettleDelay,
		logger:      slog.Default(),
	}
}

// WithUnitID sets the default unit ID for requests.
func WithUnitID(id UnitID) Option {
	return func(o *clientOptions) {
		o.unitID = id
	}
}

// WithTimeout sets the timeout for operations.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithSettleDelay sets the pause between sending a request and reading the
// reply on half-duplex transports.
func WithSettleDelay(d time.Duration) Option {
	return func(o *clientOptions) {
		o.settleDelay = d
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// ServerOption is a functional option for configuring the server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger      *slog.Logger
	maxConns    int
	readTimeout time.Duration

	// When set, the server impersonates exactly this unit and silently
	// drops requests addressed elsewhere.
	singleUnit *UnitID
}

func defaultServerOptions() *serverOptions {
	return &serverOptions{
		logger:      slog.Default(),
		maxConns:    100,
		readTimeout: 30 * time.Second,
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithMaxConnections sets the maximum number of concurrent connections.
func WithMaxConnections(n int) ServerOption {
	return func(o *serverOptions) {
		o.maxConns = n
	}
}

// WithReadTimeout sets the read timeout for client connections.
func WithReadTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.readTimeout = d
	}
}

// WithSingleUnit pins the server to one unit id. Requests addressed to any
// other id are dropped without a reply, mimicking an unshared serial slave.
func WithSingleUnit(id UnitID) ServerOption {
	return func(o *serverOptions) {
		o.singleUnit = &id
	}
}
