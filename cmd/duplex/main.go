// Copyright 2014 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

// duplex runs a duplex RPC node and talks to running ones.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/sunyihoo/duplexrpc/cmd/utils"
	"github.com/sunyihoo/duplexrpc/internal/debug"
	"github.com/sunyihoo/duplexrpc/internal/flags"
	"github.com/sunyihoo/duplexrpc/internal/version"
	"github.com/sunyihoo/duplexrpc/log"
)

const (
	clientIdentifier = "duplex" // Client identifier used in logs and the node name
)

var (
	// nodeFlags are the flags of the serving node.
	nodeFlags = flags.Merge(utils.NodeFlags, utils.MetricsFlags)
)

var app = flags.NewApp("the duplex RPC command line interface")

func init() {
	// Initialize the CLI app and start duplex
	app.Action = duplex
	app.Commands = []*cli.Command{
		// See config.go
		dumpConfigCommand,
		// See clientcmd.go
		callCommand,
		streamCommand,
		subscribeCommand,
		versionCommand,
	}
	app.Flags = flags.Merge(
		nodeFlags,
		[]cli.Flag{configFileFlag},
		debug.Flags,
	)

	app.Before = func(ctx *cli.Context) error {
		flags.MigrateGlobalFlags(ctx)
		if err := debug.Setup(ctx); err != nil {
			return err
		}
		flags.CheckEnvVars(ctx, app.Flags, "DUPLEX")
		return nil
	}
	app.After = func(ctx *cli.Context) error {
		debug.Exit()
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var versionCommand = &cli.Command{
	Action:    printVersion,
	Name:      "version",
	Usage:     "Print version numbers",
	ArgsUsage: " ",
	Description: `
The output of this command is supposed to be machine-readable.
`,
}

func printVersion(ctx *cli.Context) error {
	fmt.Print(version.Info(clientIdentifier))
	return nil
}

// duplex is the main entry point into the system if no special subcommand is
// run. It creates a node based on the command line arguments and runs it in
// blocking mode, waiting for it to be shut down.
func duplex(ctx *cli.Context) error {
	if args := ctx.Args().Slice(); len(args) > 0 {
		return fmt.Errorf("invalid command: %s", args[0])
	}

	stack, cfg := makeConfigNode(ctx)
	defer stack.Close()

	if !cfg.Node.ExtRPCEnabled() {
		log.Warn("Neither --http nor --ws is set, the node serves in-process clients only")
	}
	mctx, stopMetrics := context.WithCancel(ctx.Context)
	defer stopMetrics()
	utils.SetupMetrics(mctx, &cfg.Metrics)

	shutdownTracing, err := utils.SetupTracing(ctx, clientIdentifier, version.WithMeta)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("Failed to flush spans", "err", err)
		}
	}()

	utils.StartNode(ctx, stack)
	stack.Wait()
	return nil
}
