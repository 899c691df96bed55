// Copyright 2016 The go-ethereum Authors
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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/sunyihoo/duplexrpc/cmd/utils"
	"github.com/sunyihoo/duplexrpc/internal/flags"
	"github.com/sunyihoo/duplexrpc/node"
	"github.com/sunyihoo/duplexrpc/rpc"
)

var (
	endpointFlag = &cli.StringFlag{
		Name:     "endpoint",
		Usage:    "Node endpoint (http, ws, tcp or unix URL)",
		Value:    "ws://" + node.DefaultWSEndpoint(),
		Category: flags.RPCCategory,
	}
	timeoutFlag = &cli.DurationFlag{
		Name:     "timeout",
		Usage:    "Time allowed for a call",
		Value:    30 * time.Second,
		Category: flags.RPCCategory,
	}
	notifyFlag = &cli.BoolFlag{
		Name:     "notify",
		Usage:    "Send the call fire-and-forget without waiting for a result",
		Category: flags.RPCCategory,
	}
	limitFlag = &cli.IntFlag{
		Name:     "limit",
		Usage:    "Stop after this many items (0 = unlimited)",
		Category: flags.RPCCategory,
	}

	clientFlags = []cli.Flag{endpointFlag, utils.JWTSecretFlag}

	callCommand = &cli.Command{
		Action:    callOperation,
		Name:      "call",
		Usage:     "Invoke an operation on a running node",
		ArgsUsage: "<contract> <operation> [args...]",
		Flags:     flags.Merge(clientFlags, []cli.Flag{timeoutFlag, notifyFlag}),
		Description: `
The call command invokes a Call operation and prints its JSON result.
The operation is given by its full signature, e.g. "Publish(string,any)".
Arguments are parsed as JSON; anything else is sent as a string.`,
	}
	streamCommand = &cli.Command{
		Action:    streamOperation,
		Name:      "stream",
		Usage:     "Open a stream on a running node and print its items",
		ArgsUsage: "<contract> <operation> [args...]",
		Flags:     flags.Merge(clientFlags, []cli.Flag{limitFlag}),
	}
	subscribeCommand = &cli.Command{
		Action:    subscribeOperation,
		Name:      "subscribe",
		Usage:     "Subscribe on a running node and print every item until interrupted",
		ArgsUsage: "<contract> <operation> [args...]",
		Flags:     flags.Merge(clientFlags, []cli.Flag{limitFlag}),
	}
)

// dialNode connects to the endpoint given on the command line.
func dialNode(ctx *cli.Context) (*rpc.Client, error) {
	var opts []rpc.ClientOption
	if file := ctx.String(utils.JWTSecretFlag.Name); file != "" {
		secret, err := node.ReadJWTSecret(file)
		if err != nil {
			return nil, err
		}
		opts = append(opts, rpc.WithHTTPAuth(node.NewJWTAuth(secret)))
	}
	return rpc.DialOptions(ctx.Context, ctx.String(endpointFlag.Name), opts...)
}

// operationArgs splits the positional arguments into contract, operation and
// the encoded call arguments.
func operationArgs(ctx *cli.Context) (string, string, []any, error) {
	if ctx.NArg() < 2 {
		return "", "", nil, errors.New("need contract and operation")
	}
	args := ctx.Args().Slice()
	return args[0], args[1], parseArgs(args[2:]), nil
}

// parseArgs passes valid JSON through and encodes anything else as a string.
func parseArgs(args []string) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		if json.Valid([]byte(arg)) {
			out[i] = json.RawMessage(arg)
		} else {
			out[i] = arg
		}
	}
	return out
}

func callOperation(ctx *cli.Context) error {
	contractName, op, args, err := operationArgs(ctx)
	if err != nil {
		return err
	}
	client, err := dialNode(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	cctx, cancel := context.WithTimeout(ctx.Context, ctx.Duration(timeoutFlag.Name))
	defer cancel()
	if ctx.Bool(notifyFlag.Name) {
		return client.Notify(cctx, contractName, op, args...)
	}
	var result json.RawMessage
	if err := client.Invoke(cctx, contractName, op, &result, args...); err != nil {
		return err
	}
	return printJSON(os.Stdout, result)
}

func streamOperation(ctx *cli.Context) error {
	return readFlow(ctx, false)
}

func subscribeOperation(ctx *cli.Context) error {
	return readFlow(ctx, true)
}

// readFlow prints the items of a stream or subscription until it ends, the
// item limit is reached or the process is interrupted.
func readFlow(ctx *cli.Context, subscription bool) error {
	contractName, op, args, err := operationArgs(ctx)
	if err != nil {
		return err
	}
	client, err := dialNode(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	sctx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var flow *rpc.ClientStream
	if subscription {
		flow, err = client.Subscribe(sctx, contractName, op, args...)
	} else {
		flow, err = client.Stream(sctx, contractName, op, args...)
	}
	if err != nil {
		return err
	}
	defer flow.Cancel()

	limit := ctx.Int(limitFlag.Name)
	for n := 0; limit == 0 || n < limit; n++ {
		item, err := flow.Next(sctx)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case sctx.Err() != nil:
			return nil
		case err != nil:
			return err
		}
		if err := printJSON(os.Stdout, item); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	_, err := fmt.Fprintln(w, string(raw))
	return err
}
