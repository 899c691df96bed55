// Copyright 2017 The go-ethereum Authors
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
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/sunyihoo/duplexrpc/cmd/utils"
	"github.com/sunyihoo/duplexrpc/internal/debug"
	"github.com/sunyihoo/duplexrpc/internal/flags"
	"github.com/sunyihoo/duplexrpc/internal/version"
	"github.com/sunyihoo/duplexrpc/metrics"
	"github.com/sunyihoo/duplexrpc/node"
	"github.com/sunyihoo/duplexrpc/pubsub"
	"github.com/sunyihoo/duplexrpc/rpc"
)

var (
	dumpConfigCommand = &cli.Command{
		Action:      dumpConfig,
		Name:        "dumpconfig",
		Usage:       "Export configuration values in a TOML format",
		ArgsUsage:   "<dumpfile (optional)>",
		Flags:       flags.Merge(nodeFlags, []cli.Flag{configFileFlag}),
		Description: `Export configuration values in TOML format (to stdout by default).`,
	}

	configFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file",
		Category: flags.MiscCategory,
	}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type duplexConfig struct {
	Node    node.Config
	Metrics metrics.Config
}

func loadConfig(file string, cfg *duplexConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

func defaultNodeConfig() node.Config {
	git, _ := version.VCS()
	cfg := node.DefaultConfig
	cfg.Name = clientIdentifier
	cfg.Version = version.WithCommit(git.Commit, git.Date)
	return cfg
}

// loadBaseConfig loads the duplexConfig based on the given command line
// parameters and config file.
func loadBaseConfig(ctx *cli.Context) (duplexConfig, error) {
	// Load defaults.
	cfg := duplexConfig{
		Node:    defaultNodeConfig(),
		Metrics: metrics.DefaultConfig,
	}

	// Load config file.
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}

	// Apply flags.
	utils.SetNodeConfig(ctx, &cfg.Node)
	utils.SetMetricsConfig(ctx, &cfg.Metrics)
	return cfg, nil
}

// makeConfigNode loads the configuration and creates a node serving the
// contracts enabled on the command line.
func makeConfigNode(ctx *cli.Context) (*node.Node, duplexConfig) {
	cfg, err := loadBaseConfig(ctx)
	if err != nil {
		utils.Fatalf("%v", err)
	}
	stack, err := node.New(&cfg.Node, rpc.WithPipelines(utils.MakePipelines(ctx)))
	if err != nil {
		utils.Fatalf("Failed to create the protocol stack: %v", err)
	}
	if ctx.Bool(utils.PubSubAPIFlag.Name) {
		if err := pubsub.Register(stack.Registry()); err != nil {
			utils.Fatalf("Failed to register the pubsub contract: %v", err)
		}
	}
	if ctx.Bool(utils.DebugAPIFlag.Name) {
		if err := debug.Handler.Register(stack.Registry()); err != nil {
			utils.Fatalf("Failed to register the debug contract: %v", err)
		}
	}
	return stack, cfg
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := loadBaseConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}

	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	dump.Write(out)

	return nil
}
